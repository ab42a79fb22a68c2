package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"duelkit/core"
)

// Store persists every user to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data map[core.UserID]core.User
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]core.User{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]core.User
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if v.Counters == nil {
			v.Counters = map[core.Counter]int64{}
		}
		v.ID = core.UserID(k)
		s.data[v.ID] = v
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	raw := make(map[string]core.User, len(s.data))
	for k, v := range s.data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) CreateUser(_ context.Context, id core.UserID, name string) (core.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.data[id]
	if ok && u.Name == name {
		return u.Clone(), false, nil
	}
	prev, existed := u, ok
	if ok {
		u = u.Clone()
		u.Name, u.Updated = name, now
	} else {
		u = core.NewUser(id, name, now)
	}
	s.data[id] = u
	if err := s.persist(); err != nil {
		if existed {
			s.data[id] = prev
		} else {
			delete(s.data, id)
		}
		return core.User{}, false, err
	}
	return u.Clone(), !ok, nil
}

func (s *Store) GetUser(_ context.Context, id core.UserID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data[id]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) AddToCounter(_ context.Context, id core.UserID, counter core.Counter, delta int64) (int64, error) {
	if err := core.ValidateCounter(counter); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[id]
	if !ok {
		return 0, core.ErrUserNotFound
	}
	next, err := core.AddCounter(prev.Counters[counter], delta)
	if err != nil {
		return 0, err
	}
	u := prev.Clone()
	u.Counters[counter] = next
	u.Updated = time.Now().UTC()
	s.data[id] = u
	if err := s.persist(); err != nil {
		s.data[id] = prev
		return 0, err
	}
	return next, nil
}

// ForEach visits users in id order. The set is copied up front so fn runs
// without holding the store lock.
func (s *Store) ForEach(ctx context.Context, fn func(core.User) error) error {
	s.mu.Lock()
	users := make([]core.User, 0, len(s.data))
	for _, u := range s.data {
		users = append(users, u.Clone())
	}
	s.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}
