package memory

import (
	"context"
	"sync"
	"time"

	"duelkit/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
	now   func() time.Time
}

type userRecord struct {
	mu   sync.Mutex
	user core.User
}

func New() *Store { return &Store{now: func() time.Time { return time.Now().UTC() }} }

func (s *Store) load(id core.UserID) (*userRecord, bool) {
	v, ok := s.users.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*userRecord), true
}

func (s *Store) CreateUser(_ context.Context, id core.UserID, name string) (core.User, bool, error) {
	rec := &userRecord{user: core.NewUser(id, name, s.now())}
	actual, loaded := s.users.LoadOrStore(id, rec)
	if !loaded {
		return rec.user.Clone(), true, nil
	}
	existing := actual.(*userRecord)
	existing.mu.Lock()
	defer existing.mu.Unlock()
	if existing.user.Name != name {
		existing.user.Name = name
		existing.user.Updated = s.now()
	}
	return existing.user.Clone(), false, nil
}

func (s *Store) GetUser(_ context.Context, id core.UserID) (core.User, error) {
	rec, ok := s.load(id)
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.user.Clone(), nil
}

func (s *Store) AddToCounter(_ context.Context, id core.UserID, counter core.Counter, delta int64) (int64, error) {
	if err := core.ValidateCounter(counter); err != nil {
		return 0, err
	}
	rec, ok := s.load(id)
	if !ok {
		return 0, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, err := core.AddCounter(rec.user.Counters[counter], delta)
	if err != nil {
		return 0, err
	}
	rec.user.Counters[counter] = next
	rec.user.Updated = s.now()
	return next, nil
}

func (s *Store) ForEach(ctx context.Context, fn func(core.User) error) error {
	var err error
	s.users.Range(func(_, v any) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		rec := v.(*userRecord)
		rec.mu.Lock()
		u := rec.user.Clone()
		rec.mu.Unlock()
		err = fn(u)
		return err == nil
	})
	return err
}

// Len reports the number of stored users.
func (s *Store) Len() int {
	n := 0
	s.users.Range(func(_, _ any) bool { n++; return true })
	return n
}

var _ interface {
	CreateUser(context.Context, core.UserID, string) (core.User, bool, error)
	GetUser(context.Context, core.UserID) (core.User, error)
	AddToCounter(context.Context, core.UserID, core.Counter, int64) (int64, error)
	ForEach(context.Context, func(core.User) error) error
} = (*Store)(nil)
