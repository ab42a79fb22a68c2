package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"duelkit/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" mapstructure:"addr" env:"DUELKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" mapstructure:"password" env:"DUELKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" mapstructure:"db" env:"DUELKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure:
// - user:{user_id} -> hash of name, created, updated and c:{counter} fields
// - users -> set of every registered user id
type Store struct {
	client    *redis.Client
	scanBatch int64
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, scanBatch: 256}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

const (
	usersKey     = "users"
	fieldName    = "name"
	fieldCreated = "created"
	fieldUpdated = "updated"
	counterField = "c:"
)

func userKey(id core.UserID) string { return "user:" + string(id) }

// Creates the hash on first sight, otherwise only renames. Returns 1 when created.
var createUserScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 1 then
		redis.call('HSET', key, 'name', ARGV[2], 'updated', ARGV[3])
		return 0
	end
	redis.call('HSET', key, 'name', ARGV[2], 'created', ARGV[3], 'updated', ARGV[3])
	redis.call('SADD', KEYS[2], ARGV[1])
	return 1
`)

// Lua script for atomic counter addition that refuses unknown users and
// negative totals.
var addCounterScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		return redis.error_reply('ERR user not found')
	end
	local current = tonumber(redis.call('HGET', key, ARGV[1]) or '0')
	local next_val = current + tonumber(ARGV[2])
	if next_val < 0 then
		return redis.error_reply('ERR negative counter')
	end
	if next_val > 9223372036854775807 then
		return redis.error_reply('ERR integer overflow')
	end
	redis.call('HSET', key, ARGV[1], next_val, 'updated', ARGV[3])
	return next_val
`)

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

// CreateUser inserts the user or renames an existing one.
func (s *Store) CreateUser(ctx context.Context, id core.UserID, name string) (core.User, bool, error) {
	res, err := createUserScript.Run(ctx, s.client, []string{userKey(id), usersKey}, string(id), name, nowMillis()).Int64()
	if err != nil {
		return core.User{}, false, fmt.Errorf("failed to create user: %w", err)
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return core.User{}, false, err
	}
	return u, res == 1, nil
}

// GetUser reads the user hash.
func (s *Store) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	fields, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return core.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return core.User{}, core.ErrUserNotFound
	}
	return decodeUser(id, fields)
}

// AddToCounter atomically adds delta to one of the user's counters.
func (s *Store) AddToCounter(ctx context.Context, id core.UserID, counter core.Counter, delta int64) (int64, error) {
	if err := core.ValidateCounter(counter); err != nil {
		return 0, err
	}
	total, err := addCounterScript.Run(ctx, s.client, []string{userKey(id)}, counterField+string(counter), delta, nowMillis()).Int64()
	if err != nil {
		switch msg := err.Error(); {
		case strings.Contains(msg, "user not found"):
			return 0, core.ErrUserNotFound
		case strings.Contains(msg, "negative counter"):
			return 0, core.ErrNegativeCounter
		}
		return 0, fmt.Errorf("failed to add to counter: %w", err)
	}
	return total, nil
}

// ForEach walks the users set with SSCAN and loads each batch in one pipeline.
// SSCAN may return a member more than once while the set changes, so ids
// already visited during this walk are skipped.
func (s *Store) ForEach(ctx context.Context, fn func(core.User) error) error {
	var cursor uint64
	seen := make(map[string]struct{})
	for {
		ids, next, err := s.client.SScan(ctx, usersKey, cursor, "", s.scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan users: %w", err)
		}
		if err := s.visitBatch(ctx, unseen(seen, ids), fn); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// unseen drops ids already in seen and records the rest.
func unseen(seen map[string]struct{}, ids []string) []string {
	fresh := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

func (s *Store) visitBatch(ctx context.Context, ids []string, fn func(core.User) error) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, userKey(core.UserID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to load users: %w", err)
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		u, err := decodeUser(core.UserID(ids[i]), fields)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

func decodeUser(id core.UserID, fields map[string]string) (core.User, error) {
	u := core.User{ID: id, Name: fields[fieldName], Counters: map[core.Counter]int64{}}
	for k, v := range fields {
		switch {
		case k == fieldCreated:
			u.Created = parseMillis(v)
		case k == fieldUpdated:
			u.Updated = parseMillis(v)
		case strings.HasPrefix(k, counterField):
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return core.User{}, fmt.Errorf("user %s: bad counter %s: %w", id, k, err)
			}
			u.Counters[core.Counter(strings.TrimPrefix(k, counterField))] = n
		}
	}
	return u, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
