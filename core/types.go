package core

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// UserID uniquely and permanently identifies a duelist. It is the canonical
// lowercase form of a UUID.
type UserID string

// Counter names a per-user integer statistic such as wins or losses.
type Counter string

const (
	CounterWins   Counter = "wins"
	CounterLosses Counter = "losses"
)

// MaxNameLength bounds display names.
const MaxNameLength = 32

// User is an immutable snapshot of a duelist's record.
// Implementations should return deep copies to maintain immutability guarantees.
type User struct {
	ID       UserID            `json:"id"`
	Name     string            `json:"name"`
	Counters map[Counter]int64 `json:"counters"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
}

// NewUser returns a record with no counters.
func NewUser(id UserID, name string, now time.Time) User {
	return User{ID: id, Name: name, Counters: map[Counter]int64{}, Created: now, Updated: now}
}

// Clone returns a deep copy of the user to uphold immutability.
func (u User) Clone() User {
	cp := u
	cp.Counters = make(map[Counter]int64, len(u.Counters))
	for k, v := range u.Counters {
		cp.Counters[k] = v
	}
	return cp
}

// Count returns the value of the counter, zero when never incremented.
func (u User) Count(c Counter) int64 { return u.Counters[c] }

// Wins is shorthand for Count(CounterWins).
func (u User) Wins() int64 { return u.Counters[CounterWins] }

// Losses is shorthand for Count(CounterLosses).
func (u User) Losses() int64 { return u.Counters[CounterLosses] }

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// AddCounter applies delta to a counter value, refusing overflow and
// results below zero.
func AddCounter(base int64, delta int64) (int64, error) {
	next, err := AddSafe(base, delta)
	if err != nil {
		return 0, err
	}
	if next < 0 {
		return 0, ErrNegativeCounter
	}
	return next, nil
}

// NewUserID returns a fresh random identifier.
func NewUserID() UserID { return UserID(uuid.NewString()) }

// NormalizeUserID parses id as a UUID and returns its canonical form.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrInvalidUserID
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidUserID
	}
	return UserID(u.String()), nil
}

// NormalizeName trims a display name and checks its length and charset.
func NormalizeName(name string) (string, error) {
	s := strings.TrimSpace(name)
	if s == "" || utf8.RuneCountInString(s) > MaxNameLength {
		return "", ErrInvalidName
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", ErrInvalidName
		}
	}
	return s, nil
}

// ValidateCounter ensures a non-empty counter name with a simple charset.
func ValidateCounter(c Counter) error {
	s := string(c)
	if s == "" {
		return ErrUnknownCounter
	}
	// simple check: lowercase alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return ErrUnknownCounter
	}
	return nil
}
