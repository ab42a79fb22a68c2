package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"duelkit/core"
)

// DefaultSize is the number of rows kept for each built-in board.
const DefaultSize = 10

// Source abstracts the population the boards are computed from.
// ForEach must hand out copies; fn returning an error stops the scan.
type Source interface {
	ForEach(ctx context.Context, fn func(core.User) error) error
}

// SortedEntry pairs a display name with a value derived from that user.
type SortedEntry[V cmp.Ordered] struct {
	Key   string      `json:"key"`
	Value V           `json:"value"`
	User  core.UserID `json:"user_id"`
}

// Entry is a row of a counter board.
type Entry = SortedEntry[int64]

// Compare orders entries by value descending, then user id ascending.
// A negative result means e ranks above other.
func (e SortedEntry[V]) Compare(other SortedEntry[V]) int {
	if c := cmp.Compare(other.Value, e.Value); c != 0 {
		return c
	}
	return strings.Compare(string(e.User), string(other.User))
}

func (e SortedEntry[V]) String() string {
	return fmt.Sprintf("SortedEntry{key=%s, value=%v}", e.Key, e.Value)
}

// Snapshot is an immutable, ranked view of one counter.
type Snapshot struct {
	Counter    core.Counter  `json:"counter"`
	Entries    []Entry       `json:"entries"`
	Population int           `json:"population"`
	Generation uint64        `json:"generation"`
	ComputedAt time.Time     `json:"computed_at"`
	Took       time.Duration `json:"took"`
}

func (s Snapshot) clone() Snapshot {
	cp := s
	cp.Entries = append([]Entry(nil), s.Entries...)
	return cp
}
