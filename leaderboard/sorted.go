package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"duelkit/core"
)

// ScoreFunc maps a user to the value it is ranked by.
type ScoreFunc[V cmp.Ordered] func(core.User) (V, error)

// CounterScore ranks users by one of their counters.
func CounterScore(c core.Counter) ScoreFunc[int64] {
	return func(u core.User) (int64, error) { return u.Count(c), nil }
}

// Sorted walks the whole population, evaluates fn once per user and returns
// every user ordered best first. It is O(n log n) over the population; keep
// it off request paths that must answer quickly.
//
// An error from fn aborts the walk and nothing is returned.
func Sorted[V cmp.Ordered](ctx context.Context, src Source, fn ScoreFunc[V]) ([]SortedEntry[V], error) {
	if fn == nil {
		return nil, fmt.Errorf("sorted: nil score function")
	}
	var out []SortedEntry[V]
	err := src.ForEach(ctx, func(u core.User) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := fn(u)
		if err != nil {
			return fmt.Errorf("score user %s: %w", u.ID, err)
		}
		out = append(out, SortedEntry[V]{Key: u.Name, Value: v, User: u.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, SortedEntry[V].Compare)
	return out, nil
}
