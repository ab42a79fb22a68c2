package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"duelkit/core"
	"duelkit/leaderboard"
)

// UserManager wires storage, event bus, rules and the leaderboard cache into
// a cohesive API.
type UserManager struct {
	storage Storage
	bus     *EventBus
	rules   RuleEngine
	board   *leaderboard.Cache
	logger  *zap.Logger
}

func NewUserManager(storage Storage, bus *EventBus, rules RuleEngine, board *leaderboard.Cache, logger *zap.Logger) *UserManager {
	if storage == nil || bus == nil || rules == nil || board == nil {
		panic("NewUserManager requires non-nil storage, bus, rules, and board")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserManager{storage: storage, bus: bus, rules: rules, board: board, logger: logger}
}

func DefaultRuleEngine() RuleEngine {
	return &simpleRuleEngine{rules: []core.Rule{core.MatchOutcomeRule{}}}
}

// MatchResult reports the counter updates applied for one duel.
type MatchResult struct {
	Winner  core.UserID  `json:"winner"`
	Loser   core.UserID  `json:"loser"`
	Applied []core.Event `json:"applied"`
}

// Subscribe convenience method.
func (m *UserManager) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return m.bus.Subscribe(typ, handler)
}

func (m *UserManager) Publish(ctx context.Context, ev core.Event) {
	m.bus.Publish(ctx, ev)
}

// Leaderboard exposes the underlying cache.
func (m *UserManager) Leaderboard() *leaderboard.Cache { return m.board }

// Get looks a user up by id. Unknown ids yield a NotFound result, not an error.
func (m *UserManager) Get(ctx context.Context, id core.UserID) (core.Result[core.User], error) {
	normalized, err := core.NormalizeUserID(id)
	if err != nil {
		return core.Result[core.User]{}, err
	}
	u, err := m.storage.GetUser(ctx, normalized)
	if errors.Is(err, core.ErrUserNotFound) {
		return core.NotFound[core.User](), nil
	}
	if err != nil {
		return core.Result[core.User]{}, err
	}
	return core.Present(u), nil
}

// GetPlayer calls Get with the player's unique id.
func (m *UserManager) GetPlayer(ctx context.Context, p Player) (core.Result[core.User], error) {
	if p == nil {
		return core.Result[core.User]{}, core.ErrInvalidUserID
	}
	return m.Get(ctx, p.UniqueID())
}

// Register creates the user on first sight and renames it afterwards.
func (m *UserManager) Register(ctx context.Context, id core.UserID, name string) (core.User, error) {
	normalized, err := core.NormalizeUserID(id)
	if err != nil {
		return core.User{}, err
	}
	name, err = core.NormalizeName(name)
	if err != nil {
		return core.User{}, err
	}
	before, err := m.storage.GetUser(ctx, normalized)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return core.User{}, err
	}
	u, created, err := m.storage.CreateUser(ctx, normalized, name)
	if err != nil {
		return core.User{}, err
	}
	switch {
	case created:
		m.bus.Publish(ctx, core.NewUserCreated(u.ID, u.Name))
	case before.Name != u.Name:
		m.bus.Publish(ctx, core.NewUserRenamed(u.ID, u.Name))
	}
	return u, nil
}

// RecordMatch applies the outcome of one duel. Both users must be registered.
// The counter changes are applied together: if one fails, the ones already
// written are reverted and no events are published.
func (m *UserManager) RecordMatch(ctx context.Context, winner, loser core.UserID) (MatchResult, error) {
	w, err := core.NormalizeUserID(winner)
	if err != nil {
		return MatchResult{}, fmt.Errorf("winner: %w", err)
	}
	l, err := core.NormalizeUserID(loser)
	if err != nil {
		return MatchResult{}, fmt.Errorf("loser: %w", err)
	}
	if w == l {
		return MatchResult{}, core.ErrSelfMatch
	}
	for _, id := range []core.UserID{w, l} {
		if _, err := m.storage.GetUser(ctx, id); err != nil {
			return MatchResult{}, fmt.Errorf("user %s: %w", id, err)
		}
	}

	trigger := core.NewMatchRecorded(w, l)
	res := MatchResult{Winner: w, Loser: l}
	var written []core.Event
	for _, d := range m.rules.Evaluate(ctx, trigger) {
		if d.Type == core.EventCounterChanged {
			total, err := m.storage.AddToCounter(ctx, d.UserID, d.Counter, d.Delta)
			if err != nil {
				m.logger.Error("failed to apply counter change",
					zap.String("user", string(d.UserID)),
					zap.String("counter", string(d.Counter)),
					zap.Error(err))
				m.revert(ctx, written)
				return MatchResult{Winner: w, Loser: l}, fmt.Errorf("apply %s to %s: %w", d.Counter, d.UserID, err)
			}
			d.Total = total
			written = append(written, d)
		}
		res.Applied = append(res.Applied, d)
	}

	m.bus.Publish(ctx, trigger)
	for _, d := range res.Applied {
		m.bus.Publish(ctx, d)
	}
	return res, nil
}

// revert undoes counter changes of a match that could not be fully applied.
func (m *UserManager) revert(ctx context.Context, written []core.Event) {
	ctx = context.WithoutCancel(ctx)
	for i := len(written) - 1; i >= 0; i-- {
		d := written[i]
		if _, err := m.storage.AddToCounter(ctx, d.UserID, d.Counter, -d.Delta); err != nil {
			m.logger.Error("failed to revert counter change",
				zap.String("user", string(d.UserID)),
				zap.String("counter", string(d.Counter)),
				zap.Int64("delta", d.Delta),
				zap.Error(err))
		}
	}
}

// Top returns the cached board for counter. See leaderboard.Cache.Top.
func (m *UserManager) Top(counter core.Counter) (core.Result[leaderboard.Snapshot], error) {
	return m.board.Top(counter)
}

// TopWins returns the wins board, Unavailable while it is loading or updating.
func (m *UserManager) TopWins() core.Result[leaderboard.Snapshot] {
	res, err := m.board.Top(core.CounterWins)
	if err != nil {
		return core.Unavailable[leaderboard.Snapshot]()
	}
	return res
}

// TopLosses returns the losses board, Unavailable while it is loading or updating.
func (m *UserManager) TopLosses() core.Result[leaderboard.Snapshot] {
	res, err := m.board.Top(core.CounterLosses)
	if err != nil {
		return core.Unavailable[leaderboard.Snapshot]()
	}
	return res
}

// RecomputeAsync schedules a background rebuild of one board.
func (m *UserManager) RecomputeAsync(counter core.Counter) error {
	return m.board.RecomputeAsync(counter)
}

// RefreshLeaderboards rebuilds every board synchronously.
func (m *UserManager) RefreshLeaderboards(ctx context.Context) error {
	return m.board.RecomputeAll(ctx)
}

func (m *UserManager) Close() { m.bus.Close() }

// SortedBy ranks every user by fn. It scans the whole population; do not
// call it from latency-sensitive paths.
func SortedBy[V cmp.Ordered](ctx context.Context, m *UserManager, fn leaderboard.ScoreFunc[V]) ([]leaderboard.SortedEntry[V], error) {
	return leaderboard.Sorted(ctx, m.storage, fn)
}

type simpleRuleEngine struct{ rules []core.Rule }

func (s *simpleRuleEngine) Evaluate(ctx context.Context, trigger core.Event) []core.Event {
	var out []core.Event
	for _, r := range s.rules {
		out = append(out, r.Evaluate(ctx, trigger)...)
	}
	return out
}
