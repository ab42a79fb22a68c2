// Package duels assembles a ready-to-use UserManager from its parts.
package duels

import (
	"context"

	"go.uber.org/zap"

	mem "duelkit/adapters/memory"
	"duelkit/core"
	"duelkit/engine"
	"duelkit/leaderboard"
	"duelkit/realtime"
)

// Option configures the builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	mode      engine.DispatchMode
	rules     engine.RuleEngine
	hub       *realtime.Hub
	logger    *zap.Logger
	boardOpts []leaderboard.Option
	sinks     []func(context.Context, core.Event)
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRuleEngine sets the rule engine.
func WithRuleEngine(r engine.RuleEngine) Option { return func(c *config) { c.rules = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

func WithLogger(l *zap.Logger) Option { return func(c *config) { c.logger = l } }

// WithLeaderboard passes options through to the leaderboard cache.
func WithLeaderboard(opts ...leaderboard.Option) Option {
	return func(c *config) { c.boardOpts = append(c.boardOpts, opts...) }
}

// WithSink subscribes fn to every event type, e.g. a webhook or NATS publisher.
func WithSink(fn func(context.Context, core.Event)) Option {
	return func(c *config) {
		if fn != nil {
			c.sinks = append(c.sinks, fn)
		}
	}
}

// New builds a configured UserManager. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: async
//
// Every installed leaderboard snapshot is published as a leaderboard_updated event.
func New(opts ...Option) *engine.UserManager {
	cfg := &config{mode: engine.DispatchAsync, rules: engine.DefaultRuleEngine(), logger: zap.NewNop()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	bus := engine.NewEventBus(cfg.mode, engine.WithBusLogger(cfg.logger))

	boardOpts := append([]leaderboard.Option{leaderboard.WithLogger(cfg.logger)}, cfg.boardOpts...)
	boardOpts = append(boardOpts, leaderboard.WithUpdateHook(func(s leaderboard.Snapshot) {
		bus.Publish(context.Background(), core.NewLeaderboardUpdated(s.Counter, s.Generation, len(s.Entries)))
	}))
	board := leaderboard.NewCache(cfg.storage, boardOpts...)

	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, sink := range cfg.sinks {
		bus.SubscribeAll(sink)
	}
	return engine.NewUserManager(cfg.storage, bus, cfg.rules, board, cfg.logger)
}
