package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"duelkit/core"
)

// DefaultRecomputeTimeout bounds a single population scan.
const DefaultRecomputeTimeout = 10 * time.Second

// Cache serves ranked top-N snapshots for a fixed set of counters.
//
// Readers never block: each counter has a published snapshot pointer and a
// count of pending rebuilds. A rebuild scans the source, then swaps the pointer.
// Rebuilds of the same counter are coalesced so at most one runs at a time.
type Cache struct {
	src        Source
	size       int
	timeout    time.Duration
	serveStale bool
	order      []core.Counter
	slots      map[core.Counter]*slot
	group      singleflight.Group
	logger     *zap.Logger
	metrics    *Metrics
	onUpdate   func(Snapshot)
	async      sync.WaitGroup
}

type slot struct {
	counter     core.Counter
	snap        atomic.Pointer[Snapshot]
	pending     atomic.Int32
	generation  atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithSize sets how many rows each snapshot keeps.
func WithSize(n int) Option { return func(c *Cache) { c.size = n } }

// WithCounters replaces the tracked counters. Invalid or duplicate names are ignored.
func WithCounters(counters ...core.Counter) Option {
	return func(c *Cache) { c.order = append([]core.Counter(nil), counters...) }
}

// WithTimeout bounds each rebuild; zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(c *Cache) { c.timeout = d } }

// WithStaleReads makes Top keep serving the previous snapshot while a
// rebuild runs. By default Top reports Unavailable during a rebuild.
func WithStaleReads(enabled bool) Option { return func(c *Cache) { c.serveStale = enabled } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option { return func(c *Cache) { c.metrics = m } }

// WithUpdateHook is called after every successful rebuild, once the new
// snapshot is visible.
func WithUpdateHook(fn func(Snapshot)) Option { return func(c *Cache) { c.onUpdate = fn } }

// NewCache builds a cache over src. Defaults: wins and losses, 10 rows,
// DefaultRecomputeTimeout, strict reads.
func NewCache(src Source, opts ...Option) *Cache {
	if src == nil {
		panic("NewCache requires a non-nil source")
	}
	c := &Cache{
		src:     src,
		size:    DefaultSize,
		timeout: DefaultRecomputeTimeout,
		order:   []core.Counter{core.CounterWins, core.CounterLosses},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.size <= 0 {
		c.size = DefaultSize
	}
	c.slots = make(map[core.Counter]*slot, len(c.order))
	order := c.order[:0:0]
	for _, counter := range c.order {
		if core.ValidateCounter(counter) != nil {
			continue
		}
		if _, dup := c.slots[counter]; dup {
			continue
		}
		c.slots[counter] = &slot{counter: counter}
		order = append(order, counter)
	}
	c.order = order
	return c
}

// Counters lists the tracked counters in registration order.
func (c *Cache) Counters() []core.Counter {
	return append([]core.Counter(nil), c.order...)
}

// Size is the maximum number of rows in a snapshot.
func (c *Cache) Size() int { return c.size }

func (c *Cache) slot(counter core.Counter) (*slot, error) {
	s, ok := c.slots[counter]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCounter, counter)
	}
	return s, nil
}

// Top returns the installed snapshot for counter. The result is Unavailable
// when nothing has been computed yet or, unless stale reads are enabled,
// while a rebuild is running. The only error is core.ErrUnknownCounter.
func (c *Cache) Top(counter core.Counter) (core.Result[Snapshot], error) {
	s, err := c.slot(counter)
	if err != nil {
		return core.Result[Snapshot]{}, err
	}
	busy := s.pending.Load() > 0
	snap := s.snap.Load()
	if snap == nil || (busy && !c.serveStale) {
		c.metrics.observeRead(counter, core.StatusUnavailable)
		return core.Unavailable[Snapshot](), nil
	}
	c.metrics.observeRead(counter, core.StatusPresent)
	return core.Present(snap.clone()), nil
}

// Recomputing reports whether a rebuild of counter is in flight.
func (c *Cache) Recomputing(counter core.Counter) bool {
	s, ok := c.slots[counter]
	return ok && s.pending.Load() > 0
}

// Recompute rebuilds the snapshot for counter and blocks until it is
// installed. Concurrent calls for the same counter share one rebuild. On
// failure the previous snapshot stays in place.
func (c *Cache) Recompute(ctx context.Context, counter core.Counter) (Snapshot, error) {
	s, err := c.slot(counter)
	if err != nil {
		return Snapshot{}, err
	}
	v, err, _ := c.group.Do(string(counter), func() (any, error) {
		return c.rebuild(ctx, s)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(*Snapshot).clone(), nil
}

// RecomputeAsync starts a rebuild in the background. Top reports the
// counter as Unavailable from the moment this returns.
func (c *Cache) RecomputeAsync(counter core.Counter) error {
	s, err := c.slot(counter)
	if err != nil {
		return err
	}
	s.pending.Add(1)
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		defer s.pending.Add(-1)
		if _, err := c.Recompute(context.Background(), counter); err != nil {
			c.logger.Warn("background leaderboard rebuild failed",
				zap.String("counter", string(counter)), zap.Error(err))
		}
	}()
	return nil
}

// RecomputeAll rebuilds every counter in order and joins the failures.
func (c *Cache) RecomputeAll(ctx context.Context) error {
	var errs []error
	for _, counter := range c.order {
		if _, err := c.Recompute(ctx, counter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until background rebuilds started by RecomputeAsync finish.
func (c *Cache) Wait() { c.async.Wait() }

func (c *Cache) rebuild(ctx context.Context, s *slot) (*Snapshot, error) {
	s.pending.Add(1)
	defer s.pending.Add(-1)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	top := newTopK(c.size)
	population := 0
	err := c.src.ForEach(ctx, func(u core.User) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		population++
		top.offer(Entry{Key: u.Name, Value: u.Count(s.counter), User: u.ID})
		return nil
	})
	took := time.Since(start)
	if err != nil {
		c.metrics.observeRecompute(s.counter, took, nil, err)
		c.logger.Warn("leaderboard rebuild aborted, keeping previous snapshot",
			zap.String("counter", string(s.counter)),
			zap.Duration("took", took),
			zap.Error(err))
		return nil, fmt.Errorf("recompute %s: %w", s.counter, err)
	}

	snap := &Snapshot{
		Counter:    s.counter,
		Entries:    top.ranked(),
		Population: population,
		Generation: s.generation.Add(1),
		ComputedAt: time.Now().UTC(),
		Took:       took,
	}
	s.snap.Store(snap)

	c.metrics.observeRecompute(s.counter, took, snap, nil)
	c.logger.Debug("leaderboard rebuilt",
		zap.String("counter", string(s.counter)),
		zap.Int("population", population),
		zap.Int("entries", len(snap.Entries)),
		zap.Uint64("generation", snap.Generation),
		zap.Duration("took", took))
	if c.onUpdate != nil {
		c.onUpdate(snap.clone())
	}
	return snap, nil
}
