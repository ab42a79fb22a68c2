package leaderboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refresher rebuilds every board of a Cache on a fixed interval, off the
// request path.
type Refresher struct {
	cache    *Cache
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefresher(cache *Cache, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{cache: cache, interval: interval, logger: logger}
}

// Start runs the refresh loop in a goroutine. The first rebuild happens
// immediately so boards become available soon after startup.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current rebuild to return.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if err := r.cache.RecomputeAll(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("scheduled leaderboard refresh failed", zap.Error(err))
	}
}
