package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"duelkit/core"
)

// DispatchMode selects whether handlers run on the publisher's goroutine or
// on a worker pool.
type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	defaultQueueSize = 2048
	defaultWorkers   = 4
)

type handlerEntry struct {
	id int64
	fn func(context.Context, core.Event)
}

// EventBus fans duel events out to subscribers. Handlers of one event type
// run in subscription order. In async mode a full queue drops the event and
// counts it; see Dropped.
type EventBus struct {
	mode     DispatchMode
	logger   *zap.Logger
	queue    chan core.Event
	workers  int
	mu       sync.RWMutex
	handlers map[core.EventType][]handlerEntry
	nextID   int64
	dropped  atomic.Uint64
	closed   atomic.Bool
	stop     chan struct{}
	running  sync.WaitGroup
	once     sync.Once
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithQueueSize sets the async queue capacity.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queue = make(chan core.Event, n)
		}
	}
}

// WithWorkers sets how many goroutines deliver async events.
func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBusLogger logs dropped events and recovered handler panics.
func WithBusLogger(l *zap.Logger) BusOption {
	return func(e *EventBus) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	e := &EventBus{
		mode:     mode,
		logger:   zap.NewNop(),
		queue:    make(chan core.Event, defaultQueueSize),
		workers:  defaultWorkers,
		handlers: make(map[core.EventType][]handlerEntry),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if mode == DispatchAsync {
		for range e.workers {
			e.running.Add(1)
			go e.work()
		}
	}
	return e
}

func (e *EventBus) work() {
	defer e.running.Done()
	for {
		select {
		case ev := <-e.queue:
			e.deliver(context.Background(), ev)
		case <-e.stop:
			for {
				select {
				case ev := <-e.queue:
					e.deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Close rejects further events and waits for queued ones to be delivered.
func (e *EventBus) Close() {
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.stop)
		e.running.Wait()
	})
}

// Dropped reports how many events were discarded because the async queue
// was full or the bus was closed.
func (e *EventBus) Dropped() uint64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers[typ] = append(e.handlers[typ], handlerEntry{id: id, fn: handler})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.handlers[typ] = slices.DeleteFunc(e.handlers[typ], func(h handlerEntry) bool { return h.id == id })
	}
}

// SubscribeAll registers handler for every event type.
func (e *EventBus) SubscribeAll(handler func(context.Context, core.Event)) func() {
	unsubs := make([]func(), 0, len(core.AllEventTypes))
	for _, typ := range core.AllEventTypes {
		unsubs = append(unsubs, e.Subscribe(typ, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers ev to its subscribers, inline in sync mode.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.deliver(ctx, ev)
		return
	}
	if e.closed.Load() {
		e.drop(ev, "bus closed")
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.drop(ev, "queue full")
	}
}

func (e *EventBus) drop(ev core.Event, reason string) {
	e.dropped.Add(1)
	e.logger.Warn("event dropped",
		zap.String("type", string(ev.Type)),
		zap.String("user", string(ev.UserID)),
		zap.String("reason", reason))
}

func (e *EventBus) deliver(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	hs := slices.Clone(e.handlers[ev.Type])
	e.mu.RUnlock()
	for _, h := range hs {
		e.call(ctx, h.fn, ev)
	}
}

// call runs one handler; a panicking sink does not take down the worker or
// the publisher.
func (e *EventBus) call(ctx context.Context, fn func(context.Context, core.Event), ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				zap.String("type", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(ctx, ev)
}
