package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"duelkit/core"
)

// Sink posts domain events to configured HTTP endpoints.
// It is synchronous for determinism; register it on an async event bus to
// keep it off the request path.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]bool
	logger    *zap.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEventTypes limits delivery to the given types.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		if len(types) == 0 {
			return
		}
		s.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Handle matches the event bus handler signature.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if s.types != nil && !s.types[e.Type] {
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, e); err != nil {
			s.logger.Warn("webhook delivery failed",
				zap.String("endpoint", ep),
				zap.String("event_type", string(e.Type)),
				zap.Error(err))
		}
	}
}

// OnEvent posts the event JSON to all endpoints.
func (s *Sink) OnEvent(e core.Event) { s.Handle(context.Background(), e) }

func (s *Sink) post(ctx context.Context, endpoint string, e core.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Duelkit-Event", string(e.Type))
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
