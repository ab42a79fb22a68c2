package nats

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"duelkit/core"
)

// Publisher forwards domain events to <prefix>.<event type>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewPublisher(nc *nats.Conn, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: cfg.EventPrefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t core.EventType) string {
	return p.prefix + "." + string(t)
}

// Handle matches the event bus handler signature.
func (p *Publisher) Handle(_ context.Context, ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.String("event_type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		p.logger.Warn("failed to publish event", zap.String("event_type", string(ev.Type)), zap.Error(err))
	}
}
