package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"duelkit/core"
	"duelkit/engine"
)

// MatchRecorder is the part of engine.UserManager the listener drives.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, winner, loser core.UserID) (engine.MatchResult, error)
}

// MatchMessage is the wire format of a reported duel.
type MatchMessage struct {
	Winner core.UserID `json:"winner"`
	Loser  core.UserID `json:"loser"`
}

// Reply is sent back when the publisher used request/reply.
type Reply struct {
	OK      bool         `json:"ok"`
	Error   string       `json:"error,omitempty"`
	Applied []core.Event `json:"applied,omitempty"`
}

// Listener consumes match reports from a subject and records them.
type Listener struct {
	nc      *nats.Conn
	subject string
	queue   string
	rec     MatchRecorder
	timeout time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewListener(nc *nats.Conn, cfg Config, rec MatchRecorder, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		nc:      nc,
		subject: cfg.Subject,
		queue:   cfg.QueueGroup,
		rec:     rec,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Start subscribes. With a queue group, replicas share the stream.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return nil
	}
	var (
		sub *nats.Subscription
		err error
	)
	if l.queue != "" {
		sub, err = l.nc.QueueSubscribe(l.subject, l.queue, l.handle)
	} else {
		sub, err = l.nc.Subscribe(l.subject, l.handle)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}
	l.sub = sub
	l.logger.Info("listening for matches", zap.String("subject", l.subject), zap.String("queue", l.queue))
	return nil
}

// Stop drains pending messages and unsubscribes.
func (l *Listener) Stop() error {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Drain()
}

func (l *Listener) handle(msg *nats.Msg) {
	var m MatchMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		l.logger.Warn("dropping malformed match message", zap.String("subject", msg.Subject), zap.Error(err))
		l.reply(msg, Reply{Error: "malformed message"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	res, err := l.rec.RecordMatch(ctx, m.Winner, m.Loser)
	if err != nil {
		l.logger.Warn("failed to record match",
			zap.String("winner", string(m.Winner)),
			zap.String("loser", string(m.Loser)),
			zap.Error(err))
		l.reply(msg, Reply{Error: err.Error()})
		return
	}
	l.reply(msg, Reply{OK: true, Applied: res.Applied})
}

func (l *Listener) reply(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	b, _ := json.Marshal(r)
	if err := msg.Respond(b); err != nil {
		l.logger.Debug("failed to reply", zap.Error(err))
	}
}
