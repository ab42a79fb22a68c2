package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS connection and subject configuration
type Config struct {
	URL         string `json:"url" mapstructure:"url" env:"DUELKIT_NATS_URL"`
	Subject     string `json:"subject" mapstructure:"subject" env:"DUELKIT_NATS_SUBJECT"`
	QueueGroup  string `json:"queue_group" mapstructure:"queue_group"`
	EventPrefix string `json:"event_prefix" mapstructure:"event_prefix"`
	// Embedded starts an in-process server instead of dialing URL.
	Embedded bool `json:"embedded" mapstructure:"embedded" env:"DUELKIT_NATS_EMBEDDED"`
}

// DefaultConfig returns sensible defaults for NATS configuration
func DefaultConfig() Config {
	return Config{
		URL:         nats.DefaultURL,
		Subject:     "duels.matches",
		QueueGroup:  "duelkit",
		EventPrefix: "duels.events",
	}
}

// Connect dials the configured server with reconnects enabled.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("duelkit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// StartEmbedded runs an in-process NATS server on a random port. Callers
// own the returned server and must Shutdown it.
func StartEmbedded(logger *zap.Logger) (*server.Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	ns.SetLogger(&serverLogger{log: logger.Named("nats").Sugar()}, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
	}
	logger.Info("embedded NATS server started", zap.String("url", ns.ClientURL()))
	return ns, nil
}

// serverLogger adapts zap to the NATS server logger interface
type serverLogger struct {
	log *zap.SugaredLogger
}

func (l *serverLogger) Noticef(format string, v ...any) { l.log.Infof(format, v...) }
func (l *serverLogger) Warnf(format string, v ...any)   { l.log.Warnf(format, v...) }
func (l *serverLogger) Fatalf(format string, v ...any)  { l.log.Errorf(format, v...) }
func (l *serverLogger) Errorf(format string, v ...any)  { l.log.Errorf(format, v...) }
func (l *serverLogger) Debugf(format string, v ...any)  { l.log.Debugf(format, v...) }
func (l *serverLogger) Tracef(format string, v ...any)  { l.log.Debugf(format, v...) }
