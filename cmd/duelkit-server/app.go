package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"duelkit/adapters/jsonfile"
	mem "duelkit/adapters/memory"
	natsAdapter "duelkit/adapters/nats"
	redisAdapter "duelkit/adapters/redis"
	sqlxAdapter "duelkit/adapters/sqlx"
	"duelkit/analytics"
	"duelkit/api/httpapi"
	"duelkit/config"
	"duelkit/core"
	"duelkit/duels"
	"duelkit/engine"
	"duelkit/integrations/webhook"
	"duelkit/leaderboard"
	"duelkit/logging"
	"duelkit/realtime"
)

// ConfigPath is the optional -config flag; empty means defaults plus environment.
type ConfigPath string

// MetricsServer serves Prometheus metrics and the activity summary. Server
// is nil when metrics are disabled.
type MetricsServer struct{ *http.Server }

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Hub       *realtime.Hub
	Users     *engine.UserManager
	Refresher *leaderboard.Refresher
	// Listener is nil unless ingest is enabled.
	Listener *natsAdapter.Listener
	Handler  http.Handler
	Server   *http.Server
	Metrics  MetricsServer
}

func provideConfig(ctx context.Context, path ConfigPath) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(string(path))
	} else {
		cfg, err = config.Load()
		if err == nil && cfg.Profile != "" && cfg.Profile != "default" {
			cfg, err = config.LoadProfile(cfg.Profile)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := config.LoadSecretsFromEnv(ctx, cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With(zap.String("environment", string(cfg.Environment)))
	return logger, func() { _ = logger.Sync() }, nil
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideActivity() *analytics.MatchActivity {
	return analytics.NewMatchActivity()
}

// provideStorage creates the appropriate storage adapter based on configuration.
func provideStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.SQL.MigrateOnStart {
			if err := s.Migrate(ctx, logger); err != nil {
				_ = s.Close()
				return nil, nil, err
			}
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

// provideNATS dials the ingest server, starting an embedded one when asked.
// The connection is nil when ingest is disabled.
func provideNATS(cfg *config.Config, logger *zap.Logger) (*natsgo.Conn, func(), error) {
	if !cfg.Ingest.Enabled {
		return nil, func() {}, nil
	}
	natsCfg := cfg.Ingest.NATS
	stop := func() {}
	if natsCfg.Embedded {
		ns, err := natsAdapter.StartEmbedded(logger)
		if err != nil {
			return nil, nil, err
		}
		natsCfg.URL = ns.ClientURL()
		stop = ns.Shutdown
	}
	nc, err := natsAdapter.Connect(natsCfg, logger)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return nc, func() {
		nc.Close()
		stop()
	}, nil
}

func provideUsers(
	cfg *config.Config,
	logger *zap.Logger,
	storage engine.Storage,
	hub *realtime.Hub,
	activity *analytics.MatchActivity,
	reg *prometheus.Registry,
	nc *natsgo.Conn,
) (*engine.UserManager, func()) {
	counters := make([]core.Counter, 0, len(cfg.Leaderboard.Counters))
	for _, c := range cfg.Leaderboard.Counters {
		counters = append(counters, core.Counter(c))
	}

	events := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "duelkit",
		Name:      "events_total",
		Help:      "Domain events published on the bus.",
	}, []string{"type"})

	opts := []duels.Option{
		duels.WithStorage(storage),
		duels.WithDispatchMode(engine.DispatchAsync),
		duels.WithRealtime(hub),
		duels.WithLogger(logger),
		duels.WithLeaderboard(
			leaderboard.WithSize(cfg.Leaderboard.Size),
			leaderboard.WithCounters(counters...),
			leaderboard.WithTimeout(cfg.Leaderboard.RecomputeTimeout),
			leaderboard.WithStaleReads(cfg.Leaderboard.ServeStale),
			leaderboard.WithMetrics(leaderboard.NewMetrics(reg)),
		),
		duels.WithSink(analytics.NewBridge(activity).Handle),
		duels.WithSink(func(_ context.Context, e core.Event) {
			events.WithLabelValues(string(e.Type)).Inc()
		}),
	}
	if len(cfg.Webhooks.Endpoints) > 0 {
		types := make([]core.EventType, 0, len(cfg.Webhooks.EventTypes))
		for _, t := range cfg.Webhooks.EventTypes {
			types = append(types, core.EventType(t))
		}
		sink := webhook.New(cfg.Webhooks.Endpoints,
			webhook.WithEventTypes(types...),
			webhook.WithLogger(logger.Named("webhook")))
		opts = append(opts, duels.WithSink(sink.Handle))
	}
	if nc != nil {
		opts = append(opts, duels.WithSink(natsAdapter.NewPublisher(nc, cfg.Ingest.NATS, logger).Handle))
	}

	users := duels.New(opts...)
	return users, users.Close
}

func provideListener(cfg *config.Config, nc *natsgo.Conn, users *engine.UserManager, logger *zap.Logger) *natsAdapter.Listener {
	if nc == nil {
		return nil
	}
	return natsAdapter.NewListener(nc, cfg.Ingest.NATS, users, logger)
}

func provideRefresher(cfg *config.Config, users *engine.UserManager, logger *zap.Logger) *leaderboard.Refresher {
	return leaderboard.NewRefresher(users.Leaderboard(), cfg.Leaderboard.RefreshInterval, logger)
}

func provideHandler(users *engine.UserManager, hub *realtime.Hub, cfg *config.Config, logger *zap.Logger) http.Handler {
	return httpapi.NewMux(users, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Logger:           logger.Named("http"),
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry, activity *analytics.MatchActivity) MetricsServer {
	if !cfg.Metrics.Enabled {
		return MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activity.Summary(10))
	})
	return MetricsServer{&http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run starts every background component and blocks until ctx is cancelled
// or a server fails, then shuts down within Server.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	a.Logger.Info("starting duelkit server",
		zap.String("profile", cfg.Profile),
		zap.String("address", cfg.Server.Address),
		zap.String("storage_adapter", cfg.Storage.Adapter),
		zap.Strings("counters", cfg.Leaderboard.Counters))

	if a.Listener != nil {
		if err := a.Listener.Start(); err != nil {
			return err
		}
	}
	if cfg.Leaderboard.RefreshInterval > 0 {
		a.Refresher.Start(ctx)
	} else if err := a.Users.RefreshLeaderboards(ctx); err != nil {
		a.Logger.Warn("initial leaderboard build failed", zap.Error(err))
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		a.Logger.Info("listening", zap.String("server", name), zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", a.Server)
	if a.Metrics.Server != nil {
		go serve("metrics", a.Metrics.Server)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.Logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.Listener != nil {
		if err := a.Listener.Stop(); err != nil {
			a.Logger.Warn("error draining ingest listener", zap.Error(err))
		}
	}
	a.Refresher.Stop()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if a.Metrics.Server != nil {
		if err := a.Metrics.Server.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	a.Users.Leaderboard().Wait()
	a.Logger.Info("server stopped")
	return runErr
}
