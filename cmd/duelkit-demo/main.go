// Command duelkit-demo runs an in-memory duel server that plays random
// matches between a handful of seeded players.
package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"duelkit/api/httpapi"
	"duelkit/config"
	"duelkit/core"
	"duelkit/duels"
	"duelkit/engine"
	"duelkit/leaderboard"
	"duelkit/logging"
	"duelkit/realtime"
)

var names = []string{"ada", "brick", "cyd", "dune", "echo", "fable", "gale", "hex"}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	every := flag.Duration("every", 500*time.Millisecond, "interval between simulated matches")
	flag.Parse()

	// readable console logging for the demo
	logger := logging.MustNew(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	users := duels.New(
		duels.WithRealtime(hub),
		duels.WithLogger(logger),
		duels.WithLeaderboard(leaderboard.WithSize(5)),
	)
	defer users.Close()

	players, err := seed(ctx, users)
	if err != nil {
		logger.Fatal("seeding players failed", zap.Error(err))
	}

	refresher := leaderboard.NewRefresher(users.Leaderboard(), 2*time.Second, logger)
	refresher.Start(ctx)
	defer refresher.Stop()

	go simulate(ctx, users, players, *every, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewMux(users, hub, httpapi.Options{AllowCORSOrigin: "*", Logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting demo server", zap.String("address", *addr), zap.Int("players", len(players)))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("demo server crashed", zap.Error(err))
		os.Exit(1)
	}
}

func seed(ctx context.Context, users *engine.UserManager) ([]core.UserID, error) {
	ids := make([]core.UserID, 0, len(names))
	for _, name := range names {
		u, err := users.Register(ctx, core.NewUserID(), name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// simulate records one random duel per tick until ctx is done.
func simulate(ctx context.Context, users *engine.UserManager, players []core.UserID, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i := rand.IntN(len(players))
			j := (i + 1 + rand.IntN(len(players)-1)) % len(players)
			if _, err := users.RecordMatch(ctx, players[i], players[j]); err != nil {
				logger.Warn("simulated match failed", zap.Error(err))
			}
		}
	}
}
