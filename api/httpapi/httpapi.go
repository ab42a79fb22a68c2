package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	wsadapter "duelkit/adapters/websocket"
	"duelkit/core"
	"duelkit/engine"
	"duelkit/leaderboard"
	"duelkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	// /healthz stays open.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// SortedLimit caps the rows returned by the full sorted view.
	SortedLimit int
	Logger      *zap.Logger
}

const (
	defaultSortedLimit = 100
	// scoreWinRate ranks by wins / (wins + losses) on the sorted view.
	scoreWinRate = "win_rate"
)

type server struct {
	users  *engine.UserManager
	logger *zap.Logger
	limit  int
}

// NewMux builds an http.Handler exposing the duel REST API and WebSocket stream.
// Routes:
//   - GET  {prefix}/healthz
//   - GET  {prefix}/ws?types=match_recorded,leaderboard_updated
//   - PUT  {prefix}/users/{id}?name=alice
//   - GET  {prefix}/users/{id}
//   - POST {prefix}/matches?winner={id}&loser={id}
//   - GET  {prefix}/leaderboards/{counter}
//   - POST {prefix}/leaderboards/{counter}/recompute
//   - GET  {prefix}/leaderboards/{counter}/sorted?limit=50&by=win_rate
func NewMux(users *engine.UserManager, hub *realtime.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SortedLimit <= 0 {
		opts.SortedLimit = defaultSortedLimit
	}
	s := &server{users: users, logger: opts.Logger, limit: opts.SortedLimit}

	api := chi.NewRouter()
	api.Use(middleware.Recoverer)
	if opts.AllowCORSOrigin != "" {
		api.Use(withCORS(opts.AllowCORSOrigin))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		api.Use(withRateLimit(newClientLimiter(opts.RateLimitRPM, opts.RateLimitBurst)))
	}
	api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	api.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	api.Get("/healthz", s.healthCheck)

	api.Group(func(r chi.Router) {
		if len(opts.APIKeys) > 0 {
			r.Use(withAPIKeyAuth(opts.APIKeys))
		}
		if hub != nil {
			r.Handle("/ws", wsadapter.Handler(hub, wsadapter.Options{
				AllowedOrigin: opts.AllowCORSOrigin,
				Logger:        opts.Logger,
			}))
		}
		r.Route("/users/{id}", func(r chi.Router) {
			r.Put("/", s.registerUser)
			r.Get("/", s.getUser)
		})
		r.Post("/matches", s.recordMatch)
		r.Route("/leaderboards/{counter}", func(r chi.Router) {
			r.Get("/", s.topOf)
			r.Post("/recompute", s.recompute)
			r.Get("/sorted", s.sorted)
		})
	})

	prefix := strings.TrimSuffix(opts.PathPrefix, "/")
	if prefix == "" {
		return api
	}
	root := chi.NewRouter()
	root.Mount(prefix, api)
	root.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	return root
}

// healthCheck probes storage with a lookup of the nil UUID; NotFound is healthy.
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := s.users.Get(r.Context(), core.UserID("00000000-0000-0000-0000-000000000000"))

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSON(w, code, status)
}

func (s *server) registerUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Register(r.Context(), core.UserID(chi.URLParam(r, "id")), r.URL.Query().Get("name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) getUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.users.Get(r.Context(), core.UserID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	u, ok := res.Get()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "user not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) recordMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.users.RecordMatch(r.Context(), core.UserID(q.Get("winner")), core.UserID(q.Get("loser")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) topOf(w http.ResponseWriter, r *http.Request) {
	res, err := s.users.Top(core.Counter(chi.URLParam(r, "counter")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	snap, ok := res.Get()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) recompute(w http.ResponseWriter, r *http.Request) {
	counter := core.Counter(chi.URLParam(r, "counter"))
	if err := s.users.RecomputeAsync(counter); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recomputing", "counter": counter})
}

func (s *server) sorted(w http.ResponseWriter, r *http.Request) {
	counter := core.Counter(chi.URLParam(r, "counter"))
	if err := core.ValidateCounter(counter); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_counter", err.Error(), nil)
		return
	}
	limit := s.limit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		limit = min(n, s.limit)
	}

	switch by := r.URL.Query().Get("by"); by {
	case "", string(counter):
		entries, err := engine.SortedBy(r.Context(), s.users, leaderboard.CounterScore(counter))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sortedResponse(counter, by, entries, limit))
	case scoreWinRate:
		entries, err := engine.SortedBy(r.Context(), s.users, winRate)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sortedResponse(counter, by, entries, limit))
	default:
		writeError(w, http.StatusBadRequest, "invalid_score", "by must be the counter or "+scoreWinRate, nil)
	}
}

func winRate(u core.User) (float64, error) {
	played := u.Wins() + u.Losses()
	if played == 0 {
		return 0, nil
	}
	return float64(u.Wins()) / float64(played), nil
}

func sortedResponse[V int64 | float64](counter core.Counter, by string, entries []leaderboard.SortedEntry[V], limit int) map[string]any {
	if by == "" {
		by = string(counter)
	}
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return map[string]any{"counter": counter, "by": by, "total": total, "entries": entries}
}

// writeDomainError maps core sentinels onto HTTP statuses.
func (s *server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error(), nil)
	case errors.Is(err, core.ErrSelfMatch):
		writeError(w, http.StatusBadRequest, "self_match", err.Error(), nil)
	case errors.Is(err, core.ErrUnknownCounter):
		writeError(w, http.StatusBadRequest, "unknown_counter", err.Error(), nil)
	case errors.Is(err, core.ErrNegativeCounter):
		writeError(w, http.StatusConflict, "negative_counter", err.Error(), nil)
	case errors.Is(err, core.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
