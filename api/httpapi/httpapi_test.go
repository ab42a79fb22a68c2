package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mem "duelkit/adapters/memory"
	"duelkit/core"
	"duelkit/engine"
	"duelkit/leaderboard"
)

const (
	alice = "00000000-0000-0000-0000-00000000000a"
	bob   = "00000000-0000-0000-0000-00000000000b"
)

func TestRegisterAndGetUser(t *testing.T) {
	users := newTestManager(t)
	handler := NewMux(users, nil, Options{PathPrefix: "/api"})

	rec := do(handler, http.MethodPut, "/api/users/"+alice+"?name=Alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(handler, http.MethodGet, "/api/users/"+alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var u core.User
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.Name != "Alice" || u.ID != alice {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestRegisterValidation(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{PathPrefix: "/api"})

	if rec := do(handler, http.MethodPut, "/api/users/not-a-uuid?name=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := do(handler, http.MethodPut, "/api/users/"+alice+"?name=%20"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
}

func TestGetUserNotFound(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{PathPrefix: "/api"})

	rec := do(handler, http.MethodGet, "/api/users/"+bob)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var e apiError
	_ = json.Unmarshal(rec.Body.Bytes(), &e)
	if e.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", e.Code)
	}
}

func TestRecordMatch(t *testing.T) {
	users := newTestManager(t)
	register(t, users, alice, "alice")
	register(t, users, bob, "bob")
	handler := NewMux(users, nil, Options{PathPrefix: "/api"})

	rec := do(handler, http.MethodPost, "/api/matches?winner="+alice+"&loser="+bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res engine.MatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("expected 2 applied events, got %d", len(res.Applied))
	}

	if rec := do(handler, http.MethodPost, "/api/matches?winner="+alice+"&loser="+alice); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self match, got %d", rec.Code)
	}
	unknown := "00000000-0000-0000-0000-0000000000ff"
	if rec := do(handler, http.MethodPost, "/api/matches?winner="+alice+"&loser="+unknown); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown loser, got %d", rec.Code)
	}
}

func TestLeaderboardLifecycle(t *testing.T) {
	users := newTestManager(t)
	register(t, users, alice, "alice")
	register(t, users, bob, "bob")
	if _, err := users.RecordMatch(context.Background(), alice, bob); err != nil {
		t.Fatal(err)
	}
	handler := NewMux(users, nil, Options{PathPrefix: "/api"})

	// nothing computed yet
	rec := do(handler, http.MethodGet, "/api/leaderboards/wins")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 before first rebuild, got %d", rec.Code)
	}

	rec = do(handler, http.MethodPost, "/api/leaderboards/wins/recompute")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	users.Leaderboard().Wait()

	rec = do(handler, http.MethodGet, "/api/leaderboards/wins")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap leaderboard.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Entries) != 2 || snap.Entries[0].User != alice || snap.Entries[0].Value != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if rec := do(handler, http.MethodGet, "/api/leaderboards/draws"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for untracked counter, got %d", rec.Code)
	}
	if rec := do(handler, http.MethodPost, "/api/leaderboards/draws/recompute"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for untracked counter, got %d", rec.Code)
	}
}

func TestSortedView(t *testing.T) {
	users := newTestManager(t)
	register(t, users, alice, "alice")
	register(t, users, bob, "bob")
	ctx := context.Background()
	for range 2 {
		if _, err := users.RecordMatch(ctx, bob, alice); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := users.RecordMatch(ctx, alice, bob); err != nil {
		t.Fatal(err)
	}
	handler := NewMux(users, nil, Options{PathPrefix: "/api"})

	var body struct {
		Total   int                                `json:"total"`
		Entries []leaderboard.SortedEntry[float64] `json:"entries"`
	}
	rec := do(handler, http.MethodGet, "/api/leaderboards/wins/sorted?limit=1&by=win_rate")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 || len(body.Entries) != 1 || body.Entries[0].User != bob {
		t.Fatalf("unexpected sorted view %+v", body)
	}

	rec = do(handler, http.MethodGet, "/api/leaderboards/losses/sorted")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Entries[0].User != alice || body.Entries[0].Value != 2 {
		t.Fatalf("expected alice with 2 losses first, got %+v", body.Entries[0])
	}

	if rec := do(handler, http.MethodGet, "/api/leaderboards/wins/sorted?limit=0"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", rec.Code)
	}
	if rec := do(handler, http.MethodGet, "/api/leaderboards/wins/sorted?by=elo"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown score, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{PathPrefix: "/api", APIKeys: []string{"secret"}})

	rec := do(handler, http.MethodGet, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without a key, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{PathPrefix: "/api"})

	if rec := do(handler, http.MethodGet, "/api/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(handler, http.MethodGet, "/elsewhere"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(handler, http.MethodGet, "/api/users/"+alice)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/"+alice, nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 once authorized, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header, got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newTestManager(t), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/api/users/"+alice, nil)
	req1.Header.Set("X-API-Key", "k")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNotFound {
		t.Fatalf("expected 404 first request, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/"+alice, nil)
	req2.Header.Set("X-API-Key", "k")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestClientLimiterPrunesIdleClients(t *testing.T) {
	l := newClientLimiter(60, 1)
	for i := 0; i <= limiterCleanupThreshold; i++ {
		l.get(string(rune('a' + i%26)) + string(rune(i)))
	}
	for _, e := range l.clients {
		e.lastSeen = e.lastSeen.Add(-2 * limiterMaxIdle)
	}
	l.get("fresh")
	if n := l.len(); n != 1 {
		t.Fatalf("expected idle clients pruned, %d left", n)
	}
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func register(t *testing.T, users *engine.UserManager, id core.UserID, name string) {
	t.Helper()
	if _, err := users.Register(context.Background(), id, name); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T) *engine.UserManager {
	t.Helper()
	storage := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	users := engine.NewUserManager(storage, bus, engine.DefaultRuleEngine(), leaderboard.NewCache(storage), nil)
	t.Cleanup(users.Close)
	return users
}
