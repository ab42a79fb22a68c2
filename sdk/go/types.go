package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// User mirrors the public JSON surface of a duelist record.
type User struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Counters map[string]int64 `json:"counters"`
	Created  time.Time        `json:"created"`
	Updated  time.Time        `json:"updated"`
}

// Entry is one ranked row. Value is a float so win rates decode too.
type Entry struct {
	Key    string  `json:"key"`
	Value  float64 `json:"value"`
	UserID string  `json:"user_id"`
}

// Leaderboard is a cached top-N snapshot.
type Leaderboard struct {
	Counter    string        `json:"counter"`
	Entries    []Entry       `json:"entries"`
	Population int           `json:"population"`
	Generation uint64        `json:"generation"`
	ComputedAt time.Time     `json:"computed_at"`
	Took       time.Duration `json:"took"`
}

// SortedView is the administrative full ranking.
type SortedView struct {
	Counter string  `json:"counter"`
	By      string  `json:"by"`
	Total   int     `json:"total"`
	Entries []Entry `json:"entries"`
}

// Event mirrors a streamed domain event.
type Event struct {
	Type       string         `json:"type"`
	Time       time.Time      `json:"time"`
	UserID     string         `json:"user_id,omitempty"`
	Opponent   string         `json:"opponent,omitempty"`
	Name       string         `json:"name,omitempty"`
	Counter    string         `json:"counter,omitempty"`
	Delta      int64          `json:"delta,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Generation uint64         `json:"generation,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MatchResult lists the counter changes a recorded duel produced.
type MatchResult struct {
	Winner  string  `json:"winner"`
	Loser   string  `json:"loser"`
	Applied []Event `json:"applied"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrNotFound matches APIError values for unknown users.
	ErrNotFound = errors.New("not found")
	// ErrLoading is returned while a leaderboard is being recomputed; retry later.
	ErrLoading = errors.New("leaderboard is loading")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
