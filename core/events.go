package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventUserCreated        EventType = "user_created"
	EventUserRenamed        EventType = "user_renamed"
	EventMatchRecorded      EventType = "match_recorded"
	EventCounterChanged     EventType = "counter_changed"
	EventLeaderboardUpdated EventType = "leaderboard_updated"
)

// AllEventTypes lists every event type, for bridges that forward everything.
var AllEventTypes = []EventType{
	EventUserCreated,
	EventUserRenamed,
	EventMatchRecorded,
	EventCounterChanged,
	EventLeaderboardUpdated,
}

// Event represents an immutable domain event.
type Event struct {
	Type       EventType      `json:"type"`
	Time       time.Time      `json:"time"`
	UserID     UserID         `json:"user_id,omitempty"`
	Opponent   UserID         `json:"opponent,omitempty"`
	Name       string         `json:"name,omitempty"`
	Counter    Counter        `json:"counter,omitempty"`
	Delta      int64          `json:"delta,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Generation uint64         `json:"generation,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewUserCreated(user UserID, name string) Event {
	return Event{Type: EventUserCreated, Time: time.Now().UTC(), UserID: user, Name: name}
}

func NewUserRenamed(user UserID, name string) Event {
	return Event{Type: EventUserRenamed, Time: time.Now().UTC(), UserID: user, Name: name}
}

// NewMatchRecorded is emitted once per duel, keyed on the winner.
func NewMatchRecorded(winner, loser UserID) Event {
	return Event{Type: EventMatchRecorded, Time: time.Now().UTC(), UserID: winner, Opponent: loser}
}

// NewCounterChanged describes a counter delta. Total is filled in once the
// delta has been applied to storage.
func NewCounterChanged(user UserID, counter Counter, delta int64, total int64) Event {
	return Event{Type: EventCounterChanged, Time: time.Now().UTC(), UserID: user, Counter: counter, Delta: delta, Total: total}
}

func NewLeaderboardUpdated(counter Counter, generation uint64, entries int) Event {
	return Event{
		Type:       EventLeaderboardUpdated,
		Time:       time.Now().UTC(),
		Counter:    counter,
		Generation: generation,
		Metadata:   map[string]any{"entries": entries},
	}
}
