package engine

import (
	"context"

	"duelkit/core"
)

// Storage abstracts persistence of user records.
type Storage interface {
	// CreateUser inserts a record, or renames the existing one. created
	// reports whether a new record was made.
	CreateUser(ctx context.Context, user core.UserID, name string) (u core.User, created bool, err error)
	// GetUser returns core.ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	// AddToCounter applies delta and returns the new value. It fails with
	// core.ErrUserNotFound for unknown ids and core.ErrNegativeCounter when
	// the value would drop below zero.
	AddToCounter(ctx context.Context, user core.UserID, counter core.Counter, delta int64) (int64, error)
	// ForEach visits a copy of every record. Each record is read
	// consistently; the walk as a whole is not a point-in-time view.
	ForEach(ctx context.Context, fn func(core.User) error) error
}

// RuleEngine evaluates rules and emits derived events.
type RuleEngine interface {
	Evaluate(ctx context.Context, trigger core.Event) []core.Event
}

// Player is a live session handle supplied by the host, such as a
// connected client.
type Player interface {
	UniqueID() core.UserID
}
