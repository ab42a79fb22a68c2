package core

import "errors"

var (
	// ErrUserNotFound is returned by storage when an identifier has no record.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownCounter is returned for counters the leaderboard does not track.
	ErrUnknownCounter = errors.New("unknown counter")
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrInvalidName    = errors.New("invalid name")
	// ErrNegativeCounter rejects updates that would push a counter below zero.
	ErrNegativeCounter = errors.New("counter cannot be negative")
	ErrSelfMatch       = errors.New("winner and loser must differ")
)
