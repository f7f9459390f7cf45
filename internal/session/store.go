// Package session manages the web login sessions that identify which local
// user is driving a connect or disconnect flow. These are distinct from the
// short-lived OAuth authorization sessions kept in storage.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for an ID.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when the session exists but is past its expiry.
	ErrExpired = errors.New("session expired")
)

// Store manages login sessions.
type Store interface {
	// Create starts a session for a user and returns its ID.
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	// Get resolves a session ID to the user behind it.
	Get(ctx context.Context, sessionID string) (string, error)
	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error
}
