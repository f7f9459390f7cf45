package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore keeps login sessions in process memory. Expired entries are
// dropped when touched; PurgeExpired exists for periodic cleanup.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

type entry struct {
	userID  string
	expires time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]entry)}
}

// Create starts a session for a user and returns its ID.
func (s *InMemoryStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = entry{userID: userID, expires: time.Now().Add(ttl)}
	return id, nil
}

// Get resolves a session ID to its user, dropping the entry if it expired.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	if time.Now().After(e.expires) {
		delete(s.sessions, sessionID)
		return "", ErrExpired
	}
	return e.userID, nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// PurgeExpired removes all expired sessions and reports how many went.
func (s *InMemoryStore) PurgeExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if now.After(e.expires) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
