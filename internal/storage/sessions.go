package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is how long an in-flight authorization attempt stays valid.
const SessionTTL = 30 * time.Minute

// OAuthSession is one in-flight authorization attempt. It is single-use:
// consumed at a successful callback, or reaped once expired.
type OAuthSession struct {
	ID           string
	UserID       string
	AccountID    string // set only on reconnect
	State        string
	CodeVerifier string
	RedirectURI  string
	Platform     Platform
	TempData     map[string]interface{}
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the session is past its expiry.
func (s *OAuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NewState returns a fresh URL-safe state parameter with 32 bytes of entropy.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BeginSession creates a session for a new authorization attempt. A state is
// generated when none is supplied. The platform tag is stored both as a
// column and in the temp-data bag so disconnect can scope its cleanup.
func (s *SQLiteStorage) BeginSession(ctx context.Context, userID string, platform Platform, redirectURI, state, codeVerifier string) (*OAuthSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if !platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidInput, platform)
	}

	if state == "" {
		var err error
		state, err = NewState()
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	session := &OAuthSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		State:        state,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirectURI,
		Platform:     platform,
		TempData:     map[string]interface{}{"platform": string(platform)},
		ExpiresAt:    now.Add(SessionTTL),
		CreatedAt:    now,
	}

	tempJSON, err := json.Marshal(session.TempData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode temp data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_sessions (
			id, user_id, oauth_state, code_verifier, redirect_uri, platform, temp_data, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.State, session.CodeVerifier,
		session.RedirectURI, session.Platform, string(tempJSON), session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth session: %w", err)
	}
	return session, nil
}

// SessionByState looks up a session by its state parameter. An expired
// session is deleted on lookup and reported as not found, so callers can
// never complete a flow with a stale state.
func (s *SQLiteStorage) SessionByState(ctx context.Context, state string) (*OAuthSession, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: state cannot be empty", ErrInvalidInput)
	}

	session := &OAuthSession{}
	var accountID sql.NullString
	var tempJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, oauth_state, code_verifier, redirect_uri, platform, temp_data, expires_at, created_at
		FROM oauth_sessions WHERE oauth_state = ?`, state).Scan(
		&session.ID, &session.UserID, &accountID, &session.State, &session.CodeVerifier,
		&session.RedirectURI, &session.Platform, &tempJSON, &session.ExpiresAt, &session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth session: %w", err)
	}
	if accountID.Valid {
		session.AccountID = accountID.String
	}
	if err := json.Unmarshal([]byte(tempJSON), &session.TempData); err != nil {
		return nil, fmt.Errorf("failed to decode temp data: %w", err)
	}

	if session.Expired(time.Now().UTC()) {
		_ = s.DeleteSession(ctx, session.ID)
		return nil, ErrNotFound
	}
	return session, nil
}

// DeleteSession removes one session by id.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete oauth session: %w", err)
	}
	return nil
}

// SweepExpiredSessions deletes every session past its expiry and returns how
// many were removed.
func (s *SQLiteStorage) SweepExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return result.RowsAffected()
}

// ClearSessionsFor deletes every session for a (user, platform) pair. Called
// at login-initiate to invalidate stale in-flight attempts, and at disconnect.
func (s *SQLiteStorage) ClearSessionsFor(ctx context.Context, userID string, platform Platform) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_sessions WHERE user_id = ? AND platform = ?`, userID, platform)
	if err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}
