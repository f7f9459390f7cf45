package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// LinkedAccount is one connection between a local user and a platform
// identity. Token fields hold encrypted blobs; they are never logged.
type LinkedAccount struct {
	ID             string
	UserID         string
	Platform       Platform
	PlatformUserID string

	Username    string
	DisplayName string
	Email       string
	ProfileURL  string
	AvatarURL   string

	AccessToken    string // encrypted
	RefreshToken   string // encrypted, empty when the platform issued none
	TokenExpiresAt *time.Time
	Scope          string

	Status         AccountStatus
	LastSync       *time.Time
	FollowerCount  int
	FollowingCount int
	PostsCount     int

	ExtraData map[string]interface{}

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenExpired reports whether the access token is past its expiry.
// Accounts without an expiry timestamp never expire.
func (a *LinkedAccount) TokenExpired(now time.Time) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	return now.After(*a.TokenExpiresAt)
}

// ProfileData is a platform profile normalized to the common shape consumed
// by the credential store.
type ProfileData struct {
	ID         string
	Username   string
	Name       string
	Email      string
	ProfileURL string
	AvatarURL  string
	Extra      map[string]interface{}
}

// TokenGrant is the result of a token exchange or refresh, in plaintext.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds; 0 means the token does not expire
	Scope        string
}

const accountColumns = `
	id, user_id, platform, platform_user_id,
	username, display_name, email, profile_url, avatar_url,
	access_token, refresh_token, token_expires_at, scope,
	status, last_sync, follower_count, following_count, posts_count,
	extra_data, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*LinkedAccount, error) {
	a := &LinkedAccount{}
	var expiresAt, lastSync sql.NullTime
	var extraJSON string

	err := row.Scan(
		&a.ID, &a.UserID, &a.Platform, &a.PlatformUserID,
		&a.Username, &a.DisplayName, &a.Email, &a.ProfileURL, &a.AvatarURL,
		&a.AccessToken, &a.RefreshToken, &expiresAt, &a.Scope,
		&a.Status, &lastSync, &a.FollowerCount, &a.FollowingCount, &a.PostsCount,
		&extraJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		a.TokenExpiresAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time
		a.LastSync = &t
	}
	a.ExtraData = map[string]interface{}{}
	if extraJSON != "" {
		if err := json.Unmarshal([]byte(extraJSON), &a.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to decode extra data: %w", err)
		}
	}
	return a, nil
}

// UpsertAccount stores the tokens and profile for (userID, platform,
// profile.ID), creating the account on first connect and updating it on
// re-auth. Display fields are only overwritten by non-empty values, the
// extra-data bag is merged, and the account becomes active. The natural-key
// UNIQUE constraint plus a conflict retry keeps concurrent callbacks from
// creating duplicate rows.
func (s *SQLiteStorage) UpsertAccount(ctx context.Context, userID string, platform Platform, profile *ProfileData, grant *TokenGrant) (*LinkedAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if !platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidInput, platform)
	}
	if profile == nil || profile.ID == "" {
		return nil, fmt.Errorf("%w: platform %s", ErrMissingIdentity, platform)
	}
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}

	encAccess, err := s.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.cipher.Encrypt(grant.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if grant.ExpiresIn > 0 {
		t := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	var account *LinkedAccount
	// Two attempts: if the insert loses a race on the natural key, the second
	// pass finds the row and takes the update path.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			existing, err := accountByNaturalKeyTx(ctx, tx, userID, platform, profile.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}

			if existing != nil {
				account, err = updateAccountTx(ctx, tx, existing, profile, encAccess, encRefresh, expiresAt, grant.Scope, now)
				return err
			}

			account, err = insertAccountTx(ctx, tx, userID, platform, profile, encAccess, encRefresh, expiresAt, grant.Scope, now)
			return err
		})
		if err == nil {
			return account, nil
		}
		if !isRetryableUpsertErr(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to upsert account after conflict retry: %w", err)
}

// isRetryableUpsertErr covers the two ways a racing callback surfaces: a
// natural-key UNIQUE violation, or a busy database when two writers collide.
func isRetryableUpsertErr(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint || serr.Code == sqlite3.ErrBusy
	}
	return false
}

func accountByNaturalKeyTx(ctx context.Context, tx *sql.Tx, userID string, platform Platform, platformUserID string) (*LinkedAccount, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE user_id = ? AND platform = ? AND platform_user_id = ?`,
		userID, platform, platformUserID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func insertAccountTx(ctx context.Context, tx *sql.Tx, userID string, platform Platform, profile *ProfileData, encAccess, encRefresh string, expiresAt *time.Time, scope string, now time.Time) (*LinkedAccount, error) {
	extra := profile.Extra
	if extra == nil {
		extra = map[string]interface{}{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra data: %w", err)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO linked_accounts (
			id, user_id, platform, platform_user_id,
			username, display_name, email, profile_url, avatar_url,
			access_token, refresh_token, token_expires_at, scope,
			status, last_sync, extra_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, platform, profile.ID,
		profile.Username, profile.Name, profile.Email, profile.ProfileURL, profile.AvatarURL,
		encAccess, encRefresh, nullableTime(expiresAt), scope,
		StatusActive, now, string(extraJSON),
	)
	if err != nil {
		return nil, err
	}
	return accountByNaturalKeyTx(ctx, tx, userID, platform, profile.ID)
}

func updateAccountTx(ctx context.Context, tx *sql.Tx, existing *LinkedAccount, profile *ProfileData, encAccess, encRefresh string, expiresAt *time.Time, scope string, now time.Time) (*LinkedAccount, error) {
	// Display fields keep their previous value unless the new one is non-empty.
	username := nonEmpty(profile.Username, existing.Username)
	displayName := nonEmpty(profile.Name, existing.DisplayName)
	email := nonEmpty(profile.Email, existing.Email)
	profileURL := nonEmpty(profile.ProfileURL, existing.ProfileURL)
	avatarURL := nonEmpty(profile.AvatarURL, existing.AvatarURL)

	merged := existing.ExtraData
	if merged == nil {
		merged = map[string]interface{}{}
	}
	for k, v := range profile.Extra {
		merged[k] = v
	}
	extraJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE linked_accounts SET
			username = ?, display_name = ?, email = ?, profile_url = ?, avatar_url = ?,
			access_token = ?, refresh_token = ?, token_expires_at = ?, scope = ?,
			status = ?, last_sync = ?, extra_data = ?
		WHERE id = ?`,
		username, displayName, email, profileURL, avatarURL,
		encAccess, encRefresh, nullableTime(expiresAt), scope,
		StatusActive, now, string(extraJSON),
		existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return accountByNaturalKeyTx(ctx, tx, existing.UserID, existing.Platform, existing.PlatformUserID)
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// FindActiveAccount returns the active linked account for (user, platform).
func (s *SQLiteStorage) FindActiveAccount(ctx context.Context, userID string, platform Platform) (*LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE user_id = ? AND platform = ? AND status = ?`,
		userID, platform, StatusActive)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active %s account for user", ErrNotFound, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// AccountFor returns the linked account for (user, platform) regardless of
// status. Disconnect uses it so revocation still covers expired accounts.
func (s *SQLiteStorage) AccountFor(ctx context.Context, userID string, platform Platform) (*LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE user_id = ? AND platform = ? LIMIT 1`,
		userID, platform)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no %s account for user", ErrNotFound, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// AccountByID loads one account by row id.
func (s *SQLiteStorage) AccountByID(ctx context.Context, id string) (*LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// ListAccounts returns every linked account for a user, newest first.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, userID string) ([]*LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*LinkedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// AccountsExpiringBefore lists active accounts whose tokens expire before the
// cutoff and that hold a refresh token. Used by the background refresher.
func (s *SQLiteStorage) AccountsExpiringBefore(ctx context.Context, cutoff time.Time) ([]*LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts
		 WHERE status = ? AND token_expires_at IS NOT NULL AND token_expires_at < ? AND refresh_token != ''`,
		StatusActive, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountStatus moves an account to a new lifecycle state.
func (s *SQLiteStorage) UpdateAccountStatus(ctx context.Context, accountID string, status AccountStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE linked_accounts SET status = ? WHERE id = ?`, status, accountID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceAccountTokens encrypts and stores a fresh token grant on an existing
// account, returning it to active status.
func (s *SQLiteStorage) ReplaceAccountTokens(ctx context.Context, accountID string, grant *TokenGrant) error {
	if grant == nil || grant.AccessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}
	encAccess, err := s.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.cipher.Encrypt(grant.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if grant.ExpiresIn > 0 {
		t := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts SET
			access_token = ?, refresh_token = ?, token_expires_at = ?, status = ?, last_sync = ?
		WHERE id = ?`,
		encAccess, encRefresh, nullableTime(expiresAt), StatusActive, now, accountID)
	if err != nil {
		return fmt.Errorf("failed to replace tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccountMetrics rolls follower/following/post counters onto an account.
func (s *SQLiteStorage) UpdateAccountMetrics(ctx context.Context, accountID string, followers, following, posts int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE linked_accounts
		SET follower_count = ?, following_count = ?, posts_count = ?, last_sync = ?
		WHERE id = ?`,
		followers, following, posts, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account metrics: %w", err)
	}
	return nil
}

// DecryptedAccessToken returns the plaintext access token of an account, or
// ok=false when none is stored or the blob cannot be decrypted.
func (s *SQLiteStorage) DecryptedAccessToken(account *LinkedAccount) (string, bool) {
	return s.cipher.Decrypt(account.AccessToken)
}

// DecryptedRefreshToken returns the plaintext refresh token of an account, or
// ok=false when none is stored or the blob cannot be decrypted.
func (s *SQLiteStorage) DecryptedRefreshToken(account *LinkedAccount) (string, bool) {
	return s.cipher.Decrypt(account.RefreshToken)
}

// DisconnectAccount removes the linked account for (user, platform) together
// with everything that hangs off it: call logs, per-platform profile rows via
// the cleanup registry, and any in-flight OAuth sessions tagged for the
// platform. The fan-out runs as one transaction; either everything goes or
// nothing does. Returns false when no account matched.
func (s *SQLiteStorage) DisconnectAccount(ctx context.Context, userID string, platform Platform) (bool, error) {
	found := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var accountID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM linked_accounts WHERE user_id = ? AND platform = ? LIMIT 1`,
			userID, platform).Scan(&accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find account: %w", err)
		}
		found = true

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM api_call_logs WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("failed to delete call logs: %w", err)
		}

		for _, handler := range cleanupHandlersFor(platform) {
			if err := handler(ctx, tx, accountID); err != nil {
				return fmt.Errorf("cleanup handler for %s failed: %w", platform, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM oauth_sessions WHERE user_id = ? AND platform = ?`,
			userID, platform); err != nil {
			return fmt.Errorf("failed to delete oauth sessions: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM linked_accounts WHERE id = ?`, accountID); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
