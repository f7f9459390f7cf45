package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallLogEntry is an append-only record of one outbound platform API call.
// Status code 0 is reserved for transport-level failure (no response).
type CallLogEntry struct {
	ID                 string
	UserID             string
	AccountID          string
	Endpoint           string
	Method             string
	StatusCode         int
	ResponseTime       time.Duration
	RateLimitRemaining *int
	RateLimitReset     *time.Time
	ErrorMessage       string
	CreatedAt          time.Time
}

// InsertCallLog appends one call record. There is no update or delete path.
func (s *SQLiteStorage) InsertCallLog(ctx context.Context, entry *CallLogEntry) error {
	if entry.AccountID == "" {
		return fmt.Errorf("%w: account ID cannot be empty", ErrInvalidInput)
	}
	if entry.Endpoint == "" {
		return fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidInput)
	}

	var remaining interface{}
	if entry.RateLimitRemaining != nil {
		remaining = *entry.RateLimitRemaining
	}

	// created_at is set here rather than by the column default: sqlite's
	// CURRENT_TIMESTAMP has whole-second granularity, which cannot order a
	// burst of calls logged within the same second.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_call_logs (
			id, user_id, account_id, endpoint, method, status_code,
			response_time_ms, rate_limit_remaining, rate_limit_reset, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), entry.UserID, entry.AccountID, entry.Endpoint, entry.Method,
		entry.StatusCode, entry.ResponseTime.Milliseconds(), remaining,
		nullableTime(entry.RateLimitReset), entry.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call log: %w", err)
	}
	return nil
}

// LatestCallLog returns the most recent call record for an account. Used to
// surface the last known rate-limit metadata before calling out again.
func (s *SQLiteStorage) LatestCallLog(ctx context.Context, accountID string) (*CallLogEntry, error) {
	entry := &CallLogEntry{}
	var responseMs int64
	var remaining sql.NullInt64
	var reset sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, endpoint, method, status_code,
		       response_time_ms, rate_limit_remaining, rate_limit_reset, error_message, created_at
		FROM api_call_logs WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, accountID).Scan(
		&entry.ID, &entry.UserID, &entry.AccountID, &entry.Endpoint, &entry.Method,
		&entry.StatusCode, &responseMs, &remaining, &reset, &entry.ErrorMessage, &entry.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call log: %w", err)
	}

	entry.ResponseTime = time.Duration(responseMs) * time.Millisecond
	if remaining.Valid {
		v := int(remaining.Int64)
		entry.RateLimitRemaining = &v
	}
	if reset.Valid {
		t := reset.Time
		entry.RateLimitReset = &t
	}
	return entry, nil
}

// CountCallLogs returns the number of records for an account. Test and
// reporting helper.
func (s *SQLiteStorage) CountCallLogs(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_call_logs WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count call logs: %w", err)
	}
	return n, nil
}
