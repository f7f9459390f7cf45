package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// ErrMissingIdentity is returned when a platform profile payload carries
	// no stable platform user id.
	ErrMissingIdentity = errors.New("missing platform user identity")
)

// Platform identifies a supported social platform. The set is closed:
// adding a platform means adding a constant here and an adapter variant.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformLinkedIn, PlatformTwitter, PlatformFacebook, PlatformInstagram:
		return true
	}
	return false
}

// AccountStatus is the lifecycle state of a linked account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusExpired  AccountStatus = "expired"
	StatusRevoked  AccountStatus = "revoked"
	StatusError    AccountStatus = "error"
)

// SQLiteStorage handles all database operations. Token fields are encrypted
// with the configured cipher before they touch a row.
type SQLiteStorage struct {
	db     *sql.DB
	cipher *TokenCipher
}

// NewSQLiteStorage creates a new SQLiteStorage instance over an open database.
func NewSQLiteStorage(db *sql.DB, cipher *TokenCipher) *SQLiteStorage {
	return &SQLiteStorage{db: db, cipher: cipher}
}

// Open opens the sqlite database at path with foreign keys enabled.
// Transactions take the write lock up front (_txlock=immediate): a deferred
// transaction that reads before writing cannot upgrade its shared lock while
// another writer holds one, and sqlite reports that deadlock as an immediate
// SQLITE_BUSY that no busy_timeout can wait out.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle for migrations and tests.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Cipher returns the token cipher bound to this storage.
func (s *SQLiteStorage) Cipher() *TokenCipher {
	return s.cipher
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// nullableTime converts a *time.Time into a driver-friendly value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
