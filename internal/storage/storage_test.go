package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStorage opens a migrated file-backed database in a temp dir. A file
// is used instead of :memory: so every pooled connection sees the same data.
func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher, err := NewTokenCipher(testKey())
	require.NoError(t, err)

	s := NewSQLiteStorage(db, cipher)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testProfile(id string) *ProfileData {
	return &ProfileData{
		ID:         id,
		Username:   "jdoe",
		Name:       "Jane Doe",
		Email:      "jdoe@example.com",
		ProfileURL: "https://example.com/jdoe",
		AvatarURL:  "https://example.com/jdoe.png",
		Extra:      map[string]interface{}{"locale": "en_US"},
	}
}

func testGrant() *TokenGrant {
	return &TokenGrant{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		ExpiresIn:    3600,
		Scope:        "openid profile email",
	}
}

func TestMigrate_CreatesTables(t *testing.T) {
	s := newTestStorage(t)

	tables := []string{
		"linked_accounts", "oauth_sessions", "api_call_logs",
		"linkedin_profiles", "twitter_profiles",
	}
	for _, table := range tables {
		var exists bool
		err := s.DB().QueryRow(`SELECT EXISTS (
			SELECT 1 FROM sqlite_master WHERE type='table' AND name=?
		)`, table).Scan(&exists)
		require.NoError(t, err)
		require.True(t, exists, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int64
	require.NoError(t, s.DB().QueryRow(
		`SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	require.Equal(t, int64(len(migrations)), version)
}
