package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sociallink/internal/platform"
	"sociallink/internal/storage"
)

func seedExpiring(t *testing.T, store *storage.SQLiteStorage, userID string, p storage.Platform, expiresIn time.Duration, refreshToken string) *storage.LinkedAccount {
	t.Helper()

	account, err := store.UpsertAccount(context.Background(), userID, p,
		&storage.ProfileData{ID: "pid-" + userID, Username: userID},
		&storage.TokenGrant{AccessToken: "at-" + userID, RefreshToken: refreshToken, ExpiresIn: 3600})
	require.NoError(t, err)

	_, err = store.DB().Exec(
		`UPDATE linked_accounts SET token_expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(expiresIn), account.ID)
	require.NoError(t, err)
	return account
}

func TestDueAccounts(t *testing.T) {
	store := newTestStore(t)
	svc := NewTokenRefreshService(store, platform.NewRegistry(), zap.NewNop(), 10*time.Minute)

	due := seedExpiring(t, store, "user-due", storage.PlatformTwitter, 5*time.Minute, "rt-1")
	seedExpiring(t, store, "user-later", storage.PlatformTwitter, 2*time.Hour, "rt-2")
	seedExpiring(t, store, "user-norefresh", storage.PlatformLinkedIn, 5*time.Minute, "")

	accounts, err := svc.DueAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, due.ID, accounts[0].ID)
}

func TestRefreshAccountRotatesTokens(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{
		name: storage.PlatformTwitter,
		refreshFn: func(refreshToken string) (*storage.TokenGrant, error) {
			assert.Equal(t, "rt-user-1", refreshToken)
			return &storage.TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresIn: 7200}, nil
		},
	}
	svc := NewTokenRefreshService(store, platform.NewRegistry(adapter), zap.NewNop(), 10*time.Minute)

	account := seedExpiring(t, store, "user-1", storage.PlatformTwitter, 5*time.Minute, "rt-user-1")
	require.NoError(t, svc.RefreshAccount(context.Background(), account.ID))

	updated, err := store.AccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusActive, updated.Status)
	tok, ok := store.DecryptedAccessToken(updated)
	require.True(t, ok)
	assert.Equal(t, "at-new", tok)
	rt, ok := store.DecryptedRefreshToken(updated)
	require.True(t, ok)
	assert.Equal(t, "rt-new", rt)
}

func TestRefreshAccountSkipsNotDue(t *testing.T) {
	store := newTestStore(t)
	called := false
	adapter := &fakeAdapter{
		name: storage.PlatformTwitter,
		refreshFn: func(string) (*storage.TokenGrant, error) {
			called = true
			return nil, nil
		},
	}
	svc := NewTokenRefreshService(store, platform.NewRegistry(adapter), zap.NewNop(), 10*time.Minute)

	account := seedExpiring(t, store, "user-1", storage.PlatformTwitter, 2*time.Hour, "rt-1")
	require.NoError(t, svc.RefreshAccount(context.Background(), account.ID))
	assert.False(t, called)
}

func TestRefreshAccountUnsupportedExpires(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{name: storage.PlatformLinkedIn} // Refresh -> not supported
	svc := NewTokenRefreshService(store, platform.NewRegistry(adapter), zap.NewNop(), 10*time.Minute)

	account := seedExpiring(t, store, "user-1", storage.PlatformLinkedIn, 5*time.Minute, "rt-1")
	err := svc.RefreshAccount(context.Background(), account.ID)
	require.Error(t, err)

	updated, err := store.AccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, updated.Status)
}

func TestHandleRefreshJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{
		name: storage.PlatformTwitter,
		refreshFn: func(string) (*storage.TokenGrant, error) {
			return &storage.TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresIn: 7200}, nil
		},
	}
	svc := NewTokenRefreshService(store, platform.NewRegistry(adapter), zap.NewNop(), 10*time.Minute)

	account := seedExpiring(t, store, "user-1", storage.PlatformTwitter, 5*time.Minute, "rt-1")
	payload, err := svc.CreateRefreshJob(account.ID)
	require.NoError(t, err)
	require.NoError(t, svc.HandleRefreshJob(context.Background(), payload))

	updated, err := store.AccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	tok, ok := store.DecryptedAccessToken(updated)
	require.True(t, ok)
	assert.Equal(t, "at-new", tok)
}

func TestHandleRefreshJobBadPayload(t *testing.T) {
	svc := NewTokenRefreshService(newTestStore(t), platform.NewRegistry(), zap.NewNop(), 10*time.Minute)
	assert.Error(t, svc.HandleRefreshJob(context.Background(), []byte("{not json")))
}
