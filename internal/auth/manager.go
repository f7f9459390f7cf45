// Package auth orchestrates the OAuth connect and disconnect flows: login
// initiation, callback handling, and account teardown.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sociallink/internal/metrics"
	"sociallink/internal/platform"
	"sociallink/internal/storage"
)

var (
	// ErrInvalidSession is returned when a callback carries a state with no
	// live session behind it: forged, already consumed, or expired.
	ErrInvalidSession = errors.New("invalid or expired authorization session")

	// ErrSessionOwnership is returned when the session behind a state was
	// started by a different user.
	ErrSessionOwnership = errors.New("authorization session belongs to another user")

	// ErrMissingCode is returned when the callback has no authorization code.
	ErrMissingCode = errors.New("authorization code missing")

	// ErrNoAccount is returned by Disconnect when nothing is linked.
	ErrNoAccount = errors.New("no linked account for platform")
)

// Manager drives the OAuth lifecycle across all configured platforms.
type Manager struct {
	store    *storage.SQLiteStorage
	registry *platform.Registry
	logger   *zap.Logger
}

// NewManager creates a Manager.
func NewManager(store *storage.SQLiteStorage, registry *platform.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, registry: registry, logger: logger}
}

// LoginIntent is what the HTTP layer needs to send the user off to the
// platform: the URL to redirect to and the state tying the callback back.
type LoginIntent struct {
	AuthURL string
	State   string
}

// BeginLogin starts an authorization attempt: it drops any pending session
// for the same (user, platform), creates a fresh one with a new state (and a
// PKCE verifier when the platform demands one), and returns the authorization
// URL. redirectURI must match the URI registered with the platform.
func (m *Manager) BeginLogin(ctx context.Context, userID string, p storage.Platform, redirectURI string) (*LoginIntent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", storage.ErrInvalidInput)
	}
	adapter, err := m.registry.Adapter(p)
	if err != nil {
		return nil, err
	}

	// One pending flow per user and platform; a new attempt supersedes any
	// abandoned one.
	if err := m.store.ClearSessionsFor(ctx, userID, p); err != nil {
		return nil, fmt.Errorf("failed to clear pending sessions: %w", err)
	}

	var verifier, challenge string
	if adapter.UsesPKCE() {
		verifier, err = platform.GenerateCodeVerifier()
		if err != nil {
			return nil, err
		}
		challenge = platform.CodeChallengeS256(verifier)
	}

	session, err := m.store.BeginSession(ctx, userID, p, redirectURI, "", verifier)
	if err != nil {
		return nil, err
	}

	metrics.OAuthFlowsStarted.WithLabelValues(string(p)).Inc()
	m.logger.Info("login initiated",
		zap.String("user_id", userID),
		zap.String("platform", string(p)))

	return &LoginIntent{
		AuthURL: adapter.AuthorizationURL(session.State, redirectURI, challenge),
		State:   session.State,
	}, nil
}

// HandleCallback completes an authorization attempt. The session behind the
// state is consumed no matter how the exchange goes; a state can never be
// replayed. On success the account is linked (or re-linked) and the
// platform's profile record is refreshed.
func (m *Manager) HandleCallback(ctx context.Context, userID, state, code string) (*storage.LinkedAccount, error) {
	if userID == "" {
		return nil, ErrSessionOwnership
	}
	if state == "" {
		return nil, ErrInvalidSession
	}
	if code == "" {
		return nil, ErrMissingCode
	}

	session, err := m.store.SessionByState(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	// Consume the session whatever happens past this point.
	defer func() {
		if err := m.store.DeleteSession(ctx, session.ID); err != nil {
			m.logger.Warn("failed to consume oauth session",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}()

	if session.UserID != userID {
		m.fail(session.Platform, "ownership")
		return nil, ErrSessionOwnership
	}

	adapter, err := m.registry.Adapter(session.Platform)
	if err != nil {
		return nil, err
	}

	grant, err := adapter.ExchangeCode(ctx, code, session.RedirectURI, session.CodeVerifier)
	if err != nil {
		m.fail(session.Platform, "exchange")
		return nil, err
	}

	payload, err := adapter.FetchProfile(ctx, grant.AccessToken)
	if err != nil {
		m.fail(session.Platform, "profile")
		return nil, err
	}

	profile, err := adapter.NormalizeProfile(payload)
	if err != nil {
		m.fail(session.Platform, "profile")
		return nil, err
	}

	account, err := m.store.UpsertAccount(ctx, session.UserID, session.Platform, profile, grant)
	if err != nil {
		m.fail(session.Platform, "store")
		return nil, err
	}

	if err := m.recordPlatformProfile(ctx, account, profile); err != nil {
		// The account is linked; a failed profile record is not fatal.
		m.logger.Warn("failed to record platform profile",
			zap.String("account_id", account.ID), zap.Error(err))
	}

	metrics.OAuthFlowsCompleted.WithLabelValues(string(session.Platform)).Inc()
	m.logger.Info("account linked",
		zap.String("user_id", session.UserID),
		zap.String("platform", string(session.Platform)),
		zap.String("account_id", account.ID))
	return account, nil
}

// Disconnect removes a linked account. Revocation at the platform is best
// effort; local deletion is the contract and proceeds regardless.
func (m *Manager) Disconnect(ctx context.Context, userID string, p storage.Platform) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", storage.ErrInvalidInput)
	}
	adapter, err := m.registry.Adapter(p)
	if err != nil {
		return err
	}

	account, err := m.store.AccountFor(ctx, userID, p)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if account != nil {
		if token, ok := m.store.DecryptedAccessToken(account); ok && token != "" {
			revokeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			revoked := adapter.Revoke(revokeCtx, token)
			cancel()
			if !revoked {
				m.logger.Warn("platform revocation failed",
					zap.String("account_id", account.ID),
					zap.String("platform", string(p)))
			}
		}
	}

	found, err := m.store.DisconnectAccount(ctx, userID, p)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoAccount, p)
	}

	metrics.AccountsDisconnected.WithLabelValues(string(p)).Inc()
	m.logger.Info("account disconnected",
		zap.String("user_id", userID),
		zap.String("platform", string(p)))
	return nil
}

// recordPlatformProfile refreshes the per-platform profile row and rolls the
// audience counters onto the account.
func (m *Manager) recordPlatformProfile(ctx context.Context, account *storage.LinkedAccount, profile *storage.ProfileData) error {
	switch account.Platform {
	case storage.PlatformLinkedIn:
		return m.store.UpsertLinkedInProfile(ctx, &storage.LinkedInProfile{
			AccountID:         account.ID,
			Location:          extraString(profile, "locale"),
			PublicProfileURL:  profile.ProfileURL,
			ProfilePictureURL: profile.AvatarURL,
		})
	case storage.PlatformTwitter:
		followers := extraInt(profile, "followers_count")
		following := extraInt(profile, "following_count")
		tweets := extraInt(profile, "tweet_count")
		if err := m.store.UpsertTwitterProfile(ctx, &storage.TwitterProfile{
			AccountID:       account.ID,
			ScreenName:      profile.Username,
			Description:     extraString(profile, "description"),
			Location:        extraString(profile, "location"),
			FollowersCount:  followers,
			FollowingCount:  following,
			TweetCount:      tweets,
			IsVerified:      extraBool(profile, "verified"),
			ProfileImageURL: profile.AvatarURL,
		}); err != nil {
			return err
		}
		return m.store.UpdateAccountMetrics(ctx, account.ID, followers, following, tweets)
	default:
		return nil
	}
}

func (m *Manager) fail(p storage.Platform, stage string) {
	metrics.OAuthFlowsFailed.WithLabelValues(string(p), stage).Inc()
}

func extraString(profile *storage.ProfileData, key string) string {
	if profile.Extra == nil {
		return ""
	}
	if v, ok := profile.Extra[key].(string); ok {
		return v
	}
	return ""
}

func extraInt(profile *storage.ProfileData, key string) int {
	if profile.Extra == nil {
		return 0
	}
	switch v := profile.Extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func extraBool(profile *storage.ProfileData, key string) bool {
	if profile.Extra == nil {
		return false
	}
	if v, ok := profile.Extra[key].(bool); ok {
		return v
	}
	return false
}
