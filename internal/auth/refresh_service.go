package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sociallink/internal/metrics"
	"sociallink/internal/platform"
	"sociallink/internal/storage"
)

// TokenRefreshJob is the payload for one background refresh.
type TokenRefreshJob struct {
	AccountID string `json:"account_id"`
}

// TokenRefreshService refreshes access tokens before they expire, so
// interactive requests rarely pay the refresh round-trip.
type TokenRefreshService struct {
	store     *storage.SQLiteStorage
	registry  *platform.Registry
	logger    *zap.Logger
	lookahead time.Duration
}

// NewTokenRefreshService creates the service. lookahead is how far before
// expiry an account becomes due.
func NewTokenRefreshService(store *storage.SQLiteStorage, registry *platform.Registry, logger *zap.Logger, lookahead time.Duration) *TokenRefreshService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookahead <= 0 {
		lookahead = 5 * time.Minute
	}
	return &TokenRefreshService{
		store:     store,
		registry:  registry,
		logger:    logger,
		lookahead: lookahead,
	}
}

// DueAccounts lists active accounts whose tokens expire within the lookahead
// window and that hold a refresh token.
func (s *TokenRefreshService) DueAccounts(ctx context.Context) ([]*storage.LinkedAccount, error) {
	return s.store.AccountsExpiringBefore(ctx, time.Now().UTC().Add(s.lookahead))
}

// RefreshAccount refreshes one account's tokens. Accounts that are no longer
// active or whose token is not near expiry are skipped.
func (s *TokenRefreshService) RefreshAccount(ctx context.Context, accountID string) error {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.Status != storage.StatusActive {
		return nil
	}
	if account.TokenExpiresAt == nil || account.TokenExpiresAt.After(time.Now().Add(s.lookahead)) {
		return nil // not due yet
	}

	refreshToken, ok := s.store.DecryptedRefreshToken(account)
	if !ok || refreshToken == "" {
		return s.expire(ctx, account, fmt.Errorf("no usable refresh token"))
	}

	adapter, err := s.registry.Adapter(account.Platform)
	if err != nil {
		return err
	}

	grant, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "failure").Inc()
		if errors.Is(err, platform.ErrRefreshNotSupported) {
			return s.expire(ctx, account, err)
		}
		return s.expire(ctx, account, fmt.Errorf("refresh rejected: %w", err))
	}

	if err := s.store.ReplaceAccountTokens(ctx, account.ID, grant); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}
	metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "success").Inc()
	s.logger.Info("proactively refreshed tokens",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)))
	return nil
}

func (s *TokenRefreshService) expire(ctx context.Context, account *storage.LinkedAccount, cause error) error {
	if err := s.store.UpdateAccountStatus(ctx, account.ID, storage.StatusExpired); err != nil {
		s.logger.Warn("failed to flag expired account",
			zap.String("account_id", account.ID), zap.Error(err))
	}
	return fmt.Errorf("account %s: %w", account.ID, cause)
}

// CreateRefreshJob builds the payload for one background refresh.
func (s *TokenRefreshService) CreateRefreshJob(accountID string) ([]byte, error) {
	return json.Marshal(TokenRefreshJob{AccountID: accountID})
}

// HandleRefreshJob processes a queued refresh payload.
func (s *TokenRefreshService) HandleRefreshJob(ctx context.Context, payload []byte) error {
	var job TokenRefreshJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return s.RefreshAccount(ctx, job.AccountID)
}
