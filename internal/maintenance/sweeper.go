// Package maintenance runs the periodic housekeeping loop: reaping expired
// OAuth sessions, purging stale login sessions, and queueing proactive token
// refreshes onto the worker pool.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sociallink/internal/auth"
	"sociallink/internal/metrics"
	"sociallink/internal/storage"
	"sociallink/internal/worker"
)

// LoginSessionPurger is the slice of the login-session store the sweeper
// needs.
type LoginSessionPurger interface {
	PurgeExpired() int
}

// Sweeper drives the housekeeping loop.
type Sweeper struct {
	store     *storage.SQLiteStorage
	refresher *auth.TokenRefreshService
	pool      *worker.Pool
	logins    LoginSessionPurger
	logger    *zap.Logger
	interval  time.Duration
}

// NewSweeper creates a Sweeper. logins may be nil when there is no login
// session store to purge.
func NewSweeper(store *storage.SQLiteStorage, refresher *auth.TokenRefreshService, pool *worker.Pool, logins LoginSessionPurger, logger *zap.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:     store,
		refresher: refresher,
		pool:      pool,
		logins:    logins,
		logger:    logger,
		interval:  interval,
	}
}

// Run executes a sweep every interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce performs one housekeeping pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	swept, err := s.store.SweepExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		metrics.SessionsSwept.Add(float64(swept))
		s.logger.Info("reaped expired oauth sessions", zap.Int64("count", swept))
	}

	if s.logins != nil {
		if purged := s.logins.PurgeExpired(); purged > 0 {
			s.logger.Info("purged stale login sessions", zap.Int("count", purged))
		}
	}

	return s.queueRefreshes(ctx)
}

// queueRefreshes enqueues a refresh job for every account whose token is
// near expiry. A full queue is not an error; the next sweep tries again.
func (s *Sweeper) queueRefreshes(ctx context.Context) error {
	due, err := s.refresher.DueAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range due {
		payload, err := s.refresher.CreateRefreshJob(account.ID)
		if err != nil {
			return err
		}
		task := &refreshTask{refresher: s.refresher, accountID: account.ID, payload: payload}
		if !s.pool.Submit(task) {
			s.logger.Warn("refresh queue full, deferring account",
				zap.String("account_id", account.ID))
			return nil
		}
	}
	return nil
}

// refreshTask adapts a queued refresh payload to the worker pool.
type refreshTask struct {
	refresher *auth.TokenRefreshService
	accountID string
	payload   []byte
}

func (t *refreshTask) Name() string { return "token_refresh:" + t.accountID }

func (t *refreshTask) Process(ctx context.Context) error {
	return t.refresher.HandleRefreshJob(ctx, t.payload)
}
