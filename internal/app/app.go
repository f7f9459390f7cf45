// Package app wires the service together: storage, platform adapters, the
// OAuth flow manager, the API client, background maintenance, and the HTTP
// surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sociallink/internal/apiclient"
	"sociallink/internal/auth"
	"sociallink/internal/config"
	"sociallink/internal/maintenance"
	"sociallink/internal/platform"
	"sociallink/internal/session"
	"sociallink/internal/storage"
	"sociallink/internal/worker"
)

// loginTTL is how long a web login session stays valid.
const loginTTL = 24 * time.Hour

// Application holds all the major components of the service.
type Application struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sql.DB
	Store     *storage.SQLiteStorage
	Registry  *platform.Registry
	Auth      *auth.Manager
	APIClient *apiclient.Client
	Sessions  session.Store
	Pool      *worker.Pool
	Sweeper   *maintenance.Sweeper

	HTTPServer    *http.Server
	MetricsServer *http.Server

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New creates and initializes an Application.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	cipher, err := storage.NewTokenCipher([]byte(cfg.TokenEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to build token cipher: %w", err)
	}

	store := storage.NewSQLiteStorage(db, cipher)
	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	storage.RegisterProfileCleanups()

	outbound := &http.Client{Timeout: cfg.OutboundTimeout.Duration}
	registry := platform.NewRegistry(
		platform.NewLinkedIn(cfg.LinkedIn, outbound),
		platform.NewTwitter(cfg.Twitter, outbound),
	)

	manager := auth.NewManager(store, registry, logger)
	client := apiclient.New(store, registry, outbound, logger)
	refresher := auth.NewTokenRefreshService(store, registry, logger, cfg.Sweeper.RefreshLookahead.Duration)

	pool := worker.NewPool(cfg.Workers, cfg.Workers*4, logger)
	logins := session.NewInMemoryStore()
	sweeper := maintenance.NewSweeper(store, refresher, pool, logins, logger, cfg.Sweeper.Interval.Duration)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Store:         store,
		Registry:      registry,
		Auth:          manager,
		APIClient:     client,
		Sessions:      logins,
		Pool:          pool,
		Sweeper:       sweeper,
		MetricsServer: metricsServer,
	}

	app.HTTPServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: app.routes(),
	}
	return app, nil
}

// routes builds the HTTP mux.
func (a *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /logout", a.handleLogout)

	mux.Handle("GET /accounts", a.requireAuth(http.HandlerFunc(a.handleListAccounts)))
	mux.Handle("GET /connect/{platform}", a.requireAuth(http.HandlerFunc(a.handleConnect)))
	mux.Handle("GET /connect/{platform}/callback", a.requireAuth(http.HandlerFunc(a.handleCallback)))
	mux.Handle("POST /connect/{platform}/disconnect", a.requireAuth(http.HandlerFunc(a.handleDisconnect)))
	mux.Handle("GET /api/{platform}/{path...}", a.requireAuth(http.HandlerFunc(a.handleAPIProxy)))

	return mux
}

// Start launches the background loop and both HTTP servers.
func (a *Application) Start(ctx context.Context) error {
	a.Pool.Start()

	sweepCtx, cancel := context.WithCancel(ctx)
	a.sweepCancel = cancel
	a.sweepDone = make(chan struct{})
	go func() {
		defer close(a.sweepDone)
		a.Sweeper.Run(sweepCtx)
	}()

	go func() {
		a.Logger.Info("metrics server listening", zap.String("addr", a.MetricsServer.Addr))
		if err := a.MetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		a.Logger.Info("http server listening", zap.String("addr", a.HTTPServer.Addr))
		if err := a.HTTPServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts everything down.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("metrics server shutdown", zap.Error(err))
	}

	// The sweeper submits to the pool, so it must be fully stopped before the
	// pool's queue closes.
	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if a.sweepDone != nil {
		<-a.sweepDone
	}
	a.Pool.Stop()

	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("database close", zap.Error(err))
	}

	a.Logger.Info("application stopped")
	return nil
}
