package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"socialpublish/features/integration"
	"socialpublish/features/publish"
	"socialpublish/features/stats"
	"socialpublish/internal/adapter/meta"
	"socialpublish/internal/auth"
	"socialpublish/internal/config"
	"socialpublish/internal/middleware"
	"socialpublish/internal/oauthstate"
	"socialpublish/internal/retry"
	"socialpublish/internal/worker"
)

type App struct {
	Handler       http.Handler
	Publish       *publish.Service
	SweepConsumer *worker.SweepConsumer
	Scheduler     *worker.Scheduler
	port          int
}

func New(
	cfg *config.Config,
	db *sql.DB,
	guard integration.StateGuard,
	events publish.EventPublisher,
) (*App, error) {
	if db == nil || guard == nil {
		return nil, errors.New("app: db and state guard are required")
	}

	// Adapters
	metaClient := meta.NewClient(meta.Options{
		AppID:     cfg.MetaAppID,
		AppSecret: cfg.MetaAppSecret,
		Version:   cfg.MetaGraphVersion,
		GraphURL:  cfg.MetaGraphURL,
		DialogURL: cfg.MetaDialogURL,
		Timeout:   cfg.MetaHTTPTimeout,
		RateLimit: cfg.MetaRateLimit,
	})
	if missing := metaClient.MissingConfig(); len(missing) > 0 {
		slog.Warn("meta app not configured, connect and refresh will fail", "missing", missing)
	}

	if cfg.WorkerSecret == "" {
		slog.Warn("worker secret not set, worker trigger accepts unauthenticated requests", "route", "POST /workers/publish")
	}

	// Feature: Integration
	credStore := integration.NewPostgresRepo(db)
	tokens := integration.NewTokenManager(credStore, metaClient, cfg.TokenRefreshWindow)
	integrationService := integration.NewService(credStore, metaClient, tokens, integration.Options{
		RedirectURI:     cfg.OAuthRedirectURI,
		Scopes:          cfg.Scopes(),
		RequiredScopes:  config.RequiredScopes(cfg.LoginMode),
		AuthType:        cfg.OAuthAuthType,
		PreferredPageID: cfg.PreferredPageID,
	})
	signer := oauthstate.NewSigner(stateSecret(cfg), cfg.OAuthStateTTL)
	integrationHandler := integration.NewHandler(integrationService, signer, guard, cfg.SettingsURL)

	// Feature: Publish
	policy := retry.Policy{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
	jobStore := publish.NewPostgresRepo(db)
	processor := publish.NewProcessor(jobStore, credStore, tokens, metaClient, events, policy)
	publishService := publish.NewService(jobStore, processor, credStore, tokens, publish.Options{
		Policy:            policy,
		ProcessingLease:   cfg.ProcessingLease,
		TokenRefreshBatch: cfg.TokenRefreshBatch,
	})
	publishHandler := publish.NewHandler(publishService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobStore, credStore)

	// Middleware
	identity := auth.NewBearerResolver(cfg.AuthJWTSecret)
	public := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.CORS(h))
	}
	user := func(h http.HandlerFunc) http.Handler {
		return public(middleware.RequireUser(identity, h))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /integrations/instagram/oauth/start", user(integrationHandler.Start))
	mux.Handle("GET "+integration.CallbackPath, public(integrationHandler.Callback))
	mux.Handle("GET /integrations/instagram/status", user(integrationHandler.Status))
	mux.Handle("POST /integrations/instagram/refresh", user(integrationHandler.Refresh))
	mux.Handle("DELETE /integrations/instagram", user(integrationHandler.Disconnect))

	mux.Handle("POST /publish", user(publishHandler.Publish))
	mux.Handle("GET /publish/history", user(publishHandler.History))
	mux.Handle("GET /publish/stats", user(statsHandler.GetStats))
	mux.Handle("POST /workers/publish", public(middleware.RequireSecret(cfg.WorkerSecret, publishHandler.Worker)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:       mux,
		Publish:       publishService,
		SweepConsumer: worker.NewSweepConsumer(publishService, publish.DefaultSweepLimit, 5*time.Minute),
		Scheduler:     worker.NewScheduler(publishService, cfg.SweepInterval, publish.DefaultSweepLimit),
		port:          cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// stateSecret falls back to the app secret so a single Meta configuration is
// enough to sign OAuth state.
func stateSecret(cfg *config.Config) string {
	if cfg.OAuthStateSecret != "" {
		return cfg.OAuthStateSecret
	}
	if cfg.MetaAppSecret != "" {
		return cfg.MetaAppSecret
	}
	return cfg.AuthJWTSecret
}
