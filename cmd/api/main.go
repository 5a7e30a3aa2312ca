package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/vtryon/backend/internal/auth"
	"github.com/vtryon/backend/internal/cache"
	"github.com/vtryon/backend/internal/config"
	"github.com/vtryon/backend/internal/dashboard"
	"github.com/vtryon/backend/internal/database"
	"github.com/vtryon/backend/internal/handlers"
	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/provider"
	"github.com/vtryon/backend/internal/repository"
	"github.com/vtryon/backend/internal/retention"
	"github.com/vtryon/backend/internal/router"
	"github.com/vtryon/backend/internal/schema"
	"github.com/vtryon/backend/internal/storage"
	"github.com/vtryon/backend/internal/tryon"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)

	// Ledger
	quotaLedger := ledger.New(ledger.NewRepository(pool), cfg.Limits(), logger)

	// Result storage (optional unless the sync provider is enabled)
	var (
		results *storage.ResultStore
		mirror  tryon.ResultMirror
		objects tryon.ObjectDeleter
	)
	if cfg.S3Bucket != "" {
		results, err = storage.NewResultStore(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3PublicBaseURL)
		if err != nil {
			slog.Error("Failed to init result store", "error", err)
			os.Exit(1)
		}
		mirror, objects = results, results
		slog.Info("Result store enabled", "bucket", cfg.S3Bucket)
	}

	// Providers
	providers := tryon.Providers{Mode: cfg.ProviderMode}
	if cfg.GrsAIAPIKey != "" {
		providers.Async = provider.NewGrsAI(provider.GrsAIConfig{
			BaseURL: cfg.GrsAIBaseURL,
			APIKey:  cfg.GrsAIAPIKey,
			Model:   cfg.GrsAIModel,
			Timeout: cfg.ProviderTimeout,
		}, logger)
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, results, logger)
		if err != nil {
			slog.Error("Failed to init Gemini provider", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		providers.Sync = gemini
	}

	// Quota display cache
	var quotaCache *cache.QuotaCache
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Cannot reach Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		quotaCache = cache.NewQuotaCache(rdb, quotaLedger, cfg.QuotaCacheTTL, logger)
	} else {
		quotaCache = cache.NewQuotaCache(nil, quotaLedger, cfg.QuotaCacheTTL, logger)
	}

	// Orchestrators
	submitter := tryon.NewSubmitter(taskRepo, quotaLedger, providers, quotaCache, tryon.SubmitterConfig{
		SyncTimeout:  cfg.SyncSubmitTimeout,
		AsyncTimeout: cfg.ProviderTimeout,
		Retention:    cfg.RetentionPeriod,
	}, logger)
	poller := tryon.NewPoller(taskRepo, quotaLedger, providers, mirror, quotaCache, tryon.PollerConfig{
		PollTimeout:    cfg.ProviderTimeout,
		RecoveryWindow: cfg.RecoveryWindow,
	}, logger)
	recoverer := tryon.NewRecoverer(taskRepo, cfg.RecoveryWindow)
	history := tryon.NewHistory(taskRepo, poller, objects, logger)

	// Retention sweep
	workers := river.NewWorkers()
	river.AddWorker(workers, retention.NewSweepWorker(taskRepo, objects, logger))
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{retention.PeriodicJob(cfg.RetentionSweepInterval)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	// HTTP
	validator, err := schema.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}
	authSvc := auth.NewService(userRepo, cfg.JWTSecret)
	mux := router.New(router.Deps{
		Auth: auth.NewHandler(authSvc, logger),
		TryOn: &handlers.TryOnHandler{
			Submitter: submitter,
			Poller:    poller,
			Recoverer: recoverer,
			History:   history,
			Quota:     quotaCache,
			Logger:    logger,
		},
		Dashboard: dashboard.NewHandler(userRepo, apiKeyRepo, quotaCache, logger),
		Tokens:    authSvc,
		APIKeys:   apiKeyRepo,
		Validator: validator,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "provider_mode", cfg.ProviderMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}
