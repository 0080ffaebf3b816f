package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/glintworks/atelier/internal/auth"
	"github.com/glintworks/atelier/internal/config"
	"github.com/glintworks/atelier/internal/creations"
	"github.com/glintworks/atelier/internal/database"
	"github.com/glintworks/atelier/internal/execution"
	"github.com/glintworks/atelier/internal/generation"
	"github.com/glintworks/atelier/internal/handlers"
	"github.com/glintworks/atelier/internal/repository"
	"github.com/glintworks/atelier/internal/router"
	"github.com/glintworks/atelier/internal/storage"
	"github.com/glintworks/atelier/internal/sweeper"
	"github.com/glintworks/atelier/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL")

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	logger.Info("migrations applied")

	// Media storage
	store, err := storage.NewMinioStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create media store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure media bucket: %w", err)
	}

	// Wallet + lifecycle
	walletRepo := repository.NewWalletRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	creationRepo := repository.NewCreationRepo(pool)

	walletSvc := wallet.NewService(pool, walletRepo, ledgerRepo, logger)
	lifecycleSvc := creations.NewService(pool, creationRepo, walletSvc, store, logger)

	// Generation provider + workers
	provider := generation.NewHTTPProvider(cfg.Provider)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateWorker(lifecycleSvc, provider, store, cfg.Worker, logger))
	river.AddWorker(workers, sweeper.NewSweepWorker(lifecycleSvc, cfg.Sweeper.StaleAfter, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Worker.MaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			sweeper.PeriodicJob(cfg.Sweeper.Interval),
		},
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}

	// Auth + HTTP surface
	authRepo := auth.NewRepository(pool, walletRepo)
	authSvc := auth.NewService(authRepo, walletSvc, cfg.Auth)
	authHandler := auth.NewHandler(authSvc, logger)

	creationHandler := &handlers.CreationHandler{
		Lifecycle: lifecycleSvc,
		Queue:     execution.NewEnqueuer(riverClient, cfg.Worker.MaxAttempts),
		Wallet:    walletSvc,
		Logger:    logger,
	}
	walletHandler := &handlers.WalletHandler{Wallet: walletSvc, Logger: logger}

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router.New(authHandler, creationHandler, walletHandler, authSvc))

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("queue workers started", "max_workers", cfg.Worker.MaxWorkers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("river shutdown", "error", err)
	}
	return nil
}
