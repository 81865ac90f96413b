package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blink/internal/server/api"
	"blink/internal/server/config"
	"blink/internal/server/database"
	"blink/internal/server/service"
	"blink/internal/server/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root := &cobra.Command{
		Use:           "blink-server",
		Short:         "Ephemeral file sharing server",
		Long:          "blink-server stores uploaded files and serves them through unguessable,\noptionally expiring or one-time links. Configuration comes from the environment.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(config.Load().LogLevel)
			return nil
		},
	}

	root.AddCommand(serve,
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Delete every expired share and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPurge(cmd.Context())
			},
		},
	)
	return root
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStores connects to the database, runs migrations and prepares storage.
func openStores(ctx context.Context, cfg *config.Config) (database.Store, *storage.FileSystemStore, error) {
	store, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations complete", "driver", cfg.DatabaseDriver)

	blobs := storage.NewFileSystemStore(cfg.StoragePath)
	if err := blobs.EnsureDir(); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	return store, blobs, nil
}

func newManager(cfg *config.Config, store database.Store, blobs storage.Store) *service.Manager {
	return service.NewManager(store, blobs,
		service.WithMaxExpiryHours(cfg.MaxExpiryHours),
		service.WithRecentLimit(cfg.RecentLimit),
		service.WithMaxFileSize(cfg.MaxFileSize),
	)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"default_expiry_hours", cfg.DefaultExpiryHours,
		"max_expiry_hours", cfg.MaxExpiryHours,
	)

	store, blobs, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := newManager(cfg, store, blobs)

	// Expired shares are purged lazily on access; the sweeper only reclaims
	// disk for links nobody visits again.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	var sweeper *service.Sweeper
	if cfg.CleanupInterval > 0 {
		sweeper = service.NewSweeper(mgr, cfg.CleanupInterval)
		sweeper.Start(sweepCtx)
	}

	e, err := api.SetupRouter(api.NewHandler(mgr, cfg), cfg)
	if err != nil {
		return err
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if sweeper != nil {
		sweepCancel()
		sweeper.Wait()
	}

	slog.Info("server exited cleanly")
	return nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, _, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	return store.Close()
}

func runPurge(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, blobs, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := newManager(cfg, store, blobs).PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge expired shares: %w", err)
	}

	slog.Info("purge complete",
		"purged", report.Purged,
		"failed", report.Failed,
		"total_expired", report.Expired,
	)
	if report.Failed > 0 {
		return fmt.Errorf("%d expired shares could not be removed", report.Failed)
	}
	return nil
}
