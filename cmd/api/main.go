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

	"github.com/circulation-service/cmd/api/config"
	"github.com/circulation-service/cmd/api/database"
	libraryhttp "github.com/circulation-service/cmd/api/http"
	"github.com/circulation-service/cmd/api/inmemory"
	"github.com/circulation-service/cmd/api/library"
	"github.com/circulation-service/cmd/api/logger"
	"github.com/circulation-service/cmd/api/notifications"
	"github.com/circulation-service/cmd/api/payment"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.AppConfig

	root := &cobra.Command{
		Use:           "circulation",
		Short:         "Library catalog and circulation service",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			logger.Init(cfg.LogLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), cfg)
			},
		},
		newMigrateCmd(&cfg),
		newFeeCmd(),
	)
	return root
}

func serve(ctx context.Context, cfg config.AppConfig) error {
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	var ntfy library.Notifier
	if cfg.NotificationsEnabled {
		ntfy = notifications.NewNtfy(true, cfg.NotificationsBaseURL, &http.Client{Timeout: cfg.NotificationsTimeout})
	}

	var gateway library.PaymentGateway = payment.NewSimulated()
	if cfg.PaymentGatewayURL != "" {
		gateway = payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayTimeout, nil)
	}

	service := library.NewService(repo, ntfy, cfg.NotificationsTimeout,
		library.WithLogger(slog.Default()),
		library.WithAtomicCirculation(cfg.CirculationAtomic),
	)
	handler := libraryhttp.NewLibraryHandler(service, gateway)

	server := libraryhttp.NewServer(libraryhttp.ServerConfig{
		Port:           cfg.Port,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimitPerSecond,
		RateBurst:      cfg.RateLimitBurst,
	}, handler)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr, "storage", cfg.Storage)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-sc:
	}

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownRelease()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	slog.Info("graceful shutdown complete")
	return nil
}

/* Opens the configured storage gateway, applying pending migrations to postgres. */
func openRepository(ctx context.Context, cfg config.AppConfig) (library.Repository, func(), error) {
	if cfg.Storage == config.StorageMemory {
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		return store, func() {}, nil
	}

	store, closeDB, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	err = database.MigrationUp(store, cfg.MigrationsPath)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		closeDB()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	return store, closeDB, nil
}

func openPostgres(ctx context.Context, cfg config.AppConfig) (*database.Store, func(), error) {
	dbObject, err := database.ConnectDb(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}
	closeDB := func() {
		if err := dbObject.Close(); err != nil {
			slog.Error("closing database", "error", err)
		}
	}
	return database.NewStore(dbObject), closeDB, nil
}
