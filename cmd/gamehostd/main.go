// gamehostd is the single-host game server control plane: it schedules game
// containers, records run history, streams telemetry and takes backups.
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

	"github.com/spf13/cobra"

	"github.com/aypapol/gamehost/api"
	"github.com/aypapol/gamehost/backup"
	"github.com/aypapol/gamehost/config"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/events"
	"github.com/aypapol/gamehost/notify"
	"github.com/aypapol/gamehost/observability/logging"
	"github.com/aypapol/gamehost/observability/metrics"
	"github.com/aypapol/gamehost/observability/tracing"
	"github.com/aypapol/gamehost/repository/postgres"
	"github.com/aypapol/gamehost/scheduler"
)

const serviceName = "gamehostd"

func main() {
	root := &cobra.Command{
		Use:   "gamehostd",
		Short: "Game server control plane",
	}

	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}

			version, dirty, err := postgres.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (dirty=%v)\n", version, dirty)
			return nil
		},
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger, err := logging.Configure(logging.DefaultConfig(serviceName))
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := logging.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "log exporter shutdown: %v\n", err)
		}
	}()

	if _, err := tracing.Configure(tracing.DefaultConfig(serviceName)); err != nil {
		return fmt.Errorf("failed to configure tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	if err := metrics.Configure(metrics.DefaultConfig(serviceName)); err != nil {
		return fmt.Errorf("failed to configure metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metric exporter shutdown failed", "error", err)
		}
	}()

	logger.Info("applying database migrations")
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	repo, pool, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	engine, err := dockerapi.NewClient(cfg.DockerSocket)
	if err != nil {
		return fmt.Errorf("failed to connect to container engine: %w", err)
	}
	defer engine.Close()

	var publisher *events.Publisher
	if cfg.RabbitMQURL != "" {
		publisher, err = events.NewPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to message broker: %w", err)
		}
		defer publisher.Close()
	} else {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
	}

	notifier := notify.NewComposite(
		notify.NewChannelNotifier(repo.BotSettings, logger),
		notify.NewWebhookNotifier(cfg.ErrorWebhookURL),
		logger,
	)

	var mirror *backup.Mirror
	if cfg.BackupS3Bucket != "" {
		mirror, err = backup.NewMirror(ctx, backup.MirrorConfig{
			Bucket:   cfg.BackupS3Bucket,
			Region:   cfg.BackupS3Region,
			Endpoint: cfg.BackupS3Endpoint,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure backup mirror: %w", err)
		}
	}

	sched := scheduler.New(engine, repo, notifier, publisher, cfg.ContainerPrefix, logger)
	defer sched.Shutdown()

	backups := backup.NewEngine(engine, repo, publisher, mirror, cfg.ContainerPrefix, cfg.DataDir, cfg.BackupRoot, logger)

	auth, err := api.NewAuthenticator(ctx, cfg, repo.Sessions, logger)
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}

	server := api.NewServer(cfg, repo, engine, sched, backups, notifier, auth, logger)

	go backups.AutoBackupLoop(ctx, func(ctx context.Context) (string, error) {
		active, err := sched.ActiveGame(ctx)
		if err != nil || active == nil {
			return "", err
		}
		return active.ServerID, nil
	})

	go expiredSessionLoop(ctx, repo.Sessions, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	return nil
}

// expiredSessionLoop purges expired login sessions once per hour.
func expiredSessionLoop(ctx context.Context, sessions sessionStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, time.Now())
			if err != nil {
				logger.Error("failed to purge expired sessions", "error", err)
			} else if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

type sessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
