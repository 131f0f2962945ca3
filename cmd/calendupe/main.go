// Command calendupe serves the webhook that keeps an obfuscated mirror of
// one calendar inside another. It receives push notifications from the
// Calendar API, reconciles the target calendar on each change, and renews
// its own push channel through Cloud Tasks callbacks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/storage"
	"github.com/urfave/cli/v3"

	"github.com/drewfead/calendupe/internal/auth"
	"github.com/drewfead/calendupe/internal/blob"
	"github.com/drewfead/calendupe/internal/config"
	"github.com/drewfead/calendupe/internal/gcal"
	"github.com/drewfead/calendupe/internal/mirror"
	"github.com/drewfead/calendupe/internal/subscription"
	"github.com/drewfead/calendupe/internal/tasks"
	"github.com/drewfead/calendupe/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "calendupe",
		Usage: "mirror calendar events into another calendar as busy blocks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars("CALENDUPE_CONFIG"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("calendupe failed", "error", err, "help", "see config.example.yaml for configuration format")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient, err := auth.NewHTTPClient(ctx, resolveServiceAccountPath(cfg))
	if err != nil {
		return err
	}
	cal, err := gcal.NewClient(ctx, httpClient)
	if err != nil {
		return err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("unable to create storage client: %w", err)
	}
	defer storageClient.Close()

	tasksClient, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("unable to create cloud tasks client: %w", err)
	}
	defer tasksClient.Close()

	minEnd, err := cfg.ParseMinEndTime()
	if err != nil {
		return err
	}

	store := blob.NewGCS(storageClient)
	scheduler := tasks.NewCloudTasks(tasksClient,
		tasks.QueuePath(cfg.GCP.Project, cfg.GCP.Region, cfg.GCP.TasksQueue))

	reconciler := mirror.NewReconciler(cal, mirror.ReconcilerConfig{
		SourceCalendar:    cfg.SourceCalendar,
		TargetCalendar:    cfg.TargetCalendar,
		AllowSameCalendar: cfg.AllowSameCalendar,
		Logger:            logger,
	})
	syncer := mirror.NewSyncer(mirror.SyncerConfig{
		Store:      store,
		LockBucket: cfg.Buckets.Lock,
		DataBucket: cfg.Buckets.Data,
		Reconciler: reconciler,
		MinEndTime: minEnd,
		Logger:     logger,
	})
	manager := subscription.NewManager(cal, scheduler, subscription.Config{
		SourceCalendar: cfg.SourceCalendar,
		ChannelID:      cfg.ChannelID,
		Token:          cfg.Token,
		PublicURL:      cfg.PublicURL,
		Logger:         logger,
	})
	handler := webhook.NewServer(webhook.ServerConfig{
		Token:         cfg.Token,
		Syncer:        syncer,
		Subscriptions: manager,
		Logger:        logger,
	})

	server := &http.Server{Addr: cfg.Listen, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("calendupe listening",
		"addr", cfg.Listen,
		"public_url", cfg.PublicURL,
		"source_calendar", cfg.SourceCalendar,
		"target_calendar", cfg.TargetCalendar)

	select {
	case err := <-errCh:
		handler.Close()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("unable to shut down cleanly", "error", err)
	}
	// Let an in-flight reconciliation finish before exiting.
	handler.Close()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		defaultPath, err := config.GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveServiceAccountPath falls back to the key file in the config
// directory when one exists; otherwise Application Default Credentials
// are used.
func resolveServiceAccountPath(cfg *config.Config) string {
	if cfg.ServiceAccountFile != "" {
		return cfg.ServiceAccountFile
	}
	defaultPath, err := config.GetServiceAccountPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(defaultPath); err != nil {
		return ""
	}
	return defaultPath
}
