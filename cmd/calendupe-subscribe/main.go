// Command calendupe-subscribe establishes the initial push channel on the
// source calendar. After that the service renews the channel on its own;
// this tool only needs to run again if a channel expires while the service
// is down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/calendar/v3"

	"github.com/drewfead/calendupe/internal/auth"
	"github.com/drewfead/calendupe/internal/config"
	"github.com/drewfead/calendupe/internal/gcal"
	"github.com/drewfead/calendupe/internal/subscription"
)

// defaultTTL requests a short first channel so the renewal path gets
// exercised within the hour.
const defaultTTL = 3690 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "calendupe-subscribe",
		Usage: "watch the source calendar for changes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars("CALENDUPE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "channel-id",
				Usage: "push channel id (defaults to channel_id from the config)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "requested channel lifetime; 0 lets the provider choose",
				Value: defaultTTL,
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if configPath == "" {
		defaultPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		configPath = defaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Only the watch-side fields are needed here; the server config can
	// be completed later.
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"public_url", cfg.PublicURL},
		{"source_calendar", cfg.SourceCalendar},
		{"token", cfg.Token},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config fields: %s", strings.Join(missing, ", "))
	}

	channelID := cmd.String("channel-id")
	if channelID == "" {
		channelID = cfg.ChannelID
	}
	if channelID == "" {
		channelID = uuid.NewString()
		slog.Warn("no channel id configured, generated one; set channel_id in config.yaml so the service can renew this channel",
			"channel_id", channelID)
	}

	// Watching only needs read access to events.
	httpClient, err := auth.NewHTTPClient(ctx, resolveServiceAccountPath(cfg), calendar.CalendarEventsReadonlyScope)
	if err != nil {
		return err
	}
	cal, err := gcal.NewClient(ctx, httpClient)
	if err != nil {
		return err
	}

	// No scheduler: the first renewal is arranged by the service when the
	// provider confirms this channel with a sync notification.
	manager := subscription.NewManager(cal, nil, subscription.Config{
		SourceCalendar: cfg.SourceCalendar,
		ChannelID:      channelID,
		Token:          cfg.Token,
		PublicURL:      cfg.PublicURL,
	})

	result, err := manager.Subscribe(ctx, cmd.Duration("ttl"))
	if err != nil {
		return err
	}

	expires := "provider default"
	if !result.Expiration.IsZero() {
		expires = result.Expiration.Format(time.RFC3339)
	}
	slog.Info("watch established",
		"channel_id", channelID,
		"resource_id", result.ResourceID,
		"expires", expires)

	recordPath, err := writeRecord(cfg, channelID, result)
	if err != nil {
		return err
	}
	slog.Info("recorded watch details", "path", recordPath)
	return nil
}

// writeRecord keeps the watch details on disk; the resource id in
// particular is needed to stop the channel by hand.
func writeRecord(cfg *config.Config, channelID string, result subscription.Result) (string, error) {
	dir, err := config.EnsureSubscriptionsDir()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Calendar Address: %s\n", cfg.SourceCalendar)
	fmt.Fprintf(&b, "Channel ID: %s\n", channelID)
	fmt.Fprintf(&b, "Receiving URL: %s/channel\n", cfg.PublicURL)
	fmt.Fprintf(&b, "Resource ID: %s\n", result.ResourceID)
	if !result.Expiration.IsZero() {
		fmt.Fprintf(&b, "Expiration: %s\n", result.Expiration.Format(time.RFC3339))
	}

	path := filepath.Join(dir, time.Now().Format("20060102150405")+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write subscription record: %w", err)
	}
	return path, nil
}

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
