// Package config loads and validates the calendupe configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// tokenEnvVar overrides the token field so the shared secret can stay out
// of the config file.
const tokenEnvVar = "CALENDUPE_TOKEN"

// GCPConfig identifies the project resources calendupe runs against.
type GCPConfig struct {
	// Project is the GCP project id.
	Project string `yaml:"project"`
	// Region is the location of the task queue, e.g. "us-central1".
	Region string `yaml:"region"`
	// TasksQueue is the Cloud Tasks queue that delivers renewal callbacks.
	TasksQueue string `yaml:"tasks_queue"`
}

// BucketsConfig names the storage buckets backing the sync lock and the
// sync token.
type BucketsConfig struct {
	Lock string `yaml:"lock"`
	Data string `yaml:"data"`
}

// Config is the top-level calendupe configuration.
type Config struct {
	// Listen is the HTTP listen address for the webhook server.
	Listen string `yaml:"listen"`

	// PublicURL is the externally reachable base URL of this server.
	// The provider pushes notifications to <public_url>/channel and
	// renewal callbacks land on <public_url>/subscription.
	PublicURL string `yaml:"public_url"`

	// SourceCalendar is the calendar address to watch.
	SourceCalendar string `yaml:"source_calendar"`

	// TargetCalendar is the calendar address that receives the mirrored
	// busy blocks.
	TargetCalendar string `yaml:"target_calendar"`

	// AllowSameCalendar permits source == target, which is normally a
	// configuration mistake.
	AllowSameCalendar bool `yaml:"allow_same_calendar"`

	// ChannelID identifies the push channel and is reused on renewal.
	ChannelID string `yaml:"channel_id"`

	// Token is the shared secret carried in X-Goog-Channel-Token.
	// CALENDUPE_TOKEN overrides it.
	Token string `yaml:"token"`

	GCP     GCPConfig     `yaml:"gcp"`
	Buckets BucketsConfig `yaml:"buckets"`

	// MinEndTime, when set, limits the initial full sync to events ending
	// after this RFC3339 timestamp. The UTC offset is required.
	MinEndTime string `yaml:"min_end_time"`

	// ServiceAccountFile is the path to a service account key. Empty
	// means Application Default Credentials, or the key file in the
	// config directory when one exists.
	ServiceAccountFile string `yaml:"service_account_file"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

// Load reads the YAML configuration at path, applies the environment
// override for the token, and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if v := os.Getenv(tokenEnvVar); v != "" {
		cfg.Token = v
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return &cfg, nil
}

// Validate checks that every field the server needs is present and
// parseable.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"public_url", c.PublicURL},
		{"source_calendar", c.SourceCalendar},
		{"target_calendar", c.TargetCalendar},
		{"channel_id", c.ChannelID},
		{"token", c.Token},
		{"gcp.project", c.GCP.Project},
		{"gcp.region", c.GCP.Region},
		{"gcp.tasks_queue", c.GCP.TasksQueue},
		{"buckets.lock", c.Buckets.Lock},
		{"buckets.data", c.Buckets.Data},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("missing required config field %s", field.name)
		}
	}

	if _, err := c.ParseMinEndTime(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ParseMinEndTime parses the min_end_time field; the zero time means no
// lower bound. RFC3339 requires an explicit UTC offset, so a zoneless
// timestamp fails here instead of surfacing as a provider error mid-sync.
func (c *Config) ParseMinEndTime() (time.Time, error) {
	if c.MinEndTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.MinEndTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse min_end_time %q (RFC3339 with UTC offset): %w", c.MinEndTime, err)
	}
	return t, nil
}

// SlogLevel parses the log_level field.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("failed to parse log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
