// Package subscription manages the push notification channel that tells
// calendupe when the source calendar changed: creating it, tearing it
// down, and scheduling its renewal before the provider expires it.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drewfead/calendupe/internal/gcal"
	"github.com/drewfead/calendupe/internal/tasks"
	"google.golang.org/api/calendar/v3"
)

// Result reports a successfully created push channel.
type Result struct {
	// ResourceID identifies the watched resource at the provider. Stop
	// requests need it alongside the channel ID.
	ResourceID string

	// Expiration is when the provider will stop delivering
	// notifications. The provider may grant less than was requested.
	Expiration time.Time
}

// Config wires a Manager to its calendar and webhook endpoints.
type Config struct {
	// SourceCalendar is the calendar whose events are watched.
	SourceCalendar string

	// ChannelID names the push channel. It stays fixed across the
	// deployment's lifetime; only the resource ID changes on renewal.
	ChannelID string

	// Token is the shared secret the provider echoes back with every
	// notification, and the webhook requires on every request.
	Token string

	// PublicURL is the externally reachable base URL of the webhook
	// service. Notifications arrive at <PublicURL>/channel and renewal
	// callbacks at <PublicURL>/subscription.
	PublicURL string

	Logger *slog.Logger

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// Manager owns the push channel lifecycle for one watched calendar.
type Manager struct {
	cal       *gcal.Client
	scheduler tasks.Scheduler
	source    string
	channelID string
	token     string
	publicURL string
	log       *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. The scheduler may be nil when renewals are
// not scheduled, as in the one-shot bootstrap tool.
func NewManager(cal *gcal.Client, scheduler tasks.Scheduler, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cal:       cal,
		scheduler: scheduler,
		source:    cfg.SourceCalendar,
		channelID: cfg.ChannelID,
		token:     cfg.Token,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       logger,
		now:       now,
	}
}

// Subscribe registers the push channel on the source calendar. A non-zero
// ttl requests that expiration from the provider; zero leaves the choice
// to the provider. Either way the provider has the last word, and the
// returned Result carries what was actually granted.
func (m *Manager) Subscribe(ctx context.Context, ttl time.Duration) (Result, error) {
	channel := &calendar.Channel{
		Id:      m.channelID,
		Address: m.publicURL + "/channel",
		Token:   m.token,
		Type:    "web_hook",
		Payload: true,
	}
	if ttl > 0 {
		channel.Expiration = m.now().Add(ttl).UnixMilli()
	}

	created, err := m.cal.Watch(ctx, m.source, channel)
	if err != nil {
		return Result{}, fmt.Errorf("unable to subscribe to calendar %s: %w", m.source, err)
	}

	result := Result{ResourceID: created.ResourceId}
	if created.Expiration > 0 {
		result.Expiration = time.UnixMilli(created.Expiration)
	}

	m.log.Info("subscribed to calendar changes",
		"calendar", m.source,
		"channel_id", m.channelID,
		"resource_id", result.ResourceID,
		"expires", result.Expiration)
	return result, nil
}

// Unsubscribe stops the push channel currently bound to the given watched
// resource.
func (m *Manager) Unsubscribe(ctx context.Context, resourceID string) error {
	err := m.cal.StopChannel(ctx, &calendar.Channel{
		Id:         m.channelID,
		ResourceId: resourceID,
	})
	if err != nil {
		return fmt.Errorf("unable to unsubscribe resource %s: %w", resourceID, err)
	}

	m.log.Info("unsubscribed from calendar changes", "resource_id", resourceID)
	return nil
}

// Resubscribe replaces the current push channel with a fresh one. The old
// channel may already be gone, so a failed unsubscribe is logged and
// ignored. Notifications sent between the stop and the new watch are lost
// until the next one arrives, at which point the stored sync token catches
// the mirror up on everything missed in the gap.
func (m *Manager) Resubscribe(ctx context.Context, resourceID string) error {
	if err := m.Unsubscribe(ctx, resourceID); err != nil {
		m.log.Info("failed to unsubscribe channel, continuing", "error", err)
	}

	if _, err := m.Subscribe(ctx, 0); err != nil {
		return fmt.Errorf("unable to resubscribe: %w", err)
	}
	return nil
}
