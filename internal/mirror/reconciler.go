package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drewfead/calendupe/internal/gcal"
	"google.golang.org/api/calendar/v3"
)

// ErrSameCalendar is returned when the source and target calendars are the
// same and the configuration does not explicitly allow it. Mirroring a
// calendar onto itself shadows its own shadows without end.
var ErrSameCalendar = errors.New("source and target calendars are the same")

// ReconcilerConfig wires a Reconciler to its calendars.
type ReconcilerConfig struct {
	// SourceCalendar is the calendar whose events get mirrored.
	SourceCalendar string

	// TargetCalendar receives the obfuscated shadow events.
	TargetCalendar string

	// AllowSameCalendar permits SourceCalendar == TargetCalendar. Only
	// useful against a mock server; see ErrSameCalendar.
	AllowSameCalendar bool

	Logger *slog.Logger
}

// Reconciler drives one-way mirroring from a source calendar to a target
// calendar through the Calendar API.
type Reconciler struct {
	cal       *gcal.Client
	source    string
	target    string
	allowSame bool
	log       *slog.Logger
}

// NewReconciler creates a Reconciler over an existing calendar client.
func NewReconciler(cal *gcal.Client, cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cal:       cal,
		source:    cfg.SourceCalendar,
		target:    cfg.TargetCalendar,
		allowSame: cfg.AllowSameCalendar,
		log:       logger,
	}
}

// DuplicateEvents lists the source calendar and brings the target's shadow
// events up to date with it, returning the provider's next sync token for
// the following pass.
//
// With a syncToken the listing is incremental. An empty token triggers a
// full listing, optionally bounded below by minEnd; minEnd is ignored when
// a token is present since the token already scopes the listing. When the
// provider reports the token expired, the target is rebuilt: every shadow
// event is deleted and the source is listed from scratch.
func (r *Reconciler) DuplicateEvents(ctx context.Context, syncToken string, minEnd time.Time) (string, error) {
	if r.source == r.target && !r.allowSame {
		return "", fmt.Errorf("%w: %s", ErrSameCalendar, r.source)
	}

	if syncToken != "" {
		minEnd = time.Time{}
	}

	events, nextToken, err := r.cal.ListEvents(ctx, r.source, gcal.ListOptions{
		SyncToken:  syncToken,
		MinEndTime: minEnd,
	})
	if errors.Is(err, gcal.ErrSyncTokenExpired) {
		r.log.Info("sync token invalidated by provider, rebuilding target calendar")
		if err := r.clearTarget(ctx); err != nil {
			return "", err
		}
		events, nextToken, err = r.cal.ListEvents(ctx, r.source, gcal.ListOptions{MinEndTime: minEnd})
	}
	if err != nil {
		return "", err
	}

	created, updated := 0, 0
	for _, source := range events {
		expected := Shadow(source)

		existing, err := r.findShadow(ctx, source.Id)
		if err != nil {
			return "", err
		}

		switch {
		case existing == nil && expected.Status == statusCancelled:
			// Cancelled at the source with nothing mirrored: nothing to
			// retract.
		case existing == nil:
			if _, err := r.cal.CreateEvent(ctx, r.target, expected); err != nil {
				return "", fmt.Errorf("mirroring event %s: %w", source.Id, err)
			}
			created++
		case !shadowMatches(expected, existing):
			if _, err := r.cal.PatchEvent(ctx, r.target, existing.Id, expected); err != nil {
				return "", fmt.Errorf("updating mirrored event for %s: %w", source.Id, err)
			}
			updated++
		}
	}

	r.log.Info("reconciled source calendar against target",
		"changed_events", len(events),
		"created", created,
		"updated", updated)
	return nextToken, nil
}

// findShadow locates the target event mirroring the given source event,
// tombstoned ones included so a retracted shadow is not recreated. Returns
// nil when no shadow exists yet.
func (r *Reconciler) findShadow(ctx context.Context, sourceEventID string) (*calendar.Event, error) {
	matches, _, err := r.cal.ListEvents(ctx, r.target, gcal.ListOptions{
		PrivateProperty: sourceEventKey + "=" + sourceEventID,
		ShowDeleted:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("looking up mirrored event for %s: %w", sourceEventID, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		r.log.Warn("multiple mirrored events for one source event, using the first",
			"source_event_id", sourceEventID,
			"matches", len(matches))
	}
	return matches[0], nil
}

// clearTarget deletes every event this service created on the target
// calendar. Already-cancelled shadows are skipped: deleting a tombstone is
// an error at the provider.
func (r *Reconciler) clearTarget(ctx context.Context) error {
	mirrored, _, err := r.cal.ListEvents(ctx, r.target, gcal.ListOptions{
		PrivateProperty: createdByKey + "=" + createdByValue,
	})
	if err != nil {
		return fmt.Errorf("listing mirrored events: %w", err)
	}

	deleted := 0
	for _, event := range mirrored {
		if event.Status == statusCancelled {
			continue
		}
		if err := r.cal.DeleteEvent(ctx, r.target, event.Id); err != nil {
			return fmt.Errorf("removing mirrored event %s: %w", event.Id, err)
		}
		deleted++
	}

	r.log.Info("removed mirrored events from target calendar", "deleted", deleted)
	return nil
}
