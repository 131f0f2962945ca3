// Package gcal wraps the Google Calendar API v3 surface calendupe uses:
// event listings with incremental sync tokens, event mutations, and push
// notification channels.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// maxListPages caps how many pages a single listing will follow, guarding
// against a runaway pagination loop.
const maxListPages = 500

// ErrSyncTokenExpired reports that the provider rejected the sync token.
// The caller must fall back to a full listing.
var ErrSyncTokenExpired = errors.New("sync token expired")

// Client wraps the Google Calendar API service.
type Client struct {
	service *calendar.Service
}

// NewClient creates a new Google Calendar API client.
// Optionally accepts an endpoint URL for testing with mock servers.
func NewClient(ctx context.Context, httpClient *http.Client, endpoint ...string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}

	if len(endpoint) > 0 && endpoint[0] != "" {
		opts = append(opts, option.WithEndpoint(endpoint[0]))
	}

	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return &Client{
		service: srv,
	}, nil
}

// ListOptions narrows the event listings issued by ListEvents.
type ListOptions struct {
	// SyncToken requests only the events changed since the token was
	// issued. Cannot be combined with MinEndTime.
	SyncToken string

	// MinEndTime keeps only events ending strictly after the given
	// instant.
	MinEndTime time.Time

	// PrivateProperty filters by a "key=value" private extended property.
	PrivateProperty string

	// ShowDeleted includes cancelled events in the listing.
	ShowDeleted bool
}

// ListEvents fetches every event matching opts from the calendar, following
// page cursors to exhaustion or the page cap. It returns the events along
// with the provider's next sync token.
//
// When a stale SyncToken is rejected by the provider, the error wraps
// ErrSyncTokenExpired so callers can start over with a full listing.
func (c *Client) ListEvents(ctx context.Context, calendarID string, opts ListOptions) ([]*calendar.Event, string, error) {
	var events []*calendar.Event
	pageToken := ""
	pages := 0

	for {
		call := c.service.Events.List(calendarID).Context(ctx)
		if opts.SyncToken != "" {
			call = call.SyncToken(opts.SyncToken)
		}
		if !opts.MinEndTime.IsZero() {
			call = call.TimeMin(opts.MinEndTime.Format(time.RFC3339))
		}
		if opts.PrivateProperty != "" {
			call = call.PrivateExtendedProperty(opts.PrivateProperty)
		}
		if opts.ShowDeleted {
			call = call.ShowDeleted(true)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			if opts.SyncToken != "" && isGone(err) {
				return nil, "", fmt.Errorf("listing events for %s: %w", calendarID, ErrSyncTokenExpired)
			}
			return nil, "", fmt.Errorf("unable to list events for %s: %w", calendarID, err)
		}

		events = append(events, resp.Items...)
		pages++

		if resp.NextPageToken == "" || pages >= maxListPages {
			return events, resp.NextSyncToken, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateEvent creates a new event in the specified calendar.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	createdEvent, err := c.service.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create event: %w", err)
	}

	return createdEvent, nil
}

// PatchEvent applies the non-empty fields of event to an existing event.
func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	patchedEvent, err := c.service.Events.Patch(calendarID, eventID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to patch event %s: %w", eventID, err)
	}

	return patchedEvent, nil
}

// DeleteEvent deletes an event from the specified calendar.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to delete event %s: %w", eventID, err)
	}

	return nil
}

// Watch opens a push notification channel for the calendar's events. The
// returned channel carries the provider-assigned resource ID and the
// granted expiration, which may be earlier than the requested one.
func (c *Client) Watch(ctx context.Context, calendarID string, channel *calendar.Channel) (*calendar.Channel, error) {
	created, err := c.service.Events.Watch(calendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to watch calendar %s: %w", calendarID, err)
	}

	return created, nil
}

// StopChannel closes a push notification channel.
func (c *Client) StopChannel(ctx context.Context, channel *calendar.Channel) error {
	err := c.service.Channels.Stop(channel).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to stop channel %s: %w", channel.Id, err)
	}

	return nil
}

// isGone reports whether the API rejected the request with HTTP 410, which
// is how an invalidated sync token surfaces.
func isGone(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusGone
}
