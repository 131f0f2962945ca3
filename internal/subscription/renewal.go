package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/drewfead/calendupe/internal/tasks"
)

const (
	// renewalLead is how far before the channel's expiration the renewal
	// callback fires. Renewing early keeps the notification stream alive
	// across the switchover.
	renewalLead = time.Hour

	// maxTaskFuture is the furthest ahead the task service accepts a
	// schedule time (30 days, minus an hour of slack). A renewal clamped
	// to this horizon simply fires early and re-arms itself.
	maxTaskFuture = 29*24*time.Hour + 23*time.Hour
)

// ScheduleRenewal enqueues the callback that will replace the push channel
// shortly before it expires. The callback is a PATCH to the webhook's
// /subscription endpoint carrying the watched resource ID, authenticated
// with the channel token like any other webhook request.
func (m *Manager) ScheduleRenewal(ctx context.Context, expiration time.Time, resourceID string) error {
	renewAt := expiration.Add(-renewalLead)
	now := m.now()

	if !renewAt.After(now) {
		// The task still gets created and fires immediately, which
		// replaces the nearly dead channel as fast as possible.
		m.log.Error("scheduling channel renewal in the past",
			"renew_at", renewAt,
			"expiration", expiration)
	}
	if horizon := now.Add(maxTaskFuture); renewAt.After(horizon) {
		renewAt = horizon
	}

	body, err := json.Marshal(map[string]string{"watched_resource_id": resourceID})
	if err != nil {
		return fmt.Errorf("unable to encode renewal payload: %w", err)
	}

	name, err := m.scheduler.Schedule(ctx, tasks.Task{
		Method: http.MethodPatch,
		URL:    m.publicURL + "/subscription",
		Headers: map[string]string{
			"Content-Type":         "application/json",
			"X-Goog-Channel-Token": m.token,
		},
		Body:         body,
		ScheduleTime: renewAt,
	})
	if err != nil {
		return fmt.Errorf("unable to schedule channel renewal: %w", err)
	}

	m.log.Info("scheduled channel renewal",
		"task", name,
		"renew_at", renewAt,
		"resource_id", resourceID)
	return nil
}
