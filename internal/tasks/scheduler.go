// Package tasks schedules deferred HTTP callbacks, used to re-create push
// notification channels shortly before they expire.
package tasks

import (
	"context"
	"time"
)

// Task describes one HTTP call to be made at a future time.
type Task struct {
	// Method is the HTTP method of the callback, e.g. http.MethodPatch.
	Method string

	// URL is the absolute URL the task service will call.
	URL string

	// Headers are sent verbatim with the callback.
	Headers map[string]string

	// Body is the raw request body.
	Body []byte

	// ScheduleTime is when the callback should fire. A zero or past time
	// means as soon as possible.
	ScheduleTime time.Time
}

// Scheduler enqueues tasks for later delivery. Delivery is at-least-once,
// so the handlers behind the callbacks must tolerate duplicates.
type Scheduler interface {
	// Schedule enqueues the task and returns the provider's name for it.
	Schedule(ctx context.Context, task Task) (string, error)
}
