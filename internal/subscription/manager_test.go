package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/calendupe/internal/gcal"
	"github.com/drewfead/calendupe/internal/tasks"
	"github.com/drewfead/calendupe/pkg/googlecaltest"
)

// fakeScheduler records scheduled tasks in place of Cloud Tasks.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []tasks.Task
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, task tasks.Task) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return fmt.Sprintf("queues/renewals/tasks/task-%d", len(f.tasks)), nil
}

func (f *fakeScheduler) scheduled() []tasks.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.Task(nil), f.tasks...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManagerForTest(t *testing.T, now func() time.Time) (*Manager, *fakeScheduler, *googlecaltest.Server) {
	t.Helper()
	server := googlecaltest.NewServer()
	t.Cleanup(server.Close)

	client, err := gcal.NewClient(context.Background(), &http.Client{}, server.URL)
	if err != nil {
		t.Fatalf("gcal.NewClient() error = %v", err)
	}

	scheduler := &fakeScheduler{}
	manager := NewManager(client, scheduler, Config{
		SourceCalendar: "source",
		ChannelID:      "calendupe-channel",
		Token:          "secret",
		PublicURL:      "https://calendupe.example.com/",
		Logger:         testLogger(),
		Now:            now,
	})
	return manager, scheduler, server
}

func TestSubscribeRequestsChannel(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, _, server := newManagerForTest(t, func() time.Time { return fixed })

	result, err := manager.Subscribe(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	channels := server.Channels()
	if len(channels) != 1 {
		t.Fatalf("provider has %d channels, want 1", len(channels))
	}
	channel := channels[0]
	if channel.Id != "calendupe-channel" {
		t.Errorf("channel id = %q, want the configured one", channel.Id)
	}
	if channel.Address != "https://calendupe.example.com/channel" {
		t.Errorf("channel address = %q, want the webhook /channel endpoint", channel.Address)
	}
	if channel.Token != "secret" {
		t.Errorf("channel token = %q, want the shared secret", channel.Token)
	}
	if channel.Type != "web_hook" {
		t.Errorf("channel type = %q, want web_hook", channel.Type)
	}
	if !channel.Payload {
		t.Error("channel payload = false, want true")
	}

	if result.ResourceID != channel.ResourceId {
		t.Errorf("ResourceID = %q, want the provider-assigned %q", result.ResourceID, channel.ResourceId)
	}
	if want := fixed.Add(2 * time.Hour); !result.Expiration.Equal(want) {
		t.Errorf("Expiration = %v, want the requested %v", result.Expiration, want)
	}
}

func TestSubscribeUsesProviderGrant(t *testing.T) {
	ctx := context.Background()
	manager, _, server := newManagerForTest(t, nil)
	server.SetWatchTTL(24*time.Hour, 30*time.Minute)

	// The provider grants less than requested; the result must carry the
	// grant, not the request.
	result, err := manager.Subscribe(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	now := time.Now()
	if result.Expiration.After(now.Add(35 * time.Minute)) {
		t.Errorf("Expiration = %v, want clamped to ~30m out", result.Expiration)
	}
	if result.Expiration.Before(now.Add(25 * time.Minute)) {
		t.Errorf("Expiration = %v, want ~30m out", result.Expiration)
	}
}

func TestSubscribeWithoutTTL(t *testing.T) {
	ctx := context.Background()
	manager, _, server := newManagerForTest(t, nil)
	server.SetWatchTTL(time.Hour, 24*time.Hour)

	result, err := manager.Subscribe(ctx, 0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// No requested expiration: the provider picks its default.
	now := time.Now()
	if result.Expiration.Before(now.Add(55*time.Minute)) || result.Expiration.After(now.Add(65*time.Minute)) {
		t.Errorf("Expiration = %v, want the provider default of ~1h", result.Expiration)
	}
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	manager, _, server := newManagerForTest(t, nil)

	result, err := manager.Subscribe(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := manager.Unsubscribe(ctx, result.ResourceID); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if channels := server.Channels(); len(channels) != 0 {
		t.Errorf("provider has %d channels after unsubscribe, want 0", len(channels))
	}

	if err := manager.Unsubscribe(ctx, result.ResourceID); err == nil {
		t.Error("second Unsubscribe() returned nil error, want failure for unknown channel")
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	ctx := context.Background()
	manager, _, server := newManagerForTest(t, nil)

	old, err := manager.Subscribe(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := manager.Resubscribe(ctx, old.ResourceID); err != nil {
		t.Fatalf("Resubscribe() error = %v", err)
	}

	channels := server.Channels()
	if len(channels) != 1 {
		t.Fatalf("provider has %d channels after resubscribe, want 1", len(channels))
	}
	if channels[0].ResourceId == old.ResourceID {
		t.Error("resubscribe kept the old watched resource, want a fresh one")
	}
}

func TestResubscribeSurvivesStaleResource(t *testing.T) {
	ctx := context.Background()
	manager, _, server := newManagerForTest(t, nil)

	// The channel being renewed already expired at the provider: the
	// failed stop is swallowed and a fresh channel still goes up.
	if err := manager.Resubscribe(ctx, "resource-long-gone"); err != nil {
		t.Fatalf("Resubscribe() error = %v", err)
	}
	if channels := server.Channels(); len(channels) != 1 {
		t.Errorf("provider has %d channels, want 1", len(channels))
	}
}

func TestScheduleRenewal(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, scheduler, _ := newManagerForTest(t, func() time.Time { return fixed })

	expiration := fixed.Add(10 * time.Hour)
	if err := manager.ScheduleRenewal(ctx, expiration, "resource1"); err != nil {
		t.Fatalf("ScheduleRenewal() error = %v", err)
	}

	scheduled := scheduler.scheduled()
	if len(scheduled) != 1 {
		t.Fatalf("scheduler received %d tasks, want 1", len(scheduled))
	}
	task := scheduled[0]

	if task.Method != http.MethodPatch {
		t.Errorf("task method = %q, want PATCH", task.Method)
	}
	if task.URL != "https://calendupe.example.com/subscription" {
		t.Errorf("task URL = %q, want the webhook /subscription endpoint", task.URL)
	}
	if task.Headers["X-Goog-Channel-Token"] != "secret" {
		t.Errorf("task headers = %v, want the channel token included", task.Headers)
	}
	if task.Headers["Content-Type"] != "application/json" {
		t.Errorf("task headers = %v, want a JSON content type", task.Headers)
	}

	var payload map[string]string
	if err := json.Unmarshal(task.Body, &payload); err != nil {
		t.Fatalf("task body is not JSON: %v", err)
	}
	if payload["watched_resource_id"] != "resource1" {
		t.Errorf("task payload = %v, want the watched resource ID", payload)
	}

	// One hour before expiration.
	if want := expiration.Add(-time.Hour); !task.ScheduleTime.Equal(want) {
		t.Errorf("schedule time = %v, want %v", task.ScheduleTime, want)
	}
}

func TestScheduleRenewalClampsFarFuture(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, scheduler, _ := newManagerForTest(t, func() time.Time { return fixed })

	// 45 days out is beyond what the task service accepts.
	if err := manager.ScheduleRenewal(ctx, fixed.Add(45*24*time.Hour), "resource1"); err != nil {
		t.Fatalf("ScheduleRenewal() error = %v", err)
	}

	scheduled := scheduler.scheduled()
	if len(scheduled) != 1 {
		t.Fatalf("scheduler received %d tasks, want 1", len(scheduled))
	}
	if want := fixed.Add(maxTaskFuture); !scheduled[0].ScheduleTime.Equal(want) {
		t.Errorf("schedule time = %v, want clamped to %v", scheduled[0].ScheduleTime, want)
	}
}

func TestScheduleRenewalInPastStillSchedules(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, scheduler, _ := newManagerForTest(t, func() time.Time { return fixed })

	// The channel expires in half an hour, so the renewal point already
	// passed. The task is created anyway and fires immediately.
	if err := manager.ScheduleRenewal(ctx, fixed.Add(30*time.Minute), "resource1"); err != nil {
		t.Fatalf("ScheduleRenewal() error = %v", err)
	}

	scheduled := scheduler.scheduled()
	if len(scheduled) != 1 {
		t.Fatalf("scheduler received %d tasks, want 1", len(scheduled))
	}
	if want := fixed.Add(-30 * time.Minute); !scheduled[0].ScheduleTime.Equal(want) {
		t.Errorf("schedule time = %v, want the past %v", scheduled[0].ScheduleTime, want)
	}
}

func TestScheduleRenewalSchedulerFailure(t *testing.T) {
	ctx := context.Background()
	manager, scheduler, _ := newManagerForTest(t, nil)
	scheduler.err = errors.New("queue unavailable")

	err := manager.ScheduleRenewal(ctx, time.Now().Add(10*time.Hour), "resource1")
	if err == nil || !errors.Is(err, scheduler.err) {
		t.Fatalf("ScheduleRenewal() error = %v, want the scheduler failure", err)
	}
}
