// Package webhook receives Google Calendar push notifications and the
// task-service callbacks that renew the push channel, and turns them into
// reconciliation runs.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Headers the provider attaches to push notifications
// (https://developers.google.com/workspace/calendar/api/guides/push).
const (
	headerChannelToken  = "X-Goog-Channel-Token"
	headerChannelID     = "X-Goog-Channel-ID"
	headerExpiration    = "X-Goog-Channel-Expiration"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
)

// Resource states the provider sends.
const (
	stateSync      = "sync"
	stateExists    = "exists"
	stateNotExists = "not_exists"
)

// Syncer runs one lock-guarded reconciliation pass.
type Syncer interface {
	Run(ctx context.Context) error
}

// Subscriptions is the slice of the channel lifecycle the webhook drives.
type Subscriptions interface {
	Resubscribe(ctx context.Context, resourceID string) error
	ScheduleRenewal(ctx context.Context, expiration time.Time, resourceID string) error
}

// ServerConfig wires a Server to its collaborators.
type ServerConfig struct {
	// Token is the shared secret every request must present in the
	// X-Goog-Channel-Token header.
	Token string

	Syncer        Syncer
	Subscriptions Subscriptions
	Logger        *slog.Logger
}

// Server handles the two webhook endpoints: /channel for provider push
// notifications and /subscription for renewal callbacks.
//
// Change notifications do not run the sync inline. They are handed to a
// single worker through a one-slot queue: one slot is enough because a
// pending run will observe every change made before it starts, so further
// notifications add nothing and are dropped.
type Server struct {
	token  string
	syncer Syncer
	subs   Subscriptions
	log    *slog.Logger

	queue chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewServer creates a Server and starts its sync worker.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		token:  cfg.Token,
		syncer: cfg.Syncer,
		subs:   cfg.Subscriptions,
		log:    logger,
		queue:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.runWorker()
	return s
}

// Close stops accepting sync work and waits for an in-flight run to
// finish. Requests arriving afterwards are still answered, but their
// notifications are dropped.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

// runWorker drains the queue one run at a time. The runs use a background
// context: a reconciliation pass triggered by a request must not die with
// that request.
func (s *Server) runWorker() {
	defer close(s.done)
	for range s.queue {
		if err := s.syncer.Run(context.Background()); err != nil {
			s.log.Error("reconciliation run failed", "error", err)
		}
	}
}

// kickSync hands one run to the worker. With a run already pending the
// notification is redundant and dropped.
func (s *Server) kickSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Info("shutting down, dropping change notification")
		return
	}
	select {
	case s.queue <- struct{}{}:
	default:
		s.log.Info("reconciliation already pending, dropping change notification")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(r.Header.Get(headerChannelToken), s.token) {
		s.log.Warn("rejecting request with bad channel token", "path", r.URL.Path)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) != 1 {
		s.log.Warn("rejecting request with unexpected path", "path", r.URL.Path)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch segments[0] {
	case "subscription":
		s.handleSubscription(w, r)
	case "channel":
		s.handleChannel(w, r)
	default:
		s.log.Warn("rejecting request with unexpected path", "path", r.URL.Path)
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleSubscription serves the renewal callback scheduled by
// ScheduleRenewal. The resubscribe happens inline: a failure turns into a
// 5xx so the task service redelivers the callback.
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		WatchedResourceID *string `json:"watched_resource_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.WatchedResourceID == nil {
		s.log.Warn("rejecting renewal callback without a watched resource id")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.log.Info("renewing subscription", "resource_id", *payload.WatchedResourceID)
	if err := s.subs.Resubscribe(r.Context(), *payload.WatchedResourceID); err != nil {
		s.log.Error("unable to renew subscription", "error", err)
		http.Error(w, "resubscribe failed", http.StatusInternalServerError)
		return
	}

	accepted(w)
}

// handleChannel serves provider push notifications.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resourceID := r.Header.Get(headerResourceID)
	state := r.Header.Get(headerResourceState)

	switch state {
	case stateSync:
		// Confirmation of a fresh channel. Arrange its renewal now if
		// the provider told us when it dies.
		s.log.Info("push channel confirmed",
			"channel_id", r.Header.Get(headerChannelID),
			"resource_id", resourceID,
			"expires", r.Header.Get(headerExpiration))
		s.scheduleRenewal(r, resourceID)
	case stateExists:
		s.kickSync()
	case stateNotExists:
		s.log.Info("watched resource no longer exists", "resource_id", resourceID)
	default:
		s.log.Info("ignoring notification with unhandled resource state", "state", state)
	}

	accepted(w)
}

// scheduleRenewal parses the expiration header of a sync notification and
// hands it to the subscription manager. Failures are logged only; the
// notification itself was still handled.
func (s *Server) scheduleRenewal(r *http.Request, resourceID string) {
	value := r.Header.Get(headerExpiration)
	if value == "" {
		return
	}
	expiration, err := parseExpiration(value)
	if err != nil {
		s.log.Error("unparseable channel expiration", "value", value, "error", err)
		return
	}
	if err := s.subs.ScheduleRenewal(r.Context(), expiration, resourceID); err != nil {
		s.log.Error("unable to schedule channel renewal", "error", err)
	}
}

// parseExpiration reads the channel expiration header, which the provider
// formats like "Tue, 29 Mar 2022 01:00:00 GMT".
func parseExpiration(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiration format %q", value)
}

// authorized compares the presented token against the expected one in
// constant time.
func authorized(presented, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func accepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("ok"))
}
