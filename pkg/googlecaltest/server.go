// Package googlecaltest provides a mock Google Calendar API server for testing.
// It implements the subset of the Google Calendar API v3 that an incremental
// sync client exercises: Events CRUD, sync tokens, property filters, and
// push-notification channels.
package googlecaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
)

const (
	statusCancelled = "cancelled"
	syncTokenPrefix = "sync-"
)

// storedEvent pairs an event with the bookkeeping the sync protocol needs.
type storedEvent struct {
	event *calendar.Event
	seq   int64 // server-wide change serial at the last mutation
	order int   // insertion order, drives stable listings
}

// Server is a mock Google Calendar API server for testing.
//
// Deletes tombstone events as "cancelled" rather than removing them, the
// way the real API does: tombstones show up in incremental listings and in
// full listings with showDeleted=true, and deleting one again returns 410.
type Server struct {
	*httptest.Server
	mu             sync.RWMutex
	events         map[string]map[string]*storedEvent // calendarID -> eventID -> event
	channels       []*calendar.Channel
	nextID         int
	nextOrder      int
	nextResource   int
	serial         int64 // bumped on every mutation
	minTokenSerial int64 // sync tokens issued before this serial get 410
	pageSize       int   // when > 0, forces pagination regardless of maxResults
	defaultTTL     time.Duration
	maxTTL         time.Duration
}

// NewServer creates a new mock Google Calendar API server.
func NewServer() *Server {
	s := &Server{
		events:     make(map[string]map[string]*storedEvent),
		nextID:     1,
		defaultTTL: 7 * 24 * time.Hour,
		maxTTL:     30 * 24 * time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.Server = httptest.NewServer(mux)
	return s
}

// handleRequest routes all requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/channels/stop") && r.Method == http.MethodPost {
		s.stopChannel(w, r)
		return
	}
	if !strings.Contains(r.URL.Path, "/calendars/") || !strings.Contains(r.URL.Path, "/events") {
		http.Error(w, "unsupported endpoint", http.StatusNotFound)
		return
	}
	s.handleCalendars(w, r)
}

// handleCalendars routes calendar-related requests.
func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	// Parse URL: /calendar/v3/calendars/{calendarId}/events[/{eventId}|/watch]
	path := r.URL.Path

	idx := strings.Index(path, "/calendars/")
	if idx == -1 {
		http.Error(w, "invalid path: missing /calendars/", http.StatusBadRequest)
		return
	}

	path = path[idx+len("/calendars/"):]
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) < 2 {
		http.Error(w, fmt.Sprintf("invalid path: expected at least calendarId/resource, got %v", parts), http.StatusBadRequest)
		return
	}

	calendarID := parts[0]
	resource := parts[1]

	if resource != "events" {
		http.Error(w, "unsupported resource", http.StatusNotImplemented)
		return
	}

	switch {
	case len(parts) == 2:
		// /calendars/{calendarId}/events
		switch r.Method {
		case http.MethodGet:
			s.listEvents(w, r, calendarID)
		case http.MethodPost:
			s.insertEvent(w, r, calendarID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[2] == "watch":
		// /calendars/{calendarId}/events/watch
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.watchEvents(w, r, calendarID)
	case len(parts) == 3:
		// /calendars/{calendarId}/events/{eventId}
		eventID := parts[2]
		switch r.Method {
		case http.MethodGet:
			s.getEvent(w, r, calendarID, eventID)
		case http.MethodPatch:
			s.patchEvent(w, r, calendarID, eventID)
		case http.MethodDelete:
			s.deleteEvent(w, r, calendarID, eventID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.Error(w, "invalid path", http.StatusBadRequest)
	}
}

// insertEvent handles POST /calendars/{calendarId}/events
func (s *Server) insertEvent(w http.ResponseWriter, r *http.Request, calendarID string) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Id == "" {
		event.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	} else if s.events[calendarID][event.Id] != nil {
		http.Error(w, "event id already exists", http.StatusConflict)
		return
	}

	// Set metadata. The status in the request body is honored, so callers
	// can insert tentative or cancelled events.
	if event.Status == "" {
		event.Status = "confirmed"
	}
	event.Created = time.Now().Format(time.RFC3339)
	event.Updated = event.Created
	event.HtmlLink = fmt.Sprintf("https://calendar.google.com/event?eid=%s", event.Id)

	s.storeLocked(calendarID, &event)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// listEvents handles GET /calendars/{calendarId}/events
//
// With a syncToken, the listing contains every event changed since the
// token was issued, cancelled ones included, and rejects expired tokens
// with 410. Without one it is a plain listing: tombstones are hidden
// unless showDeleted=true. Both end with a fresh nextSyncToken on the
// final page.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := r.URL.Query()
	syncToken := query.Get("syncToken")
	timeMin := query.Get("timeMin")
	showDeleted := query.Get("showDeleted") == "true"
	propFilters := query["privateExtendedProperty"]
	maxResults := query.Get("maxResults")
	pageToken := query.Get("pageToken")

	// The real API rejects this combination outright.
	if syncToken != "" && timeMin != "" {
		http.Error(w, "syncToken cannot be combined with timeMin", http.StatusBadRequest)
		return
	}

	fromSerial := int64(-1)
	if syncToken != "" {
		n, ok := parseSyncToken(syncToken)
		if !ok || n < s.minTokenSerial {
			http.Error(w, "sync token expired", http.StatusGone)
			return
		}
		fromSerial = n
	}

	var minEnd time.Time
	if timeMin != "" {
		parsed, err := time.Parse(time.RFC3339, timeMin)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid timeMin: %v", err), http.StatusBadRequest)
			return
		}
		minEnd = parsed
	}

	var events []*calendar.Event
	for _, se := range s.sortedEventsLocked(calendarID) {
		if fromSerial >= 0 {
			if se.seq <= fromSerial {
				continue
			}
		} else if se.event.Status == statusCancelled && !showDeleted {
			continue
		}
		if !minEnd.IsZero() && !endsAfter(se.event, minEnd) {
			continue
		}
		if !matchesPrivateProperties(se.event, propFilters) {
			continue
		}
		events = append(events, se.event)
	}

	// Handle pagination
	startIdx := 0
	if pageToken != "" {
		// Simple pagination: token is the start index
		fmt.Sscanf(pageToken, "%d", &startIdx)
	}

	maxRes := len(events)
	if s.pageSize > 0 {
		maxRes = s.pageSize
	}
	if maxResults != "" {
		fmt.Sscanf(maxResults, "%d", &maxRes)
	}

	endIdx := startIdx + maxRes
	if endIdx > len(events) {
		endIdx = len(events)
	}

	resp := &calendar.Events{
		Kind:    "calendar#events",
		Summary: calendarID,
		Items:   events[startIdx:endIdx],
	}

	if endIdx < len(events) {
		resp.NextPageToken = fmt.Sprintf("%d", endIdx)
	} else {
		resp.NextSyncToken = fmt.Sprintf("%s%d", syncTokenPrefix, s.serial)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// getEvent handles GET /calendars/{calendarId}/events/{eventId}
func (s *Server) getEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	se := s.events[calendarID][eventID]
	if se == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(se.event)
}

// patchEvent handles PATCH /calendars/{calendarId}/events/{eventId}
//
// Patch semantics: fields present in the request body replace the stored
// ones, fields absent from it are left alone. Field presence only shows
// in the raw JSON, so the merge happens on raw maps rather than on the
// decoded struct, where absent and zero-valued are indistinguishable.
func (s *Server) patchEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	se := s.events[calendarID][eventID]
	if se == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	stored, err := json.Marshal(se.event)
	if err != nil {
		http.Error(w, fmt.Sprintf("corrupt stored event: %v", err), http.StatusInternalServerError)
		return
	}
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(stored, &merged); err != nil {
		http.Error(w, fmt.Sprintf("corrupt stored event: %v", err), http.StatusInternalServerError)
		return
	}
	for key, value := range patch {
		merged[key] = value
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid patch: %v", err), http.StatusBadRequest)
		return
	}
	var updated calendar.Event
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		http.Error(w, fmt.Sprintf("invalid patch: %v", err), http.StatusBadRequest)
		return
	}

	// Preserve ID and metadata
	updated.Id = eventID
	updated.Created = se.event.Created
	updated.Updated = time.Now().Format(time.RFC3339)
	updated.HtmlLink = se.event.HtmlLink

	s.serial++
	se.event = &updated
	se.seq = s.serial

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// deleteEvent handles DELETE /calendars/{calendarId}/events/{eventId}
func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	se := s.events[calendarID][eventID]
	if se == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if se.event.Status == statusCancelled {
		http.Error(w, "resource has been deleted", http.StatusGone)
		return
	}

	s.serial++
	se.event.Status = statusCancelled
	se.event.Updated = time.Now().Format(time.RFC3339)
	se.seq = s.serial

	w.WriteHeader(http.StatusNoContent)
}

// watchEvents handles POST /calendars/{calendarId}/events/watch
func (s *Server) watchEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	var req calendar.Channel
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Id == "" || req.Address == "" {
		http.Error(w, "channel id and address are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Grant the requested expiration, clamped to the server maximum. No
	// requested expiration gets the default TTL.
	now := time.Now()
	granted := now.Add(s.defaultTTL)
	if req.Expiration > 0 {
		requested := time.UnixMilli(req.Expiration)
		if max := now.Add(s.maxTTL); requested.After(max) {
			requested = max
		}
		granted = requested
	}

	s.nextResource++
	ch := &calendar.Channel{
		Kind:        "api#channel",
		Id:          req.Id,
		ResourceId:  fmt.Sprintf("resource%d", s.nextResource),
		ResourceUri: fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events", calendarID),
		Token:       req.Token,
		Expiration:  granted.UnixMilli(),
	}

	// Keep the request's delivery details on the stored copy for assertions.
	stored := *ch
	stored.Address = req.Address
	stored.Type = req.Type
	stored.Payload = req.Payload
	s.channels = append(s.channels, &stored)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ch)
}

// stopChannel handles POST /channels/stop
func (s *Server) stopChannel(w http.ResponseWriter, r *http.Request) {
	var req calendar.Channel
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ch := range s.channels {
		if ch.ResourceId == req.ResourceId && ch.Id == req.Id {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "channel not found", http.StatusNotFound)
}

// storeLocked records a fresh event under the current serial. Callers must
// hold the write lock.
func (s *Server) storeLocked(calendarID string, event *calendar.Event) {
	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*storedEvent)
	}
	s.serial++
	s.nextOrder++
	s.events[calendarID][event.Id] = &storedEvent{
		event: event,
		seq:   s.serial,
		order: s.nextOrder,
	}
}

// sortedEventsLocked returns a calendar's events in insertion order.
func (s *Server) sortedEventsLocked(calendarID string) []*storedEvent {
	var events []*storedEvent
	for _, se := range s.events[calendarID] {
		events = append(events, se)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].order < events[j].order })
	return events
}

func parseSyncToken(token string) (int64, bool) {
	if !strings.HasPrefix(token, syncTokenPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(token, syncTokenPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// endsAfter reports whether the event's end lies strictly after min.
// Events without a parseable end time are kept.
func endsAfter(event *calendar.Event, min time.Time) bool {
	if event.End == nil {
		return true
	}
	if event.End.DateTime != "" {
		end, err := time.Parse(time.RFC3339, event.End.DateTime)
		if err != nil {
			return true
		}
		return end.After(min)
	}
	if event.End.Date != "" {
		end, err := time.Parse("2006-01-02", event.End.Date)
		if err != nil {
			return true
		}
		return end.After(min)
	}
	return true
}

// matchesPrivateProperties reports whether the event carries every
// requested "key=value" private extended property.
func matchesPrivateProperties(event *calendar.Event, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	if event.ExtendedProperties == nil || event.ExtendedProperties.Private == nil {
		return false
	}
	for _, filter := range filters {
		kv := strings.SplitN(filter, "=", 2)
		if len(kv) != 2 || event.ExtendedProperties.Private[kv[0]] != kv[1] {
			return false
		}
	}
	return true
}

// Reset clears all events, channels, and issued sync tokens.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]map[string]*storedEvent)
	s.channels = nil
	s.nextID = 1
	s.nextOrder = 0
	s.nextResource = 0
	s.serial = 0
	s.minTokenSerial = 0
}

// ExpireSyncTokens invalidates every sync token issued so far; listings
// that present one get 410 until a fresh token is fetched.
func (s *Server) ExpireSyncTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial++
	s.minTokenSerial = s.serial
}

// SetPageSize forces listings to paginate with the given page size even
// when the client sends no maxResults. Zero restores the default.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetWatchTTL overrides the default and maximum channel lifetimes granted
// by watch requests.
func (s *Server) SetWatchTTL(def, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultTTL = def
	s.maxTTL = max
}

// ChangeCount returns the number of mutations applied so far. Tests use it
// to assert that a reconciliation pass was a no-op.
func (s *Server) ChangeCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial
}

// GetEvents returns all events for a calendar in insertion order,
// tombstones included (for test assertions).
func (s *Server) GetEvents(calendarID string) []*calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*calendar.Event
	for _, se := range s.sortedEventsLocked(calendarID) {
		events = append(events, se.event)
	}
	return events
}

// ActiveEvents returns a calendar's events that are not cancelled, in
// insertion order (for test assertions).
func (s *Server) ActiveEvents(calendarID string) []*calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*calendar.Event
	for _, se := range s.sortedEventsLocked(calendarID) {
		if se.event.Status == statusCancelled {
			continue
		}
		events = append(events, se.event)
	}
	return events
}

// Channels returns the active push channels in creation order (for test
// assertions).
func (s *Server) Channels() []*calendar.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*calendar.Channel(nil), s.channels...)
}

// AddEvent adds a pre-configured event to the server (for test setup).
func (s *Server) AddEvent(calendarID string, event *calendar.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Id == "" {
		event.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	}
	s.storeLocked(calendarID, event)
}
