// Package googlecaltest provides a mock Google Calendar API server for testing.
//
// The mock server implements the subset of the Google Calendar API v3 that an
// incremental sync client exercises, allowing tests to run without
// authentication or network access.
//
// # Supported Operations
//
// The mock server supports the following Google Calendar API operations:
//
//   - Insert Event: POST /calendars/{calendarId}/events
//   - List Events: GET /calendars/{calendarId}/events (pagination, sync tokens,
//     timeMin, showDeleted, privateExtendedProperty filters)
//   - Get Event: GET /calendars/{calendarId}/events/{eventId}
//   - Patch Event: PATCH /calendars/{calendarId}/events/{eventId}
//   - Delete Event: DELETE /calendars/{calendarId}/events/{eventId}
//   - Watch Events: POST /calendars/{calendarId}/events/watch
//   - Stop Channel: POST /channels/stop
//
// # Sync Protocol
//
// Listings end with a nextSyncToken on their final page. Presenting that
// token on a later listing returns only the events changed since it was
// issued, cancelled ones included. ExpireSyncTokens invalidates every
// token issued so far, making the next tokened listing fail with HTTP 410
// the way the real API does when its token horizon passes.
//
// Deletes follow the real API's tombstone model: the event's status
// becomes "cancelled" and it keeps showing up in incremental listings and
// in plain listings with showDeleted=true. Deleting a tombstone again
// returns HTTP 410.
//
// # Basic Usage
//
//	// Create mock server
//	server := googlecaltest.NewServer()
//	defer server.Close()
//
//	// Create Google Calendar client pointing to mock
//	ctx := context.Background()
//	client := &http.Client{}
//	svc, err := calendar.NewService(ctx,
//	    option.WithHTTPClient(client),
//	    option.WithEndpoint(server.URL))
//
//	// Use the service normally
//	events, err := svc.Events.List("primary").Do()
//	token := events.NextSyncToken
//
//	// Later: list only what changed
//	changed, err := svc.Events.List("primary").SyncToken(token).Do()
//
// # Test Helpers
//
// The server provides helper methods for test setup and assertions:
//
//	// Pre-populate events for testing
//	server.AddEvent("primary", &calendar.Event{
//	    Id: "test-event-1",
//	    Summary: "Existing Event",
//	})
//
//	// Get all events, tombstones included, or only the live ones
//	events := server.GetEvents("primary")
//	active := server.ActiveEvents("primary")
//
//	// Inspect push channels created through watch
//	channels := server.Channels()
//
//	// Count mutations, e.g. to assert that a pass changed nothing
//	n := server.ChangeCount()
//
//	// Invalidate previously issued sync tokens
//	server.ExpireSyncTokens()
//
//	// Force small pages to exercise pagination
//	server.SetPageSize(2)
//
//	// Clear all data between tests
//	server.Reset()
package googlecaltest
