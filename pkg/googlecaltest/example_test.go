package googlecaltest_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/drewfead/calendupe/pkg/googlecaltest"
	"google.golang.org/api/option"

	gcalendar "google.golang.org/api/calendar/v3"
)

// Example demonstrates pointing a real calendar client at the mock server.
func Example() {
	// Create mock server
	server := googlecaltest.NewServer()
	defer server.Close()

	// Create Google Calendar service pointing to mock
	ctx := context.Background()
	httpClient := &http.Client{}
	svc, err := gcalendar.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(server.URL))
	if err != nil {
		panic(err)
	}

	// Pre-populate some events
	server.AddEvent("primary", &gcalendar.Event{
		Id:      "event1",
		Summary: "Team Meeting",
		Start: &gcalendar.EventDateTime{
			DateTime: time.Now().Format(time.RFC3339),
		},
		End: &gcalendar.EventDateTime{
			DateTime: time.Now().Add(time.Hour).Format(time.RFC3339),
		},
	})

	// Use the service
	events, err := svc.Events.List("primary").Do()
	if err != nil {
		panic(err)
	}

	fmt.Printf("Found %d events\n", len(events.Items))
	// Output: Found 1 events
}

// Example_syncToken shows the incremental sync flow the mock supports.
func Example_syncToken() {
	server := googlecaltest.NewServer()
	defer server.Close()

	ctx := context.Background()
	httpClient := &http.Client{}
	svc, err := gcalendar.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(server.URL))
	if err != nil {
		panic(err)
	}

	// A full listing ends with a sync token.
	initial, err := svc.Events.List("primary").Do()
	if err != nil {
		panic(err)
	}

	// Changes made after the token was issued...
	created, err := svc.Events.Insert("primary", &gcalendar.Event{
		Summary: "Added later",
		Start: &gcalendar.EventDateTime{
			DateTime: time.Now().Format(time.RFC3339),
		},
		End: &gcalendar.EventDateTime{
			DateTime: time.Now().Add(time.Hour).Format(time.RFC3339),
		},
	}).Do()
	if err != nil {
		panic(err)
	}

	// ...are all a tokened listing returns.
	changed, err := svc.Events.List("primary").SyncToken(initial.NextSyncToken).Do()
	if err != nil {
		panic(err)
	}

	fmt.Printf("Changed: %d\n", len(changed.Items))
	fmt.Printf("Summary: %s\n", changed.Items[0].Summary)
	fmt.Printf("Same event: %t\n", changed.Items[0].Id == created.Id)
	// Output:
	// Changed: 1
	// Summary: Added later
	// Same event: true
}
