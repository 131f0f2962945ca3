// Package mirror reconciles a source calendar against a target calendar,
// keeping one obfuscated "shadow" event on the target for every source
// event while leaking nothing about the source beyond its time ranges.
package mirror

import (
	"maps"
	"slices"

	"google.golang.org/api/calendar/v3"
)

const (
	// TargetSummary is the title every mirrored event gets, regardless
	// of the source event's.
	TargetSummary = "busy (personal)"

	// TargetDescription marks mirrored events as machine-managed for
	// anyone reading the target calendar.
	TargetDescription = `created by <a href="https://github.com/drewfead/calendupe">calendupe</a>`

	// createdByKey tags the events this service owns on the target
	// calendar, so a full rebuild deletes only its own events.
	createdByKey   = "createdBy"
	createdByValue = "calendupe"

	// sourceEventKey links a mirrored event back to its source event ID.
	sourceEventKey = "sourceEventId"

	statusCancelled = "cancelled"
	statusConfirmed = "confirmed"
)

// Shadow derives the obfuscated target-calendar event for a source event:
// the same time range and recurrence under a fixed summary and description,
// reminders turned off, and private extended properties linking it back to
// its source. Cancelled sources produce a cancelled shadow carrying only
// status, recurrence, and the linking properties.
func Shadow(source *calendar.Event) *calendar.Event {
	shadow := &calendar.Event{Status: source.Status}
	if shadow.Status == "" {
		shadow.Status = statusConfirmed
	}

	if shadow.Status != statusCancelled {
		if source.Start != nil {
			start := *source.Start
			shadow.Start = &start
		}
		if source.End != nil {
			end := *source.End
			shadow.End = &end
		}
		shadow.Summary = TargetSummary
		shadow.Description = TargetDescription
		// UseDefault is forced onto the wire: omitting the false would
		// leave the target calendar's default reminders active.
		shadow.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       []*calendar.EventReminder{},
			ForceSendFields: []string{"UseDefault"},
		}
	}

	if len(source.Recurrence) > 0 {
		shadow.Recurrence = append([]string(nil), source.Recurrence...)
	}

	shadow.ExtendedProperties = &calendar.EventExtendedProperties{
		Private: map[string]string{
			createdByKey:   createdByValue,
			sourceEventKey: source.Id,
		},
	}
	return shadow
}

// shadowMatches reports whether an existing target event already carries
// everything the expected shadow would write. Only the fields the shadow
// produces are compared; anything else on the existing event is left to
// the provider.
func shadowMatches(expected, existing *calendar.Event) bool {
	if existing == nil {
		return false
	}
	if expected.Status != existing.Status {
		return false
	}
	if expected.Status != statusCancelled {
		if !timesEqual(expected.Start, existing.Start) {
			return false
		}
		if !timesEqual(expected.End, existing.End) {
			return false
		}
		if expected.Summary != existing.Summary {
			return false
		}
		if expected.Description != existing.Description {
			return false
		}
		if !remindersEqual(expected.Reminders, existing.Reminders) {
			return false
		}
	}
	if expected.Recurrence != nil && !slices.Equal(expected.Recurrence, existing.Recurrence) {
		return false
	}
	return privatePropertiesEqual(expected.ExtendedProperties, existing.ExtendedProperties)
}

// timesEqual compares the verbatim provider representation of two event
// boundaries. Equivalent instants spelled differently count as different,
// which at worst causes a redundant patch.
func timesEqual(a, b *calendar.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Date == b.Date && a.DateTime == b.DateTime && a.TimeZone == b.TimeZone
}

func remindersEqual(a, b *calendar.EventReminders) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.UseDefault != b.UseDefault || len(a.Overrides) != len(b.Overrides) {
		return false
	}
	for i := range a.Overrides {
		if a.Overrides[i].Method != b.Overrides[i].Method || a.Overrides[i].Minutes != b.Overrides[i].Minutes {
			return false
		}
	}
	return true
}

func privatePropertiesEqual(a, b *calendar.EventExtendedProperties) bool {
	if b == nil || b.Private == nil {
		return false
	}
	return maps.Equal(a.Private, b.Private)
}
