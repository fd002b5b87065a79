package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

const icsProductID = "-//SMA Timetable//Timetable Export//EN"

// CalendarEvent is one timed entry of a calendar export.
type CalendarEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// ICSExporter renders events as an RFC 5545 calendar.
type ICSExporter struct{}

// NewICSExporter constructs a calendar exporter.
func NewICSExporter() *ICSExporter {
	return &ICSExporter{}
}

// Render writes events into a published calendar named name. stamp becomes
// every event's DTSTAMP so identical input renders identical bytes.
func (e *ICSExporter) Render(name string, events []CalendarEvent, stamp time.Time) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("ics requires at least one event")
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("ics event %q has no uid", ev.Summary)
		}
		if _, dup := seen[ev.UID]; dup {
			return nil, fmt.Errorf("ics event uid %q repeated", ev.UID)
		}
		if !ev.End.After(ev.Start) {
			return nil, fmt.Errorf("ics event %q ends before it starts", ev.UID)
		}
		seen[ev.UID] = struct{}{}

		event := cal.AddEvent(ev.UID)
		event.SetDtStampTime(stamp.UTC())
		event.SetStartAt(ev.Start)
		event.SetEndAt(ev.End)
		event.SetSummary(ev.Summary)
		if ev.Description != "" {
			event.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			event.SetLocation(ev.Location)
		}
	}
	return []byte(cal.Serialize()), nil
}
