package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"agendacal/internal/model"
)

const productID = "-//agendacal//agenda export//ES"

// ExportEvent is a talk with its resolved start. End is zero when the
// talk's end label did not resolve after its start.
type ExportEvent struct {
	Talk  model.Talk
	Start time.Time
	End   time.Time
}

// Export renders events as a VCALENDAR. stamp is written as DTSTAMP on
// every event. Each talk tag becomes its own CATEGORIES property.
func Export(events []ExportEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, e := range events {
		ev := cal.AddEvent(e.Talk.ID + "@agendacal")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(e.Start)
		if !e.End.IsZero() && e.End.After(e.Start) {
			ev.SetEndAt(e.End)
		}
		ev.SetSummary(e.Talk.Title)
		if desc := description(e.Talk); desc != "" {
			ev.SetDescription(desc)
		}
		if e.Talk.URL != "" {
			ev.SetURL(e.Talk.URL)
		}
		for _, tag := range e.Talk.Tags {
			ev.AddProperty(ical.ComponentPropertyCategories, tag)
		}
	}
	return cal.Serialize()
}

func description(t model.Talk) string {
	var parts []string
	if len(t.Speakers) > 0 {
		parts = append(parts, strings.Join(t.Speakers, " / "))
	}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	return strings.Join(parts, "\n\n")
}
