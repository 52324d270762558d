package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "agendacal/internal/log"
)

// ParsedEvent is one VEVENT reduced to what the agenda needs. Recurrence
// is recorded here and expanded in expand.go.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	// People are ATTENDEE display names, or the ORGANIZER's when there
	// are no attendees.
	People []string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides only
}

// IsOverride reports whether the event replaces one instance of a series.
func (e ParsedEvent) IsOverride() bool { return e.Recurrence != nil }

// ParseICS parses a feed body. Times without TZID and not in UTC are
// floating and are read in floating (nil means time.Local). A VEVENT that
// cannot be parsed is logged and skipped.
func ParseICS(body []byte, floating *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if floating == nil {
		floating = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, floating)
		if err != nil {
			appLog.Error("ics: skipping vevent", err)
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, floating *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = propValue(ve, ical.ComponentPropertyUrl)

	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if name := displayName(p); name != "" {
			out.People = append(out.People, name)
		}
	}
	if len(out.People) == 0 {
		if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
			if name := displayName(p); name != "" {
				out.People = append(out.People, name)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := parseTimeProp(dtStart, floating)
	if err != nil || len(start) == 0 {
		return out, fmt.Errorf("DTSTART: %w", errOr(err, "empty"))
	}
	out.Start = start[0]

	out.End = out.Start
	if out.AllDay {
		out.End = out.Start.AddDate(0, 0, 1)
	}
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := parseTimeProp(dtEnd, floating); err == nil && len(end) > 0 {
			out.End = end[0]
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		ts, err := parseTimeProp(p, floating)
		if err != nil {
			appLog.Warn("ics: ignoring EXDATE", "uid", out.UID, "value", p.Value)
			continue
		}
		out.ExDates = append(out.ExDates, ts...)
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if ts, err := parseTimeProp(p, floating); err == nil && len(ts) > 0 {
			rid := ts[0]
			out.Recurrence = &rid
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// displayName prefers the CN parameter and falls back to the address part
// of a mailto: value.
func displayName(p *ical.IANAProperty) string {
	if cn, ok := p.ICalParameters["CN"]; ok && len(cn) > 0 {
		if name := strings.Trim(strings.TrimSpace(cn[0]), `"`); name != "" {
			return name
		}
	}
	v := strings.TrimSpace(p.Value)
	if i := strings.IndexByte(v, ':'); i >= 0 && strings.EqualFold(v[:i], "mailto") {
		v = v[i+1:]
	}
	if at := strings.IndexByte(v, '@'); at > 0 {
		v = v[:at]
	}
	return v
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseTimeProp parses a (possibly comma-separated) DATE or DATE-TIME
// property, honouring its TZID parameter.
func parseTimeProp(p *ical.IANAProperty, floating *time.Location) ([]time.Time, error) {
	loc := floating
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		l, err := time.LoadLocation(strings.Trim(tz[0], `"`))
		if err != nil {
			return nil, fmt.Errorf("unknown TZID %q: %w", tz[0], err)
		}
		loc = l
	}

	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseICSTime(part, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// parseICSTime parses the three basic forms: UTC date-time, local
// date-time and date.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
