// Package resolve turns free-text agenda labels ("14:30", "Martes 23")
// into absolute instants in the service timezone.
//
// Resolution is pure: the same labels and reference instant always give the
// same answer, and nothing is cached, because the reference instant ("now")
// changes between queries and the day-of-month heuristic depends on it.
package resolve

import (
	"regexp"
	"strconv"
	"time"
)

var (
	clockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	dayRe   = regexp.MustCompile(`(Lunes|Martes|Miércoles|Jueves|Viernes|Sábado|Domingo)\s+(\d{1,2})`)
)

// Weekdays is the whitelist of weekday names recognised in day labels.
var Weekdays = [7]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// Resolver resolves labels in one fixed location.
type Resolver struct {
	loc *time.Location
}

// New returns a Resolver for loc. A nil loc means UTC.
func New(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location is the zone every resolved instant is expressed in.
func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve combines the first HH:MM in timeText with the date named by
// dayLabel, relative to ref. ok is false when timeText holds no usable
// clock time; that is a filtering outcome, not an error.
//
// Date rules, with C = ref's day of month in the resolver's zone:
//   - no "Weekday N" in dayLabel: ref's own date
//   - N == C: ref's own date
//   - N > C: day N of ref's month
//   - N < C: day N of ref's month, advanced one calendar month
//
// The last rule assumes a smaller day number belongs to the next month;
// it will misplace genuinely past dates across a month boundary.
func (r *Resolver) Resolve(timeText, dayLabel string, ref time.Time) (time.Time, bool) {
	hour, minute, ok := ParseClock(timeText)
	if !ok {
		return time.Time{}, false
	}

	y, m, d := r.Date(dayLabel, ref)
	return time.Date(y, m, d, hour, minute, 0, 0, r.loc), true
}

// Date resolves only the calendar date part of Resolve.
func (r *Resolver) Date(dayLabel string, ref time.Time) (int, time.Month, int) {
	ref = ref.In(r.loc)
	y, m, c := ref.Date()

	n, ok := ParseDayOfMonth(dayLabel)
	if !ok || n == c {
		return y, m, c
	}

	// time.Date normalises overflow (day 31 in a 30-day month rolls
	// into the next month), which matches setting the day on a calendar.
	target := time.Date(y, m, n, 0, 0, 0, 0, r.loc)
	if n < c {
		target = addMonthClamped(target)
	}
	return target.Date()
}

// ParseClock extracts the first HH:MM. Out-of-range values are rejected.
func ParseClock(s string) (hour, minute int, ok bool) {
	match := clockRe.FindStringSubmatch(s)
	if match == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(match[1])
	minute, _ = strconv.Atoi(match[2])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// ParseDayOfMonth extracts N from a "Weekday N" label.
func ParseDayOfMonth(label string) (int, bool) {
	match := dayRe.FindStringSubmatch(label)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// FindDayLabel returns the first "Weekday N" found in s, normalised to a
// single space.
func FindDayLabel(s string) (string, bool) {
	match := dayRe.FindStringSubmatch(s)
	if match == nil {
		return "", false
	}
	return match[1] + " " + match[2], true
}

// DayLabel renders t as a label Resolve understands, e.g. "Martes 23".
func DayLabel(t time.Time) string {
	return Weekdays[t.Weekday()] + " " + strconv.Itoa(t.Day())
}

// addMonthClamped moves t one calendar month forward, clamping the day to
// the target month's length (Jan 31 -> Feb 28/29).
func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
	last := daysIn(first.Year(), first.Month(), t.Location())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
