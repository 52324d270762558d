package ics

import (
	"context"
	"fmt"
	"time"

	"agendacal/internal/model"
	"agendacal/internal/resolve"
)

const (
	defaultHorizonDays = 14

	// MaxHorizonDays keeps every occurrence inside the window that
	// "<weekday> <day>" labels can express (see resolvableUntil).
	MaxHorizonDays = 27
)

// FeedOptions configures a FeedSource.
type FeedOptions struct {
	URL string
	// Location is the service zone: floating times are read in it and
	// talks are rendered in it (UTC when nil).
	Location *time.Location
	// HorizonDays bounds how far ahead recurring events are expanded.
	HorizonDays int
	Now         func() time.Time
}

// FeedSource is an event source backed by an ICS subscription. Each
// occurrence starting between the beginning of today and now + horizon
// becomes one talk whose time and day labels are rendered in the service
// zone. Earlier or later occurrences are left out: their day labels would
// resolve to a different date.
type FeedSource struct {
	fetcher *Fetcher
	opts    FeedOptions
}

func NewFeedSource(fetcher *Fetcher, opts FeedOptions) *FeedSource {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = defaultHorizonDays
	}
	if opts.HorizonDays > MaxHorizonDays {
		opts.HorizonDays = MaxHorizonDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FeedSource{fetcher: fetcher, opts: opts}
}

func (s *FeedSource) FetchEvents(ctx context.Context) ([]model.Talk, error) {
	res, err := s.fetcher.Fetch(ctx, s.opts.URL)
	if err != nil {
		return nil, err
	}
	events, err := ParseICS(res.Body, s.opts.Location)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().In(s.opts.Location)
	from := startOfDay(now)
	to := now.AddDate(0, 0, s.opts.HorizonDays)
	if limit := resolvableUntil(now); !to.Before(limit) {
		to = limit.Add(-time.Second)
	}
	occ, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: s.opts.Location,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, err
	}

	// Expansion keeps occurrences that merely overlap the range; one that
	// began yesterday would be labelled with yesterday's day of month.
	kept := occ[:0]
	for _, o := range occ {
		if !o.Start.Before(from) && !o.Start.After(to) {
			kept = append(kept, o)
		}
	}
	return Talks(kept), nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// resolvableUntil is the first midnight whose day label no longer resolves
// to its own date against now: a day of month below today's is read as
// next month, so labels stop being unambiguous at today's day of month in
// the next month, or at the month after next when that day overflows.
func resolvableUntil(now time.Time) time.Time {
	y, m, d := now.Date()
	sameDay := time.Date(y, m+1, d, 0, 0, 0, 0, now.Location())
	monthAfter := time.Date(y, m+2, 1, 0, 0, 0, 0, now.Location())
	if monthAfter.Before(sameDay) {
		return monthAfter
	}
	return sameDay
}

// Talks renders occurrences as agenda talks. All-day occurrences get no
// time label, so they only show up in tag groupings.
func Talks(occ []Occurrence) []model.Talk {
	out := make([]model.Talk, 0, len(occ))
	for _, o := range occ {
		ev := o.Event
		t := model.Talk{
			ID:          fmt.Sprintf("%s@%s", ev.UID, o.InstanceKey),
			Title:       ev.Summary,
			DayLabel:    resolve.DayLabel(o.Start),
			URL:         ev.URL,
			Description: ev.Description,
			Tags:        append([]string{}, ev.Categories...),
			Speakers:    []string{},
		}
		if !ev.AllDay {
			t.TimeText = o.Start.Format("15:04")
			t.EndTimeText = o.End.Format("15:04")
		}
		for _, p := range ev.People {
			if len(t.Speakers) == model.MaxSpeakers {
				break
			}
			t.Speakers = append(t.Speakers, p)
		}
		if ev.Location != "" {
			t.RawExcerpt = ev.Location
		}
		out = append(out, t)
	}
	return out
}
