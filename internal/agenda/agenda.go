// Package agenda classifies a snapshot of talks against a reference
// instant: upcoming, past, next, recently missed, and grouped by tag.
//
// Every Engine method is pure. Labels are resolved against the given now on
// each call and the resolved instants are thrown away afterwards.
package agenda

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"agendacal/internal/model"
	"agendacal/internal/resolve"
)

const (
	// DefaultLimit applies when a caller passes limit <= 0.
	DefaultLimit = 5

	// DefaultMissedWindow is how far back a started talk still counts as
	// missed.
	DefaultMissedWindow = 120 * time.Minute

	// Uncategorized is the bucket for talks without tags.
	Uncategorized = "uncategorized"
)

// Item is a talk together with its start instant resolved against Now.
type Item struct {
	model.Talk

	Start time.Time `json:"start"`

	// Relative is the whole-unit distance from now, e.g. "4 hours from now"
	// or "35 minutes ago".
	Relative string `json:"relative"`

	// MinutesFromNow is start - now in whole minutes; negative once started.
	MinutesFromNow int `json:"minutes_from_now"`
}

// Resolved is a talk whose start could be resolved. Index is the talk's
// position in the snapshot and breaks ties between equal starts.
type Resolved struct {
	Talk  model.Talk
	Start time.Time
	Index int
}

type UpcomingResult struct {
	Now   time.Time `json:"current_time"`
	Talks []Item    `json:"upcoming_talks"`
	Total int       `json:"total"`
}

type PastResult struct {
	Now   time.Time `json:"current_time"`
	Talks []Item    `json:"past_talks"`
	Total int       `json:"total"`
}

type NextResult struct {
	Now  time.Time `json:"current_time"`
	Talk *Item     `json:"next_talk"`
}

type MissedResult struct {
	Now           time.Time `json:"current_time"`
	WindowMinutes int       `json:"window_minutes"`
	Talks         []Item    `json:"missed_talks"`
	Total         int       `json:"total"`
}

// TopicEntry is the per-bucket summary of a talk.
type TopicEntry struct {
	Title    string   `json:"title"`
	Speakers []string `json:"speakers"`
	TimeText string   `json:"time_text"`
}

type TopicsResult struct {
	Topics map[string][]TopicEntry `json:"topics_by_tags"`
	// Tags lists the bucket names in first-encounter order.
	Tags       []string `json:"tags"`
	TotalTags  int      `json:"total_tags"`
	TotalTalks int      `json:"total_talks"`
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	MissedWindow time.Duration
	DefaultLimit int
}

// Engine applies the classification rules with one resolver.
type Engine struct {
	res          *resolve.Resolver
	missedWindow time.Duration
	defaultLimit int
}

func NewEngine(res *resolve.Resolver, opts Options) *Engine {
	if res == nil {
		res = resolve.New(nil)
	}
	if opts.MissedWindow <= 0 {
		opts.MissedWindow = DefaultMissedWindow
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	return &Engine{res: res, missedWindow: opts.MissedWindow, defaultLimit: opts.DefaultLimit}
}

// Resolver exposes the engine's resolver.
func (e *Engine) Resolver() *resolve.Resolver { return e.res }

// Resolve returns the talks whose start resolves against now, in snapshot
// order, and the number that did not.
func (e *Engine) Resolve(talks []model.Talk, now time.Time) ([]Resolved, int) {
	out := make([]Resolved, 0, len(talks))
	unresolved := 0
	for i, t := range talks {
		start, ok := e.res.Resolve(t.TimeText, t.DayLabel, now)
		if !ok {
			unresolved++
			continue
		}
		out = append(out, Resolved{Talk: t, Start: start, Index: i})
	}
	return out, unresolved
}

// Upcoming returns talks starting strictly after now, soonest first.
func (e *Engine) Upcoming(talks []model.Talk, now time.Time, limit int) UpcomingResult {
	now = now.In(e.res.Location())
	sel := e.filter(talks, now, func(r Resolved) bool { return r.Start.After(now) })
	sortAscending(sel)
	sel = truncate(sel, e.limit(limit))

	items := e.items(sel, now)
	return UpcomingResult{Now: now, Talks: items, Total: len(items)}
}

// Past returns talks that started strictly before now, most recent first.
func (e *Engine) Past(talks []model.Talk, now time.Time, limit int) PastResult {
	now = now.In(e.res.Location())
	sel := e.filter(talks, now, func(r Resolved) bool { return r.Start.Before(now) })
	sortDescending(sel)
	sel = truncate(sel, e.limit(limit))

	items := e.items(sel, now)
	return PastResult{Now: now, Talks: items, Total: len(items)}
}

// Next is Upcoming with a limit of one.
func (e *Engine) Next(talks []model.Talk, now time.Time) NextResult {
	up := e.Upcoming(talks, now, 1)
	res := NextResult{Now: up.Now}
	if len(up.Talks) > 0 {
		item := up.Talks[0]
		res.Talk = &item
	}
	return res
}

// Missed returns talks that started within the missed window, most
// recently started first. Elapsed time is counted in whole minutes; a talk
// is missed when 0 < elapsed <= window.
func (e *Engine) Missed(talks []model.Talk, now time.Time) MissedResult {
	now = now.In(e.res.Location())
	window := int(e.missedWindow / time.Minute)
	sel := e.filter(talks, now, func(r Resolved) bool {
		mins := int(now.Sub(r.Start) / time.Minute)
		return mins > 0 && mins <= window
	})
	sortDescending(sel)

	items := e.items(sel, now)
	return MissedResult{Now: now, WindowMinutes: window, Talks: items, Total: len(items)}
}

// TopicsByTag groups every talk, resolvable or not, by tag.
func (e *Engine) TopicsByTag(talks []model.Talk) TopicsResult {
	res := TopicsResult{Topics: make(map[string][]TopicEntry), TotalTalks: len(talks)}

	add := func(tag string, t model.Talk) {
		if _, ok := res.Topics[tag]; !ok {
			res.Tags = append(res.Tags, tag)
		}
		res.Topics[tag] = append(res.Topics[tag], TopicEntry{
			Title:    t.Title,
			Speakers: append([]string(nil), t.Speakers...),
			TimeText: t.TimeText,
		})
	}

	for _, t := range talks {
		if len(t.Tags) == 0 {
			add(Uncategorized, t)
			continue
		}
		for _, tag := range t.Tags {
			add(tag, t)
		}
	}
	res.TotalTags = len(res.Tags)
	return res
}

func (e *Engine) filter(talks []model.Talk, now time.Time, keep func(Resolved) bool) []Resolved {
	all, _ := e.Resolve(talks, now)
	out := all[:0]
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) items(sel []Resolved, now time.Time) []Item {
	out := make([]Item, len(sel))
	for i, r := range sel {
		out[i] = Item{
			Talk:           r.Talk.Clone(),
			Start:          r.Start,
			Relative:       relative(r.Start, now),
			MinutesFromNow: int(r.Start.Sub(now) / time.Minute),
		}
	}
	return out
}

// relative renders start against now. Between one hour and one day the
// leftover minutes are kept: 4h30m reads "4 hours 30 minutes from now".
func relative(start, now time.Time) string {
	d := start.Sub(now)
	label := "from now"
	if d < 0 {
		d, label = -d, "ago"
	}
	mins := int(d % time.Hour / time.Minute)
	if d < time.Hour || d >= 24*time.Hour || mins == 0 {
		return humanize.RelTime(start, now, "ago", "from now")
	}
	hours := int(d / time.Hour)
	return english.Plural(hours, "hour", "") + " " + english.Plural(mins, "minute", "") + " " + label
}

func (e *Engine) limit(n int) int {
	if n <= 0 {
		return e.defaultLimit
	}
	return n
}

func sortAscending(rs []Resolved) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Start.Before(rs[j].Start) })
}

func sortDescending(rs []Resolved) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Start.After(rs[j].Start) })
}

func truncate(rs []Resolved, n int) []Resolved {
	if len(rs) > n {
		return rs[:n]
	}
	return rs
}
