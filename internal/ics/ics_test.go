package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agendacal/internal/model"
	"agendacal/internal/resolve"
)

var art = time.FixedZone("ART", -3*60*60)

func feedBody() []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//agenda//EN",
		"BEGIN:VEVENT",
		"UID:keynote",
		"DTSTAMP:20250901T000000Z",
		"DTSTART:20250923T173000Z",
		"DTEND:20250923T181500Z",
		"SUMMARY:Keynote",
		"CATEGORIES:KEYNOTE,GO",
		"URL:https://example.test/keynote",
		"ATTENDEE;CN=Ana Pérez:mailto:ana@example.test",
		"ATTENDEE:mailto:luis@example.test",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20250901T000000Z",
		"DTSTART:20250922T120000Z",
		"DTEND:20250922T121500Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20250924T120000Z",
		"SUMMARY:Standup",
		"ORGANIZER;CN=Host:mailto:host@example.test",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20250901T000000Z",
		"RECURRENCE-ID:20250925T120000Z",
		"DTSTART:20250925T130000Z",
		"DTEND:20250925T131500Z",
		"SUMMARY:Standup moved",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// Tuesday 23 September 2025, 10:00 in Buenos Aires.
var feedNow = time.Date(2025, time.September, 23, 10, 0, 0, 0, art)

func TestParseICS(t *testing.T) {
	events, err := ParseICS(feedBody(), art)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	kn := events[0]
	if kn.UID != "keynote" || kn.Summary != "Keynote" || kn.URL != "https://example.test/keynote" {
		t.Errorf("keynote = %+v", kn)
	}
	if !reflect.DeepEqual(kn.Categories, []string{"KEYNOTE", "GO"}) {
		t.Errorf("categories = %v", kn.Categories)
	}
	if !reflect.DeepEqual(kn.People, []string{"Ana Pérez", "luis"}) {
		t.Errorf("people = %v", kn.People)
	}
	if !kn.Start.Equal(time.Date(2025, 9, 23, 17, 30, 0, 0, time.UTC)) {
		t.Errorf("start = %v", kn.Start)
	}

	series := events[1]
	if series.RawRRule == "" || len(series.ExDates) != 1 || series.IsOverride() {
		t.Errorf("series = %+v", series)
	}
	if !reflect.DeepEqual(series.People, []string{"Host"}) {
		t.Errorf("organizer fallback = %v", series.People)
	}
	if !events[2].IsOverride() {
		t.Error("RECURRENCE-ID event not marked as override")
	}
}

func TestParseICS_Empty(t *testing.T) {
	if _, err := ParseICS(nil, nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestExpandAndRender(t *testing.T) {
	events, err := ParseICS(feedBody(), art)
	if err != nil {
		t.Fatal(err)
	}
	occ, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: art,
		RangeStart:      feedNow.AddDate(0, 0, -1),
		RangeEnd:        feedNow.AddDate(0, 0, 14),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}

	talks := Talks(occ)
	type row struct{ title, day, start, end string }
	var got []row
	for _, tk := range talks {
		got = append(got, row{tk.Title, tk.DayLabel, tk.TimeText, tk.EndTimeText})
	}
	want := []row{
		{"Standup", "Martes 23", "09:00", "09:15"},
		{"Keynote", "Martes 23", "14:30", "15:15"},
		{"Standup moved", "Jueves 25", "10:00", "10:15"},
		{"Standup", "Viernes 26", "09:00", "09:15"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("talks =\n%v\nwant\n%v", got, want)
	}

	kn := talks[1]
	if !reflect.DeepEqual(kn.Tags, []string{"KEYNOTE", "GO"}) || len(kn.Speakers) != 2 {
		t.Errorf("keynote = %+v", kn)
	}
	seen := map[string]bool{}
	for _, tk := range talks {
		if seen[tk.ID] {
			t.Errorf("duplicate id %q", tk.ID)
		}
		seen[tk.ID] = true
	}
}

func TestExpand_RejectsInvertedRange(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: feedNow, RangeEnd: feedNow.Add(-time.Hour)})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFetcher_ConditionalAndFallback(t *testing.T) {
	var mode atomic.Int32 // 0 serve, 1 fail
	var conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mode.Load() == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(feedBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), "agendacal-test", time.Second)
	ctx := context.Background()
	url := srv.URL + "/private/feed.ics?token=secret"

	first, err := f.Fetch(ctx, url)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", first, err)
	}

	second, err := f.Fetch(ctx, url)
	if err != nil || !second.FromCache || conditional.Load() != 1 {
		t.Fatalf("second fetch = %+v, %v (conditional %d)", second.FromCache, err, conditional.Load())
	}

	mode.Store(1)
	third, err := f.Fetch(ctx, url)
	if err != nil || !third.FromCache || string(third.Body) != string(first.Body) {
		t.Fatalf("fallback fetch = %v, %v", third.FromCache, err)
	}

	// A different URL has no cached body to fall back to.
	if _, err := f.Fetch(ctx, srv.URL+"/other.ics"); err == nil {
		t.Fatal("expected error without cached body")
	} else if strings.Contains(err.Error(), "token=secret") {
		t.Errorf("error leaks URL: %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/p/abc.ics?token=1"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}

func TestFeedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody())
	}))
	defer srv.Close()

	src := NewFeedSource(NewFetcher(t.TempDir(), "", 0), FeedOptions{
		URL:         srv.URL,
		Location:    art,
		HorizonDays: 2,
		Now:         func() time.Time { return feedNow },
	})
	talks, err := src.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	// Horizon ends Thursday 25 at 10:00, exactly when the moved standup
	// starts; Friday's instance is out.
	if len(talks) != 3 {
		t.Fatalf("got %d talks: %+v", len(talks), talks)
	}
}

func vevent(uid, summary, start, end string) []string {
	return []string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20250901T000000Z",
		"DTSTART:" + start,
		"DTEND:" + end,
		"SUMMARY:" + summary,
		"END:VEVENT",
	}
}

func TestFeedSource_OnlyLabelsThatResolveBack(t *testing.T) {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//agenda//EN"}
	lines = append(lines, vevent("yesterday", "Yesterday evening", "20250922T210000Z", "20250922T220000Z")...)
	lines = append(lines, vevent("overnight", "Overnight hack", "20250923T020000Z", "20250923T040000Z")...)
	lines = append(lines, vevent("early", "Breakfast", "20250923T110000Z", "20250923T113000Z")...)
	lines = append(lines, vevent("late", "Closing", "20251019T150000Z", "20251019T160000Z")...)
	lines = append(lines, vevent("next-month", "Next month 23rd", "20251023T150000Z", "20251023T160000Z")...)
	lines = append(lines, "END:VCALENDAR", "")
	body := []byte(strings.Join(lines, "\r\n"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	src := NewFeedSource(NewFetcher(t.TempDir(), "", 0), FeedOptions{
		URL:         srv.URL,
		Location:    art,
		HorizonDays: 40,
		Now:         func() time.Time { return feedNow },
	})
	talks, err := src.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}

	var titles []string
	for _, tk := range talks {
		titles = append(titles, tk.Title)
	}
	if want := []string{"Breakfast", "Closing"}; !reflect.DeepEqual(titles, want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}

	want := map[string]time.Time{
		"Breakfast": time.Date(2025, 9, 23, 8, 0, 0, 0, art),
		"Closing":   time.Date(2025, 10, 19, 12, 0, 0, 0, art),
	}
	res := resolve.New(art)
	for _, tk := range talks {
		got, ok := res.Resolve(tk.TimeText, tk.DayLabel, feedNow)
		if !ok || !got.Equal(want[tk.Title]) {
			t.Errorf("%s (%s %s) resolves to %v, want %v", tk.Title, tk.DayLabel, tk.TimeText, got, want[tk.Title])
		}
	}
}

func TestResolvableUntil(t *testing.T) {
	cases := []struct{ now, want time.Time }{
		{time.Date(2025, 9, 23, 10, 0, 0, 0, art), time.Date(2025, 10, 23, 0, 0, 0, 0, art)},
		{time.Date(2025, 1, 31, 10, 0, 0, 0, art), time.Date(2025, 3, 1, 0, 0, 0, 0, art)},
		{time.Date(2025, 12, 5, 10, 0, 0, 0, art), time.Date(2026, 1, 5, 0, 0, 0, 0, art)},
	}
	for _, c := range cases {
		if got := resolvableUntil(c.now); !got.Equal(c.want) {
			t.Errorf("resolvableUntil(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2025, 9, 23, 14, 30, 0, 0, art)
	events := []ExportEvent{
		{
			Talk: model.Talk{
				ID: "talk-0", Title: "Keynote", Tags: []string{"KEYNOTE", "GO"},
				Speakers: []string{"Ana"}, URL: "https://example.test/k",
			},
			Start: start,
			End:   start.Add(45 * time.Minute),
		},
		{
			Talk:  model.Talk{ID: "talk-1", Title: "Lightning"},
			Start: start.Add(time.Hour),
		},
	}

	body := Export(events, feedNow)
	if !strings.Contains(body, "METHOD:PUBLISH") {
		t.Errorf("missing METHOD:\n%s", body)
	}

	parsed, err := ParseICS([]byte(body), time.UTC)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d events", len(parsed))
	}
	kn := parsed[0]
	if kn.UID != "talk-0@agendacal" || kn.Summary != "Keynote" || kn.URL != "https://example.test/k" {
		t.Errorf("keynote = %+v", kn)
	}
	if !kn.Start.Equal(start) || !kn.End.Equal(start.Add(45*time.Minute)) {
		t.Errorf("times = %v - %v", kn.Start, kn.End)
	}
	if !reflect.DeepEqual(kn.Categories, []string{"KEYNOTE", "GO"}) {
		t.Errorf("categories = %v", kn.Categories)
	}
	if !parsed[1].End.Equal(parsed[1].Start) {
		t.Errorf("event without DTEND should end at start, got %v", parsed[1].End)
	}
}
