package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agendacal/internal/agenda"
	"agendacal/internal/cache"
	"agendacal/internal/model"
	"agendacal/internal/resolve"
)

var art = time.FixedZone("ART", -3*60*60)

func newRegistry(t *testing.T, src cache.Source) (*Registry, *cache.Manager) {
	t.Helper()
	now := func() time.Time { return time.Date(2025, time.September, 23, 10, 0, 0, 0, art) }
	m := cache.New(src, cache.Options{Now: now})
	svc := agenda.NewService(m, agenda.NewEngine(resolve.New(art), agenda.Options{}), now)
	return New(svc, m, m.Validity()), m
}

func staticSource(calls *atomic.Int32) cache.Source {
	return cache.SourceFunc(func(context.Context) ([]model.Talk, error) {
		calls.Add(1)
		return []model.Talk{
			{ID: "talk-0", Title: "Keynote", TimeText: "14:30", DayLabel: "Martes 23", Tags: []string{"KEYNOTE"}},
			{ID: "talk-1", Title: "Opening", TimeText: "09:00", DayLabel: "Martes 23"},
		}, nil
	})
}

func TestList(t *testing.T) {
	var calls atomic.Int32
	r, _ := newRegistry(t, staticSource(&calls))

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
		if d.Description == "" || d.InputSchema["type"] != "object" {
			t.Errorf("%s: incomplete descriptor %+v", d.Name, d)
		}
	}
	want := "get_upcoming_talks,get_past_talks,get_topics_by_tags,get_next_talk,get_missed_talks,get_cache_info,refresh_cache"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("tools = %s", got)
	}
	if calls.Load() != 0 {
		t.Error("listing tools must not fetch")
	}
}

func TestCall_Queries(t *testing.T) {
	var calls atomic.Int32
	r, _ := newRegistry(t, staticSource(&calls))
	ctx := context.Background()

	out, err := r.Call(ctx, "get_next_talk", Args{})
	if err != nil {
		t.Fatalf("get_next_talk: %v", err)
	}
	next := out.(agenda.NextResult)
	if next.Talk == nil || next.Talk.ID != "talk-0" || next.Talk.MinutesFromNow != 270 {
		t.Errorf("next = %+v", next.Talk)
	}

	out, err = r.Call(ctx, "get_past_talks", Args{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if past := out.(agenda.PastResult); past.Total != 1 || past.Talks[0].ID != "talk-1" {
		t.Errorf("past = %+v", past)
	}

	out, err = r.Call(ctx, "get_topics_by_tags", Args{})
	if err != nil {
		t.Fatal(err)
	}
	if topics := out.(agenda.TopicsResult); topics.TotalTags != 2 || topics.TotalTalks != 2 {
		t.Errorf("topics = %+v", topics)
	}

	if calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1 (cache reused)", calls.Load())
	}
}

func TestCall_CacheInfoAndRefresh(t *testing.T) {
	var calls atomic.Int32
	r, _ := newRegistry(t, staticSource(&calls))
	ctx := context.Background()

	out, err := r.Call(ctx, "get_cache_info", Args{})
	if err != nil {
		t.Fatal(err)
	}
	if info := out.(CacheInfo); info.State != cache.StateEmpty || info.ValidityHours != 24 {
		t.Errorf("info before fetch = %+v", info)
	}

	out, err = r.Call(ctx, "refresh_cache", Args{})
	if err != nil {
		t.Fatalf("refresh_cache: %v", err)
	}
	res := out.(RefreshResult)
	if res.TalksCount != 2 || res.SnapshotID == "" || res.Status.State != cache.StateValid {
		t.Errorf("refresh = %+v", res)
	}

	if _, err := r.Call(ctx, "refresh_cache", Args{}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("fetches = %d, want 2 (refresh ignores validity)", calls.Load())
	}
}

func TestCall_Errors(t *testing.T) {
	boom := errors.New("navigation failed")
	r, _ := newRegistry(t, cache.SourceFunc(func(context.Context) ([]model.Talk, error) { return nil, boom }))
	ctx := context.Background()

	if _, err := r.Call(ctx, "get_best_talk_recommendation", Args{}); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("unknown tool err = %v", err)
	}

	_, err := r.Call(ctx, "get_upcoming_talks", Args{Limit: 500})
	if !errors.Is(err, ErrInvalidArgs) || !strings.Contains(err.Error(), "limit must be at most 100") {
		t.Errorf("limit err = %v", err)
	}

	if _, err := r.Call(ctx, "get_upcoming_talks", Args{}); !errors.Is(err, cache.ErrSourceUnavailable) {
		t.Errorf("source err = %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	cases := []struct {
		in      string
		limit   int
		wantErr bool
	}{
		{"", 0, false},
		{"null", 0, false},
		{`{"limit": 3}`, 3, false},
		{`{"limit": 3, "extra": true}`, 3, false},
		{`{"limit": -2}`, -2, false},
		{`{"limit": 101}`, 0, true},
		{`{"limit": "ten"}`, 0, true},
		{`{`, 0, true},
	}
	for _, c := range cases {
		a, err := DecodeArgs([]byte(c.in))
		if (err != nil) != c.wantErr {
			t.Errorf("DecodeArgs(%q) err = %v", c.in, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("DecodeArgs(%q) err %v is not ErrInvalidArgs", c.in, err)
		}
		if err == nil && a.Limit != c.limit {
			t.Errorf("DecodeArgs(%q) limit = %d", c.in, a.Limit)
		}
	}
}
