// Package tools exposes the agenda queries as named tools with a JSON
// argument schema, the shape remote assistants call them in.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agendacal/internal/agenda"
	"agendacal/internal/cache"
	appLog "agendacal/internal/log"
	"agendacal/internal/metrics"
	"agendacal/internal/model"
)

// MaxLimit is the largest limit a caller may request.
const MaxLimit = 100

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid arguments")
)

// Args are the arguments shared by every tool. Limit <= 0 selects the
// default limit.
type Args struct {
	Limit int `json:"limit" validate:"max=100"`
}

// Cache is the cache surface the status and refresh tools need.
type Cache interface {
	ForceRefresh(ctx context.Context) (model.Snapshot, error)
	Status() cache.Status
}

// Descriptor is the public description of a tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type handler func(ctx context.Context, args Args) (any, error)

type tool struct {
	Descriptor
	run handler
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools  []tool
	byName map[string]int
	log    appLog.Logger
}

// CacheInfo is the get_cache_info result.
type CacheInfo struct {
	cache.Status
	ValidityHours int `json:"validity_hours"`
}

// RefreshResult is the refresh_cache result.
type RefreshResult struct {
	SnapshotID string       `json:"snapshot_id"`
	TalksCount int          `json:"talks_count"`
	FetchedAt  time.Time    `json:"fetched_at"`
	Status     cache.Status `json:"cache"`
}

func New(svc *agenda.Service, c Cache, validity time.Duration) *Registry {
	r := &Registry{byName: make(map[string]int), log: appLog.Named("tools")}

	r.add("get_upcoming_talks",
		"Returns the next talks after the current time, soonest first. Includes URLs when available.",
		limitSchema(),
		func(ctx context.Context, a Args) (any, error) { return svc.Upcoming(ctx, a.Limit) })

	r.add("get_past_talks",
		"Returns talks that already started, most recent first. Includes URLs when available.",
		limitSchema(),
		func(ctx context.Context, a Args) (any, error) { return svc.Past(ctx, a.Limit) })

	r.add("get_topics_by_tags",
		"Lists the available topics grouped by tag.",
		emptySchema(),
		func(ctx context.Context, _ Args) (any, error) { return svc.TopicsByTag(ctx) })

	r.add("get_next_talk",
		"Returns the closest upcoming talk. Includes its URL when available.",
		emptySchema(),
		func(ctx context.Context, _ Args) (any, error) { return svc.Next(ctx) })

	r.add("get_missed_talks",
		"Returns talks that started within the last two hours, most recent first.",
		emptySchema(),
		func(ctx context.Context, _ Args) (any, error) { return svc.Missed(ctx) })

	r.add("get_cache_info",
		"Reports the agenda cache state: last update, remaining validity and talk count.",
		emptySchema(),
		func(context.Context, Args) (any, error) {
			return CacheInfo{Status: c.Status(), ValidityHours: int(validity / time.Hour)}, nil
		})

	r.add("refresh_cache",
		"Fetches the agenda again regardless of cache age. Keeps the previous data if the fetch fails.",
		emptySchema(),
		func(ctx context.Context, _ Args) (any, error) {
			snap, err := c.ForceRefresh(ctx)
			if err != nil {
				return nil, err
			}
			return RefreshResult{
				SnapshotID: snap.ID,
				TalksCount: len(snap.Talks),
				FetchedAt:  snap.FetchedAt,
				Status:     c.Status(),
			}, nil
		})

	return r
}

func (r *Registry) add(name, desc string, schema map[string]any, run handler) {
	r.byName[name] = len(r.tools)
	r.tools = append(r.tools, tool{
		Descriptor: Descriptor{Name: name, Description: desc, InputSchema: schema},
		run:        run,
	})
}

// List returns the tool descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor
	}
	return out
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Call validates args and runs the named tool.
func (r *Registry) Call(ctx context.Context, name string, args Args) (any, error) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if err := ValidateArgs(args); err != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return nil, err
	}

	started := time.Now()
	out, err := r.tools[idx].run(ctx, args)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		r.log.Error("tool failed", err, "tool", name, "took", time.Since(started))
		return nil, err
	}
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	r.log.Debug("tool ok", "tool", name, "limit", args.Limit, "took", time.Since(started))
	return out, nil
}

func limitSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "number",
				"description": "Maximum number of talks to return (default: 5)",
				"default":     agenda.DefaultLimit,
				"maximum":     MaxLimit,
			},
		},
	}
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
