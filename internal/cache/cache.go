// Package cache owns the single in-memory agenda snapshot.
//
// A Manager reuses its snapshot while it is younger than the validity
// window, refreshes it from the event source otherwise, and falls back to
// the previous snapshot when a refresh fails. At most one fetch runs at a
// time: callers that arrive while a fetch is in flight wait for it and all
// receive its result.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	appLog "agendacal/internal/log"
	"agendacal/internal/metrics"
	"agendacal/internal/model"
)

// DefaultValidity is how long a snapshot is served without refetching.
const DefaultValidity = 24 * time.Hour

var (
	// ErrSourceUnavailable is returned when the event source failed and no
	// previous snapshot exists to fall back to.
	ErrSourceUnavailable = errors.New("event source unavailable")

	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("cache: closed")
)

// Source supplies the full current list of talks. Implementations bound
// their own fetch duration; the Manager never cancels a fetch.
type Source interface {
	FetchEvents(ctx context.Context) ([]model.Talk, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]model.Talk, error)

func (f SourceFunc) FetchEvents(ctx context.Context) ([]model.Talk, error) { return f(ctx) }

// Options tunes a Manager. Zero values select defaults.
type Options struct {
	// Validity is the snapshot freshness window (DefaultValidity).
	Validity time.Duration
	// Now is the clock (time.Now).
	Now func() time.Time
}

const flightKey = "snapshot"

// Manager is the cache state plus the single-flight refresh guard.
type Manager struct {
	src      Source
	validity time.Duration
	now      func() time.Time
	log      appLog.Logger

	group   singleflight.Group
	waiters atomic.Int32 // callers blocked on the current flight

	mu        sync.RWMutex
	snap      *model.Snapshot
	inFlight  bool
	idle      chan struct{} // closed when the in-flight fetch finishes
	closed    bool
	lastErr   error
	lastErrAt time.Time
}

// New creates a Manager with no snapshot. Call Start to begin the initial
// fetch in the background, or let the first Snapshot call trigger it.
func New(src Source, opts Options) *Manager {
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		src:      src,
		validity: opts.Validity,
		now:      opts.Now,
		log:      appLog.Named("cache"),
	}
}

// Validity reports the configured freshness window.
func (m *Manager) Validity() time.Duration { return m.validity }

// Start begins the initial fetch without waiting for it. Queries issued
// meanwhile join the same fetch.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("initializing cache")
	_ = m.join(ctx, false)
}

// Snapshot returns the current snapshot, refreshing it first when it is
// absent or older than the validity window. If the refresh fails and a
// previous snapshot exists, that snapshot is returned unchanged and the
// failure is only logged. Without a previous snapshot the failure is
// returned wrapped in ErrSourceUnavailable.
//
// If ctx ends while waiting on an in-flight fetch, Snapshot returns
// ctx.Err(); the fetch itself keeps running and still updates the cache.
func (m *Manager) Snapshot(ctx context.Context) (model.Snapshot, error) {
	m.mu.RLock()
	snap, inFlight, closed := m.snap, m.inFlight, m.closed
	m.mu.RUnlock()

	if closed {
		return model.Snapshot{}, ErrClosed
	}
	if !inFlight && snap != nil && m.fresh(snap) {
		return snap.Clone(), nil
	}
	res, err := m.wait(ctx, m.join(ctx, false))
	if err != nil {
		return model.Snapshot{}, err
	}
	return res.snap.Clone(), nil
}

// ForceRefresh fetches regardless of the validity window. The previous
// snapshot stays as the fallback: if the fetch fails it is returned
// unchanged. A fetch already in flight is joined rather than duplicated.
func (m *Manager) ForceRefresh(ctx context.Context) (model.Snapshot, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return model.Snapshot{}, ErrClosed
	}

	m.log.Info("forcing refresh")
	res, err := m.wait(ctx, m.join(ctx, true))
	if err != nil {
		return model.Snapshot{}, err
	}
	if !res.attempted {
		// We joined a non-forced flight that found the snapshot fresh and
		// skipped the fetch; run our own.
		res, err = m.wait(ctx, m.join(ctx, true))
		if err != nil {
			return model.Snapshot{}, err
		}
	}
	return res.snap.Clone(), nil
}

// Close waits (bounded by ctx) for an in-flight fetch to finish and then
// rejects further queries. The snapshot is dropped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	idle := m.idle
	inFlight := m.inFlight
	m.mu.Unlock()

	if inFlight && idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.snap = nil
	m.mu.Unlock()
	return nil
}

type flightResult struct {
	snap model.Snapshot
	// attempted is false when the flight found a fresh snapshot and
	// skipped the source entirely.
	attempted bool
}

// join starts the fetch, or attaches to the one already running. The
// manager reports itself refreshing from here on, before the flight is
// scheduled.
func (m *Manager) join(ctx context.Context, force bool) <-chan singleflight.Result {
	m.mu.Lock()
	m.inFlight = true
	m.mu.Unlock()

	// The fetch must outlive any single caller.
	fetchCtx := context.WithoutCancel(ctx)
	return m.group.DoChan(flightKey, func() (any, error) {
		return m.fetch(fetchCtx, force)
	})
}

func (m *Manager) wait(ctx context.Context, ch <-chan singleflight.Result) (flightResult, error) {
	m.waiters.Add(1)
	defer m.waiters.Add(-1)

	select {
	case r := <-ch:
		if r.Err != nil {
			return flightResult{}, r.Err
		}
		return r.Val.(flightResult), nil
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	}
}

// fetch runs inside the single flight. It is the only writer of m.snap.
func (m *Manager) fetch(ctx context.Context, force bool) (flightResult, error) {
	m.mu.Lock()
	if !force && m.snap != nil && m.fresh(m.snap) {
		// A flight that finished just before ours already refreshed it.
		snap := *m.snap
		m.inFlight = false
		m.mu.Unlock()
		return flightResult{snap: snap}, nil
	}
	hadSnapshot := m.snap != nil
	m.inFlight = true
	m.idle = make(chan struct{})
	idle := m.idle
	m.mu.Unlock()

	if hadSnapshot {
		m.log.Info("refreshing cache", "forced", force)
	}

	started := time.Now()
	talks, err := m.src.FetchEvents(ctx)
	took := time.Since(started)
	metrics.CacheFetchDuration.Observe(took.Seconds())

	m.mu.Lock()
	defer func() {
		m.inFlight = false
		close(idle)
		m.mu.Unlock()
	}()

	now := m.now()

	if err != nil {
		metrics.CacheFetches.WithLabelValues("failure").Inc()
		m.lastErr = err
		m.lastErrAt = now

		if m.snap != nil {
			metrics.CacheStaleServes.Inc()
			m.log.Error("refresh failed; serving stale cache", err,
				"age_minutes", int(m.snap.Age(now)/time.Minute),
				"snapshot", m.snap.ID,
			)
			return flightResult{snap: *m.snap, attempted: true}, nil
		}
		m.log.Error("fetch failed and no cached snapshot exists", err, "took", took)
		return flightResult{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	owned := make([]model.Talk, len(talks))
	for i, t := range talks {
		owned[i] = t.Clone()
	}
	snap := &model.Snapshot{
		ID:        uuid.NewString(),
		Talks:     owned,
		FetchedAt: now,
	}
	m.snap = snap
	m.lastErr = nil
	m.lastErrAt = time.Time{}

	metrics.CacheFetches.WithLabelValues("success").Inc()
	metrics.CacheTalks.Set(float64(len(owned)))
	m.log.Info("cache ready", "talks", len(owned), "took", took, "snapshot", snap.ID)

	return flightResult{snap: *snap, attempted: true}, nil
}

func (m *Manager) fresh(s *model.Snapshot) bool {
	return s.Age(m.now()) <= m.validity
}
