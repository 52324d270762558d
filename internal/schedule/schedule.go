// Package schedule keeps the agenda cache warm on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"agendacal/internal/cache"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// Snapshotter is satisfied by the cache manager. Calling Snapshot only
// fetches when the cached snapshot is absent or expired.
type Snapshotter interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
	Status() cache.Status
}

// Scheduler runs a cache check on every tick of a cron expression. Ticks
// that arrive while the previous check still runs are skipped.
//
// A tick only fetches for a snapshot that expired on its own. Once a fetch
// has failed the scheduler stays quiet until a query, a forced refresh or
// a later successful fetch changes the cache; it never retries by itself.
type Scheduler struct {
	cron    *cron.Cron
	target  Snapshotter
	timeout time.Duration
	log     appLog.Logger
}

// New parses spec (standard five-field cron, or descriptors such as
// "@every 15m") in loc. timeout bounds how long one tick waits on the cache.
func New(spec string, loc *time.Location, target Snapshotter, timeout time.Duration) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	s := &Scheduler{target: target, timeout: timeout, log: appLog.Named("schedule")}

	logger := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule: bad refresh spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info("refresh scheduled", "next", e.Next)
	}
}

// Stop halts the schedule and waits, bounded by ctx, for a running tick.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if st := s.target.Status(); failedSinceFetch(st) {
		s.log.Debug("scheduled cache check skipped; last fetch failed",
			"state", string(st.State), "last_error", st.LastError)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snap, err := s.target.Snapshot(ctx)
	if err != nil {
		s.log.Error("scheduled cache check failed", err)
		return
	}
	s.log.Debug("scheduled cache check", "snapshot", snap.ID, "talks", len(snap.Talks))
}

// failedSinceFetch reports whether the latest fetch attempt failed. The
// cache clears its last error on every successful fetch, so any recorded
// error is newer than the snapshot it reports.
func failedSinceFetch(st cache.Status) bool {
	if st.LastErrorAt == nil {
		return false
	}
	return st.FetchedAt == nil || !st.LastErrorAt.Before(*st.FetchedAt)
}

// cronLogger adapts our logger to cron.Logger.
type cronLogger struct{ l appLog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) { c.l.Error("cron: "+msg, err, kv...) }
