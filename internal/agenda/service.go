package agenda

import (
	"context"
	"time"

	"agendacal/internal/model"
)

// SnapshotProvider is the part of the cache the query service reads.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// Service answers the classification queries against the live cache,
// using its clock as now. Cache errors are returned as-is.
type Service struct {
	cache  SnapshotProvider
	engine *Engine
	now    func() time.Time
}

func NewService(cache SnapshotProvider, engine *Engine, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{cache: cache, engine: engine, now: now}
}

func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) Upcoming(ctx context.Context, limit int) (UpcomingResult, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return UpcomingResult{}, err
	}
	return s.engine.Upcoming(snap.Talks, s.now(), limit), nil
}

func (s *Service) Past(ctx context.Context, limit int) (PastResult, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return PastResult{}, err
	}
	return s.engine.Past(snap.Talks, s.now(), limit), nil
}

func (s *Service) Next(ctx context.Context) (NextResult, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return NextResult{}, err
	}
	return s.engine.Next(snap.Talks, s.now()), nil
}

func (s *Service) Missed(ctx context.Context) (MissedResult, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return MissedResult{}, err
	}
	return s.engine.Missed(snap.Talks, s.now()), nil
}

func (s *Service) TopicsByTag(ctx context.Context) (TopicsResult, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return TopicsResult{}, err
	}
	return s.engine.TopicsByTag(snap.Talks), nil
}

// Schedule returns every resolvable talk of the current snapshot in start
// order, for calendar export.
func (s *Service) Schedule(ctx context.Context) ([]Resolved, time.Time, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	now := s.now().In(s.engine.res.Location())
	all, _ := s.engine.Resolve(snap.Talks, now)
	sortAscending(all)
	return all, now, nil
}
