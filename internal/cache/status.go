package cache

import "time"

// State is the coarse cache state reported by Status.
type State string

const (
	// StateInitializing: a fetch is running and there is no snapshot yet.
	StateInitializing State = "initializing"
	// StateEmpty: no snapshot and nothing running. Only seen before Start
	// or after a failed first fetch.
	StateEmpty State = "empty"
	// StateExpired: a snapshot exists but is past the validity window.
	StateExpired State = "expired"
	// StateValid: a fresh snapshot exists.
	StateValid State = "valid"
)

// Status is a read-only report on the cache.
type Status struct {
	State   State  `json:"status"`
	Message string `json:"message"`

	// Refreshing is true while any fetch runs, including a refresh over an
	// existing snapshot (State then still reports that snapshot).
	Refreshing bool `json:"refreshing"`
	// Waiters counts callers currently blocked on the running fetch.
	Waiters int `json:"waiters"`

	SnapshotID string     `json:"snapshot_id,omitempty"`
	TalksCount int        `json:"talks_count"`
	AgeMinutes int        `json:"age_minutes"`
	HoursLeft  int        `json:"hours_left"`
	FetchedAt  *time.Time `json:"fetched_at,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Status reports the cache state without triggering any fetch.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Status
	st.Refreshing = m.inFlight
	st.Waiters = int(m.waiters.Load())
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
		at := m.lastErrAt
		st.LastErrorAt = &at
	}

	if m.snap == nil {
		if m.inFlight {
			st.State = StateInitializing
			st.Message = "Cache is being initialized; the agenda is being fetched for the first time"
		} else {
			st.State = StateEmpty
			st.Message = "No cache available; it will be created on the next request"
		}
		return st
	}

	now := m.now()
	age := m.snap.Age(now)
	fetched := m.snap.FetchedAt
	until := fetched.Add(m.validity)

	st.SnapshotID = m.snap.ID
	st.TalksCount = len(m.snap.Talks)
	st.AgeMinutes = int(age / time.Minute)
	st.FetchedAt = &fetched
	st.ValidUntil = &until

	if age > m.validity {
		st.State = StateExpired
		st.Message = "Cache expired; it will refresh on the next request"
		return st
	}
	st.State = StateValid
	st.HoursLeft = int((m.validity - age) / time.Hour)
	st.Message = "Cache is valid and active"
	return st
}
