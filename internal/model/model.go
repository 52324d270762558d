package model

import "time"

// MaxSpeakers caps Talk.Speakers; sources truncate to it.
const MaxSpeakers = 3

// Talk is one raw agenda entry exactly as an event source delivered it.
// Day and time are free text; they are only turned into instants at query
// time (see internal/resolve), because "now" moves between queries.
type Talk struct {
	// ID is unique within a snapshot but not stable across snapshots.
	ID    string `json:"id"`
	Title string `json:"title"`

	Speakers []string `json:"speakers"`

	// TimeText should contain an HH:MM start time; it may be malformed.
	TimeText string `json:"time_text"`
	// EndTimeText is informational.
	EndTimeText string `json:"end_time_text,omitempty"`

	Tags []string `json:"tags"`

	// DayLabel should contain a weekday name and a day of month,
	// e.g. "Martes 23".
	DayLabel string `json:"day"`

	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	RawExcerpt  string `json:"raw_excerpt,omitempty"`
}

// Clone returns a deep copy so callers can never alias cached slices.
func (t Talk) Clone() Talk {
	out := t
	if t.Speakers != nil {
		out.Speakers = append([]string(nil), t.Speakers...)
	}
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	return out
}

// Snapshot is one complete fetch result. A snapshot is replaced as a
// whole; it is never mutated after construction.
type Snapshot struct {
	// ID identifies the fetch that produced the snapshot (for logs/status).
	ID string `json:"id"`

	// Talks keeps source order, which is not chronological.
	Talks []Talk `json:"talks"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Talks = make([]Talk, len(s.Talks))
	for i, t := range s.Talks {
		out.Talks[i] = t.Clone()
	}
	return out
}

// Age reports how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
