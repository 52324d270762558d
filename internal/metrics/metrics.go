package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agenda_cache_fetch_total",
		Help: "Event source fetches, labelled by result (success, failure).",
	}, []string{"result"})

	CacheFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agenda_cache_fetch_duration_seconds",
		Help:    "Wall time of one event source fetch.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	CacheStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agenda_cache_stale_serves_total",
		Help: "Times a failed refresh fell back to the previous snapshot.",
	})

	CacheTalks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agenda_cache_talks",
		Help: "Number of talks in the current snapshot.",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agenda_tool_calls_total",
		Help: "Query tool invocations, labelled by tool and status (ok, error, invalid).",
	}, []string{"tool", "status"})
)
