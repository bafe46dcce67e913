package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchCyclesStarted tracks query fetch cycles per hook name
	FetchCyclesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordview_fetch_cycles_started_total",
			Help: "Total number of query fetch cycles started",
		},
		[]string{"query"},
	)

	// FetchCyclesSettled tracks settled cycles by outcome (data, error, stale)
	FetchCyclesSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordview_fetch_cycles_settled_total",
			Help: "Total number of query fetch cycles settled, by outcome",
		},
		[]string{"query", "outcome"},
	)

	// MutationsTotal tracks mutation calls by outcome
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordview_mutations_total",
			Help: "Total number of mutation calls, by outcome",
		},
		[]string{"mutation", "outcome"},
	)

	// CacheLookups tracks entity cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordview_cache_lookups_total",
			Help: "Total number of entity cache lookups, by result",
		},
		[]string{"cache", "result"},
	)

	// SharedCalls tracks callers that joined an in-flight identical request
	SharedCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recordview_dedup_shared_calls_total",
			Help: "Total number of remote calls served by an already in-flight request",
		},
	)

	// SourceLatency tracks remote call latency
	SourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordview_source_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

const (
	OutcomeData  = "data"
	OutcomeError = "error"
	OutcomeStale = "stale"
)
