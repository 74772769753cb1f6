package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aggregateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farmline_analytics_aggregate_duration_seconds",
		Help:    "Analytics aggregation latency by result",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"result"})

	// queryFailures counts failed store queries by query name.
	queryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmline_analytics_query_failures_total",
		Help: "Failed analytics store queries by query",
	}, []string{"query"})
)
