package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_provider_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropwatch_provider_latency_seconds",
			Help:    "Provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	PayloadCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_payload_cache_lookups_total",
			Help: "Raw payload cache lookups by result",
		},
		[]string{"provider", "result"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropwatch_analyses_total",
			Help: "Total crop health analyses by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	PayloadsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cropwatch_payloads_pruned_total",
			Help: "Cached payloads removed by retention pruning",
		},
	)
)
