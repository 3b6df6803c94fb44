// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration observes HTTP handler latency by route and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkloom_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// EnrichmentTotal counts enrichment passes by outcome
	// (enriched or empty).
	EnrichmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkloom_enrichment_total",
		Help: "Enrichment pipeline runs.",
	}, []string{"outcome"})

	// SearchTotal counts natural-language searches by outcome
	// (ok, empty_corpus, rate_limited, quota_exhausted, upstream_error).
	SearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkloom_search_total",
		Help: "Natural-language search requests.",
	}, []string{"outcome"})
)
