// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_calculator_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_calculator_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AnalyzerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_calculator_analyzer_calls_total",
			Help: "Total number of analyzer invocations by outcome",
		},
		[]string{"outcome"},
	)

	AnalyzerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canvas_calculator_analyzer_duration_seconds",
			Help:    "Time taken by the analyzer to read a drawing",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_calculator_cache_lookups_total",
			Help: "Total number of result cache lookups by result",
		},
		[]string{"result"},
	)
)
