// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the SOURCE server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_messages_posted_total",
			Help: "Total community messages accepted into the authoritative log",
		},
		[]string{"with_attachment"}, // "yes" or "no"
	)

	CoursesDeposited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_courses_deposited_total",
			Help: "Total course files accepted into the catalogue",
		},
	)

	PollsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_polls_served_total",
			Help: "Total full-log polling fetches served",
		},
	)

	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_completions_total",
			Help: "Total completion calls by outcome",
		},
		[]string{"outcome"}, // "ok", "degraded", "error"
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "source_completion_duration_seconds",
			Help:    "Provider completion latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_rate_limit_hits_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)
)
