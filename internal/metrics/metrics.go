// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus metrics for palaver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Metrics holds all Prometheus metrics for palaver. Each instance owns its
// registry so several engines (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	FragmentsTotal    *prometheus.CounterVec
	StreamingInFlight prometheus.Gauge

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	Conversations prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_turns_total",
			Help: "Total number of chat turns by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	m.TurnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_turn_duration_seconds",
			Help:    "Duration of chat turns in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"backend"},
	)

	m.FragmentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_fragments_total",
			Help: "Total number of streamed response fragments applied",
		},
		[]string{"backend"},
	)

	m.StreamingInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "palaver_streaming_in_flight",
			Help: "1 while a response is being generated, 0 otherwise",
		},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palaver_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.Conversations = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "palaver_conversations",
			Help: "Number of conversations held in the store",
		},
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(backend, outcome string, fragments int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(backend, outcome).Inc()
	m.TurnDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if fragments > 0 {
		m.FragmentsTotal.WithLabelValues(backend).Add(float64(fragments))
	}
}

// SetStreaming mirrors the store's streaming flag.
func (m *Metrics) SetStreaming(on bool) {
	if m == nil {
		return
	}
	if on {
		m.StreamingInFlight.Set(1)
	} else {
		m.StreamingInFlight.Set(0)
	}
}

// SetConversations records the conversation count.
func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.Conversations.Set(float64(n))
}

// RecordHTTP records one HTTP API request.
func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
