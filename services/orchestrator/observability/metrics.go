// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat service.
//
// # Description
//
// Metrics cover the streaming chat pipeline:
//   - Request counters (by status)
//   - Frame counters (by frame kind)
//   - Delta counters (by model key)
//   - Stream duration histograms
//   - Active stream gauge
//   - Error counters (by error code)
//
// Exposed via the /metrics endpoint for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chatrelay"

const streamingSubsystem = "streaming"

// ErrorCode categorizes a failure for the errors counter.
type ErrorCode string

const (
	// ErrorCodeAuth marks a bearer token rejection.
	ErrorCodeAuth ErrorCode = "auth"

	// ErrorCodeValidation marks a request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeRetrievalDegraded marks a mid-request fallback to general
	// mode after a retrieval failure. Recovered, never fatal.
	ErrorCodeRetrievalDegraded ErrorCode = "retrieval_degraded"

	// ErrorCodeGeneration marks a model backend failure during streaming.
	ErrorCodeGeneration ErrorCode = "generation"

	// ErrorCodePersistence marks a history write failure after a
	// successful generation.
	ErrorCodePersistence ErrorCode = "persistence"
)

// StreamingMetrics holds all Prometheus metrics for the streaming chat
// pipeline. Initialize once at startup via InitMetrics, or with a private
// registry via NewStreamingMetrics in tests.
type StreamingMetrics struct {
	// RequestsTotal counts streaming requests.
	// Labels: status (success, error)
	RequestsTotal *prometheus.CounterVec

	// FramesTotal counts frames written to clients.
	// Labels: kind (message, newChat, info, warning, error, end)
	FramesTotal *prometheus.CounterVec

	// DeltasTotal counts model text deltas relayed.
	// Labels: model (the public model key)
	DeltasTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts failures by category.
	// Labels: error_code
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide metrics instance, set by InitMetrics.
var DefaultMetrics *StreamingMetrics

// InitMetrics creates the default metrics instance on the global
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = NewStreamingMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewStreamingMetrics creates and registers all streaming metrics on the
// given registerer.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)

	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming chat requests by status",
			},
			[]string{"status"},
		),

		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "frames_total",
				Help:      "Total stream frames written by frame kind",
			},
			[]string{"kind"},
		),

		DeltasTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "deltas_total",
				Help:      "Total model text deltas relayed by model key",
			},
			[]string{"model"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total failures by error code",
			},
			[]string{"error_code"},
		),
	}
}

// RecordRequest records a completed streaming request.
func (m *StreamingMetrics) RecordRequest(success bool) {
	m.RequestsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordFrame records one frame written to the client.
func (m *StreamingMetrics) RecordFrame(kind string) {
	m.FramesTotal.WithLabelValues(kind).Inc()
}

// RecordDelta records one model text delta relayed to the client.
func (m *StreamingMetrics) RecordDelta(modelKey string) {
	m.DeltasTotal.WithLabelValues(modelKey).Inc()
}

// RecordError records a categorized failure.
func (m *StreamingMetrics) RecordError(code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordStreamDuration records the total stream duration.
func (m *StreamingMetrics) RecordStreamDuration(seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(statusLabel(success)).Observe(seconds)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
