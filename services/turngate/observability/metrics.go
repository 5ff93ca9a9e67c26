// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the turn pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "turngate"
	pipelineSubsys   = "pipeline"
)

// TurnMetrics holds all Prometheus collectors for the turn pipeline.
//
// # Metrics
//
//   - TurnsTotal: Counter of turns by path and status
//   - TokensTotal: Counter of streamed tokens by path
//   - TimeToFirstTokenSeconds: Histogram of first-token latency
//   - TurnDurationSeconds: Histogram of turn duration by path and status
//   - ActiveStreams: Gauge of currently active streams
//   - ErrorsTotal: Counter of errors by stage and code
//   - ToolCallsTotal: Counter of executed tool calls by capability
//   - DegradedTurnsTotal: Counter of turns that completed degraded
//     (partial retrieval or a recorder failure that did not abort the
//     turn)
//
// # Thread Safety
//
// All operations are thread-safe.
type TurnMetrics struct {
	TurnsTotal              *prometheus.CounterVec
	TokensTotal             *prometheus.CounterVec
	TimeToFirstTokenSeconds *prometheus.HistogramVec
	TurnDurationSeconds     *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
	ToolCallsTotal          *prometheus.CounterVec
	DegradedTurnsTotal      prometheus.Counter
}

// DefaultMetrics is the singleton instance of TurnMetrics.
// Initialized by InitMetrics(). Nil checks guard every use so tests can
// run without registration.
var DefaultMetrics *TurnMetrics

// Path labels the responder path that produced a turn.
type Path string

const (
	PathStreaming Path = "streaming"
	PathToolLoop  Path = "tool_loop"
)

// InitMetrics initializes the default metrics instance.
//
// Creates and registers all Prometheus collectors on the default registry.
// Call once at startup; a second call panics with a duplicate registration.
func InitMetrics() *TurnMetrics {
	DefaultMetrics = &TurnMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "turns_total",
				Help:      "Total turns by responder path and status",
			},
			[]string{"path", "status"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "tokens_total",
				Help:      "Total streamed tokens by responder path",
			},
			[]string{"path"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from turn accept to first streamed token",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"path"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "turn_duration_seconds",
				Help:      "Total turn duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"path", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "active_streams",
				Help:      "Currently active turn streams",
			},
			[]string{"path"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "errors_total",
				Help:      "Total turn failures by stage and error code",
			},
			[]string{"stage", "code"},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "tool_calls_total",
				Help:      "Total executed tool calls by capability and status",
			},
			[]string{"capability", "status"},
		),

		DegradedTurnsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsys,
				Name:      "degraded_turns_total",
				Help:      "Turns that completed degraded (partial retrieval or lost taps)",
			},
		),
	}

	return DefaultMetrics
}

// RecordTurn records a completed turn.
func (m *TurnMetrics) RecordTurn(path Path, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.TurnsTotal.WithLabelValues(string(path), status).Inc()
}

// RecordError records a pipeline failure at the given stage.
func (m *TurnMetrics) RecordError(stage, code string) {
	m.ErrorsTotal.WithLabelValues(stage, code).Inc()
}

// RecordTokens adds streamed token counts for a path.
func (m *TurnMetrics) RecordTokens(path Path, n int) {
	m.TokensTotal.WithLabelValues(string(path)).Add(float64(n))
}

// RecordToolCall records one executed tool call.
func (m *TurnMetrics) RecordToolCall(capability string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(capability, status).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *TurnMetrics) StreamStarted(path Path) {
	m.ActiveStreams.WithLabelValues(string(path)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *TurnMetrics) StreamEnded(path Path) {
	m.ActiveStreams.WithLabelValues(string(path)).Dec()
}

// RecordTimeToFirstToken records first-token latency.
func (m *TurnMetrics) RecordTimeToFirstToken(path Path, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(path)).Observe(seconds)
}

// RecordTurnDuration records total turn duration.
func (m *TurnMetrics) RecordTurnDuration(path Path, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.TurnDurationSeconds.WithLabelValues(string(path), status).Observe(seconds)
}

// RecordDegradedTurn counts a turn that completed in a degraded mode.
func (m *TurnMetrics) RecordDegradedTurn() {
	m.DegradedTurnsTotal.Inc()
}
