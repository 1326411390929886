// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the SOP
// answering pipeline. Metrics include:
//   - Request counters (by outcome)
//   - Gate decision counters (by topic, mode, allowed)
//   - Stage latency histograms (retrieval, gate, generation, validation)
//   - Grounding failure counters
//   - Active request gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for pipeline metrics
const pipelineSubsystem = "sop_pipeline"

// PipelineMetrics holds all Prometheus metrics for the SOP answering
// pipeline. Initialize once at startup via InitMetrics().
type PipelineMetrics struct {
	// RequestsTotal counts pipeline requests by final outcome.
	// Labels: outcome (grounded, advice, refused, guard_blocked, error)
	RequestsTotal *prometheus.CounterVec

	// GateDecisionsTotal counts policy gate decisions.
	// Labels: topic, mode (grounded, advice), allowed (true, false)
	GateDecisionsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (retrieval, gate, generation, validation)
	StageDurationSeconds *prometheus.HistogramVec

	// GroundingFailuresTotal counts answers that failed citation
	// validation and were replaced with the refusal sentinel.
	GroundingFailuresTotal prometheus.Counter

	// RetrievedExcerpts measures how many candidates retrieval returned
	// before ranking.
	RetrievedExcerpts prometheus.Histogram

	// ActiveRequests tracks requests currently inside the pipeline.
	ActiveRequests prometheus.Gauge
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total pipeline requests by final outcome",
			},
			[]string{"outcome"},
		),

		GateDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "gate_decisions_total",
				Help:      "Policy gate decisions by topic, mode and allowed",
			},
			[]string{"topic", "mode", "allowed"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage pipeline latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
			},
			[]string{"stage"},
		),

		GroundingFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "grounding_failures_total",
				Help:      "Generated answers that failed citation validation",
			},
		),

		RetrievedExcerpts: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retrieved_excerpts",
				Help:      "Candidate excerpts returned by retrieval per request",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_requests",
				Help:      "Requests currently being processed by the pipeline",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Outcomes and Stages
// =============================================================================

// Outcome is the final disposition of a request for metrics labeling.
type Outcome string

const (
	// OutcomeGrounded is a validated, citation-backed answer.
	OutcomeGrounded Outcome = "grounded"

	// OutcomeAdvice is a general-guidance answer not backed by citations.
	OutcomeAdvice Outcome = "advice"

	// OutcomeRefused is any refusal surfaced to the user.
	OutcomeRefused Outcome = "refused"

	// OutcomeGuardBlocked is a request stopped before retrieval by the
	// input guard.
	OutcomeGuardBlocked Outcome = "guard_blocked"

	// OutcomeError is an internal failure (retrieval or LLM error).
	OutcomeError Outcome = "error"
)

// Stage is a pipeline stage for latency labeling.
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageGate       Stage = "gate"
	StageGeneration Stage = "generation"
	StageValidation Stage = "validation"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request by outcome.
func (m *PipelineMetrics) RecordRequest(outcome Outcome) {
	m.RequestsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordGateDecision records a policy gate decision.
func (m *PipelineMetrics) RecordGateDecision(topic, mode string, allowed bool) {
	allowedLabel := "false"
	if allowed {
		allowedLabel = "true"
	}
	m.GateDecisionsTotal.WithLabelValues(topic, mode, allowedLabel).Inc()
}

// RecordStageDuration records one stage's latency.
func (m *PipelineMetrics) RecordStageDuration(stage Stage, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(seconds)
}

// RecordGroundingFailure increments the grounding failure counter.
func (m *PipelineMetrics) RecordGroundingFailure() {
	m.GroundingFailuresTotal.Inc()
}

// RecordRetrievedExcerpts records the retrieval candidate count.
func (m *PipelineMetrics) RecordRetrievedExcerpts(n int) {
	m.RetrievedExcerpts.Observe(float64(n))
}

// RequestStarted increments the active request gauge.
func (m *PipelineMetrics) RequestStarted() {
	m.ActiveRequests.Inc()
}

// RequestEnded decrements the active request gauge.
func (m *PipelineMetrics) RequestEnded() {
	m.ActiveRequests.Dec()
}
