// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a PipelineMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *PipelineMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "requests_total",
			Help:      "Total pipeline requests by final outcome",
		},
		[]string{"outcome"},
	)

	gateDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "gate_decisions_total",
			Help:      "Policy gate decisions by topic, mode and allowed",
		},
		[]string{"topic", "mode", "allowed"},
	)

	stageDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
		[]string{"stage"},
	)

	groundingFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "grounding_failures_total",
			Help:      "Generated answers that failed citation validation",
		},
	)

	retrievedExcerpts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "retrieved_excerpts",
			Help:      "Candidate excerpts returned by retrieval per request",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "active_requests",
			Help:      "Requests currently inside the pipeline",
		},
	)

	reg.MustRegister(requestsTotal, gateDecisionsTotal, stageDurationSeconds,
		groundingFailuresTotal, retrievedExcerpts, activeRequests)

	return &PipelineMetrics{
		RequestsTotal:          requestsTotal,
		GateDecisionsTotal:     gateDecisionsTotal,
		StageDurationSeconds:   stageDurationSeconds,
		GroundingFailuresTotal: groundingFailuresTotal,
		RetrievedExcerpts:      retrievedExcerpts,
		ActiveRequests:         activeRequests,
	}
}

// ============================================================================
// Helper Method Tests
// ============================================================================

func TestRecordRequest_IncrementsByOutcome(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(OutcomeGrounded)
	m.RecordRequest(OutcomeGrounded)
	m.RecordRequest(OutcomeRefused)

	grounded := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(string(OutcomeGrounded)))
	if grounded != 2 {
		t.Errorf("Expected 2 grounded requests, got %f", grounded)
	}
	refused := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(string(OutcomeRefused)))
	if refused != 1 {
		t.Errorf("Expected 1 refused request, got %f", refused)
	}
	advice := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(string(OutcomeAdvice)))
	if advice != 0 {
		t.Errorf("Expected 0 advice requests, got %f", advice)
	}
}

func TestRecordGateDecision_LabelsAllowedAsString(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordGateDecision("isolation_loto", "grounded", true)
	m.RecordGateDecision("isolation_loto", "grounded", false)
	m.RecordGateDecision("isolation_loto", "grounded", false)

	allowed := testutil.ToFloat64(m.GateDecisionsTotal.WithLabelValues("isolation_loto", "grounded", "true"))
	if allowed != 1 {
		t.Errorf("Expected 1 allowed decision, got %f", allowed)
	}
	denied := testutil.ToFloat64(m.GateDecisionsTotal.WithLabelValues("isolation_loto", "grounded", "false"))
	if denied != 2 {
		t.Errorf("Expected 2 denied decisions, got %f", denied)
	}
}

func TestRecordStageDuration_ObservesPerStage(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStageDuration(StageRetrieval, 0.02)
	m.RecordStageDuration(StageRetrieval, 0.04)
	m.RecordStageDuration(StageGeneration, 1.5)

	count := testutil.CollectAndCount(m.StageDurationSeconds)
	if count != 2 {
		t.Errorf("Expected 2 stage series, got %d", count)
	}
}

func TestRecordGroundingFailure_Increments(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordGroundingFailure()
	m.RecordGroundingFailure()

	if got := testutil.ToFloat64(m.GroundingFailuresTotal); got != 2 {
		t.Errorf("Expected 2 grounding failures, got %f", got)
	}
}

func TestActiveRequests_GaugeBalances(t *testing.T) {
	m := newTestMetrics(t)

	m.RequestStarted()
	m.RequestStarted()
	if got := testutil.ToFloat64(m.ActiveRequests); got != 2 {
		t.Errorf("Expected gauge at 2, got %f", got)
	}

	m.RequestEnded()
	m.RequestEnded()
	if got := testutil.ToFloat64(m.ActiveRequests); got != 0 {
		t.Errorf("Expected gauge back at 0, got %f", got)
	}
}
