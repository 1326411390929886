// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSOP/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// Compile-time interface implementation checks.
var (
	_ AuditSink = (*WeaviateAuditSink)(nil)
	_ AuditSink = (*SlogAuditSink)(nil)
)

// AuditSink records per-request audit entries. Recording is best-effort:
// the pipeline calls it fire-and-forget and an audit failure never fails
// the user's request, but every failure is logged.
type AuditSink interface {
	Record(ctx context.Context, rec *datatypes.AuditRecord)
}

// auditWriteTimeout bounds each audit write so a slow store cannot pile
// up goroutines behind it.
const auditWriteTimeout = 10 * time.Second

// WeaviateAuditSink persists audit records to the AuditRecord class.
type WeaviateAuditSink struct {
	client *weaviate.Client
}

// NewWeaviateAuditSink creates a sink over the given client.
// The client must not be nil.
func NewWeaviateAuditSink(client *weaviate.Client) *WeaviateAuditSink {
	return &WeaviateAuditSink{client: client}
}

// Record implements the AuditSink interface.
//
// The write uses its own timeout-bounded context, detached from the
// request: the caller's context is usually already canceled by the time
// the fire-and-forget goroutine runs.
func (s *WeaviateAuditSink) Record(_ context.Context, rec *datatypes.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	_, err := s.client.Data().Creator().
		WithClassName("AuditRecord").
		WithProperties(rec.ToMap()).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to write audit record",
			"request_id", rec.RequestId,
			"session_id", rec.SessionId,
			"error", err,
		)
		return
	}
	slog.Debug("Audit record written", "request_id", rec.RequestId)
}

// SlogAuditSink logs audit records instead of persisting them. Used in
// lightweight mode when no Weaviate instance is configured, so the audit
// trail at least survives in the log stream.
type SlogAuditSink struct{}

// NewSlogAuditSink creates a log-only sink.
func NewSlogAuditSink() *SlogAuditSink {
	return &SlogAuditSink{}
}

// Record implements the AuditSink interface.
func (s *SlogAuditSink) Record(_ context.Context, rec *datatypes.AuditRecord) {
	slog.Info("audit",
		"request_id", rec.RequestId,
		"session_id", rec.SessionId,
		"topic", rec.Topic,
		"risk_tier", rec.RiskTier,
		"mode", rec.Mode,
		"allow_generation", rec.AllowGeneration,
		"grounded", rec.Grounded,
		"refused", rec.Refused,
		"guard_category", rec.GuardCategory,
		"reason", rec.Reason,
		"latency_ms", rec.LatencyMs,
	)
}
