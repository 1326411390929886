// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSOP/services/grounding"
	"github.com/google/uuid"
)

// =============================================================================
// Ask Request / Response
// =============================================================================

// AskRequest is the body of POST /v1/sop/ask.
//
// Topic is an optional caller override; when empty the pipeline classifies
// the question itself. BypassGuard exists for the adversarial self-test
// harness and is honored only when the service is configured to allow it.
type AskRequest struct {
	Question    string `json:"question"`
	Topic       string `json:"topic,omitempty"`
	SessionId   string `json:"session_id,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
	BypassGuard bool   `json:"bypass_guard,omitempty"`
}

// ValidationError reports a structurally invalid request. Handlers map it
// to HTTP 400 rather than 500.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the request for structural problems before any pipeline
// work happens.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return &ValidationError{Field: "question", Message: "question is required"}
	}
	if len(r.Question) > 4000 {
		return &ValidationError{Field: "question", Message: "question exceeds 4000 characters"}
	}
	if r.TopK < 0 {
		return &ValidationError{Field: "top_k", Message: "top_k must not be negative"}
	}
	return nil
}

// EnsureSessionId returns the request's session ID, generating one when
// the caller did not provide it.
func (r *AskRequest) EnsureSessionId() string {
	if r.SessionId == "" {
		r.SessionId = uuid.New().String()
	}
	return r.SessionId
}

// Citation identifies one SOP excerpt an answer may cite. Tag is the
// exact marker that appears in answer bullets; the remaining fields let
// a UI link back to the source document without parsing the tag.
type Citation struct {
	Tag      string `json:"tag"`
	DocID    string `json:"doc_id"`
	DocName  string `json:"doc_name"`
	ChunkID  int    `json:"chunk_id"`
	RiskTier string `json:"risk_tier,omitempty"`
}

// CitationsFromExcerpts builds the citation list for the excerpts handed
// to generation, in ranked order.
func CitationsFromExcerpts(excerpts []grounding.Excerpt) []Citation {
	out := make([]Citation, 0, len(excerpts))
	for _, e := range excerpts {
		out = append(out, Citation{
			Tag:      e.CitationTag(),
			DocID:    e.DocID,
			DocName:  e.DocName,
			ChunkID:  e.ChunkID,
			RiskTier: string(e.RiskTier),
		})
	}
	return out
}

// AskResponse is the body of a successful POST /v1/sop/ask.
//
// Answer is either the validated grounded answer, an advice-mode answer,
// or refusal text. Grounded is true only when every bullet in Answer
// passed citation validation. Citations lists the excerpts actually
// handed to generation, whether or not the answer cites all of them.
type AskResponse struct {
	Answer              string                   `json:"answer"`
	Grounded            bool                     `json:"grounded"`
	Citations           []Citation               `json:"citations"`
	Policy              grounding.PolicyDecision `json:"policy"`
	FollowUpQuestions   []string                 `json:"follow_up_questions,omitempty"`
	RephraseSuggestions []string                 `json:"rephrase_suggestions,omitempty"`
	SessionId           string                   `json:"session_id"`
	RequestId           string                   `json:"request_id"`
	LatencyMs           int64                    `json:"latency_ms"`
}

// TopicInfo is one entry of GET /v1/sop/topics.
type TopicInfo struct {
	Topic            string `json:"topic"`
	Label            string `json:"label,omitempty"`
	TemplateQuestion string `json:"template_question,omitempty"`
	RiskTier         string `json:"risk_tier,omitempty"`
}

// =============================================================================
// Audit Records
// =============================================================================

// AuditRecord is the per-request audit trail entry. One record is written
// for every request the pipeline sees, including guard blocks; its Reason
// must make the decision reproducible without the original logs.
type AuditRecord struct {
	RequestId       string `json:"request_id"`
	SessionId       string `json:"session_id"`
	Question        string `json:"question"`
	Topic           string `json:"topic"`
	RiskTier        string `json:"risk_tier"`
	Mode            string `json:"mode"`
	AllowGeneration bool   `json:"allow_generation"`
	Reason          string `json:"reason"`
	Grounded        bool   `json:"grounded"`
	Refused         bool   `json:"refused"`
	GuardCategory   string `json:"guard_category"`
	LatencyMs       int64  `json:"latency_ms"`
	Timestamp       int64  `json:"timestamp"`
}

// NewAuditRecord creates a record stamped with the current time.
func NewAuditRecord(requestId, sessionId, question string) *AuditRecord {
	return &AuditRecord{
		RequestId: requestId,
		SessionId: sessionId,
		Question:  question,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ToMap converts the record to the map format required by Weaviate's
// WithProperties() method.
func (a *AuditRecord) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"request_id":       a.RequestId,
		"session_id":       a.SessionId,
		"question":         a.Question,
		"topic":            a.Topic,
		"risk_tier":        a.RiskTier,
		"mode":             a.Mode,
		"allow_generation": a.AllowGeneration,
		"reason":           a.Reason,
		"grounded":         a.Grounded,
		"refused":          a.Refused,
		"guard_category":   a.GuardCategory,
		"latency_ms":       a.LatencyMs,
		"timestamp":        a.Timestamp,
	}
}
