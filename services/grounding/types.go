// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding implements the policy-gated grounding pipeline for
// SOP question answering.
//
// The pipeline is a deterministic decision process layered between the
// retrieval backend and the LLM:
//
//	GuardFilter -> TopicClassifier -> EvidenceRanker -> PolicyGate
//	    -> [generation with selected excerpts only] -> GroundingValidator
//	    -> RefusalComposer (on any denial)
//
// Every component in this package is pure and stateless apart from the
// read-only RuleSet loaded once at process start. Nothing here performs
// I/O; retrieval, generation, and audit are collaborators owned by the
// orchestrator service.
package grounding

import "fmt"

// =============================================================================
// Risk Tiers
// =============================================================================

// RiskTier classifies the severity of the SOP material an excerpt was
// drawn from. Higher tiers drive stricter evidence thresholds in the
// PolicyGate.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierCritical RiskTier = "CRITICAL"
)

// tierRank orders tiers for max() comparisons. Unknown tiers rank as LOW.
func (t RiskTier) tierRank() int {
	switch t {
	case TierCritical:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// ParseRiskTier normalizes a tier string from an external source.
// Anything unrecognized degrades to LOW rather than failing the request.
func ParseRiskTier(s string) RiskTier {
	switch RiskTier(s) {
	case TierLow, TierMedium, TierCritical:
		return RiskTier(s)
	default:
		return TierLow
	}
}

// MaxRiskTier returns the highest tier across the supplied excerpts.
// An empty slice returns LOW.
func MaxRiskTier(excerpts []Excerpt) RiskTier {
	best := TierLow
	for _, e := range excerpts {
		if e.RiskTier.tierRank() > best.tierRank() {
			best = e.RiskTier
		}
	}
	return best
}

// =============================================================================
// Decision Mode and Confidence
// =============================================================================

// Mode is the generation posture of a PolicyDecision. Callers must handle
// all three values exhaustively; there is no fallthrough default.
type Mode string

const (
	// ModeGrounded allows generation backed by citations drawn from the
	// excerpts handed to the LLM. Grounded answers must survive the
	// GroundingValidator before shipping.
	ModeGrounded Mode = "grounded"

	// ModeAdvice allows generation as explicitly unsourced general
	// guidance. Advice answers carry no citation tags.
	ModeAdvice Mode = "advice"

	// ModeRefusal denies generation outright. Refusals are composed by
	// the RefusalComposer, never by the LLM.
	ModeRefusal Mode = "refusal"
)

// Confidence grades how strongly the evidence supported the decision.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// =============================================================================
// Excerpt
// =============================================================================

// Excerpt is a retrieved span of approved SOP text. Excerpts are value
// types: nothing downstream of retrieval mutates them.
//
// Identity is (DocID, ChunkID); the EvidenceRanker deduplicates on that
// pair. RelevanceScore is whatever the retrieval backend reported and is
// only meaningful for ordering within a single candidate set.
type Excerpt struct {
	DocID          string   `json:"doc_id"`
	DocName        string   `json:"doc_name"`
	ChunkID        int      `json:"chunk_id"`
	Text           string   `json:"text"`
	Topic          string   `json:"topic"`
	RiskTier       RiskTier `json:"risk_tier"`
	RelevanceScore float64  `json:"relevance_score"`
}

// ExcerptKey is the identity of an excerpt within the corpus.
type ExcerptKey struct {
	DocID   string
	ChunkID int
}

// Key returns the deduplication identity for this excerpt.
func (e Excerpt) Key() ExcerptKey {
	return ExcerptKey{DocID: e.DocID, ChunkID: e.ChunkID}
}

// CitationTag renders the exact tag the LLM must attach to every bullet
// that cites this excerpt, e.g. "[SOP-014|Isolation Procedure#chunk3]".
// The GroundingValidator matches these tags verbatim.
func (e Excerpt) CitationTag() string {
	docID := e.DocID
	if docID == "" {
		docID = "UNKNOWN"
	}
	docName := e.DocName
	if docName == "" {
		docName = "UnknownDoc"
	}
	return fmt.Sprintf("[%s|%s#chunk%d]", docID, docName, e.ChunkID)
}

// CitationTags builds the allowed-tag set for a generation call from the
// excerpts actually supplied to the LLM (not all retrieved candidates).
func CitationTags(excerpts []Excerpt) []string {
	tags := make([]string, 0, len(excerpts))
	for _, e := range excerpts {
		tags = append(tags, e.CitationTag())
	}
	return tags
}

// =============================================================================
// PolicyDecision
// =============================================================================

// PolicyDecision is the immutable outcome of the PolicyGate for a single
// request. It is created once, handed to the audit sink, and never
// persisted by this package.
//
// Topic is always the authoritative topic, including after an evidence
// rescue. SuggestedTopic is set only when a rescue occurred and records
// the same rescued topic so audit consumers can see that the question's
// own phrasing classified as "general".
type PolicyDecision struct {
	Topic           string     `json:"topic"`
	RiskTier        RiskTier   `json:"risk_tier"`
	Mode            Mode       `json:"mode"`
	AllowGeneration bool       `json:"allow_generation"`
	Reason          string     `json:"reason"`
	MatchedTerms    []string   `json:"matched_terms"`
	Confidence      Confidence `json:"confidence"`
	SuggestedTopic  string     `json:"suggested_topic,omitempty"`
}

// =============================================================================
// RefusalPayload
// =============================================================================

// RefusalPayload is the structured, user-facing refusal built whenever the
// pipeline declines to answer. It never includes excerpt text verbatim.
type RefusalPayload struct {
	AnswerText          string   `json:"answer"`
	Reason              string   `json:"reason"`
	FollowUpQuestions   []string `json:"follow_up_questions"`
	RephraseSuggestions []string `json:"rephrase_suggestions"`
	Topic               string   `json:"topic"`
	RiskTier            RiskTier `json:"risk_tier"`
}

// CannotAnswerSentinel is the fixed string the LLM is instructed to return
// when the supplied sources are insufficient. The GroundingValidator treats
// an answer equal to this sentinel as a deliberate refusal rather than a
// grounding failure, and the pipeline substitutes it whenever a grounded
// answer fails validation.
const CannotAnswerSentinel = "Cannot answer from approved sources."
