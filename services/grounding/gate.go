// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyGate is the central decision engine of the pipeline. Given a
// question, its topic, and the ranked excerpts, it produces the one
// PolicyDecision for the request.
//
// The gate only ever reads the rule set; it holds no per-request state
// and is safe for concurrent use.
//
// Decision branches, in order:
//
//   - Zero excerpts: absolute deny. This is the only branch that can
//     never be overridden.
//   - Known topic: evidence-term matching with a specific-token check,
//     splitting CRITICAL-deny vs advice-allow when evidence is thin.
//   - General topic: token-overlap with tier-dependent thresholds, with
//     an evidence-rescue attempt before giving up on a weak overlap.
//
// Every Reason string names the branch and the terms that drove it; the
// audit trail and the tests both depend on that.
type PolicyGate struct {
	rules      *RuleSet
	classifier *TopicClassifier
}

// NewPolicyGate creates a gate over the given rule set. The classifier is
// used only for the evidence-rescue path and must share the same rule set.
func NewPolicyGate(rules *RuleSet, classifier *TopicClassifier) *PolicyGate {
	return &PolicyGate{rules: rules, classifier: classifier}
}

// Overlap thresholds for the general path, by risk tier. The higher the
// tier of the retrieved material, the more of the question must actually
// appear in it before generation is allowed.
func overlapThreshold(tier RiskTier) int {
	switch tier {
	case TierCritical:
		return 3
	case TierMedium:
		return 2
	default:
		return 1
	}
}

// modelTokenPattern matches model/part identifiers like "HX-4410" or
// "P200". These are high-specificity tokens: a question naming one must
// not be answered from excerpts that never mention it.
var modelTokenPattern = regexp.MustCompile(`\b[A-Z]{1,4}-?\d{2,6}\b`)

// hfPattern matches the standalone hazard abbreviation "hf" (hydrofluoric
// acid), which is too short to survive tokenize.
var hfPattern = regexp.MustCompile(`\bhf\b`)

// weakSpecificTerms are hazard keywords too generic to count as a strong
// specific match on their own. "acid" appears in nearly every reagent
// chunk; its presence proves nothing about the question's actual subject.
var weakSpecificTerms = map[string]bool{
	"acid":        true,
	"calibration": true,
}

// extractSpecificTerms pulls high-specificity tokens from the question:
// domain hazard keywords and model/part identifiers. Order is stable and
// duplicates are removed.
func extractSpecificTerms(question string) []string {
	q := normalize(question)
	var specific []string

	if hfPattern.MatchString(q) {
		specific = append(specific, "hf")
	}
	if strings.Contains(q, "hydrofluoric") {
		specific = append(specific, "hydrofluoric")
	}
	if strings.Contains(q, "acid") {
		specific = append(specific, "acid")
	}
	if strings.Contains(q, "digestion") {
		specific = append(specific, "digestion")
	}
	if strings.Contains(q, "calibrate") || strings.Contains(q, "calibration") {
		specific = append(specific, "calibration")
	}
	for _, m := range modelTokenPattern.FindAllString(question, -1) {
		specific = append(specific, strings.ToLower(m))
	}
	return uniqueStrings(specific)
}

// strongSpecificHits returns the specific terms found in the corpus,
// excluding the weak ones.
func strongSpecificHits(corpus string, specifics []string) []string {
	var strong []string
	for _, hit := range containsAny(corpus, specifics) {
		if !weakSpecificTerms[hit] {
			strong = append(strong, hit)
		}
	}
	return strong
}

// Decide produces the PolicyDecision for a single request.
//
// The topic argument is the classifier's verdict (or a caller override).
// On the rescue path the returned decision's Topic may differ from the
// argument; Topic is always authoritative, and SuggestedTopic records the
// rescue for audit visibility.
func (g *PolicyGate) Decide(question, topic string, excerpts []Excerpt) PolicyDecision {
	if topic == "" {
		topic = TopicGeneral
	}

	if len(excerpts) == 0 {
		return PolicyDecision{
			Topic:           topic,
			RiskTier:        TierLow,
			Mode:            ModeGrounded,
			AllowGeneration: false,
			Reason:          "[NO_SOURCES] No approved sources were retrieved.",
			MatchedTerms:    []string{},
			Confidence:      ConfidenceHigh,
		}
	}

	corpus := combinedText(excerpts)
	riskTier := MaxRiskTier(excerpts)
	specifics := extractSpecificTerms(question)

	if topic != TopicGeneral {
		return g.decideStrict(question, topic, corpus, riskTier, specifics)
	}
	return g.decideGeneral(question, corpus, riskTier, specifics)
}

// decideStrict handles topics with a rule-table entry.
func (g *PolicyGate) decideStrict(question, topic, corpus string, riskTier RiskTier, specifics []string) PolicyDecision {
	rule, ok := g.rules.Rule(topic)
	if !ok {
		// Unknown override topic: treat as general rather than failing
		// the request over a caller typo.
		return g.decideGeneral(question, corpus, riskTier, specifics)
	}

	hits := uniqueStrings(containsAny(corpus, rule.EvidenceTerms))

	if len(hits) < rule.MinMatches {
		if riskTier == TierCritical {
			return PolicyDecision{
				Topic:           topic,
				RiskTier:        riskTier,
				Mode:            ModeGrounded,
				AllowGeneration: false,
				Reason:          fmt.Sprintf("[%s] Refused: topic %q but no sufficient evidence terms found in sources (need %d).", riskTier, topic, rule.MinMatches),
				MatchedTerms:    hits,
				Confidence:      ConfidenceHigh,
			}
		}
		return PolicyDecision{
			Topic:           topic,
			RiskTier:        riskTier,
			Mode:            ModeAdvice,
			AllowGeneration: true,
			Reason:          fmt.Sprintf("[%s] Not explicitly covered in SOP excerpts for topic %q; providing general guidance only.", riskTier, topic),
			MatchedTerms:    hits,
			Confidence:      ConfidenceMedium,
		}
	}

	if len(specifics) > 0 {
		if strong := strongSpecificHits(corpus, specifics); len(strong) == 0 {
			if riskTier == TierCritical {
				return PolicyDecision{
					Topic:           topic,
					RiskTier:        riskTier,
					Mode:            ModeGrounded,
					AllowGeneration: false,
					Reason:          fmt.Sprintf("[%s] Refused: specific terms %v not mentioned in sources.", riskTier, specifics),
					MatchedTerms:    hits,
					Confidence:      ConfidenceHigh,
				}
			}
			return PolicyDecision{
				Topic:           topic,
				RiskTier:        riskTier,
				Mode:            ModeAdvice,
				AllowGeneration: true,
				Reason:          fmt.Sprintf("[%s] SOP excerpts don't mention specific terms %v; providing general guidance only.", riskTier, specifics),
				MatchedTerms:    hits,
				Confidence:      ConfidenceMedium,
			}
		}
	}

	return PolicyDecision{
		Topic:           topic,
		RiskTier:        riskTier,
		Mode:            ModeGrounded,
		AllowGeneration: true,
		Reason:          fmt.Sprintf("[%s] Passed: evidence terms found in sources: %v", riskTier, hits),
		MatchedTerms:    hits,
		Confidence:      groundedConfidence(len(hits)),
	}
}

// decideGeneral handles questions with no rule-table topic. The path is
// stricter than it sounds: without a topic rule there is no evidence-term
// certification, so a token-overlap threshold stands in for it.
func (g *PolicyGate) decideGeneral(question, corpus string, riskTier RiskTier, specifics []string) PolicyDecision {
	qTokens := uniqueStrings(tokenize(question))
	cTokens := make(map[string]bool)
	for _, t := range tokenize(corpus) {
		cTokens[t] = true
	}
	overlap := []string{}
	for _, t := range qTokens {
		if cTokens[t] {
			overlap = append(overlap, t)
		}
	}

	if len(specifics) > 0 {
		if strong := strongSpecificHits(corpus, specifics); len(strong) == 0 {
			if riskTier == TierCritical {
				return PolicyDecision{
					Topic:           TopicGeneral,
					RiskTier:        riskTier,
					Mode:            ModeGrounded,
					AllowGeneration: false,
					Reason:          fmt.Sprintf("[%s] Refused: specific terms %v not found in sources.", riskTier, specifics),
					MatchedTerms:    overlap,
					Confidence:      ConfidenceHigh,
				}
			}
			return PolicyDecision{
				Topic:           TopicGeneral,
				RiskTier:        riskTier,
				Mode:            ModeAdvice,
				AllowGeneration: true,
				Reason:          fmt.Sprintf("[%s] Specific terms %v not found in sources; providing general guidance only.", riskTier, specifics),
				MatchedTerms:    overlap,
				Confidence:      ConfidenceMedium,
			}
		}
	}

	if len(overlap) < overlapThreshold(riskTier) {
		// Rescue: the question is generic, but the sources may clearly
		// match a strict topic. A vague phrasing should not forfeit an
		// otherwise solid topical match.
		if inferred := g.classifier.InferFromEvidence(corpus); inferred != TopicGeneral {
			rule, _ := g.rules.Rule(inferred)
			hits := uniqueStrings(containsAny(corpus, rule.EvidenceTerms))
			if len(hits) >= 1 {
				return PolicyDecision{
					Topic:           inferred,
					RiskTier:        riskTier,
					Mode:            ModeGrounded,
					AllowGeneration: true,
					Reason:          fmt.Sprintf("[%s] Passed (rescued): question was generic but sources match topic %q: %v", riskTier, inferred, hits),
					MatchedTerms:    hits,
					Confidence:      groundedConfidence(len(hits)),
					SuggestedTopic:  inferred,
				}
			}
		}

		if riskTier == TierCritical {
			return PolicyDecision{
				Topic:           TopicGeneral,
				RiskTier:        riskTier,
				Mode:            ModeGrounded,
				AllowGeneration: false,
				Reason:          fmt.Sprintf("[%s] Refused: insufficient overlap between question and retrieved sources.", riskTier),
				MatchedTerms:    overlap,
				Confidence:      ConfidenceHigh,
			}
		}
		confidence := ConfidenceMedium
		if riskTier == TierLow {
			confidence = ConfidenceLow
		}
		return PolicyDecision{
			Topic:           TopicGeneral,
			RiskTier:        riskTier,
			Mode:            ModeAdvice,
			AllowGeneration: true,
			Reason:          fmt.Sprintf("[%s] Weak SOP match; providing general guidance only.", riskTier),
			MatchedTerms:    overlap,
			Confidence:      confidence,
		}
	}

	return PolicyDecision{
		Topic:           TopicGeneral,
		RiskTier:        riskTier,
		Mode:            ModeGrounded,
		AllowGeneration: true,
		Reason:          fmt.Sprintf("[%s] Passed: overlap terms found in sources: %v", riskTier, overlap),
		MatchedTerms:    overlap,
		Confidence:      ConfidenceMedium,
	}
}

// groundedConfidence grades a grounded pass: three or more distinct
// evidence hits is high confidence, anything less is medium.
func groundedConfidence(hits int) Confidence {
	if hits >= 3 {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}
