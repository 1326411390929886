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
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var guardHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aleutian",
	Subsystem: "sop_guard",
	Name:      "hits_total",
	Help:      "Guard filter hits by category and pattern",
}, []string{"category", "pattern"})

// =============================================================================
// Guard Types
// =============================================================================

// GuardCategory classifies why the guard flagged an input.
type GuardCategory string

const (
	GuardNone      GuardCategory = "none"
	GuardInjection GuardCategory = "injection"
	GuardSmalltalk GuardCategory = "smalltalk"
)

// Verdict is the guard's judgment on a piece of input text.
type Verdict struct {
	Flagged  bool          `json:"flagged"`
	Category GuardCategory `json:"category"`
	Pattern  string        `json:"pattern,omitempty"`
}

// Guard is the single capability interface for pre-pipeline input
// screening. Expressing it as an interface lets a future classifier-based
// implementation replace the pattern table without touching the pipeline
// contract.
type Guard interface {
	// Evaluate screens text and returns a verdict. A flagged verdict
	// short-circuits the entire pipeline straight to the refusal
	// composer: retrieval must never run on flagged input.
	Evaluate(text string) Verdict
}

// guardPattern pairs a raw pattern string with its compiled regex. The
// raw form appears in metrics and audit reasons; keep it short.
type guardPattern struct {
	raw   string
	regex *regexp.Regexp
}

func compileGuardPatterns(raw []string) []guardPattern {
	out := make([]guardPattern, 0, len(raw))
	for _, r := range raw {
		out = append(out, guardPattern{raw: r, regex: regexp.MustCompile(`(?i)` + r)})
	}
	return out
}

// injectionPatterns cover instruction-override phrasing, secret and
// credential requests, and external-fetch requests. Ordered roughly by
// observed frequency; evaluation stops at the first hit.
var injectionPatterns = compileGuardPatterns([]string{
	`ignore (all|previous|prior|the) (instructions|rules|prompts)`,
	`ignore all instructions`,
	`disregard (all|previous|prior|the|your)`,
	`system prompt`,
	`developer message`,
	`hidden instructions`,
	`disable (the )?(policy|policies|safety|guardrails?)`,
	`override (the )?(policy|rules|safety)`,
	`you are now [a-z]`,
	`pretend (to be|you are)`,
	`act as (?:an? )?(?:unrestricted|jailbroken)`,
	`reveal (the|your) (system|hidden|internal)`,
	`(show|print|dump|reveal).{0,30}(api key|password|secret|credential|private key)`,
	`\bapi[ _-]?key\b`,
	`\bpassword\s*=`,
	`\bssh-rsa\b`,
	`BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY`,
	`(fetch|call|visit|open) (this |the )?(external )?url`,
	`https?://`,
})

// smalltalkPatterns cover greetings and chitchat that have no SOP intent.
// These are refused politely rather than run through retrieval.
var smalltalkPatterns = compileGuardPatterns([]string{
	`^\s*hi\b`,
	`^\s*hello\b`,
	`^\s*hey\b`,
	`^\s*(good )?(morning|afternoon|evening)\b`,
	`\bhow are you\b`,
	`\bwhat('?s| is) your name\b`,
	`\bwho are you\b`,
	`\bwhat can you do\b`,
	`\btell me a joke\b`,
})

// PatternGuard is the default Guard: two ordered, compiled pattern sets.
// Injection is checked before smalltalk so "hi, ignore all instructions"
// counts as an injection attempt.
//
// Stateless and safe for concurrent use; all patterns are compiled at
// package init.
type PatternGuard struct{}

// NewPatternGuard creates the default pattern-based guard.
func NewPatternGuard() *PatternGuard {
	return &PatternGuard{}
}

// Compile-time interface implementation check.
var _ Guard = (*PatternGuard)(nil)

// Evaluate implements Guard.
func (g *PatternGuard) Evaluate(text string) Verdict {
	t := strings.TrimSpace(text)
	for _, p := range injectionPatterns {
		if p.regex.MatchString(t) {
			guardHitsTotal.WithLabelValues(string(GuardInjection), p.raw).Inc()
			return Verdict{Flagged: true, Category: GuardInjection, Pattern: p.raw}
		}
	}
	for _, p := range smalltalkPatterns {
		if p.regex.MatchString(t) {
			guardHitsTotal.WithLabelValues(string(GuardSmalltalk), p.raw).Inc()
			return Verdict{Flagged: true, Category: GuardSmalltalk, Pattern: p.raw}
		}
	}
	return Verdict{Category: GuardNone}
}

// IsPromptInjection reports whether the text matches an injection pattern.
func (g *PatternGuard) IsPromptInjection(text string) bool {
	v := g.Evaluate(text)
	return v.Flagged && v.Category == GuardInjection
}

// IsSmalltalk reports whether the text matches a smalltalk pattern.
// Injection takes precedence: text that is both is not smalltalk.
func (g *PatternGuard) IsSmalltalk(text string) bool {
	v := g.Evaluate(text)
	return v.Flagged && v.Category == GuardSmalltalk
}
