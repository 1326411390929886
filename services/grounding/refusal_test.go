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
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TestCompose_TopicSpecificSuggestions tests that a known topic gets its
// own follow-ups and rephrase template first, capped at the limit.
func TestCompose_TopicSpecificSuggestions(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("What is the lockout procedure?", "isolation_loto", TierCritical,
		"[CRITICAL] Refused: no sufficient evidence terms found.", ModeGrounded)

	assert.Equal(t, "isolation_loto", p.Topic)
	assert.Equal(t, TierCritical, p.RiskTier)
	assert.LessOrEqual(t, len(p.FollowUpQuestions), maxSuggestions)
	assert.LessOrEqual(t, len(p.RephraseSuggestions), maxSuggestions)
	assert.Contains(t, p.FollowUpQuestions[0], "energy sources")
	assert.Contains(t, p.RephraseSuggestions[0], "lockout/tagout")
}

// TestCompose_UnknownTopicFallsBackToCommon tests that topics without a
// template table entry get the common suggestion sets.
func TestCompose_UnknownTopicFallsBackToCommon(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("Something obscure", "tailings_water", TierMedium, "reason", ModeGrounded)

	assert.Equal(t, maxSuggestions, len(p.FollowUpQuestions))
	assert.Equal(t, commonFollowUps[0], p.FollowUpQuestions[0])
	assert.Equal(t, commonRephrases[0], p.RephraseSuggestions[0])
}

// TestCompose_EmptyTopicBecomesGeneral tests topic normalization.
func TestCompose_EmptyTopicBecomesGeneral(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("question", "", "", "reason", ModeGrounded)
	assert.Equal(t, TopicGeneral, p.Topic)
	assert.Equal(t, TierLow, p.RiskTier)
}

// TestCompose_AdviceModePrefixesReason tests that an advice-mode refusal
// surface states generation was allowed but ungrounded.
func TestCompose_AdviceModePrefixesReason(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("question", "ppe", TierLow, "[LOW] Weak SOP match.", ModeAdvice)
	assert.True(t, strings.HasPrefix(p.Reason, "Generation is allowed but not source-grounded: "))
	assert.Contains(t, p.Reason, "Weak SOP match")
}

// TestCompose_EchoesNormalizedQuestion tests that the question is echoed
// whitespace-collapsed and truncated, never verbatim.
func TestCompose_EchoesNormalizedQuestion(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("what   about\n\tlockout?", "isolation_loto", TierLow, "reason", ModeGrounded)
	assert.Contains(t, p.AnswerText, `You asked: "what about lockout?"`)

	long := strings.Repeat("lockout ", 50)
	p = c.Compose(long, "isolation_loto", TierLow, "reason", ModeGrounded)
	assert.Contains(t, p.AnswerText, "...")
	assert.LessOrEqual(t, len(p.AnswerText), 400)
}

// TestCompose_TruncatesOnRuneBoundary tests that a long multibyte
// question is cut between runes, never mid-sequence.
func TestCompose_TruncatesOnRuneBoundary(t *testing.T) {
	c := NewRefusalComposer()

	// 159 ASCII bytes followed by two-byte runes puts the truncation
	// point inside a rune.
	long := strings.Repeat("a", 159) + strings.Repeat("ü", 20)
	p := c.Compose(long, "isolation_loto", TierLow, "reason", ModeGrounded)
	assert.Contains(t, p.AnswerText, "...")
	assert.True(t, utf8.ValidString(p.AnswerText), "truncation split a multibyte rune: %q", p.AnswerText)
}

// TestCompose_EmptyQuestionOmitsEcho tests that an empty question does
// not produce an empty echo line.
func TestCompose_EmptyQuestionOmitsEcho(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("", "ppe", TierLow, "reason", ModeGrounded)
	assert.NotContains(t, p.AnswerText, "You asked")
}

// TestCompose_EmptyReasonGetsPlaceholder tests the empty-reason fallback.
func TestCompose_EmptyReasonGetsPlaceholder(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("question", "ppe", TierLow, "   ", ModeGrounded)
	assert.Equal(t, "[REFUSED]", p.Reason)
}

// TestCompose_NeverApologizesWithExcerptText tests the payload contract:
// the refusal never embeds source material, only static template text.
func TestCompose_NeverApologizesWithExcerptText(t *testing.T) {
	c := NewRefusalComposer()

	p := c.Compose("What is the lockout procedure?", "isolation_loto", TierLow, "reason", ModeGrounded)
	assert.Contains(t, p.AnswerText, "approved SOP sources")
	assert.Contains(t, p.AnswerText, "won't guess")
}

// TestComposeSmalltalk tests the friendlier smalltalk variant.
func TestComposeSmalltalk(t *testing.T) {
	c := NewRefusalComposer()

	p := c.ComposeSmalltalk("hi there")
	assert.Contains(t, p.AnswerText, "SOP Q&A assistant")
	assert.Contains(t, p.Reason, "smalltalk")
	assert.Equal(t, TopicGeneral, p.Topic)
	assert.Equal(t, TierLow, p.RiskTier)
	assert.NotEmpty(t, p.FollowUpQuestions)
	assert.NotEmpty(t, p.RephraseSuggestions)
}
