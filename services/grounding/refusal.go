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
	"unicode/utf8"
)

// maxSuggestions caps both follow-up questions and rephrase suggestions
// in a refusal payload.
const maxSuggestions = 3

// maxQuestionEcho is the longest slice of the user's question a refusal
// will echo back.
const maxQuestionEcho = 160

// commonFollowUps apply to every topic. Topic-specific entries are
// prepended so they survive the cap.
var commonFollowUps = []string{
	"Which site/area or asset is this for (if known)?",
	"What exact task are you performing (e.g., inspection, belt change, welding)?",
	"Is this before starting the work, during the work, or before re-energisation/start-up?",
}

// topicFollowUps narrow the ask for the topics users most often get
// refused on. Topics without an entry fall back to the common set.
var topicFollowUps = map[string][]string{
	"isolation_loto": {
		"Which energy sources apply (electrical / hydraulic / pneumatic / stored energy / gravity)?",
		"Is this single-person or group isolation (lock box) work?",
	},
	"confined_space": {
		"Is an entry permit required and who is the standby/rescue contact?",
		"What hazards are present (gas, engulfment, poor ventilation)?",
	},
	"hot_work": {
		"What type of hot work (welding/cutting/grinding) and where is it performed?",
		"Do you need a fire watch and for how long after completion?",
	},
	"working_at_heights": {
		"What is the height and what access method (scaffold, EWP, ladder)?",
		"Are anchor points and fall-arrest equipment specified?",
	},
	"ppe": {
		"What task and environment (noise, dust, chemicals) drives PPE selection?",
		"Is there a specific SOP section for PPE you expect to reference?",
	},
}

// commonRephrases are generic question shapes that retrieve well.
var commonRephrases = []string{
	"Add the task and equipment: \"Before maintenance on <asset>, what isolation steps are required?\"",
	"Add the permit/control: \"What does the SOP say about <permit/control> for <task>?\"",
	"Ask for a step list: \"List the SOP steps for <procedure> including verification and sign-off.\"",
}

// topicRephrases give a single best-known question per topic, prepended
// ahead of the common shapes.
var topicRephrases = map[string]string{
	"isolation_loto":     "Try: \"What is the lockout/tagout (LOTO) procedure before maintenance?\"",
	"confined_space":     "Try: \"What are the confined space entry permit and standby/rescue requirements?\"",
	"hot_work":           "Try: \"What hot work permit controls and fire watch requirements apply?\"",
	"working_at_heights": "Try: \"What working at heights controls (harness/anchors/scaffold/EWP) are required?\"",
	"ppe":                "Try: \"What PPE is required for <task> and what minimum controls apply?\"",
}

// RefusalComposer builds the structured, user-facing payload for every
// denial path: guard hits, gate denials, and grounding failures. It draws
// from static per-topic template tables and never includes excerpt text.
//
// Stateless and safe for concurrent use.
type RefusalComposer struct{}

// NewRefusalComposer creates a composer.
func NewRefusalComposer() *RefusalComposer {
	return &RefusalComposer{}
}

// Compose builds the refusal for an evidence-driven denial (or an
// advice downgrade being surfaced to the user).
//
// The reason should be the PolicyDecision.Reason; when the originating
// decision was advice mode, the reason is prefixed to state that
// generation is allowed but not source-grounded. The user's question is
// only ever echoed truncated and whitespace-normalized.
func (c *RefusalComposer) Compose(question, topic string, riskTier RiskTier, reason string, mode Mode) RefusalPayload {
	topic = normalizeTopic(topic)
	if riskTier == "" {
		riskTier = TierLow
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "[REFUSED]"
	}
	if mode == ModeAdvice {
		reason = "Generation is allowed but not source-grounded: " + reason
	}

	answer := "I can't confirm an answer from the approved SOP sources for that question.\n" +
		"I won't guess or invent details."
	if q := echoQuestion(question); q != "" {
		answer += "\n\nYou asked: \"" + q + "\""
	}

	return RefusalPayload{
		AnswerText:          answer,
		Reason:              reason,
		FollowUpQuestions:   followUps(topic),
		RephraseSuggestions: rephrases(topic),
		Topic:               topic,
		RiskTier:            riskTier,
	}
}

// ComposeSmalltalk builds the friendlier payload for greetings and
// chitchat. Smalltalk is still a refusal (mode=refusal, risk LOW), but
// the tone explains what the assistant is for instead of apologizing.
func (c *RefusalComposer) ComposeSmalltalk(question string) RefusalPayload {
	answer := "Hi! I'm an SOP Q&A assistant.\n" +
		"I can only answer when I can cite relevant SOP excerpts from the approved sources.\n\n" +
		"If you tell me what task you're doing (e.g., LOTO, confined space, hot work), I'll help using the SOP excerpts."

	return RefusalPayload{
		AnswerText: answer,
		Reason:     "Input was conversational smalltalk, not an SOP question.",
		FollowUpQuestions: []string{
			"Which SOP topic do you want (LOTO, confined space, hot work, working at heights, PPE)?",
			"What task are you about to perform, and on what asset/equipment?",
		},
		RephraseSuggestions: rephrases(TopicGeneral),
		Topic:               TopicGeneral,
		RiskTier:            TierLow,
	}
}

func followUps(topic string) []string {
	out := make([]string, 0, maxSuggestions)
	out = append(out, topicFollowUps[topic]...)
	out = append(out, commonFollowUps...)
	return out[:min(len(out), maxSuggestions)]
}

func rephrases(topic string) []string {
	out := make([]string, 0, maxSuggestions)
	if r, ok := topicRephrases[topic]; ok {
		out = append(out, r)
	}
	out = append(out, commonRephrases...)
	return out[:min(len(out), maxSuggestions)]
}

func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TopicGeneral
	}
	return topic
}

// echoQuestion collapses runs of whitespace and truncates so a refusal
// never reflects arbitrary long input back at the user. Truncation lands
// on a rune boundary so multibyte input is never mangled.
func echoQuestion(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if len(q) > maxQuestionEcho {
		cut := maxQuestionEcho
		for cut > 0 && !utf8.RuneStart(q[cut]) {
			cut--
		}
		q = q[:cut] + "..."
	}
	return q
}
