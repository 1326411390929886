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

// TopicClassifier maps free-text questions (and, on the rescue path,
// retrieved evidence) to a topic from the rule table.
//
// Classification is a fixed-priority substring scan, not a learned model.
// That is a deliberate trade: an auditable rule table over classification
// quality. The classifier is pure and deterministic; both methods are safe
// for unlimited concurrent use.
type TopicClassifier struct {
	rules *RuleSet
}

// NewTopicClassifier creates a classifier over the given rule set.
// The rule set must not be nil.
func NewTopicClassifier(rules *RuleSet) *TopicClassifier {
	return &TopicClassifier{rules: rules}
}

// Classify returns the first topic, in priority order, whose question
// terms appear in the question (case-insensitive substring match).
// Returns TopicGeneral when nothing matches.
//
// Priority order matters: specific high-risk topics (confined space, hot
// work) are checked before generic ones, so a question like "what PPE for
// hot work" resolves to hot_work, not ppe.
func (c *TopicClassifier) Classify(question string) string {
	q := normalize(question)
	for _, topic := range c.rules.priority {
		rule := c.rules.byTopic[topic]
		if len(containsAny(q, rule.QuestionTerms)) > 0 {
			return topic
		}
	}
	return TopicGeneral
}

// InferFromEvidence scores each topic by the number of its evidence terms
// found in the combined excerpt text and returns the best-scoring topic.
// Returns TopicGeneral when no topic scores above zero.
//
// This is the rescue path: a question too vague to classify can still
// produce a grounded, on-topic answer when the retrieved evidence is
// unambiguous. Ties are resolved in favor of the earlier topic in priority
// order, keeping the result deterministic across runs.
func (c *TopicClassifier) InferFromEvidence(excerptText string) string {
	text := normalize(excerptText)
	bestTopic := TopicGeneral
	bestHits := 0

	for _, topic := range c.rules.priority {
		rule := c.rules.byTopic[topic]
		hits := len(containsAny(text, rule.EvidenceTerms))
		if hits > bestHits {
			bestHits = hits
			bestTopic = topic
		}
	}
	return bestTopic
}
