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
	"strings"

	"github.com/AleutianAI/AleutianSOP/services/grounding/rules"
	"gopkg.in/yaml.v3"
)

// TopicGeneral is the fallback topic when neither the question nor the
// retrieved evidence matches any rule. It has no entry in the rule table;
// the PolicyGate applies its stricter token-overlap path instead.
const TopicGeneral = "general"

// TopicRule is one row of the topic rule table.
//
// QuestionTerms indicate user intent; EvidenceTerms must appear in
// retrieved excerpt text to certify coverage. MinMatches is the minimum
// number of distinct evidence-term hits required for a grounded pass.
type TopicRule struct {
	Topic            string   `yaml:"topic"`
	Label            string   `yaml:"label"`
	TemplateQuestion string   `yaml:"template_question"`
	MinMatches       int      `yaml:"min_matches"`
	QuestionTerms    []string `yaml:"question_terms"`
	EvidenceTerms    []string `yaml:"evidence_terms"`
}

// ruleFile mirrors the embedded YAML document.
type ruleFile struct {
	Priority []string    `yaml:"priority"`
	Topics   []TopicRule `yaml:"topics"`
}

// RuleSet is the immutable, process-wide topic rule table.
//
// It is constructed once at startup from the YAML embedded in the binary
// and injected by reference into the classifier and the gate. Nothing
// mutates it after construction, so it is safe for unlimited concurrent
// reads with no locking.
type RuleSet struct {
	priority []string
	byTopic  map[string]TopicRule
}

// NewRuleSet builds the rule set from the table embedded in the binary.
//
// It performs the following operations:
//  1. Unmarshals the embedded YAML data.
//  2. Lowercases every term so matching is case-insensitive by construction.
//  3. Validates the table (see validate).
//
// Returns an error if the embedded YAML is malformed or the table is
// internally inconsistent. A failure here is fatal at startup; there is
// no degraded mode without a rule table.
func NewRuleSet() (*RuleSet, error) {
	return NewRuleSetFromYAML(rules.TopicRuleTable)
}

// NewRuleSetFromYAML builds a rule set from raw YAML bytes. Exposed for
// tests that need small synthetic tables.
func NewRuleSetFromYAML(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the topic rule table: %w", err)
	}

	byTopic := make(map[string]TopicRule, len(file.Topics))
	for i := range file.Topics {
		rule := file.Topics[i]
		rule.Topic = strings.ToLower(strings.TrimSpace(rule.Topic))
		rule.QuestionTerms = lowerTerms(rule.QuestionTerms)
		rule.EvidenceTerms = lowerTerms(rule.EvidenceTerms)
		if rule.MinMatches == 0 {
			rule.MinMatches = 1
		}
		if _, dup := byTopic[rule.Topic]; dup {
			return nil, fmt.Errorf("duplicate topic %q in rule table", rule.Topic)
		}
		byTopic[rule.Topic] = rule
	}

	rs := &RuleSet{priority: file.Priority, byTopic: byTopic}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// validate enforces the structural invariants of the table: every topic is
// well-formed, reserved names are not used, and the priority list covers
// exactly the declared topics.
func (rs *RuleSet) validate() error {
	for topic, rule := range rs.byTopic {
		if topic == "" {
			return fmt.Errorf("rule table contains a topic with an empty name")
		}
		if topic == TopicGeneral {
			return fmt.Errorf("topic name %q is reserved", TopicGeneral)
		}
		if len(rule.QuestionTerms) == 0 {
			return fmt.Errorf("topic %q has no question terms", topic)
		}
		if len(rule.EvidenceTerms) == 0 {
			return fmt.Errorf("topic %q has no evidence terms", topic)
		}
		if rule.MinMatches < 1 {
			return fmt.Errorf("topic %q has min_matches %d, must be >= 1", topic, rule.MinMatches)
		}
	}

	seen := make(map[string]bool, len(rs.priority))
	for _, topic := range rs.priority {
		if _, ok := rs.byTopic[topic]; !ok {
			return fmt.Errorf("priority list references unknown topic %q", topic)
		}
		if seen[topic] {
			return fmt.Errorf("priority list repeats topic %q", topic)
		}
		seen[topic] = true
	}
	if len(rs.priority) != len(rs.byTopic) {
		return fmt.Errorf("priority list covers %d topics, rule table has %d", len(rs.priority), len(rs.byTopic))
	}
	return nil
}

// Rule returns the rule for a topic. The second return is false for
// unknown topics, including "general".
func (rs *RuleSet) Rule(topic string) (TopicRule, bool) {
	rule, ok := rs.byTopic[topic]
	return rule, ok
}

// Priority returns a copy of the classification priority order.
func (rs *RuleSet) Priority() []string {
	out := make([]string, len(rs.priority))
	copy(out, rs.priority)
	return out
}

// Topics returns all rules in priority order. Used by the topic catalog
// endpoint; mutating the returned slice does not affect the rule set.
func (rs *RuleSet) Topics() []TopicRule {
	out := make([]TopicRule, 0, len(rs.priority))
	for _, topic := range rs.priority {
		out = append(out, rs.byTopic[topic])
	}
	return out
}

// Len returns the number of topics in the table.
func (rs *RuleSet) Len() int {
	return len(rs.byTopic)
}

func lowerTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
