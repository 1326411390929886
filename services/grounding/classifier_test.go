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

import "testing"

func testClassifier(t *testing.T) *TopicClassifier {
	t.Helper()
	rs, err := NewRuleSet()
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	return NewTopicClassifier(rs)
}

// TestClassify_QuestionTerms tests the priority-ordered substring scan
// across representative questions.
func TestClassify_QuestionTerms(t *testing.T) {
	c := testClassifier(t)

	cases := []struct {
		question string
		want     string
	}{
		{"What is the lockout tagout procedure before maintenance?", "isolation_loto"},
		{"What PPE do I need in the workshop?", "ppe"},
		{"Do I need a standby person for confined space entry?", "confined_space"},
		{"Fire watch requirements after welding?", "hot_work"},
		{"Harness inspection for working at heights", "working_at_heights"},
		{"How do I bake a cake?", TopicGeneral},
		{"", TopicGeneral},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.question); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.question, got, tc.want)
		}
	}
}

// TestClassify_CaseInsensitive tests that matching ignores case on both
// sides.
func TestClassify_CaseInsensitive(t *testing.T) {
	c := testClassifier(t)
	if got := c.Classify("WHAT IS THE LOCKOUT PROCEDURE?"); got != "isolation_loto" {
		t.Errorf("Classify uppercase = %q, want isolation_loto", got)
	}
}

// TestClassify_PriorityOrder tests that specific high-risk topics beat
// generic ppe intent words. "wear", "gloves" and "respirator" are ppe
// question terms, but a question that names a high-risk activity must
// classify under that activity's topic.
func TestClassify_PriorityOrder(t *testing.T) {
	c := testClassifier(t)

	cases := []struct {
		question string
		want     string
	}{
		{"What should I wear when welding?", "hot_work"},
		{"What gloves are required for confined space entry?", "confined_space"},
		{"Do I need a respirator for working at heights tasks?", "working_at_heights"},
		{"What should I wear on site?", "ppe"},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.question); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.question, got, tc.want)
		}
	}
}

// TestInferFromEvidence_UnambiguousLOTO tests the rescue capability: text
// rich in lockout/tagout evidence terms infers isolation_loto.
func TestInferFromEvidence_UnambiguousLOTO(t *testing.T) {
	c := testClassifier(t)

	text := "Apply lockout and tagout devices, then verify zero energy state before starting work."
	if got := c.InferFromEvidence(text); got != "isolation_loto" {
		t.Errorf("InferFromEvidence = %q, want isolation_loto", got)
	}
}

// TestInferFromEvidence_NoSignal tests that text with no evidence terms
// stays general.
func TestInferFromEvidence_NoSignal(t *testing.T) {
	c := testClassifier(t)

	if got := c.InferFromEvidence("the quarterly financial summary was filed on time"); got != TopicGeneral {
		t.Errorf("InferFromEvidence = %q, want %q", got, TopicGeneral)
	}
	if got := c.InferFromEvidence(""); got != TopicGeneral {
		t.Errorf("InferFromEvidence(\"\") = %q, want %q", got, TopicGeneral)
	}
}

// TestInferFromEvidence_Deterministic tests that repeated calls with the
// same text return the same topic (ties resolve by priority order).
func TestInferFromEvidence_Deterministic(t *testing.T) {
	c := testClassifier(t)

	text := "permit required before entry; standby person posted; rescue plan available"
	first := c.InferFromEvidence(text)
	for i := 0; i < 10; i++ {
		if got := c.InferFromEvidence(text); got != first {
			t.Fatalf("InferFromEvidence not deterministic: %q then %q", first, got)
		}
	}
}
