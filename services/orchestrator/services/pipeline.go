// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to external services (Weaviate, LLM)
//   - Applying the policy gate and grounding validation
//   - Writing the audit trail
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSOP/services/grounding"
	"github.com/AleutianAI/AleutianSOP/services/llm"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// pipelineTracer is the OpenTelemetry tracer for SOPPipelineService operations.
var pipelineTracer = otel.Tracer("aleutian.orchestrator.services.pipeline")

// Default pipeline configuration.
const (
	// defaultTopK is the number of excerpts handed to the gate and the
	// LLM when the request does not specify top_k.
	defaultTopK = 6

	// retrievalOverfetch multiplies top_k for the candidate query so the
	// ranker has material to deduplicate and diversify.
	retrievalOverfetch = 3

	// maxTopK caps caller-supplied top_k.
	maxTopK = 20

	// defaultRetrievalTimeout bounds one Weaviate query. A hung search
	// backend must surface as a request failure, not a stuck request.
	defaultRetrievalTimeout = 10 * time.Second

	// defaultGenerationTimeout bounds one LLM call. Local Ollama models
	// can be slow, so this is generous.
	defaultGenerationTimeout = 120 * time.Second
)

// SOPPipelineService answers SOP questions through the policy-gated
// grounding pipeline. It orchestrates the flow between:
//   - Guard: screens input for injection attempts and smalltalk
//   - Retriever: fetches candidate SOP excerpts from Weaviate
//   - PolicyGate: decides refuse / advice / grounded per topic and tier
//   - LLM client: generates answers from gated excerpts only
//   - GroundingValidator: certifies every claim against citation tags
//   - AuditSink: records every decision
//
// The service is stateless; all state is per-request. This allows
// horizontal scaling of the orchestrator.
//
// Usage:
//
//	service, err := NewSOPPipelineService(retriever, llmClient, audit)
//	resp, err := service.Ask(ctx, &req)
type SOPPipelineService struct {
	retriever  Retriever
	llmClient  llm.LLMClient
	audit      AuditSink
	metrics    *observability.PipelineMetrics
	rules      *grounding.RuleSet
	classifier *grounding.TopicClassifier
	ranker     *grounding.EvidenceRanker
	gate       *grounding.PolicyGate
	validator  *grounding.GroundingValidator
	guard      grounding.Guard
	composer   *grounding.RefusalComposer

	topK              int
	allowGuardBypass  bool
	retrievalTimeout  time.Duration
	generationTimeout time.Duration
}

// NewSOPPipelineService creates the pipeline with the provided
// collaborators. All three must be non-nil; the grounding components are
// built internally from the embedded rule table.
//
// Configuration is read from the environment:
//   - SOP_TOP_K: excerpts per request (default 6)
//   - SOP_ALLOW_GUARD_BYPASS: honor bypass_guard in requests ("true" to
//     enable; meant for the adversarial self-test only)
//   - SOP_RETRIEVAL_TIMEOUT: deadline per Weaviate query (default 10s)
//   - SOP_GENERATION_TIMEOUT: deadline per LLM call (default 120s)
//
// Returns an error if the embedded rule table fails to load. That is
// fatal at startup; there is no degraded mode without a rule table.
func NewSOPPipelineService(retriever Retriever, llmClient llm.LLMClient, audit AuditSink) (*SOPPipelineService, error) {
	rules, err := grounding.NewRuleSet()
	if err != nil {
		return nil, fmt.Errorf("failed to load topic rule table: %w", err)
	}

	topK := defaultTopK
	if v := os.Getenv("SOP_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxTopK {
			topK = n
		} else {
			slog.Warn("Invalid SOP_TOP_K, using default", "value", v, "default", defaultTopK)
		}
	}

	retrievalTimeout := timeoutFromEnv("SOP_RETRIEVAL_TIMEOUT", defaultRetrievalTimeout)
	generationTimeout := timeoutFromEnv("SOP_GENERATION_TIMEOUT", defaultGenerationTimeout)

	allowBypass := strings.EqualFold(os.Getenv("SOP_ALLOW_GUARD_BYPASS"), "true")
	if allowBypass {
		slog.Warn("Guard bypass is enabled; bypass_guard requests will skip input screening")
	}

	if observability.DefaultMetrics == nil {
		observability.InitMetrics()
	}

	classifier := grounding.NewTopicClassifier(rules)
	return &SOPPipelineService{
		retriever:         retriever,
		llmClient:         llmClient,
		audit:             audit,
		metrics:           observability.DefaultMetrics,
		rules:             rules,
		classifier:        classifier,
		ranker:            grounding.NewEvidenceRanker(),
		gate:              grounding.NewPolicyGate(rules, classifier),
		validator:         grounding.NewGroundingValidator(),
		guard:             grounding.NewPatternGuard(),
		composer:          grounding.NewRefusalComposer(),
		topK:              topK,
		allowGuardBypass:  allowBypass,
		retrievalTimeout:  retrievalTimeout,
		generationTimeout: generationTimeout,
	}, nil
}

// timeoutFromEnv reads a duration from the environment, e.g. "5s" or
// "500ms", falling back to def on anything unparseable or non-positive.
func timeoutFromEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("Invalid timeout, using default", "env", name, "value", v, "default", def)
		return def
	}
	return d
}

// Topics returns the rule table in priority order for GET /v1/sop/topics.
func (s *SOPPipelineService) Topics() []datatypes.TopicInfo {
	out := make([]datatypes.TopicInfo, 0, s.rules.Len())
	for _, rule := range s.rules.Topics() {
		out = append(out, datatypes.TopicInfo{
			Topic:            rule.Topic,
			Label:            rule.Label,
			TemplateQuestion: rule.TemplateQuestion,
		})
	}
	return out
}

// Ask handles one SOP question end-to-end.
//
// The processing flow is:
//  1. Validate the request and assign request/session IDs
//  2. Guard-screen the input (injection, smalltalk)
//  3. Classify the topic (or accept the caller's override)
//  4. Retrieve and rank candidate excerpts
//  5. Gate the request (refuse / advice / grounded)
//  6. Generate with only the gated excerpts in the prompt
//  7. Validate grounding; substitute the refusal sentinel on failure
//  8. Audit the decision (fire-and-forget)
//
// Errors are returned only for infrastructure failures (retrieval, LLM);
// every policy outcome, including refusals, is a normal response.
//
// The method is safe for concurrent use.
func (s *SOPPipelineService) Ask(ctx context.Context, req *datatypes.AskRequest) (*datatypes.AskResponse, error) {
	ctx, span := pipelineTracer.Start(ctx, "SOPPipelineService.Ask")
	defer span.End()

	s.metrics.RequestStarted()
	defer s.metrics.RequestEnded()

	start := time.Now()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	requestId := uuid.New().String()
	sessionId := req.EnsureSessionId()
	span.SetAttributes(
		attribute.String("request.id", requestId),
		attribute.String("session.id", sessionId),
	)
	slog.Info("Processing SOP question",
		"request_id", requestId,
		"session_id", sessionId,
		"topic_override", req.Topic,
	)

	// Step 2: Guard screening. A flagged input never reaches retrieval.
	if !(req.BypassGuard && s.allowGuardBypass) {
		if verdict := s.guard.Evaluate(req.Question); verdict.Flagged {
			span.SetAttributes(attribute.String("guard.category", string(verdict.Category)))
			return s.guardBlocked(ctx, req, requestId, sessionId, verdict, start), nil
		}
	} else {
		slog.Warn("Guard bypassed by request", "request_id", requestId)
		span.SetAttributes(attribute.Bool("guard.bypassed", true))
	}

	// Step 3: Topic classification (caller override wins).
	topic := strings.ToLower(strings.TrimSpace(req.Topic))
	if topic == "" {
		topic = s.classifier.Classify(req.Question)
	}
	span.SetAttributes(attribute.String("topic", topic))

	// Step 4: Retrieval and ranking.
	topK := req.TopK
	if topK <= 0 || topK > maxTopK {
		topK = s.topK
	}
	retrievalStart := time.Now()
	retrievalCtx, cancelRetrieval := context.WithTimeout(ctx, s.retrievalTimeout)
	candidates, err := s.retriever.Retrieve(retrievalCtx, req.Question, topK*retrievalOverfetch)
	cancelRetrieval()
	s.metrics.RecordStageDuration(observability.StageRetrieval, time.Since(retrievalStart).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		s.metrics.RecordRequest(observability.OutcomeError)
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	s.metrics.RecordRetrievedExcerpts(len(candidates))
	excerpts := s.ranker.Select(candidates, topK)
	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("retrieval.selected", len(excerpts)),
	)

	// Step 5: Policy gate.
	gateStart := time.Now()
	decision := s.gate.Decide(req.Question, topic, excerpts)
	s.metrics.RecordStageDuration(observability.StageGate, time.Since(gateStart).Seconds())
	s.metrics.RecordGateDecision(decision.Topic, string(decision.Mode), decision.AllowGeneration)
	span.SetAttributes(
		attribute.String("gate.topic", decision.Topic),
		attribute.String("gate.mode", string(decision.Mode)),
		attribute.Bool("gate.allow_generation", decision.AllowGeneration),
		attribute.String("gate.risk_tier", string(decision.RiskTier)),
	)

	if !decision.AllowGeneration {
		return s.refuse(ctx, req, requestId, sessionId, decision, start), nil
	}

	// Step 6: Generation. Only the gated excerpts appear in the prompt.
	var prompt string
	if decision.Mode == grounding.ModeAdvice {
		prompt = buildAdvicePrompt(req.Question)
	} else {
		prompt = buildGroundedPrompt(req.Question, excerpts)
	}
	genStart := time.Now()
	genCtx, cancelGen := context.WithTimeout(ctx, s.generationTimeout)
	answer, err := s.llmClient.Generate(genCtx, prompt, generationParams())
	cancelGen()
	s.metrics.RecordStageDuration(observability.StageGeneration, time.Since(genStart).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		s.metrics.RecordRequest(observability.OutcomeError)
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	if decision.Mode == grounding.ModeAdvice {
		// Advice answers are deliberately uncited; they are never
		// presented as grounded.
		resp := &datatypes.AskResponse{
			Answer:    answer,
			Grounded:  false,
			Citations: []datatypes.Citation{},
			Policy:    decision,
			SessionId: sessionId,
			RequestId: requestId,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		s.metrics.RecordRequest(observability.OutcomeAdvice)
		s.recordAudit(ctx, req, requestId, sessionId, decision, string(grounding.GuardNone), false, false, resp.LatencyMs)
		return resp, nil
	}

	// Step 7: Grounding validation.
	tags := grounding.CitationTags(excerpts)
	valStart := time.Now()
	outcome := s.validator.Validate(answer, tags)
	s.metrics.RecordStageDuration(observability.StageValidation, time.Since(valStart).Seconds())
	span.SetAttributes(
		attribute.Bool("grounding.grounded", outcome.Grounded),
		attribute.Bool("grounding.deliberate_refusal", outcome.DeliberateRefusal),
		attribute.Int("grounding.bullets", outcome.BulletCount),
	)

	if outcome.DeliberateRefusal {
		decision.Reason = "[GROUNDING] Model declined: the provided excerpts do not answer the question."
		return s.refuse(ctx, req, requestId, sessionId, decision, start), nil
	}

	if !outcome.Grounded {
		s.metrics.RecordGroundingFailure()
		slog.Warn("Answer failed grounding validation, substituting sentinel",
			"request_id", requestId,
			"bullets", outcome.BulletCount,
			"first_failure", outcome.FirstFailure,
		)
		decision.Reason = "[GROUNDING] Generated answer failed citation validation; withheld."
		return s.refuse(ctx, req, requestId, sessionId, decision, start), nil
	}

	resp := &datatypes.AskResponse{
		Answer:    answer,
		Grounded:  true,
		Citations: datatypes.CitationsFromExcerpts(excerpts),
		Policy:    decision,
		SessionId: sessionId,
		RequestId: requestId,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	s.metrics.RecordRequest(observability.OutcomeGrounded)
	s.recordAudit(ctx, req, requestId, sessionId, decision, string(grounding.GuardNone), true, false, resp.LatencyMs)
	return resp, nil
}

// =============================================================================
// Refusal Paths
// =============================================================================

// guardBlocked builds the response for input stopped by the guard.
func (s *SOPPipelineService) guardBlocked(
	ctx context.Context,
	req *datatypes.AskRequest,
	requestId, sessionId string,
	verdict grounding.Verdict,
	start time.Time,
) *datatypes.AskResponse {
	var payload grounding.RefusalPayload
	if verdict.Category == grounding.GuardSmalltalk {
		payload = s.composer.ComposeSmalltalk(req.Question)
	} else {
		// The question and the matched pattern are both kept out of the
		// payload so refusals never echo attack strings at the caller.
		payload = s.composer.Compose(
			"",
			grounding.TopicGeneral,
			grounding.TierLow,
			"[GUARD] Input flagged as a prompt-injection attempt.",
			grounding.ModeRefusal,
		)
	}

	decision := grounding.PolicyDecision{
		Topic:           payload.Topic,
		RiskTier:        payload.RiskTier,
		Mode:            grounding.ModeRefusal,
		AllowGeneration: false,
		Reason:          payload.Reason,
		MatchedTerms:    []string{},
		Confidence:      grounding.ConfidenceHigh,
	}

	resp := &datatypes.AskResponse{
		Answer:              payload.AnswerText,
		Grounded:            false,
		Citations:           []datatypes.Citation{},
		Policy:              decision,
		FollowUpQuestions:   payload.FollowUpQuestions,
		RephraseSuggestions: payload.RephraseSuggestions,
		SessionId:           sessionId,
		RequestId:           requestId,
		LatencyMs:           time.Since(start).Milliseconds(),
	}
	s.metrics.RecordRequest(observability.OutcomeGuardBlocked)
	s.recordAudit(ctx, req, requestId, sessionId, decision, string(verdict.Category), false, true, resp.LatencyMs)
	return resp
}

// refuse builds the response for a gate denial or a grounding failure.
// The answer is the refusal sentinel plus composed guidance; excerpt text
// never appears in a refusal.
func (s *SOPPipelineService) refuse(
	ctx context.Context,
	req *datatypes.AskRequest,
	requestId, sessionId string,
	decision grounding.PolicyDecision,
	start time.Time,
) *datatypes.AskResponse {
	// When a flagged question slipped past the guard (bypass mode), the
	// echo is suppressed so the refusal can't reflect the attack text.
	echoQuestion := req.Question
	if s.guard.Evaluate(req.Question).Flagged {
		echoQuestion = ""
	}
	payload := s.composer.Compose(echoQuestion, decision.Topic, decision.RiskTier, decision.Reason, decision.Mode)

	resp := &datatypes.AskResponse{
		Answer:              grounding.CannotAnswerSentinel,
		Grounded:            false,
		Citations:           []datatypes.Citation{},
		Policy:              decision,
		FollowUpQuestions:   payload.FollowUpQuestions,
		RephraseSuggestions: payload.RephraseSuggestions,
		SessionId:           sessionId,
		RequestId:           requestId,
		LatencyMs:           time.Since(start).Milliseconds(),
	}
	s.metrics.RecordRequest(observability.OutcomeRefused)
	s.recordAudit(ctx, req, requestId, sessionId, decision, string(grounding.GuardNone), false, true, resp.LatencyMs)
	return resp
}

// recordAudit writes the audit record without blocking the response.
func (s *SOPPipelineService) recordAudit(
	ctx context.Context,
	req *datatypes.AskRequest,
	requestId, sessionId string,
	decision grounding.PolicyDecision,
	guardCategory string,
	grounded, refused bool,
	latencyMs int64,
) {
	rec := datatypes.NewAuditRecord(requestId, sessionId, req.Question)
	rec.Topic = decision.Topic
	rec.RiskTier = string(decision.RiskTier)
	rec.Mode = string(decision.Mode)
	rec.AllowGeneration = decision.AllowGeneration
	rec.Reason = decision.Reason
	rec.Grounded = grounded
	rec.Refused = refused
	rec.GuardCategory = guardCategory
	rec.LatencyMs = latencyMs

	// Run recording in a goroutine so it doesn't block the response to
	// the user; the sink owns its own timeout.
	go s.audit.Record(ctx, rec)
}

// =============================================================================
// Prompt Construction
// =============================================================================

// buildGroundedPrompt assembles the generation prompt from the gated
// excerpts. The citation contract stated here is exactly what the
// validator enforces afterwards.
func buildGroundedPrompt(question string, excerpts []grounding.Excerpt) string {
	var b strings.Builder
	b.WriteString("You are a safety SOP assistant. Answer ONLY from the SOP excerpts below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Answer as a bullet list.\n")
	b.WriteString("- Every bullet MUST end with the citation tag of the excerpt it came from, exactly as given.\n")
	b.WriteString("- Do not add information that is not in the excerpts.\n")
	b.WriteString("- If the excerpts do not answer the question, reply exactly: ")
	b.WriteString(grounding.CannotAnswerSentinel)
	b.WriteString("\n\nSOP excerpts:\n")
	for _, e := range excerpts {
		b.WriteString("\n")
		b.WriteString(e.CitationTag())
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(e.Text))
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// buildAdvicePrompt assembles the prompt for advice mode: conservative
// general guidance with an explicit instruction to defer to site SOPs,
// and no excerpts to cite.
func buildAdvicePrompt(question string) string {
	var b strings.Builder
	b.WriteString("You are a safety SOP assistant. The approved SOP excerpts do not explicitly cover the question below.\n")
	b.WriteString("Give brief, conservative general safety guidance as a bullet list. ")
	b.WriteString("State clearly that the site's own SOP and supervisor take precedence. ")
	b.WriteString("Do not invent site-specific procedures, limits, or equipment details.\n")
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// generationParams returns the near-greedy sampling used for SOP answers.
func generationParams() llm.GenerationParams {
	temp := float32(0.1)
	maxTokens := 1024
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}
