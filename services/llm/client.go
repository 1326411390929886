package llm

import "context"

// GenerationParams are the sampling knobs passed through to the backend.
// Nil fields fall back to backend defaults tuned for grounded answering
// (low temperature, modest top-k).
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
//
// The pipeline treats generation as untrusted: whatever comes back goes
// through grounding validation before it reaches a user. Implementations
// must respect ctx cancellation.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
