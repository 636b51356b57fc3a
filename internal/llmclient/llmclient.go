// Package llmclient defines the two external collaborators spec.md §1/§6
// consumes rather than implements: Generate (LLM inference) and Embed
// (embedding computation). The runtime core depends only on these
// interfaces; concrete providers are wired in by cmd/agentd or a caller.
// Errors returned by an implementation must be classified Transient or
// Permanent (spec §6) so internal/resilience's retry policy and
// internal/cag's failure semantics can decide what to do with them.
package llmclient

import (
	"context"
	"time"
)

// GenerateRequest is the Generate contract's input (spec §6).
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
	Deadline    time.Time
}

// StreamChunk is one token chunk from GenerateStream.
type StreamChunk struct {
	Text string
	Done bool
}

// Generator is the consumed LLM inference contract. Implementations are
// expected to classify failures: transient failures should be wrapped as
// apierr.KindTransient so internal/resilience.Retry treats them as
// retryable; anything else is permanent and surfaces as
// apierr.KindGenerationFailed once retries are exhausted.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// StreamingGenerator is the optional streaming variant of Generator.
type StreamingGenerator interface {
	GenerateStream(ctx context.Context, req GenerateRequest, chunks chan<- StreamChunk) error
}

// Embedder is the consumed embedding contract: Embed(text) -> float[d],
// with d fixed per process (spec §6).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}
