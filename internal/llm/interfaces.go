// Package llm contains the clients for external model services: the
// embedding port and the fact-extraction port. Both are defined as small
// interfaces so the engine and orchestrator never depend on a concrete
// provider, and all HTTP implementations share the same circuit breaker
// and rate-limiting discipline.
package llm

import (
	"context"

	"github.com/scrypster/engram/pkg/types"
)

// Embedder is the interface for generating vector embeddings.
// EmbedBatch must be semantically identical to repeated Embed calls,
// differing only in performance. Dimension is fixed for the lifetime of
// the underlying model; every vector stored in a given index has it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// ExtractionResponse is the raw outcome of one extraction call, before
// candidate validation.
type ExtractionResponse struct {
	// ToolCalled reports whether the model invoked the store_memories
	// tool. False with no candidates is the common "nothing memorable"
	// case, not an error.
	ToolCalled bool

	// Candidates are the unvalidated facts returned by the tool call.
	Candidates []types.Candidate

	// RawResponse is any free text the model produced.
	RawResponse string

	// FinishReason is the provider's finish reason, when available.
	FinishReason string
}

// Extractor is the interface for the external fact-extraction service.
// Given a window of role-tagged turns it either returns candidates or
// fails; failures are recovered by the orchestrator, never propagated to
// the host pipeline.
type Extractor interface {
	Extract(ctx context.Context, window []types.Turn) (*ExtractionResponse, error)
	Model() string
}
