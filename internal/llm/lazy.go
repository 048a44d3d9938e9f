package llm

import (
	"context"
	"sync"
)

// LazyEmbedder defers construction of the underlying embedder until first
// use, then shares the single instance for the process lifetime. Model
// loading (or first connection) can be slow; wrapping it here keeps
// startup cheap for buckets that never embed anything.
type LazyEmbedder struct {
	construct func() (Embedder, error)

	once     sync.Once
	embedder Embedder
	err      error
}

// NewLazyEmbedder wraps a constructor. The constructor runs at most once,
// on the first Embed/EmbedBatch/Dimension call.
func NewLazyEmbedder(construct func() (Embedder, error)) *LazyEmbedder {
	return &LazyEmbedder{construct: construct}
}

func (l *LazyEmbedder) init() (Embedder, error) {
	l.once.Do(func() {
		l.embedder, l.err = l.construct()
	})
	return l.embedder, l.err
}

// Embed initializes the underlying embedder if needed and delegates.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.init()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch initializes the underlying embedder if needed and delegates.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.init()
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimension forces initialization and returns the model dimension.
// Returns 0 if construction failed.
func (l *LazyEmbedder) Dimension() int {
	e, err := l.init()
	if err != nil {
		return 0
	}
	return e.Dimension()
}

// Model forces initialization and returns the model identifier, or an
// empty string if construction failed.
func (l *LazyEmbedder) Model() string {
	e, err := l.init()
	if err != nil {
		return ""
	}
	return e.Model()
}

var _ Embedder = (*LazyEmbedder)(nil)
