package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, offline embedder: each token is hashed
// into a fixed number of buckets and the resulting bag-of-tokens vector
// is L2-normalized. Texts sharing words score higher cosine similarity,
// which is enough for tests and for running without a model server.
// Identical input always produces the identical vector.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder with the given dimension
// (default 384 when non-positive, matching small sentence-transformer models).
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed creates a deterministic embedding from text.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)

	for _, token := range tokenize(text) {
		hasher := fnv.New64a()
		hasher.Write([]byte(token))
		sum := hasher.Sum64()

		bucket := int(sum % uint64(h.dimension))
		// Sign from a higher hash bit spreads tokens over both halves
		// of the space instead of making all components positive.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	return normalize(vec), nil
}

// EmbedBatch embeds each text independently; identical to repeated Embed.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimension returns the fixed embedding size.
func (h *HashEmbedder) Dimension() int {
	return h.dimension
}

// Model returns a stable identifier for the hash scheme.
func (h *HashEmbedder) Model() string {
	return "hash-fnv64a"
}

var _ Embedder = (*HashEmbedder)(nil)

// tokenize lowercases and splits on non-letter/digit runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// normalize converts a vector to unit length. A zero vector is returned as-is.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
