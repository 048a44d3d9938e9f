package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaEmbedder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOllamaEmbedder(OllamaConfig{
		BaseURL:           server.URL,
		Model:             "nomic-embed-text",
		RequestsPerSecond: 1000,
	}, zerolog.Nop())
}

func TestOllamaEmbedBatch(t *testing.T) {
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs, ok := req["input"].([]interface{})
		require.True(t, ok, "batch input should be an array")
		require.Len(t, inputs, 2)

		w.Write([]byte(`{"embeddings": [[0.1, 0.2, 0.3], [0.4, 0.5, 0.6]]}`))
	})

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	assert.Equal(t, 3, embedder.Dimension())
}

func TestOllamaEmbedSingleUsesStringInput(t *testing.T) {
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, isString := req["input"].(string)
		assert.True(t, isString, "single input should be a bare string")

		w.Write([]byte(`{"embeddings": [[1, 0]]}`))
	})

	vec, err := embedder.Embed(context.Background(), "only one")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestOllamaRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"embeddings": [[0.5]]}`))
	})

	vec, err := embedder.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := embedder.Embed(context.Background(), "bad model")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx should not be retried")
}

func TestOllamaCountMismatch(t *testing.T) {
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings": [[0.5]]}`))
	})

	_, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 inputs")
}

func TestOllamaEmptyBatch(t *testing.T) {
	embedder := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})

	vectors, err := embedder.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures:          2,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()

	fail := func() (interface{}, error) { return nil, assert.AnError }
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, fail)
		require.Error(t, err)
	}

	assert.Equal(t, "open", cb.State())
	_, err := cb.Execute(ctx, func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
