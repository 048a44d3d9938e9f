package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/pkg/types"
)

func newTestExtractor(t *testing.T, handler http.HandlerFunc) *GeminiExtractor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	extractor, err := NewGeminiExtractor(GeminiConfig{
		APIKey:            "test-key",
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
	}, zerolog.Nop())
	require.NoError(t, err)
	return extractor
}

func TestGeminiExtractToolCall(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"finishReason": "STOP",
				"content": {"role": "model", "parts": [{
					"functionCall": {
						"name": "store_memories",
						"args": {"memories": [
							{"content": "User lives in Lisbon", "category": "identity", "importance": 5},
							{"content": "User dislikes long emails", "category": "preference", "importance": 3}
						]}
					}
				}]}
			}]
		}`))
	})

	resp, err := extractor.Extract(context.Background(), []types.Turn{
		{Role: "user", Content: "I just moved to Lisbon"},
	})
	require.NoError(t, err)

	assert.True(t, resp.ToolCalled)
	assert.Equal(t, "STOP", resp.FinishReason)
	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, "User lives in Lisbon", resp.Candidates[0].Content)
	assert.Equal(t, "identity", resp.Candidates[0].Category)
	require.NotNil(t, resp.Candidates[0].Importance)
	assert.Equal(t, 5, *resp.Candidates[0].Importance)
}

func TestGeminiExtractNothingMemorable(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"finishReason": "STOP",
				"content": {"role": "model", "parts": [{"text": "Nothing worth storing here."}]}
			}]
		}`))
	})

	resp, err := extractor.Extract(context.Background(), []types.Turn{
		{Role: "user", Content: "tell me more"},
	})
	require.NoError(t, err)

	assert.False(t, resp.ToolCalled)
	assert.Empty(t, resp.Candidates)
	assert.Equal(t, "Nothing worth storing here.", resp.RawResponse)
}

func TestGeminiExtractNoCandidates(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	resp, err := extractor.Extract(context.Background(), []types.Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.False(t, resp.ToolCalled)
	assert.Empty(t, resp.Candidates)
}

func TestGeminiExtractHTTPError(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := extractor.Extract(context.Background(), []types.Turn{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGeminiExtractMalformedToolArgs(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{
					"functionCall": {"name": "store_memories", "args": "not-an-object"}
				}]}
			}]
		}`))
	})

	_, err := extractor.Extract(context.Background(), []types.Turn{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiExtractor(GeminiConfig{}, zerolog.Nop())
	require.Error(t, err)
}

func TestFormatWindow(t *testing.T) {
	got := FormatWindow([]types.Turn{
		{Role: "user", Content: "I got a new dog"},
		{Role: "assistant", Content: "What breed?"},
		{Role: "user", Content: "A corgi named Biscuit"},
	})

	want := "USER: I got a new dog\nASSISTANT: What breed?\nUSER: A corgi named Biscuit"
	assert.Equal(t, want, got)
}
