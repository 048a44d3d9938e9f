package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// OllamaEmbedder generates embeddings through a local Ollama instance.
// All HTTP calls are wrapped with circuit breaker protection, client-side
// rate limiting, and bounded exponential retry for transient failures.
type OllamaEmbedder struct {
	baseURL        string
	model          string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
	logger         zerolog.Logger

	// dimension is probed from the first successful embedding.
	dimension atomic.Int64
}

// OllamaConfig holds Ollama embedder configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// RequestsPerSecond caps outgoing calls (default: 10)
	RequestsPerSecond float64
}

// embedRequest represents the request body for the /api/embed endpoint.
// Input accepts a single string or an array of strings.
type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

// embedResponse represents the response from /api/embed. Embeddings holds
// one vector per input, in input order.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(config OllamaConfig, logger zerolog.Logger) *OllamaEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 10
	}

	return &OllamaEmbedder{
		baseURL:        config.BaseURL,
		model:          config.Model,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker("ollama-embed"),
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:         logger.With().Str("component", "ollama_embedder").Logger(),
	}
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for all texts in one request.
// The result has exactly one vector per input, in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := e.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return e.embedWithRetry(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}

	vectors := result.([][]float32)
	e.dimension.CompareAndSwap(0, int64(len(vectors[0])))
	return vectors, nil
}

// embedWithRetry retries transient failures with bounded exponential
// backoff. Non-transient failures (4xx responses) abort immediately.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

	var vectors [][]float32
	op := func() error {
		var err error
		vectors, err = e.embed(ctx, texts)
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Dur("retry_in", wait).Msg("embedding request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embed is the single-shot implementation without retry or breaker wrapping.
func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var input interface{} = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	jsonData, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	if len(respData.Embeddings) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("ollama returned %d embeddings for %d inputs",
			len(respData.Embeddings), len(texts)))
	}
	for i, vec := range respData.Embeddings {
		if len(vec) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("ollama returned empty embedding for input %d", i))
		}
	}

	return respData.Embeddings, nil
}

// Dimension returns the probed vector dimension, or 0 before the first
// successful call.
func (e *OllamaEmbedder) Dimension() int {
	return int(e.dimension.Load())
}

// Model returns the configured embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

var _ Embedder = (*OllamaEmbedder)(nil)
