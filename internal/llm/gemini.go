package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scrypster/engram/pkg/types"
)

// GeminiExtractor extracts memorable facts from conversation windows via
// the Gemini REST API with function calling. Structured tool output gives
// reliable parsing; a window with nothing memorable simply produces no
// tool call.
type GeminiExtractor struct {
	baseURL        string
	apiKey         string
	model          string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
	logger         zerolog.Logger
}

// GeminiConfig holds Gemini extractor configuration.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	// Model is the Gemini model name (default: gemini-2.0-flash)
	Model string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// RequestsPerSecond caps outgoing calls (default: 1)
	RequestsPerSecond float64
}

// Request/response wire types for models/<model>:generateContent.

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// storeMemoriesArgs is the payload of a store_memories function call.
type storeMemoriesArgs struct {
	Memories []struct {
		Content    string   `json:"content"`
		Category   string   `json:"category"`
		Importance *float64 `json:"importance"`
	} `json:"memories"`
}

// NewGeminiExtractor creates a Gemini-backed extractor.
func NewGeminiExtractor(config GeminiConfig, logger zerolog.Logger) (*GeminiExtractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 1
	}

	return &GeminiExtractor{
		baseURL:        config.BaseURL,
		apiKey:         config.APIKey,
		model:          config.Model,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker("gemini-extract"),
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:         logger.With().Str("component", "gemini_extractor").Logger(),
	}, nil
}

// Extract sends the window to Gemini with the store_memories tool
// declared and parses any function call out of the response. No tool
// call means nothing memorable, which is the common case and not an error.
func (g *GeminiExtractor) Extract(ctx context.Context, window []types.Turn) (*ExtractionResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := g.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return g.extract(ctx, window)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("gemini circuit breaker open: %w", err)
		}
		return nil, err
	}

	return result.(*ExtractionResponse), nil
}

func (g *GeminiExtractor) extract(ctx context.Context, window []types.Turn) (*ExtractionResponse, error) {
	conversation := FormatWindow(window)

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: "Analyze this conversation for memorable facts:\n\n" + conversation}},
		}},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: extractionSystemPrompt}},
		},
		Tools: []geminiTool{{
			FunctionDeclarations: []geminiFunctionDeclaration{storeMemoriesDeclaration()},
		}},
		GenerationConfig: &geminiGenConfig{Temperature: 0.3},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parseGeminiResponse(&respData)
}

// parseGeminiResponse walks the first candidate's parts, capturing any
// free text and the store_memories function call when present.
func parseGeminiResponse(resp *geminiResponse) (*ExtractionResponse, error) {
	out := &ExtractionResponse{}

	if len(resp.Candidates) == 0 {
		return out, nil
	}
	candidate := resp.Candidates[0]
	out.FinishReason = candidate.FinishReason

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.RawResponse = part.Text
		}

		if part.FunctionCall == nil || part.FunctionCall.Name != storeMemoriesToolName {
			continue
		}
		out.ToolCalled = true

		var args storeMemoriesArgs
		if err := json.Unmarshal(part.FunctionCall.Args, &args); err != nil {
			return nil, fmt.Errorf("failed to parse %s args: %w", storeMemoriesToolName, err)
		}

		for _, m := range args.Memories {
			c := types.Candidate{
				Content:  m.Content,
				Category: m.Category,
			}
			if m.Importance != nil {
				imp := int(*m.Importance)
				c.Importance = &imp
			}
			out.Candidates = append(out.Candidates, c)
		}
	}

	return out, nil
}

// Model returns the configured Gemini model name.
func (g *GeminiExtractor) Model() string {
	return g.model
}

var _ Extractor = (*GeminiExtractor)(nil)
