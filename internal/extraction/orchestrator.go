// Package extraction decides when enough conversation has accumulated to
// call the fact-extraction model, validates what comes back, and persists
// accepted candidates through the memory store engine.
//
// The common case is that a window contains nothing worth remembering.
// An attempt that yields zero candidates is status "empty", not an error;
// only a failed or unparseable external call is status "error". Every
// attempt, whatever its outcome, consumes the window and resets the
// message counter so a low-signal conversation cannot cause a tight
// retry loop.
package extraction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/pkg/types"
)

// Callback receives the outcome of one extraction attempt. A panicking
// callback is recovered and logged; it never disturbs the orchestrator's
// own bookkeeping.
type Callback func(*types.ExtractionResult)

// Config tunes the trigger behavior.
type Config struct {
	// WindowSize caps the FIFO buffer of recent turns. Default 10.
	WindowSize int

	// TriggerInterval is the number of new user messages that arms an
	// extraction attempt. Default 5.
	TriggerInterval int

	// Timeout bounds one external extraction call. Default 30s.
	Timeout time.Duration

	// AsyncCallback dispatches the callback on its own goroutine instead
	// of running it inline before ObserveUserTurn returns.
	AsyncCallback bool
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.TriggerInterval <= 0 {
		c.TriggerInterval = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// bucketState is the per-bucket trigger bookkeeping.
type bucketState struct {
	window        []types.Turn
	userSinceLast int
	userTurns     int
	sessionID     string
}

// Orchestrator watches conversation turns per bucket and runs extraction
// attempts when the trigger rule fires. Buckets are independent; state for
// one never affects another.
type Orchestrator struct {
	extractor llm.Extractor
	engines   *engine.Manager
	cfg       Config
	callback  Callback
	logger    zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*bucketState
}

// New creates an orchestrator. extractor may be nil, which disables
// extraction entirely: turns are still buffered but no attempt ever runs.
func New(extractor llm.Extractor, engines *engine.Manager, cfg Config, callback Callback, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		extractor: extractor,
		engines:   engines,
		cfg:       cfg,
		callback:  callback,
		logger:    logger.With().Str("component", "extraction").Logger(),
		buckets:   make(map[string]*bucketState),
	}
}

// Enabled reports whether an extractor is configured.
func (o *Orchestrator) Enabled() bool {
	return o.extractor != nil
}

func (o *Orchestrator) bucket(agentID, userID string) *bucketState {
	key := agentID + "/" + userID
	state, ok := o.buckets[key]
	if !ok {
		state = &bucketState{}
		o.buckets[key] = state
	}
	return state
}

func (o *Orchestrator) push(state *bucketState, turn types.Turn) {
	state.window = append(state.window, turn)
	if len(state.window) > o.cfg.WindowSize {
		state.window = state.window[len(state.window)-o.cfg.WindowSize:]
	}
}

// ObserveAssistantTurn records an assistant reply into the bucket's window.
// Assistant turns never advance the trigger counter.
func (o *Orchestrator) ObserveAssistantTurn(agentID, userID, text string) {
	if text == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.push(o.bucket(agentID, userID), types.Turn{Role: "assistant", Content: text})
}

// ObserveUserTurn records a user message and, when the trigger interval is
// reached, runs one extraction attempt. It returns the attempt's result,
// or nil when no attempt ran. Extraction failures are contained in the
// result; the returned error is reserved for the caller's own misuse.
func (o *Orchestrator) ObserveUserTurn(ctx context.Context, agentID, userID, sessionID, text string) *types.ExtractionResult {
	if text == "" {
		return nil
	}

	o.mu.Lock()
	state := o.bucket(agentID, userID)
	state.sessionID = sessionID
	state.userTurns++
	state.userSinceLast++
	o.push(state, types.Turn{Role: "user", Content: text})

	if o.extractor == nil || state.userSinceLast < o.cfg.TriggerInterval {
		o.mu.Unlock()
		return nil
	}

	window := make([]types.Turn, len(state.window))
	copy(window, state.window)
	turnNumber := state.userTurns

	// The attempt consumes the window whatever its outcome.
	state.userSinceLast = 0
	state.window = nil
	o.mu.Unlock()

	result := o.attempt(ctx, agentID, userID, sessionID, window, turnNumber)
	o.deliver(result)
	return result
}

// attempt runs one extraction call and persists accepted candidates.
func (o *Orchestrator) attempt(ctx context.Context, agentID, userID, sessionID string, window []types.Turn, turnNumber int) *types.ExtractionResult {
	start := time.Now()
	result := &types.ExtractionResult{
		AttemptID:           uuid.NewString(),
		Status:              types.ExtractionEmpty,
		Model:               o.extractor.Model(),
		AgentID:             agentID,
		UserID:              userID,
		SessionID:           sessionID,
		Window:              window,
		FormattedPrompt:     llm.FormatWindow(window),
		TriggerMessageCount: o.cfg.TriggerInterval,
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.extractor.Extract(callCtx, window)
	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = types.ExtractionError
		result.ErrorMessage = err.Error()
		o.logger.Warn().Err(err).Str("agent_id", agentID).Str("user_id", userID).
			Msg("extraction attempt failed")
		return result
	}

	result.ToolCalled = resp.ToolCalled
	result.RawResponse = resp.RawResponse
	result.FinishReason = resp.FinishReason
	result.Candidates = validateCandidates(resp.Candidates)
	if len(result.Candidates) == 0 {
		return result
	}

	records := lo.Map(result.Candidates, func(c types.Candidate, _ int) *types.MemoryRecord {
		return &types.MemoryRecord{
			Content:    c.Content,
			Category:   types.Category(c.Category),
			Importance: *c.Importance,
			SessionID:  sessionID,
			TurnNumber: turnNumber,
		}
	})

	eng, err := o.engines.Get(ctx, agentID, userID)
	if err == nil {
		_, err = eng.StoreBatch(ctx, records)
	}
	if err != nil {
		result.Status = types.ExtractionError
		result.ErrorMessage = err.Error()
		o.logger.Error().Err(err).Str("agent_id", agentID).Str("user_id", userID).
			Int("candidates", len(result.Candidates)).
			Msg("failed to persist extracted memories")
		return result
	}

	result.Status = types.ExtractionExtracted
	o.logger.Info().Str("agent_id", agentID).Str("user_id", userID).
		Int("stored", len(records)).
		Int64("duration_ms", result.DurationMS).
		Msg("memories extracted")
	return result
}

// validateCandidates applies the defaulting rules: drop empty content,
// coerce unknown categories to context, clamp importance into range and
// default it when absent.
func validateCandidates(candidates []types.Candidate) []types.Candidate {
	return lo.FilterMap(candidates, func(c types.Candidate, _ int) (types.Candidate, bool) {
		if c.Content == "" {
			return types.Candidate{}, false
		}
		if !types.IsValidCategory(c.Category) {
			c.Category = string(types.CategoryContext)
		}
		importance := types.DefaultImportance
		if c.Importance != nil {
			importance = types.ClampImportance(*c.Importance)
		}
		c.Importance = &importance
		return c, true
	})
}

// deliver hands the result to the configured callback, inline or on its
// own goroutine, swallowing panics either way.
func (o *Orchestrator) deliver(result *types.ExtractionResult) {
	if o.callback == nil || result == nil {
		return
	}

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Interface("panic", r).Msg("extraction callback panicked")
			}
		}()
		o.callback(result)
	}

	if o.cfg.AsyncCallback {
		go run()
		return
	}
	run()
}
