// Package pipeline is the host-conversation adapter: it sits between the
// host's transcription/input stage and its language model, feeding turns
// into the extraction orchestrator and handing back memory lines to
// prepend to the next generation context.
//
// Nothing in here may interrupt the conversation. Any internal failure
// degrades to returning no memory lines.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/extraction"
	"github.com/scrypster/engram/pkg/types"
)

// Config identifies the bucket this processor serves and tunes retrieval.
type Config struct {
	AgentID string
	UserID  string

	// SessionID links stored records to this conversation. Auto-generated
	// when empty.
	SessionID string

	// TopK caps how many memory lines a user message can pull in. Default 5.
	TopK int

	// MinSimilarity is the retrieval cutoff. Default 0.3.
	MinSimilarity float64
}

// Processor drives one conversation session against one bucket.
type Processor struct {
	engines      *engine.Manager
	orchestrator *extraction.Orchestrator
	cfg          Config
	logger       zerolog.Logger

	mu        sync.Mutex
	userTurns int
}

// NewProcessor creates a processor for one session.
func NewProcessor(engines *engine.Manager, orchestrator *extraction.Orchestrator, cfg Config, logger zerolog.Logger) *Processor {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = 0.3
	}
	return &Processor{
		engines:      engines,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger: logger.With().
			Str("component", "pipeline").
			Str("agent_id", cfg.AgentID).
			Str("user_id", cfg.UserID).
			Logger(),
	}
}

// SessionID returns the session identifier in use.
func (p *Processor) SessionID() string {
	return p.cfg.SessionID
}

// OnUserMessage records a user turn and returns formatted memory lines to
// prepend to the next generation context: semantic matches for the text,
// or the strongest identity memories when nothing matches yet. Failures
// are logged and degrade to no lines.
func (p *Processor) OnUserMessage(ctx context.Context, text string) []string {
	if text == "" {
		return nil
	}

	p.mu.Lock()
	p.userTurns++
	p.mu.Unlock()

	if p.orchestrator != nil {
		p.orchestrator.ObserveUserTurn(ctx, p.cfg.AgentID, p.cfg.UserID, p.cfg.SessionID, text)
	}

	eng, err := p.engines.Get(ctx, p.cfg.AgentID, p.cfg.UserID)
	if err != nil {
		p.logger.Warn().Err(err).Msg("memory store unavailable; continuing without memories")
		return nil
	}

	results, err := eng.Retrieve(ctx, text, p.cfg.TopK, nil, p.cfg.MinSimilarity)
	if err != nil {
		p.logger.Warn().Err(err).Msg("retrieval failed; continuing without memories")
		return nil
	}
	if len(results) == 0 {
		results, err = eng.GetIdentityMemories(ctx, p.cfg.TopK)
		if err != nil {
			p.logger.Warn().Err(err).Msg("identity lookup failed; continuing without memories")
			return nil
		}
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = FormatMemoryLine(r.Record)
	}
	return lines
}

// OnAssistantMessage records an assistant reply into the conversation
// window. It never triggers extraction or retrieval.
func (p *Processor) OnAssistantMessage(text string) {
	if p.orchestrator != nil {
		p.orchestrator.ObserveAssistantTurn(p.cfg.AgentID, p.cfg.UserID, text)
	}
}

// UserTurns reports how many user messages this session has seen.
func (p *Processor) UserTurns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userTurns
}

// Close saves and releases every bucket the manager holds open.
func (p *Processor) Close(ctx context.Context) error {
	return p.engines.CloseAll(ctx)
}

// FormatMemoryLine renders one record as a context line for the host LLM.
func FormatMemoryLine(record types.MemoryRecord) string {
	return fmt.Sprintf("[%s] %s (noted %s)", record.Category, record.Content, humanize.Time(record.Created()))
}
