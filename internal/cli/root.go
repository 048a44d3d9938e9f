// Package cli implements the engram command line interface.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/crypto"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/extraction"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/logging"
)

// options carries the persistent flags shared by every subcommand.
type options struct {
	configFile string
	agentID    string
	userID     string
	dataPath   string
	logFile    string
	prettyLogs bool
}

// app bundles the wired services a subcommand needs.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cipher  *crypto.Cipher
	manager *engine.Manager
}

// NewRootCommand builds the engram command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "engram",
		Short:         "Durable, semantically searchable long-term memory for conversational agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.agentID, "agent", "default", "agent id (buckets with the same agent id share memories)")
	cmd.PersistentFlags().StringVar(&opts.userID, "user", "default", "user id")
	cmd.PersistentFlags().StringVar(&opts.dataPath, "data-path", "", "storage root (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "append JSON logs to this file instead of stderr")
	cmd.PersistentFlags().BoolVar(&opts.prettyLogs, "pretty", false, "human-readable console logs")

	cmd.AddCommand(
		newPutCommand(opts),
		newSearchCommand(opts),
		newStatsCommand(opts),
		newForgetCommand(opts),
		newChatCommand(opts),
	)
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}

// newApp loads configuration and wires the service graph.
func (o *options) newApp() (*app, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.dataPath != "" {
		cfg.Storage.DataPath = o.dataPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewWithOptions(cfg.LogLevel, o.logFile, o.prettyLogs)
	if err != nil {
		return nil, err
	}

	cipher, err := crypto.NewCipher(cfg.Security.Passphrase, logger)
	if err != nil {
		return nil, err
	}

	manager := engine.NewManager(cfg.Storage.DataPath, cipher, newEmbedder(cfg, logger), logger)
	return &app{cfg: cfg, logger: logger, cipher: cipher, manager: manager}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.manager.CloseAll(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to close memory stores")
	}
}

// engine returns the loaded engine for the flags' bucket.
func (a *app) engine(ctx context.Context, o *options) (*engine.Engine, error) {
	return a.manager.Get(ctx, o.agentID, o.userID)
}

// newEmbedder selects the embedding provider. The Ollama client is lazy so
// commands that never embed do not touch the network.
func newEmbedder(cfg *config.Config, logger zerolog.Logger) llm.Embedder {
	if cfg.Embedding.Provider == "hash" {
		return llm.NewHashEmbedder(cfg.Embedding.Dimension)
	}
	return llm.NewLazyEmbedder(func() (llm.Embedder, error) {
		return llm.NewOllamaEmbedder(llm.OllamaConfig{
			BaseURL: cfg.Embedding.OllamaURL,
			Model:   cfg.Embedding.Model,
		}, logger), nil
	})
}

// newOrchestrator wires the Gemini extractor when a credential is present.
// Without one, extraction is disabled and nil is returned.
func (a *app) newOrchestrator(callback extraction.Callback) (*extraction.Orchestrator, error) {
	if !a.cfg.ExtractionEnabled() {
		a.logger.Warn().Msg("no extraction API key configured; memory extraction disabled")
		return nil, nil
	}

	extractor, err := llm.NewGeminiExtractor(llm.GeminiConfig{
		APIKey:  a.cfg.Extraction.APIKey,
		Model:   a.cfg.Extraction.Model,
		Timeout: time.Duration(a.cfg.Extraction.TimeoutSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("configuring extractor: %w", err)
	}

	return extraction.New(extractor, a.manager, extraction.Config{
		WindowSize:      a.cfg.Extraction.WindowSize,
		TriggerInterval: a.cfg.Extraction.TriggerInterval,
		Timeout:         time.Duration(a.cfg.Extraction.TimeoutSeconds) * time.Second,
	}, callback, a.logger), nil
}
