package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/crypto"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage"
)

// Manager hands out one loaded Engine per (agent, user) bucket and owns
// the on-disk layout: root/<agent_id>/<user_id>.db for metadata and
// root/<agent_id>/<user_id>.vec for vectors. Two callers using the same
// agent id share storage; that aliasing is the cross-agent sharing
// mechanism, not an accident.
//
// Concurrent external writers to the same files are the caller's problem;
// the manager only guarantees safety within one process.
type Manager struct {
	root     string
	cipher   *crypto.Cipher
	embedder llm.Embedder
	logger   zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates a manager rooted at the given storage directory.
func NewManager(root string, cipher *crypto.Cipher, embedder llm.Embedder, logger zerolog.Logger) *Manager {
	return &Manager{
		root:     root,
		cipher:   cipher,
		embedder: embedder,
		logger:   logger,
		engines:  make(map[string]*Engine),
	}
}

func validateBucketID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s id", storage.ErrInvalidInput, kind)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %s id %q must not contain path elements", storage.ErrInvalidInput, kind, id)
	}
	return nil
}

// Get returns the loaded engine for the bucket, creating and loading it on
// first use.
func (m *Manager) Get(ctx context.Context, agentID, userID string) (*Engine, error) {
	if err := validateBucketID("agent", agentID); err != nil {
		return nil, err
	}
	if err := validateBucketID("user", userID); err != nil {
		return nil, err
	}

	key := agentID + "/" + userID

	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.engines[key]; ok {
		return eng, nil
	}

	eng := New(Config{
		AgentID:      agentID,
		UserID:       userID,
		MetadataPath: filepath.Join(m.root, agentID, userID+".db"),
		VectorPath:   filepath.Join(m.root, agentID, userID+".vec"),
		Cipher:       m.cipher,
		Embedder:     m.embedder,
		Logger:       m.logger,
	})
	if _, err := eng.Load(ctx); err != nil {
		return nil, err
	}

	m.engines[key] = eng
	return eng, nil
}

// CloseAll saves and closes every open bucket, returning the first error.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, eng := range m.engines {
		if err := eng.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing bucket %s: %w", key, err)
		}
		delete(m.engines, key)
	}
	return firstErr
}
