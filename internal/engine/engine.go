// Package engine composes the vector index and the metadata store into the
// per-bucket memory store, and manages one engine per (agent, user) bucket.
//
// The metadata store is the source of truth. Writes land there first, then
// in the vector index; if the second step fails the record is still
// durable, and the next Load heals the divergence by re-embedding metadata
// rows that lack a vector and tombstoning vector ids without a row.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/crypto"
	"github.com/scrypster/engram/internal/index"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

var (
	// ErrNotLoaded is returned when an operation runs before Load. This is
	// a programming-contract error, not a retryable condition.
	ErrNotLoaded = errors.New("memory store not loaded")

	// ErrStoreLoad indicates a backing file could not be opened or parsed
	// after the decryption fallback.
	ErrStoreLoad = errors.New("failed to load memory store")
)

// Config carries the collaborators and file locations for one bucket.
type Config struct {
	AgentID      string
	UserID       string
	MetadataPath string
	VectorPath   string

	Cipher   *crypto.Cipher
	Embedder llm.Embedder
	Logger   zerolog.Logger
}

// Engine is one bucket's memory store. All mutation happens under a single
// bucket-scoped write lock; readers see either the state before a write or
// fully after it, never a torn one. Writes apply in lock-acquisition
// order, so record handles are strictly increasing in that order.
type Engine struct {
	agentID      string
	userID       string
	metadataPath string
	vectorPath   string

	cipher   *crypto.Cipher
	embedder llm.Embedder
	logger   zerolog.Logger

	mu     sync.RWMutex
	store  storage.MetadataStore
	index  *index.Index
	loaded bool
}

// New creates an unloaded engine. Call Load before any other operation.
func New(cfg Config) *Engine {
	return &Engine{
		agentID:      cfg.AgentID,
		userID:       cfg.UserID,
		metadataPath: cfg.MetadataPath,
		vectorPath:   cfg.VectorPath,
		cipher:       cfg.Cipher,
		embedder:     cfg.Embedder,
		logger: cfg.Logger.With().
			Str("component", "engine").
			Str("agent_id", cfg.AgentID).
			Str("user_id", cfg.UserID).
			Logger(),
	}
}

// Load opens both backing files (creating them on first use) and reconciles
// the vector index against the metadata store. It returns the elapsed time.
func (e *Engine) Load(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return time.Since(start), nil
	}

	if dir := filepath.Dir(e.metadataPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreLoad, err)
		}
	}

	store, err := sqlite.NewMetadataStore(e.metadataPath, e.cipher, e.logger)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreLoad, err)
	}

	ix := index.New(e.cipher)
	if err := ix.Load(e.vectorPath); err != nil {
		store.Close()
		return 0, fmt.Errorf("%w: %v", ErrStoreLoad, err)
	}

	e.store = store
	e.index = ix
	e.loaded = true

	if err := e.reconcile(ctx); err != nil {
		e.loaded = false
		store.Close()
		return 0, fmt.Errorf("%w: %v", ErrStoreLoad, err)
	}

	elapsed := time.Since(start)
	e.logger.Info().
		Int("memories", e.index.Count()).
		Dur("elapsed", elapsed).
		Msg("memory store loaded")
	return elapsed, nil
}

// reconcile heals divergence between the two backing structures: metadata
// rows without a vector are re-embedded, vector ids without a row are
// tombstoned. Called under the write lock.
func (e *Engine) reconcile(ctx context.Context) error {
	records, err := e.store.GetAll(ctx)
	if err != nil {
		return err
	}

	known := make(map[int64]struct{}, len(records))
	var missing []*types.MemoryRecord
	for _, record := range records {
		known[record.ID] = struct{}{}
		if !e.index.Contains(record.ID) {
			missing = append(missing, record)
		}
	}

	for _, id := range e.index.IDs() {
		if _, ok := known[id]; !ok {
			e.logger.Warn().Int64("id", id).Msg("vector without metadata row; dropping")
			e.index.Remove(id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	texts := make([]string, len(missing))
	for i, record := range missing {
		texts[i] = record.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("re-embedding %d records: %w", len(missing), err)
	}
	for i, record := range missing {
		if err := e.index.Add(record.ID, vectors[i]); err != nil {
			return fmt.Errorf("rebuilding vector for record %d: %w", record.ID, err)
		}
	}

	e.logger.Info().Int("rebuilt", len(missing)).Msg("vector index healed from metadata")
	return nil
}

// Store embeds content and persists one record, returning its handle.
func (e *Engine) Store(ctx context.Context, content string, category types.Category, importance int, sessionID string, turnNumber int) (int64, error) {
	ids, err := e.StoreBatch(ctx, []*types.MemoryRecord{{
		Content:    content,
		Category:   category,
		Importance: importance,
		SessionID:  sessionID,
		TurnNumber: turnNumber,
	}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// StoreBatch embeds all records in one batched call and persists them as a
// group under the bucket lock: metadata first, then vectors. Handles come
// back in input order. A vector-index failure after the metadata commit is
// logged and left for the next Load to heal.
func (e *Engine) StoreBatch(ctx context.Context, records []*types.MemoryRecord) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for _, record := range records {
		if record == nil || record.Content == "" {
			return nil, fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
		}
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}

	ids, err := e.store.InsertBatch(ctx, records)
	if err != nil {
		return nil, err
	}

	for i, id := range ids {
		if err := e.index.Add(id, vectors[i]); err != nil {
			// Metadata is already durable; the row is re-embedded on next load.
			e.logger.Error().Err(err).Int64("id", id).Msg("vector add failed after metadata commit")
			return ids, fmt.Errorf("indexing record %d: %w", id, err)
		}
	}
	return ids, nil
}

// Retrieve embeds the query and returns up to k records ranked by cosine
// similarity, optionally restricted to the given categories and cut off at
// minSimilarity. An empty store yields an empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, categories []types.Category, minSimilarity float64) ([]types.MemoryResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", storage.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, nil
	}

	e.mu.RLock()
	loaded := e.loaded
	empty := loaded && e.index.Count() == 0
	e.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	if empty {
		return nil, nil
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	wanted := make(map[types.Category]struct{}, len(categories))
	for _, c := range categories {
		wanted[c] = struct{}{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}

	// With a category filter the cut to k happens after the join, so the
	// search must consider every candidate above the threshold.
	searchK := k
	if len(wanted) > 0 {
		searchK = e.index.Count()
	}
	hits, err := e.index.Search(vector, searchK, minSimilarity)
	if err != nil {
		return nil, err
	}

	results := make([]types.MemoryResult, 0, min(k, len(hits)))
	for _, hit := range hits {
		record, err := e.store.Get(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn().Int64("id", hit.ID).Msg("hit without metadata row; skipping")
				continue
			}
			return nil, err
		}
		if len(wanted) > 0 {
			if _, ok := wanted[record.Category]; !ok {
				continue
			}
		}
		results = append(results, types.MemoryResult{Record: *record, Similarity: hit.Similarity})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// GetIdentityMemories returns up to k identity and preference records
// ranked by importance descending, most recent first as tie-break. Used to
// warm a conversation before any query context exists.
func (e *Engine) GetIdentityMemories(ctx context.Context, k int) ([]types.MemoryResult, error) {
	if k <= 0 {
		return nil, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}

	var records []*types.MemoryRecord
	for _, category := range []types.Category{types.CategoryIdentity, types.CategoryPreference} {
		batch, err := e.store.GetByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].ID > records[j].ID
	})

	if len(records) > k {
		records = records[:k]
	}
	results := make([]types.MemoryResult, len(records))
	for i, record := range records {
		results[i] = types.MemoryResult{Record: *record}
	}
	return results, nil
}

// Forget deletes a record from both backing structures.
func (e *Engine) Forget(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.index.Remove(id)
	return nil
}

// Save persists both backing structures to disk.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	return e.saveLocked(ctx)
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if err := e.index.Save(e.vectorPath); err != nil {
		return err
	}
	return e.store.Sync(ctx)
}

// Close saves and releases the bucket. The engine is unusable afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil
	}

	saveErr := e.saveLocked(ctx)
	closeErr := e.store.Close()
	e.loaded = false

	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

// Stats reports the bucket's record counts and configuration.
func (e *Engine) Stats(ctx context.Context) (*types.StoreStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &types.StoreStats{
		Loaded:            e.loaded,
		ByCategory:        make(map[types.Category]int),
		EncryptionEnabled: e.cipher.Active(),
	}
	if !e.loaded {
		return stats, nil
	}

	stored, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalMemories = stored.Total
	stats.VectorCount = e.index.Count()
	for category, count := range stored.ByCategory {
		stats.ByCategory[category] = count
	}
	return stats, nil
}
