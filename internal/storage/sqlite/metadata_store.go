// Package sqlite implements the bucket metadata store on SQLite via the
// pure-Go modernc.org driver, so the binary needs no cgo and no system
// sqlite library.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/crypto"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Schema creates the memories table. AUTOINCREMENT guarantees handles are
// strictly ascending and never reused after a delete, which the vector
// index relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	content_encrypted INTEGER NOT NULL DEFAULT 0,
	category TEXT NOT NULL,
	importance INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	turn_number INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
`

// MetadataStore implements storage.MetadataStore for one bucket file.
// The content column goes through the cipher; every other column stays
// clear so category filters and stats never need decryption.
type MetadataStore struct {
	db     *sql.DB
	cipher *crypto.Cipher
	logger zerolog.Logger
	now    func() int64
}

// NewMetadataStore opens (creating if needed) the bucket database at dsn.
// Pass ":memory:" for an ephemeral store.
func NewMetadataStore(dsn string, cipher *crypto.Cipher, logger zerolog.Logger) (*MetadataStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &MetadataStore{
		db:     db,
		cipher: cipher,
		logger: logger.With().Str("component", "metadata_store").Logger(),
		now:    nowUnix,
	}, nil
}

func nowUnix() int64 { return time.Now().Unix() }

func validate(record *types.MemoryRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil record", storage.ErrInvalidInput)
	}
	if record.Content == "" {
		return fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
	}
	if !types.IsValidCategory(string(record.Category)) {
		return fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, record.Category)
	}
	if record.Importance < types.MinImportance || record.Importance > types.MaxImportance {
		return fmt.Errorf("%w: importance %d out of range", storage.ErrInvalidInput, record.Importance)
	}
	return nil
}

// Insert persists a record and returns its assigned handle.
func (s *MetadataStore) Insert(ctx context.Context, record *types.MemoryRecord) (int64, error) {
	ids, err := s.InsertBatch(ctx, []*types.MemoryRecord{record})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertBatch persists records atomically and returns their handles in
// input order. Validation runs before the transaction opens so a bad
// record cannot leave partial writes behind.
func (s *MetadataStore) InsertBatch(ctx context.Context, records []*types.MemoryRecord) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for _, record := range records {
		if err := validate(record); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memories (content, content_encrypted, category, importance, created_at, session_id, turn_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		createdAt := record.CreatedAt
		if createdAt == 0 {
			createdAt = s.now()
		}

		content, err := s.cipher.EncryptString(record.Content)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to encrypt content: %w", err)
		}
		encrypted := 0
		if s.cipher.Active() {
			encrypted = 1
		}

		res, err := stmt.ExecContext(ctx, content, encrypted, string(record.Category),
			record.Importance, createdAt, record.SessionID, record.TurnNumber)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to insert record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to read assigned id: %w", err)
		}

		record.ID = id
		record.CreatedAt = createdAt
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit batch: %w", err)
	}
	return ids, nil
}

const selectColumns = `id, content, content_encrypted, category, importance, created_at, session_id, turn_number`

func (s *MetadataStore) scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (*types.MemoryRecord, error) {
	var (
		record    types.MemoryRecord
		category  string
		encrypted int
	)
	err := row.Scan(&record.ID, &record.Content, &encrypted, &category,
		&record.Importance, &record.CreatedAt, &record.SessionID, &record.TurnNumber)
	if err != nil {
		return nil, err
	}

	record.Category = types.Category(category)
	if encrypted == 1 {
		record.Content = s.cipher.DecryptString(record.Content)
	}
	return &record, nil
}

// Get returns the record with the given handle.
func (s *MetadataStore) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE id = ?`, id)

	record, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %d", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory %d: %w", id, err)
	}
	return record, nil
}

// GetByCategory returns all records in a category, oldest first with the
// handle as tiebreaker.
func (s *MetadataStore) GetByCategory(ctx context.Context, category types.Category) ([]*types.MemoryRecord, error) {
	if !types.IsValidCategory(string(category)) {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, category)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE category = ? ORDER BY created_at, id`,
		string(category))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query category %s: %w", category, err)
	}
	defer rows.Close()

	return s.collect(rows)
}

// GetAll returns every record ordered by handle.
func (s *MetadataStore) GetAll(ctx context.Context) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query memories: %w", err)
	}
	defer rows.Close()

	return s.collect(rows)
}

func (s *MetadataStore) collect(rows *sql.Rows) ([]*types.MemoryRecord, error) {
	var records []*types.MemoryRecord
	for rows.Next() {
		record, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}
	return records, nil
}

// Delete removes the record with the given handle.
func (s *MetadataStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete memory %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: memory %d", storage.ErrNotFound, id)
	}
	return nil
}

// Stats reports record counts overall and per category.
func (s *MetadataStore) Stats(ctx context.Context) (*storage.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &storage.Stats{ByCategory: make(map[types.Category]int)}
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan stats row: %w", err)
		}
		stats.ByCategory[types.Category(category)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: stats iteration failed: %w", err)
	}
	return stats, nil
}

// Sync checkpoints the WAL so the main database file is current on disk.
func (s *MetadataStore) Sync(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlite: failed to checkpoint WAL: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}
