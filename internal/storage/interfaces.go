// Package storage defines the metadata store contract for Engram buckets.
// The metadata store is the source of truth for memory records; the vector
// index is a derived structure rebuilt from it when the two disagree.
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/engram/pkg/types"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates the caller passed data the store refuses
	// to persist (empty content, unknown category, importance out of range).
	ErrInvalidInput = errors.New("invalid input")
)

// Stats summarizes the contents of one bucket's metadata store.
type Stats struct {
	Total      int
	ByCategory map[types.Category]int
}

// MetadataStore persists memory records for a single bucket and assigns
// their integer handles. Handles are unique within the bucket and strictly
// ascending; a deleted record's handle is never reused.
type MetadataStore interface {
	// Insert persists a record and returns its assigned handle. The
	// record's ID field is ignored on input. A zero CreatedAt is filled
	// with the current time.
	Insert(ctx context.Context, record *types.MemoryRecord) (int64, error)

	// InsertBatch persists records in one transaction and returns their
	// handles in input order. Either all records land or none do.
	InsertBatch(ctx context.Context, records []*types.MemoryRecord) ([]int64, error)

	// Get returns the record with the given handle, or ErrNotFound.
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)

	// GetByCategory returns all records in a category, oldest first.
	GetByCategory(ctx context.Context, category types.Category) ([]*types.MemoryRecord, error)

	// GetAll returns every record ordered by handle. Used to rebuild the
	// vector index when the sidecar file is missing or stale.
	GetAll(ctx context.Context) ([]*types.MemoryRecord, error)

	// Delete removes the record with the given handle, or ErrNotFound.
	Delete(ctx context.Context, id int64) error

	// Stats reports record counts overall and per category.
	Stats(ctx context.Context) (*Stats, error)

	// Sync flushes buffered writes to the backing file.
	Sync(ctx context.Context) error

	// Close releases the store. The store is unusable afterwards.
	Close() error
}
