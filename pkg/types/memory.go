// Package types defines the core data structures for the Engram memory system.
// These types represent remembered facts, retrieval results, and the
// extraction artifacts that flow between the orchestrator and the store.
package types

import "time"

// Category classifies a remembered fact.
type Category string

// Category constants. The set is fixed; extraction output with an unknown
// category is coerced to CategoryContext before persistence.
const (
	// CategoryIdentity covers core facts: location, job, family, background.
	CategoryIdentity Category = "identity"

	// CategoryPreference covers likes, dislikes, and communication style.
	CategoryPreference Category = "preference"

	// CategoryContext covers current projects, problems, and life events.
	CategoryContext Category = "context"

	// CategoryRelationship covers shared moments and emotional references.
	CategoryRelationship Category = "relationship"

	// CategorySurprise covers unusual or unexpected facts that stand out.
	CategorySurprise Category = "surprise"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryIdentity,
	CategoryPreference,
	CategoryContext,
	CategoryRelationship,
	CategorySurprise,
}

// IsValidCategory checks if the given category is one of the fixed set.
func IsValidCategory(c string) bool {
	switch Category(c) {
	case CategoryIdentity, CategoryPreference, CategoryContext,
		CategoryRelationship, CategorySurprise:
		return true
	}
	return false
}

// Importance bounds. Extraction output outside this range is clamped.
const (
	MinImportance = 1
	MaxImportance = 5

	// DefaultImportance is assigned when extraction omits the field.
	DefaultImportance = 3
)

// ClampImportance forces an importance value into [MinImportance, MaxImportance].
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// MemoryRecord is one remembered fact about a user.
// Records are scoped to a bucket (agent id, user id) and identified by an
// integer handle that is unique and monotonically assigned within that bucket.
type MemoryRecord struct {
	ID         int64    `json:"id"`
	Content    string   `json:"content"`
	Category   Category `json:"category"`
	Importance int      `json:"importance"` // 1-5 scale: 5=core identity, 1=minor detail
	CreatedAt  int64    `json:"created_at"` // Unix seconds, wall clock

	// Optional session linkage
	SessionID  string `json:"session_id,omitempty"`
	TurnNumber int    `json:"turn_number,omitempty"`
}

// Created returns the record creation time.
func (r MemoryRecord) Created() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// MemoryResult pairs a record with the cosine similarity that ranked it.
// Similarity is zero for non-query retrieval paths (identity memories).
type MemoryResult struct {
	Record     MemoryRecord `json:"record"`
	Similarity float64      `json:"similarity"`
}

// StoreStats summarizes one bucket's store.
type StoreStats struct {
	Loaded            bool             `json:"loaded"`
	TotalMemories     int              `json:"total_memories"`
	VectorCount       int              `json:"vector_count"`
	ByCategory        map[Category]int `json:"by_category"`
	EncryptionEnabled bool             `json:"encryption_enabled"`
}
