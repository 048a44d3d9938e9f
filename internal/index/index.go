// Package index implements the per-bucket vector index: an exact
// cosine-similarity search structure over fixed-dimension vectors keyed
// by stable integer handles. Exact search is fine at the target scale
// (thousands of vectors per user); the interface deliberately does not
// preclude swapping in an approximate structure later.
//
// The index is not internally synchronized. The memory store engine owns
// the bucket write lock and is the only caller.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/scrypster/engram/internal/crypto"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index dimension. It indicates the embedding model changed mid-life
// of a bucket, which is fatal to that write.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrDuplicateID is returned when Add is called with an id already present.
var ErrDuplicateID = errors.New("id already present in index")

// ErrCorrupt is returned when a backing file cannot be parsed after the
// decryption fallback.
var ErrCorrupt = errors.New("vector index file is corrupt")

// fileMagic and fileVersion frame the serialized index.
var fileMagic = []byte("EVIX")

const fileVersion uint16 = 1

// Hit is one search result: a record handle and its cosine similarity to
// the query, in [-1, 1].
type Hit struct {
	ID         int64
	Similarity float64
}

// Index maps integer ids to fixed-dimension vectors. Removal is modeled
// as a tombstone filtered at query time and compacted on save.
type Index struct {
	cipher    *crypto.Cipher
	dimension int

	ids        []int64 // insertion order, includes tombstoned entries
	vectors    map[int64][]float32
	tombstones map[int64]struct{}
}

// New creates an empty index. Dimension is fixed by the first Add or by Load.
func New(cipher *crypto.Cipher) *Index {
	return &Index{
		cipher:     cipher,
		vectors:    make(map[int64][]float32),
		tombstones: make(map[int64]struct{}),
	}
}

// Dimension returns the fixed vector dimension, or 0 while the index is empty.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Count returns the number of live (non-tombstoned) vectors.
func (ix *Index) Count() int {
	return len(ix.vectors) - len(ix.tombstones)
}

// Contains reports whether id is present and live.
func (ix *Index) Contains(id int64) bool {
	if _, dead := ix.tombstones[id]; dead {
		return false
	}
	_, ok := ix.vectors[id]
	return ok
}

// IDs returns the live ids in insertion order.
func (ix *Index) IDs() []int64 {
	out := make([]int64, 0, ix.Count())
	for _, id := range ix.ids {
		if ix.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Add appends a vector under id. The first Add fixes the index dimension;
// any later vector of a different length fails with ErrDimensionMismatch.
func (ix *Index) Add(id int64, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if ix.dimension == 0 {
		ix.dimension = len(vector)
	} else if len(vector) != ix.dimension {
		return fmt.Errorf("%w: got %d, index dimension is %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}
	if _, exists := ix.vectors[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	ix.vectors[id] = vector
	ix.ids = append(ix.ids, id)
	delete(ix.tombstones, id)
	return nil
}

// Remove tombstones id. Removing an absent id is a no-op.
func (ix *Index) Remove(id int64) {
	if _, ok := ix.vectors[id]; ok {
		ix.tombstones[id] = struct{}{}
	}
}

// Search returns up to k live entries ranked by cosine similarity to the
// query, descending, with ties broken by lower id first. Entries below
// minSimilarity are excluded. An empty index returns an empty slice.
func (ix *Index) Search(query []float32, k int, minSimilarity float64) ([]Hit, error) {
	if k <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}
	if ix.dimension != 0 && len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d, index dimension is %d", ErrDimensionMismatch, len(query), ix.dimension)
	}

	hits := make([]Hit, 0, ix.Count())
	for id, vec := range ix.vectors {
		if _, dead := ix.tombstones[id]; dead {
			continue
		}
		sim := cosineSimilarity(query, vec)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Zero vectors score 0 against everything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Save serializes the live entries (tombstones are compacted away) into a
// single blob, passes it through the cipher, and writes it atomically:
// temp file then rename, so a crash leaves either the previous or the
// next valid file, never a torn one. Plaintext never reaches disk when
// encryption is active.
func (ix *Index) Save(path string) error {
	var buf bytes.Buffer
	buf.Write(fileMagic)

	if err := binary.Write(&buf, binary.LittleEndian, fileVersion); err != nil {
		return fmt.Errorf("index: serialize header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(ix.dimension)); err != nil {
		return fmt.Errorf("index: serialize dimension: %w", err)
	}

	live := ix.IDs()
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(live))); err != nil {
		return fmt.Errorf("index: serialize count: %w", err)
	}
	for _, id := range live {
		if err := binary.Write(&buf, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("index: serialize id %d: %w", id, err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, ix.vectors[id]); err != nil {
			return fmt.Errorf("index: serialize vector %d: %w", id, err)
		}
	}

	sealed, err := ix.cipher.Encrypt(buf.Bytes())
	if err != nil {
		return fmt.Errorf("index: encrypt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("index: create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("index: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("index: rename into place: %w", err)
	}
	return nil
}

// Load replaces the index contents from the file at path. A missing file
// yields an empty index. Decryption failures fall back to the raw bytes
// (legacy plaintext stays readable); bytes that then fail to parse
// surface as ErrCorrupt.
func (ix *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("index: read %s: %w", path, err)
	}

	plain := ix.cipher.Decrypt(data)
	r := bytes.NewReader(plain)

	header := make([]byte, len(fileMagic))
	if _, err := r.Read(header); err != nil || !bytes.Equal(header, fileMagic) {
		return fmt.Errorf("%w: bad magic in %s", ErrCorrupt, path)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil || version != fileVersion {
		return fmt.Errorf("%w: unsupported version in %s", ErrCorrupt, path)
	}

	var dimension, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return fmt.Errorf("%w: truncated header in %s", ErrCorrupt, path)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: truncated header in %s", ErrCorrupt, path)
	}

	ids := make([]int64, 0, count)
	vectors := make(map[int64][]float32, count)
	for i := uint32(0); i < count; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("%w: truncated record in %s", ErrCorrupt, path)
		}
		vec := make([]float32, dimension)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("%w: truncated vector in %s", ErrCorrupt, path)
		}
		ids = append(ids, id)
		vectors[id] = vec
	}

	ix.dimension = int(dimension)
	ix.ids = ids
	ix.vectors = vectors
	ix.tombstones = make(map[int64]struct{})
	return nil
}
