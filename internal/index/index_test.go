package index

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/crypto"
)

func newTestIndex(t *testing.T, passphrase string) *Index {
	t.Helper()
	cipher, err := crypto.NewCipher(passphrase, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCipher() failed: %v", err)
	}
	return New(cipher)
}

func TestAddFixesDimension(t *testing.T) {
	ix := newTestIndex(t, "")

	if err := ix.Add(1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if ix.Dimension() != 3 {
		t.Errorf("Dimension() = %d, want 3", ix.Dimension())
	}

	err := ix.Add(2, []float32{1, 0})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add() with wrong dimension: got %v, want ErrDimensionMismatch", err)
	}

	if err := ix.Add(1, []float32{0, 1, 0}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Add() with duplicate id: got %v, want ErrDuplicateID", err)
	}
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	ix := newTestIndex(t, "")

	// id 3 and id 1 are identical vectors: the tie must break toward id 1.
	mustAdd(t, ix, 3, []float32{1, 0})
	mustAdd(t, ix, 1, []float32{1, 0})
	mustAdd(t, ix, 2, []float32{0.9, 0.1})
	mustAdd(t, ix, 4, []float32{0, 1})

	hits, err := ix.Search([]float32{1, 0}, 10, -1)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	if len(hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(hits))
	}
	if hits[0].ID != 1 || hits[1].ID != 3 {
		t.Errorf("tie break wrong: got order %d, %d; want 1, 3", hits[0].ID, hits[1].ID)
	}
	if hits[2].ID != 2 {
		t.Errorf("hits[2].ID = %d, want 2", hits[2].ID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("hits not in descending similarity order at %d", i)
		}
	}
}

func TestSearchMinSimilarityAndK(t *testing.T) {
	ix := newTestIndex(t, "")
	mustAdd(t, ix, 1, []float32{1, 0})
	mustAdd(t, ix, 2, []float32{0.7, 0.7})
	mustAdd(t, ix, 3, []float32{0, 1})

	hits, err := ix.Search([]float32{1, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("min similarity filter: got %d hits, want 2", len(hits))
	}

	hits, err = ix.Search([]float32{1, 0}, 1, -1)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 1 {
		t.Errorf("k cap: got %v, want single hit id 1", hits)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := newTestIndex(t, "")
	hits, err := ix.Search([]float32{1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("Search() on empty index failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty index, want 0", len(hits))
	}
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	ix := newTestIndex(t, "")
	mustAdd(t, ix, 1, []float32{1, 0, 0})

	_, err := ix.Search([]float32{1, 0}, 5, 0)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestRemoveTombstonesAtQueryTime(t *testing.T) {
	ix := newTestIndex(t, "")
	mustAdd(t, ix, 1, []float32{1, 0})
	mustAdd(t, ix, 2, []float32{1, 0})

	ix.Remove(1)

	if ix.Contains(1) {
		t.Error("Contains(1) = true after Remove")
	}
	if ix.Count() != 1 {
		t.Errorf("Count() = %d, want 1", ix.Count())
	}

	hits, err := ix.Search([]float32{1, 0}, 10, -1)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 2 {
		t.Errorf("tombstoned id still returned: %v", hits)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, passphrase := range []string{"", "secret"} {
		name := "plain"
		if passphrase != "" {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bucket.vec")

			ix := newTestIndex(t, passphrase)
			mustAdd(t, ix, 1, []float32{1, 0, 0})
			mustAdd(t, ix, 2, []float32{0, 1, 0})
			mustAdd(t, ix, 3, []float32{0, 0, 1})
			ix.Remove(2)

			if err := ix.Save(path); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}

			loaded := newTestIndex(t, passphrase)
			if err := loaded.Load(path); err != nil {
				t.Fatalf("Load() failed: %v", err)
			}

			if loaded.Dimension() != 3 {
				t.Errorf("Dimension() = %d, want 3", loaded.Dimension())
			}
			// Tombstoned entries are compacted on save.
			if loaded.Count() != 2 {
				t.Errorf("Count() = %d, want 2", loaded.Count())
			}
			if loaded.Contains(2) {
				t.Error("tombstoned id survived save/load")
			}

			before, err := ix.Search([]float32{1, 0, 0}, 5, -1)
			if err != nil {
				t.Fatal(err)
			}
			after, err := loaded.Search([]float32{1, 0, 0}, 5, -1)
			if err != nil {
				t.Fatal(err)
			}
			if len(before) != len(after) {
				t.Fatalf("search results differ after reload: %v vs %v", before, after)
			}
			for i := range before {
				if before[i] != after[i] {
					t.Errorf("hit %d differs after reload: %v vs %v", i, before[i], after[i])
				}
			}
		})
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	ix := newTestIndex(t, "")
	if err := ix.Load(filepath.Join(t.TempDir(), "absent.vec")); err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if ix.Count() != 0 {
		t.Errorf("Count() = %d, want 0", ix.Count())
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.vec")
	if err := os.WriteFile(path, []byte("definitely not an index"), 0o600); err != nil {
		t.Fatal(err)
	}

	ix := newTestIndex(t, "")
	if err := ix.Load(path); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() on garbage: got %v, want ErrCorrupt", err)
	}
}

func TestEncryptedFileIsOpaque(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.vec")

	ix := newTestIndex(t, "secret")
	mustAdd(t, ix, 1, []float32{0.25, 0.5})
	if err := ix.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, fileMagic) {
		t.Error("encrypted index file contains the cleartext framing")
	}
	if !crypto.IsEncrypted(raw) {
		t.Error("index file written without cipher framing despite active key")
	}
}

// Legacy plaintext files written before encryption was enabled must still load.
func TestLoadPlaintextFileUnderActiveKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.vec")

	plain := newTestIndex(t, "")
	mustAdd(t, plain, 7, []float32{1, 0})
	if err := plain.Save(path); err != nil {
		t.Fatal(err)
	}

	encrypted := newTestIndex(t, "new-key")
	if err := encrypted.Load(path); err != nil {
		t.Fatalf("Load() of legacy plaintext under active key: %v", err)
	}
	if !encrypted.Contains(7) {
		t.Error("legacy record lost after enabling encryption")
	}
}

func mustAdd(t *testing.T, ix *Index, id int64, vec []float32) {
	t.Helper()
	if err := ix.Add(id, vec); err != nil {
		t.Fatalf("Add(%d) failed: %v", id, err)
	}
}
