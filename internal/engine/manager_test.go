package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scrypster/engram/internal/crypto"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	cipher, err := crypto.NewCipher("", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(root, cipher, llm.NewHashEmbedder(384), zerolog.Nop())
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func TestManagerCachesEngines(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	first, err := m.Get(ctx, "agent", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	second, err := m.Get(ctx, "agent", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if first != second {
		t.Error("same bucket returned distinct engines")
	}
}

func TestBucketIsolation(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	a, err := m.Get(ctx, "agent-a", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	b, err := m.Get(ctx, "agent-b", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if _, err := a.Store(ctx, "the user lives in Lisbon", types.CategoryIdentity, 5, "", 0); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	results, err := b.Retrieve(ctx, "where does the user lives", 5, nil, -1)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("record stored under agent-a visible to agent-b: %v", results)
	}
}

// Two independent manager instances at the same root stand in for two
// process instances: writes saved by one are visible to the other after
// its own load.
func TestSharedStorageRootObservedAfterReload(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writer := newTestManager(t, root)
	eng, err := writer.Get(ctx, "agent", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if _, err := eng.Store(ctx, "the user lives in Lisbon", types.CategoryIdentity, 5, "", 0); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if err := writer.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll() failed: %v", err)
	}

	reader := newTestManager(t, root)
	reloaded, err := reader.Get(ctx, "agent", "user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	results, err := reloaded.Retrieve(ctx, "where does the user lives", 1, nil, -1)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if len(results) != 1 || results[0].Record.Content != "the user lives in Lisbon" {
		t.Errorf("write not visible through shared storage root: %v", results)
	}
}

func TestManagerRejectsPathlikeIDs(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	for _, bad := range []struct{ agent, user string }{
		{"", "user"},
		{"agent", ""},
		{"../escape", "user"},
		{"agent", "a/b"},
		{"agent", `a\b`},
	} {
		if _, err := m.Get(ctx, bad.agent, bad.user); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Get(%q, %q): got %v, want ErrInvalidInput", bad.agent, bad.user, err)
		}
	}
}
