package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okets/folder-mcp/internal/config"
	"github.com/okets/folder-mcp/internal/model"
	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/storage"
)

type fakeWatcher struct {
	events chan config.Event
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan config.Event, 8)}
}

func (f *fakeWatcher) Add(root string) error             { return nil }
func (f *fakeWatcher) Ready()                             {}
func (f *fakeWatcher) Events() <-chan config.Event        { return f.events }
func (f *fakeWatcher) Close() error                       { return nil }
func (f *fakeWatcher) trigger()                           { f.events <- config.Event{Kind: config.EventChange} }

type constParser struct{ text string }

func (p constParser) Parse(ctx context.Context, path string) (string, error) { return p.text, nil }

type singleChunker struct{}

func (singleChunker) Chunk(text string) []pipeline.Chunk {
	if text == "" {
		return nil
	}
	return []pipeline.Chunk{{Ordinal: 0, Text: text, TokenEstimate: len(text)}}
}

type dimEmbedder struct{ dim int }

func (e dimEmbedder) Embed(ctx context.Context, texts []string, immediate bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}
func (e dimEmbedder) Dimension() int  { return e.dim }
func (e dimEmbedder) ModelID() string { return "test-model" }

func newTestRegistry(t *testing.T) *model.Registry {
	t.Helper()
	loaders := map[string]model.Loader{
		"test-model": func(ctx context.Context, modelID string) (model.Embedder, error) {
			return dimEmbedder{dim: 4}, nil
		},
	}
	return model.NewRegistry(nil, loaders, 3)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"), 4)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func waitForState(t *testing.T, o *Orchestrator, want State, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last Snapshot
	for time.Now().Before(deadline) {
		last = o.Snapshot()
		if last.State == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last snapshot: %+v", want, last)
	return last
}

func TestOrchestratorIndexesAndGoesActive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t)
	registry := newTestRegistry(t)
	watcher := newFakeWatcher()

	orch, err := New(Config{
		Path:     dir,
		ModelID:  "test-model",
		Store:    store,
		Registry: registry,
		Parser:   constParser{text: "hello world"},
		Chunker:  singleChunker{},
		Watcher:  watcher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer orch.Dispose()

	if err := orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := waitForState(t, orch, StateActive, 5*time.Second)
	if snap.Queue.Success != 1 {
		t.Fatalf("expected one successfully indexed task, got %+v", snap.Queue)
	}

	docs, err := store.AllDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one persisted document, got %d", len(docs))
	}
}

func TestOrchestratorEmptyFolderGoesDirectlyActive(t *testing.T) {
	dir := t.TempDir()

	store := newTestStore(t)
	registry := newTestRegistry(t)
	watcher := newFakeWatcher()

	orch, err := New(Config{
		Path:     dir,
		ModelID:  "test-model",
		Store:    store,
		Registry: registry,
		Parser:   constParser{text: ""},
		Chunker:  singleChunker{},
		Watcher:  watcher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer orch.Dispose()

	if err := orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, orch, StateActive, 5*time.Second)
}

func TestOrchestratorRescanOnChangeEventRemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(filePath, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t)
	registry := newTestRegistry(t)
	watcher := newFakeWatcher()

	orch, err := New(Config{
		Path:     dir,
		ModelID:  "test-model",
		Store:    store,
		Registry: registry,
		Parser:   constParser{text: "hello world"},
		Chunker:  singleChunker{},
		Watcher:  watcher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer orch.Dispose()

	if err := orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, orch, StateActive, 5*time.Second)

	if err := os.Remove(filePath); err != nil {
		t.Fatal(err)
	}
	watcher.trigger()

	deadline := time.Now().Add(5 * time.Second)
	for {
		docs, err := store.AllDocuments(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for deleted file's document to be removed, still have %d", len(docs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOrchestratorRetryFromErrorState(t *testing.T) {
	store := newTestStore(t)
	registry := newTestRegistry(t)
	watcher := newFakeWatcher()

	orch, err := New(Config{
		Path:     filepath.Join(t.TempDir(), "does-not-exist"),
		ModelID:  "test-model",
		Store:    store,
		Registry: registry,
		Parser:   constParser{text: "hello"},
		Chunker:  singleChunker{},
		Watcher:  watcher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer orch.Dispose()

	if err := orch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, orch, StateError, 5*time.Second)

	if !orch.Retry() {
		t.Fatal("expected Retry to succeed from the error state")
	}
}
