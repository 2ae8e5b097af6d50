package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okets/folder-mcp/internal/lifecycle"
	"github.com/okets/folder-mcp/internal/model"
	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/storage"

	"github.com/julienschmidt/httprouter"
)

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
		vec := make([]float32, e.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (e dimEmbedder) Dimension() int  { return e.dim }
func (e dimEmbedder) ModelID() string { return "test-model" }

func newTestFacade(t *testing.T) *Facade {
	t.Helper()

	loaders := map[string]model.Loader{
		"test-model": func(ctx context.Context, modelID string) (model.Embedder, error) {
			return dimEmbedder{dim: 4}, nil
		},
	}
	registry := model.NewRegistry(nil, loaders, 3)

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry: registry,
		OpenStore: func(folderPath string) (*storage.Store, error) {
			return storage.Open(filepath.Join(t.TempDir(), "index.db"), 4)
		},
		NewParser:  func() pipeline.Parser { return constParser{text: "hello world"} },
		NewChunker: func() pipeline.Chunker { return singleChunker{} },
	})

	return New(manager)
}

func TestFacadeValidateFolderRejectsMissingPath(t *testing.T) {
	f := newTestFacade(t)
	result := f.ValidateFolder(filepath.Join(t.TempDir(), "does-not-exist"))
	if result.Valid {
		t.Fatal("expected a missing path to be invalid")
	}
}

func TestFacadeAddFolderAndStatus(t *testing.T) {
	f := newTestFacade(t)
	dir := t.TempDir()

	result, err := f.AddFolder(AddFolderRequest{Path: dir, Model: "test-model"})
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected folder to be accepted, got %+v", result)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snapshot, _, ok := f.Status(dir); ok && snapshot.State == lifecycle.StateActive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snapshot, _, ok := f.Status(dir)
	if !ok {
		t.Fatal("expected folder status to be present")
	}
	if snapshot.State != lifecycle.StateActive {
		t.Fatalf("expected folder to reach active state, got %s", snapshot.State)
	}

	_, daemonStatus, ok := f.Status("")
	if !ok || daemonStatus.FolderCount != 1 {
		t.Fatalf("expected daemon status to report one folder, got %+v", daemonStatus)
	}

	f.RemoveFolder(dir)
	if _, _, ok := f.Status(dir); ok {
		t.Fatal("expected folder to be absent after RemoveFolder")
	}
}

func TestFacadeSearchReturnsHits(t *testing.T) {
	f := newTestFacade(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.AddFolder(AddFolderRequest{Path: dir, Model: "test-model"}); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snapshot, _, ok := f.Status(dir); ok && snapshot.State == lifecycle.StateActive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hits, err := f.Search(context.Background(), SearchQuery{Folder: dir, QueryText: "hello", K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one search hit")
	}
}

func TestServiceListFoldersViaHTTP(t *testing.T) {
	f := newTestFacade(t)
	svc := NewService(f, nil)

	router := httprouter.New()
	svc.Register(router)
	server := httptest.NewServer(Handler(router, ""))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v0/folders")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snapshots []lifecycle.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 0 {
		t.Fatalf("expected no managed folders yet, got %+v", snapshots)
	}
}
