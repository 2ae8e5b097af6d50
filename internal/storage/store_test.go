package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// vecEmbeddingCount counts rows in the vec0 virtual table directly, since it
// has no foreign key to chunks and isn't reflected by Stats().
func vecEmbeddingCount(t *testing.T, s *Store) int {
	t.Helper()
	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM vec_embeddings`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	return count
}

func TestUpsertDocumentAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{Path: "notes/a.md", Fingerprint: "hash-1", Size: 10, ModTime: 1}
	chunks := []Chunk{{Ordinal: 0, Text: "hello world", TokenEstimate: 2}}
	embeddings := map[int][]float32{0: {1, 0, 0, 0}}

	if err := s.UpsertDocument(ctx, doc, chunks, embeddings, "model-a"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DocumentCount != 1 || stats.EmbeddingCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Path != "notes/a.md" {
		t.Fatalf("unexpected search results: %+v", results)
	}
}

func TestUpsertDocumentReplacesStaleChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{Path: "notes/a.md", Fingerprint: "hash-1", Size: 10, ModTime: 1}
	if err := s.UpsertDocument(ctx, doc, []Chunk{{Ordinal: 0, Text: "first", TokenEstimate: 1}}, map[int][]float32{0: {1, 0, 0, 0}}, "model-a"); err != nil {
		t.Fatal(err)
	}

	doc.Fingerprint = "hash-2"
	if err := s.UpsertDocument(ctx, doc, []Chunk{{Ordinal: 0, Text: "second", TokenEstimate: 1}}, map[int][]float32{0: {0, 1, 0, 0}}, "model-a"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmbeddingCount != 1 {
		t.Fatalf("expected stale chunk/embedding replaced, not accumulated, got %+v", stats)
	}

	stored, ok, err := s.Document(ctx, "notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || stored.Fingerprint != "hash-2" {
		t.Fatalf("expected updated fingerprint, got %+v", stored)
	}
	if count := vecEmbeddingCount(t, s); count != 1 {
		t.Fatalf("expected the stale chunk's vec_embeddings row to be removed on reindex, got %d rows", count)
	}
}

func TestRemoveDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{Path: "notes/a.md", Fingerprint: "hash-1", Size: 10, ModTime: 1}
	if err := s.UpsertDocument(ctx, doc, []Chunk{{Ordinal: 0, Text: "hello", TokenEstimate: 1}}, map[int][]float32{0: {1, 0, 0, 0}}, "model-a"); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveDocument(ctx, "notes/a.md"); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.Document(ctx, "notes/a.md"); err != nil || ok {
		t.Fatalf("expected document to be gone, ok=%v err=%v", ok, err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DocumentCount != 0 || stats.EmbeddingCount != 0 {
		t.Fatalf("expected empty store after removal, got %+v", stats)
	}
}

func TestMarkNeedsReindex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{Path: "notes/a.md", Fingerprint: "hash-1", Size: 10, ModTime: 1}
	if err := s.UpsertDocument(ctx, doc, nil, nil, "model-a"); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkNeedsReindex(ctx, "notes/a.md"); err != nil {
		t.Fatal(err)
	}

	stored, ok, err := s.Document(ctx, "notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !stored.NeedsReindex {
		t.Fatalf("expected needs_reindex to be set, got %+v", stored)
	}
}
