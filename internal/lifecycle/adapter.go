package lifecycle

import (
	"context"
	"time"

	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/storage"
)

// storeAdapter satisfies pipeline.Persister by translating the pipeline's
// flat per-stage arguments into a single storage.Document plus
// []storage.Chunk, the shape internal/storage.Store actually persists.
type storeAdapter struct {
	store *storage.Store
}

func (a *storeAdapter) UpsertDocument(ctx context.Context, path, hash string, size int64, modTime int64, chunks []pipeline.Chunk, embeddingsByOrdinal map[int][]float32, modelID string) error {
	doc := storage.Document{
		Path:        path,
		Fingerprint: hash,
		Size:        size,
		ModTime:     modTime,
		LastIndexed: time.Now(),
	}

	storageChunks := make([]storage.Chunk, len(chunks))
	for i, c := range chunks {
		storageChunks[i] = storage.Chunk{
			Ordinal:          c.Ordinal,
			ExtractionParams: c.ExtractionParams,
			Text:             c.Text,
			TokenEstimate:    c.TokenEstimate,
		}
	}

	return a.store.UpsertDocument(ctx, doc, storageChunks, embeddingsByOrdinal, modelID)
}
