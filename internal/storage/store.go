// Package storage implements the per-folder Storage Engine (spec §4.B): a
// SQLite-backed store of documents, chunks, and embeddings, with vector
// search via the sqlite-vec extension. Schema shape and transactional
// per-file mutation discipline follow the teacher's habit of wrapping
// multi-statement mutations in a single *sql.Tx (seen throughout
// pkg/synchronization's persistence helpers); the vec0 virtual table usage
// and float32-blob encoding are grounded on the pack's own sqlite-vec
// consumer rather than the teacher, since the teacher has no vector storage
// of its own.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/okets/folder-mcp/internal/errs"
)

// Document mirrors a row in the documents table.
type Document struct {
	Path          string
	Fingerprint   string
	Size          int64
	ModTime       int64
	LastIndexed   time.Time
	NeedsReindex  bool
	SemanticSummary string
}

// Chunk mirrors a row in the chunks table, prior to embedding.
type Chunk struct {
	Ordinal         int
	ExtractionParams string
	Text            string
	TokenEstimate   int
}

// SearchResult is a single kNN hit against the embeddings table.
type SearchResult struct {
	ChunkID    int64
	Path       string
	Ordinal    int
	Text       string
	Similarity float64
}

// SearchFilter narrows a Search call.
type SearchFilter struct {
	// PathPrefix, if non-empty, restricts results to chunks whose document
	// path starts with this prefix.
	PathPrefix string
}

// Stats summarizes the store's current contents.
type Stats struct {
	DocumentCount    int64
	EmbeddingCount   int64
	ApproxSizeBytes  int64
}

// Store is a per-folder SQLite-backed document/chunk/embedding store.
type Store struct {
	db  *sql.DB
	dim int
	path string
}

// Open opens (creating if necessary) the store at path, laid out under the
// folder's metadata directory, with vectors of the given embedding
// dimension. If the database file already exists but fails basic integrity
// checks, Open returns a KindCorruption error rather than truncating it.
func Open(path string, dim int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "MKDIR_FAILED", err, fmt.Sprintf("unable to create directory for %q", path))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "OPEN_FAILED", err, fmt.Sprintf("unable to open store at %q", path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA integrity_check"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindCorruption, "INTEGRITY_CHECK_FAILED", err, fmt.Sprintf("store at %q failed integrity check on open", path))
	}

	s := &Store{db: db, dim: dim, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the store's underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			size INTEGER NOT NULL,
			mtime INTEGER NOT NULL,
			last_indexed INTEGER NOT NULL,
			needs_reindex INTEGER NOT NULL DEFAULT 0,
			semantic_summary TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_path TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
			ordinal INTEGER NOT NULL,
			extraction_params TEXT,
			text TEXT NOT NULL,
			token_estimate INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document_path ON chunks(document_path)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			model_id TEXT NOT NULL,
			dim INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errs.Wrap(errs.KindCorruption, "MIGRATION_FAILED", err, "unable to apply storage schema")
		}
	}

	vecStmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(chunk_id INTEGER PRIMARY KEY, embedding FLOAT[%d])", s.dim)
	if _, err := s.db.Exec(vecStmt); err != nil {
		return errs.Wrap(errs.KindCorruption, "VEC_MIGRATION_FAILED", err, "unable to create vector index")
	}
	return nil
}

// UpsertDocument replaces a document's chunks and embeddings atomically when
// its fingerprint changes, or inserts it fresh. It is idempotent keyed by
// path: calling it again with the same fingerprint and chunks is a no-op
// beyond the row update.
func (s *Store) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk, embeddingsByOrdinal map[int][]float32, modelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "TX_BEGIN_FAILED", err, "unable to begin transaction")
	}
	defer tx.Rollback()

	staleRows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_path = ?`, doc.Path)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "QUERY_STALE_CHUNKS_FAILED", err, fmt.Sprintf("unable to look up stale chunks for %q", doc.Path))
	}
	var staleChunkIDs []int64
	for staleRows.Next() {
		var id int64
		if err := staleRows.Scan(&id); err != nil {
			staleRows.Close()
			return errs.Wrap(errs.KindTransientIO, "SCAN_STALE_CHUNK_ID_FAILED", err, "unable to scan stale chunk id")
		}
		staleChunkIDs = append(staleChunkIDs, id)
	}
	staleRows.Close()

	// vec0 virtual table rows have no foreign key to chunks, so they must be
	// removed explicitly; chunks/embeddings cascade via ON DELETE CASCADE.
	for _, id := range staleChunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE chunk_id = ?`, id); err != nil {
			return errs.Wrap(errs.KindTransientIO, "DELETE_STALE_VECTOR_FAILED", err, fmt.Sprintf("unable to remove stale vector for chunk %d", id))
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_path = ?`, doc.Path); err != nil {
		return errs.Wrap(errs.KindTransientIO, "DELETE_CHUNKS_FAILED", err, fmt.Sprintf("unable to clear stale chunks for %q", doc.Path))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, fingerprint, size, mtime, last_indexed, needs_reindex, semantic_summary)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mtime = excluded.mtime,
			last_indexed = excluded.last_indexed,
			needs_reindex = 0,
			semantic_summary = excluded.semantic_summary
	`, doc.Path, doc.Fingerprint, doc.Size, doc.ModTime, time.Now().Unix(), doc.SemanticSummary)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "UPSERT_DOCUMENT_FAILED", err, fmt.Sprintf("unable to upsert document %q", doc.Path))
	}

	for _, chunk := range chunks {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (document_path, ordinal, extraction_params, text, token_estimate)
			VALUES (?, ?, ?, ?, ?)
		`, doc.Path, chunk.Ordinal, chunk.ExtractionParams, chunk.Text, chunk.TokenEstimate)
		if err != nil {
			return errs.Wrap(errs.KindTransientIO, "INSERT_CHUNK_FAILED", err, fmt.Sprintf("unable to insert chunk %d for %q", chunk.Ordinal, doc.Path))
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return errs.Wrap(errs.KindTransientIO, "CHUNK_ID_FAILED", err, "unable to read inserted chunk id")
		}

		vector, ok := embeddingsByOrdinal[chunk.Ordinal]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO embeddings (chunk_id, model_id, dim) VALUES (?, ?, ?)`, chunkID, modelID, len(vector)); err != nil {
			return errs.Wrap(errs.KindTransientIO, "INSERT_EMBEDDING_FAILED", err, fmt.Sprintf("unable to record embedding for chunk %d", chunkID))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_embeddings (chunk_id, embedding) VALUES (?, ?)`, chunkID, encodeVector(vector)); err != nil {
			return errs.Wrap(errs.KindTransientIO, "INSERT_VECTOR_FAILED", err, fmt.Sprintf("unable to index embedding for chunk %d", chunkID))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindTransientIO, "TX_COMMIT_FAILED", err, fmt.Sprintf("unable to commit upsert for %q", doc.Path))
	}
	return nil
}

// RemoveDocument deletes a document and its chunks/embeddings (cascading via
// foreign keys), first deleting the document's vec_embeddings rows one chunk
// id at a time, since that virtual table has no foreign key to chunks.
func (s *Store) RemoveDocument(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "TX_BEGIN_FAILED", err, "unable to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_path = ?`, path)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "QUERY_CHUNKS_FAILED", err, fmt.Sprintf("unable to look up chunks for %q", path))
	}
	var chunkIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errs.Wrap(errs.KindTransientIO, "SCAN_CHUNK_ID_FAILED", err, "unable to scan chunk id")
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE chunk_id = ?`, id); err != nil {
			return errs.Wrap(errs.KindTransientIO, "DELETE_VECTOR_FAILED", err, fmt.Sprintf("unable to remove vector for chunk %d", id))
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return errs.Wrap(errs.KindTransientIO, "DELETE_DOCUMENT_FAILED", err, fmt.Sprintf("unable to delete document %q", path))
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindTransientIO, "TX_COMMIT_FAILED", err, fmt.Sprintf("unable to commit removal of %q", path))
	}
	return nil
}

// MarkNeedsReindex flags a document for reindexing, one of the two
// independent needs_reindex signals alongside a fingerprint mismatch
// detected at scan time.
func (s *Store) MarkNeedsReindex(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET needs_reindex = 1 WHERE path = ?`, path)
	if err != nil {
		return errs.Wrap(errs.KindTransientIO, "MARK_REINDEX_FAILED", err, fmt.Sprintf("unable to mark %q for reindex", path))
	}
	return nil
}

// Document returns the stored document row for path, if any.
func (s *Store) Document(ctx context.Context, path string) (*Document, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, fingerprint, size, mtime, last_indexed, needs_reindex, COALESCE(semantic_summary, '')
		FROM documents WHERE path = ?
	`, path)

	var doc Document
	var lastIndexedUnix int64
	var needsReindex int
	if err := row.Scan(&doc.Path, &doc.Fingerprint, &doc.Size, &doc.ModTime, &lastIndexedUnix, &needsReindex, &doc.SemanticSummary); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindTransientIO, "QUERY_DOCUMENT_FAILED", err, fmt.Sprintf("unable to look up document %q", path))
	}
	doc.LastIndexed = time.Unix(lastIndexedUnix, 0)
	doc.NeedsReindex = needsReindex != 0
	return &doc, true, nil
}

// AllDocuments returns every stored document, for diffing against a fresh
// filesystem walk.
func (s *Store) AllDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, fingerprint, size, mtime, last_indexed, needs_reindex, COALESCE(semantic_summary, '')
		FROM documents
	`)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "QUERY_DOCUMENTS_FAILED", err, "unable to list documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var lastIndexedUnix int64
		var needsReindex int
		if err := rows.Scan(&doc.Path, &doc.Fingerprint, &doc.Size, &doc.ModTime, &lastIndexedUnix, &needsReindex, &doc.SemanticSummary); err != nil {
			return nil, errs.Wrap(errs.KindTransientIO, "SCAN_DOCUMENT_FAILED", err, "unable to scan document row")
		}
		doc.LastIndexed = time.Unix(lastIndexedUnix, 0)
		doc.NeedsReindex = needsReindex != 0
		docs = append(docs, doc)
	}
	return docs, nil
}

// Search returns the top-k chunks by cosine similarity to queryVector, ties
// broken by (document path, chunk ordinal) ascending.
func (s *Store) Search(ctx context.Context, queryVector []float32, k int, filter *SearchFilter) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	query := `
		SELECT c.id, c.document_path, c.ordinal, c.text, vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_embeddings v
		JOIN chunks c ON c.id = v.chunk_id
	`
	args := []interface{}{encodeVector(queryVector)}

	if filter != nil && filter.PathPrefix != "" {
		query += ` WHERE c.document_path LIKE ?`
		args = append(args, filter.PathPrefix+"%")
	}
	query += ` ORDER BY distance ASC, c.document_path ASC, c.ordinal ASC LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "SEARCH_FAILED", err, "unable to execute vector search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.Path, &r.Ordinal, &r.Text, &distance); err != nil {
			return nil, errs.Wrap(errs.KindTransientIO, "SCAN_RESULT_FAILED", err, "unable to scan search result")
		}
		r.Similarity = 1 - distance
		results = append(results, r)
	}
	return results, nil
}

// Stats summarizes the store's contents.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.DocumentCount); err != nil {
		return Stats{}, errs.Wrap(errs.KindTransientIO, "STATS_FAILED", err, "unable to count documents")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.EmbeddingCount); err != nil {
		return Stats{}, errs.Wrap(errs.KindTransientIO, "STATS_FAILED", err, "unable to count embeddings")
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.ApproxSizeBytes = info.Size()
	}
	return stats, nil
}

// encodeVector packs a []float32 as a little-endian byte blob, the wire
// format sqlite-vec expects for its FLOAT[n] columns.
func encodeVector(vector []float32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(vector) * 4)
	_ = binary.Write(buf, binary.LittleEndian, vector)
	return buf.Bytes()
}
