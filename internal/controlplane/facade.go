// Package controlplane implements the Control-Plane Facade (spec §4.M): a
// language-neutral contract for folder management and search, consumed by
// external transports.
package controlplane

import (
	"context"

	"github.com/okets/folder-mcp/internal/lifecycle"
	"github.com/okets/folder-mcp/internal/storage"
)

// SearchQuery is the transport-agnostic search request shape.
type SearchQuery struct {
	Folder      string
	QueryVector []float32
	QueryText   string
	K           int
	Filter      *storage.SearchFilter
}

// SearchHit is a single search result, shaped per spec §6's
// {documentPath, chunkOrdinal, similarity, preview, location}.
type SearchHit struct {
	DocumentPath string  `json:"documentPath"`
	ChunkOrdinal int     `json:"chunkOrdinal"`
	Similarity   float64 `json:"similarity"`
	Preview      string  `json:"preview"`
	Location     string  `json:"location"`
}

// DaemonStatus summarizes the daemon's own state, for Status() calls with no
// folder path.
type DaemonStatus struct {
	FolderCount int                  `json:"folderCount"`
	Folders     []lifecycle.Snapshot `json:"folders"`
}

// AddFolderRequest is the argument to AddFolder.
type AddFolderRequest struct {
	Path       string   `json:"path"`
	Model      string   `json:"model"`
	Ignore     []string `json:"ignore,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// Facade is the Control-Plane Facade implementation: a thin dispatch layer
// in front of the folder lifecycle manager, exposing the methods named in
// spec §4.M.
type Facade struct {
	manager *lifecycle.Manager
}

// New constructs a Facade backed by manager.
func New(manager *lifecycle.Manager) *Facade {
	return &Facade{manager: manager}
}

// ValidateFolder checks path against the validation contract without
// mutating any state.
func (f *Facade) ValidateFolder(path string) lifecycle.ValidationResult {
	return f.manager.ValidateFolder(path)
}

// AddFolder validates and begins managing the requested folder.
func (f *Facade) AddFolder(req AddFolderRequest) (lifecycle.ValidationResult, error) {
	return f.manager.StartFolder(lifecycle.FolderConfig{
		Path:           req.Path,
		ModelID:        req.Model,
		IgnorePatterns: req.Ignore,
		Extensions:     req.Extensions,
	})
}

// RemoveFolder stops managing path. It is idempotent: removing an unmanaged
// path is not an error.
func (f *Facade) RemoveFolder(path string) {
	f.manager.StopFolder(path)
}

// ListFolders returns a snapshot of every managed folder's lifecycle state.
func (f *Facade) ListFolders() []lifecycle.Snapshot {
	return f.manager.ListFolders()
}

// Status returns a single folder's snapshot if path is non-empty, or a
// daemon-wide status summary if it is empty.
func (f *Facade) Status(path string) (lifecycle.Snapshot, DaemonStatus, bool) {
	if path == "" {
		folders := f.manager.ListFolders()
		return lifecycle.Snapshot{}, DaemonStatus{FolderCount: len(folders), Folders: folders}, true
	}
	snapshot, ok := f.manager.Status(path)
	return snapshot, DaemonStatus{}, ok
}

// Search runs a kNN query against one managed folder and shapes the results
// per spec §6, breaking ties by (documentPath, chunkOrdinal) ascending.
func (f *Facade) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	results, err := f.manager.Search(ctx, q.Folder, lifecycle.SearchQuery{
		QueryVector: q.QueryVector,
		QueryText:   q.QueryText,
		K:           q.K,
		Filter:      q.Filter,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			DocumentPath: r.Path,
			ChunkOrdinal: r.Ordinal,
			Similarity:   r.Similarity,
			Preview:      preview(r.Text),
			Location:     r.Path,
		})
	}
	return hits, nil
}

// preview truncates text to a short excerpt suitable for a search result
// summary.
func preview(text string) string {
	const maxRunes = 240
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
