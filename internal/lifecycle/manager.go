package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/fingerprint"
	"github.com/okets/folder-mcp/internal/logging"
	"github.com/okets/folder-mcp/internal/model"
	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/storage"
)

// ValidationResult is the outcome of validating a candidate folder path
// against the set of already-managed folders (spec §4.G "Validation
// contract").
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// StoreOpener constructs the storage backing a folder, kept as an injected
// function so Manager doesn't need to know storage.Open's on-disk layout
// conventions (e.g. where per-folder database files live).
type StoreOpener func(folderPath string) (*storage.Store, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Registry    *model.Registry
	OpenStore   StoreOpener
	NewParser   func() pipeline.Parser
	NewChunker  func() pipeline.Chunker
	Concurrency int
	Logger      *logging.Logger
}

// FolderConfig describes a folder to start managing.
type FolderConfig struct {
	Path           string
	ModelID        string
	IgnorePatterns []string
	Extensions     []string
}

// Manager owns the set of per-folder orchestrators (spec §4.H).
type Manager struct {
	cfg ManagerConfig

	mu          sync.RWMutex
	orchestrators map[string]*Orchestrator
}

// NewManager constructs an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:           cfg,
		orchestrators: make(map[string]*Orchestrator),
	}
}

// ValidateFolder checks path against the validation contract, without
// mutating any state: reject duplicates and sub-folders, accept ancestors
// with a warning, reject paths that don't exist or aren't directories.
func (m *Manager) ValidateFolder(path string) ValidationResult {
	normalized, err := fingerprint.Normalize(path)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("invalid path: %v", err)}}
	}

	info, statErr := os.Stat(normalized)
	if statErr != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("path does not exist: %s", normalized)}}
	}
	if !info.IsDir() {
		return ValidationResult{Errors: []string{fmt.Sprintf("path is not a directory: %s", normalized)}}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var warnings []string
	for existing := range m.orchestrators {
		if existing == normalized {
			return ValidationResult{Errors: []string{fmt.Sprintf("folder already managed: %s", normalized)}}
		}
		if fingerprint.IsSubPath(normalized, existing) {
			return ValidationResult{Errors: []string{fmt.Sprintf("folder is a sub-folder of already-managed folder: %s", existing)}}
		}
		if fingerprint.IsSubPath(existing, normalized) {
			warnings = append(warnings, fmt.Sprintf("folder contains already-managed folder: %s", existing))
		}
	}
	sort.Strings(warnings)

	return ValidationResult{Valid: true, Warnings: warnings}
}

// StartFolder validates, constructs storage and an orchestrator for cfg.Path,
// and starts its scan/index/watch loop. Idempotent on the same path: calling
// StartFolder again for an already-managed path returns a valid result with
// no warnings, without validating again or creating a second orchestrator.
func (m *Manager) StartFolder(cfg FolderConfig) (ValidationResult, error) {
	normalized, err := fingerprint.Normalize(cfg.Path)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("invalid path: %v", err)}}, errs.Wrap(errs.KindValidation, "FOLDER_NORMALIZE_FAILED", err, "unable to normalize folder path")
	}

	m.mu.RLock()
	_, alreadyManaged := m.orchestrators[normalized]
	m.mu.RUnlock()
	if alreadyManaged {
		return ValidationResult{Valid: true}, nil
	}

	result := m.ValidateFolder(cfg.Path)
	if !result.Valid {
		return result, errs.New(errs.KindValidation, "FOLDER_VALIDATION_FAILED", result.Errors[0])
	}

	store, err := m.cfg.OpenStore(normalized)
	if err != nil {
		return result, errs.Wrap(errs.KindCorruption, "FOLDER_STORE_OPEN_FAILED", err, "unable to open folder storage")
	}

	orch, err := New(Config{
		Path:           normalized,
		IgnorePatterns: cfg.IgnorePatterns,
		Extensions:     cfg.Extensions,
		ModelID:        cfg.ModelID,
		Concurrency:    m.cfg.Concurrency,
		Store:          store,
		Registry:       m.cfg.Registry,
		Parser:         m.cfg.NewParser(),
		Chunker:        m.cfg.NewChunker(),
		Logger:         m.cfg.Logger,
	})
	if err != nil {
		_ = store.Close()
		return result, err
	}

	m.mu.Lock()
	m.orchestrators[normalized] = orch
	m.mu.Unlock()

	if err := orch.Start(); err != nil {
		return result, err
	}

	return result, nil
}

// StopFolder disposes the orchestrator for path and removes it from the
// managed set. It is a no-op if path is not managed.
func (m *Manager) StopFolder(path string) {
	normalized, err := fingerprint.Normalize(path)
	if err != nil {
		normalized = path
	}

	m.mu.Lock()
	orch, ok := m.orchestrators[normalized]
	if ok {
		delete(m.orchestrators, normalized)
	}
	m.mu.Unlock()

	if ok {
		orch.Dispose()
	}
}

// StopAll disposes every managed orchestrator in parallel and clears the
// managed set.
func (m *Manager) StopAll() {
	m.mu.Lock()
	orchestrators := make([]*Orchestrator, 0, len(m.orchestrators))
	for _, orch := range m.orchestrators {
		orchestrators = append(orchestrators, orch)
	}
	m.orchestrators = make(map[string]*Orchestrator)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, orch := range orchestrators {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			o.Dispose()
		}(orch)
	}
	wg.Wait()
}

// ListFolders returns a snapshot of every managed folder's lifecycle state.
func (m *Manager) ListFolders() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(m.orchestrators))
	for _, orch := range m.orchestrators {
		snapshots = append(snapshots, orch.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Path < snapshots[j].Path })
	return snapshots
}

// Status returns the snapshot for a single managed folder.
func (m *Manager) Status(path string) (Snapshot, bool) {
	normalized, err := fingerprint.Normalize(path)
	if err != nil {
		normalized = path
	}

	m.mu.RLock()
	orch, ok := m.orchestrators[normalized]
	m.mu.RUnlock()

	if !ok {
		return Snapshot{}, false
	}
	return orch.Snapshot(), true
}

// SearchQuery describes a control-plane search request (spec §4.M): either a
// precomputed query vector or query text to embed with the folder's model.
type SearchQuery struct {
	QueryVector []float32
	QueryText   string
	K           int
	Filter      *storage.SearchFilter
}

// Search embeds (if necessary) and runs a kNN query against a single
// managed folder's storage.
func (m *Manager) Search(ctx context.Context, path string, q SearchQuery) ([]storage.SearchResult, error) {
	normalized, err := fingerprint.Normalize(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "SEARCH_FOLDER_NORMALIZE_FAILED", err, "unable to normalize folder path")
	}

	m.mu.RLock()
	orch, ok := m.orchestrators[normalized]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindValidation, "SEARCH_FOLDER_NOT_MANAGED", fmt.Sprintf("folder is not managed: %s", normalized))
	}

	vector := q.QueryVector
	if vector == nil {
		handle, err := m.cfg.Registry.GetOrLoad(ctx, orch.ModelID())
		if err != nil {
			return nil, err
		}
		vectors, err := handle.Embed(ctx, []string{q.QueryText}, true)
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, errs.New(errs.KindModel, "SEARCH_EMBED_EMPTY", "query embedding returned no vectors")
		}
		vector = vectors[0]
	}

	return orch.Store().Search(ctx, vector, q.K, q.Filter)
}
