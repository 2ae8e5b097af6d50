// Package model implements the Model Registry (spec §4.C): an LRU-bounded
// cache of loaded embedding models, single-flight load coalescing, and
// priority-aware inference scheduling between immediate and batch callers.
// The LRU-with-eviction-callback structure is grounded on the teacher's
// inotify watch cache in pkg/filesystem/watching (nonRecursiveWatcher's
// evictor), which uses groupcache's lru.Cache with an OnEvicted hook to tear
// down the evicted resource; here the evicted resource is a loaded model
// rather than a filesystem watch.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/logging"
)

// DefaultCapacity is the default number of models the registry keeps loaded
// simultaneously (spec §4.C: "capacity N, default 3").
const DefaultCapacity = 3

// maxConsecutiveImmediate bounds how many immediate inference calls may be
// served back-to-back before a pending batch call is given a turn, so batch
// callers never starve indefinitely.
const maxConsecutiveImmediate = 8

// Embedder computes embedding vectors for text. Concrete backends are opaque
// and out of scope; the registry only depends on this interface.
type Embedder interface {
	Embed(ctx context.Context, texts []string, immediate bool) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// Loader constructs an Embedder for a model id. A registry is configured
// with one Loader per curated model id it is willing to serve.
type Loader func(ctx context.Context, modelID string) (Embedder, error)

// ModelHandle is a loaded model, safe for concurrent inference calls.
type ModelHandle struct {
	modelID  string
	embedder Embedder
	registry *Registry

	mu       sync.Mutex
	lastUsed time.Time

	jobs chan embedJob
	stop chan struct{}
	done sync.WaitGroup
}

// embedJob is a single scheduled inference request.
type embedJob struct {
	ctx       context.Context
	texts     []string
	immediate bool
	result    chan embedResult
}

type embedResult struct {
	vectors [][]float32
	err     error
}

// ModelID reports the handle's model id.
func (h *ModelHandle) ModelID() string { return h.modelID }

// Dimension reports the embedding dimension produced by this handle.
func (h *ModelHandle) Dimension() int { return h.embedder.Dimension() }

// Embed computes embeddings for texts, routing immediate requests ahead of
// batch requests while bounding how long a batch request can be preempted.
// Embed is safe to call concurrently. Calls to the same handle run one at a
// time on its scheduler loop; different handles run independently.
func (h *ModelHandle) Embed(ctx context.Context, texts []string, immediate bool) ([][]float32, error) {
	job := embedJob{ctx: ctx, texts: texts, immediate: immediate, result: make(chan embedResult, 1)}

	select {
	case h.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stop:
		return nil, errs.New(errs.KindModel, "MODEL_UNLOADED", fmt.Sprintf("model %q was unloaded", h.modelID))
	}

	select {
	case res := <-job.result:
		h.touch()
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// touch records this handle as most-recently-used in the owning registry.
func (h *ModelHandle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
	if h.registry != nil {
		h.registry.markUsed(h.modelID)
	}
}

// schedulerLoop implements the priority-aware dispatch described in spec
// §4.C: immediate jobs are served ahead of queued batch jobs, but no more
// than maxConsecutiveImmediate immediate jobs run before a pending batch job
// gets a turn, bounding batch starvation.
func (h *ModelHandle) schedulerLoop() {
	defer h.done.Done()

	immediate := make([]embedJob, 0)
	batch := make([]embedJob, 0)
	consecutiveImmediate := 0

	drain := func() {
		for {
			select {
			case j := <-h.jobs:
				if j.immediate {
					immediate = append(immediate, j)
				} else {
					batch = append(batch, j)
				}
			default:
				return
			}
		}
	}

	run := func(j embedJob) {
		vectors, err := h.embedder.Embed(j.ctx, j.texts, j.immediate)
		j.result <- embedResult{vectors: vectors, err: err}
	}

	for {
		select {
		case <-h.stop:
			drain()
			for _, j := range immediate {
				j.result <- embedResult{err: errs.New(errs.KindModel, "MODEL_UNLOADED", "model unloaded before inference ran")}
			}
			for _, j := range batch {
				j.result <- embedResult{err: errs.New(errs.KindModel, "MODEL_UNLOADED", "model unloaded before inference ran")}
			}
			return
		case j := <-h.jobs:
			if j.immediate {
				immediate = append(immediate, j)
			} else {
				batch = append(batch, j)
			}
		}

		drain()

		switch {
		case len(immediate) > 0 && (consecutiveImmediate < maxConsecutiveImmediate || len(batch) == 0):
			j := immediate[0]
			immediate = immediate[1:]
			consecutiveImmediate++
			run(j)
		case len(batch) > 0:
			j := batch[0]
			batch = batch[1:]
			consecutiveImmediate = 0
			run(j)
		}
	}
}

// Registry is an LRU-bounded cache of loaded Embedder instances, keyed by
// model id, with single-flight load coalescing.
type Registry struct {
	logger   *logging.Logger
	loaders  map[string]Loader
	capacity int

	mu       sync.Mutex
	cache    *lru.Cache
	loaded   map[string]bool
	inflight map[string]*loadFuture
}

// loadFuture represents a single in-flight (possibly shared) load.
type loadFuture struct {
	done   chan struct{}
	handle *ModelHandle
	err    error
}

// NewRegistry constructs a Registry for the given curated loaders (keyed by
// model id) with the given capacity. A capacity of 0 uses DefaultCapacity.
func NewRegistry(logger *logging.Logger, loaders map[string]Loader, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		logger:   logger,
		loaders:  loaders,
		capacity: capacity,
		loaded:   make(map[string]bool),
		inflight: make(map[string]*loadFuture),
	}
	r.cache = lru.New(capacity)
	r.cache.OnEvicted = func(key lru.Key, value interface{}) {
		modelID, _ := key.(string)
		handle, _ := value.(*ModelHandle)
		delete(r.loaded, modelID)
		if handle == nil {
			return
		}
		r.logger.Debugf("evicting model %s from registry", modelID)
		handle.shutdown()
	}
	return r
}

// shutdown stops a handle's scheduler loop and waits for it to drain.
func (h *ModelHandle) shutdown() {
	close(h.stop)
	h.done.Wait()
}

// GetOrLoad returns a handle for modelID, loading it if necessary. Concurrent
// callers requesting the same model id share a single load.
func (r *Registry) GetOrLoad(ctx context.Context, modelID string) (*ModelHandle, error) {
	r.mu.Lock()
	if cached, ok := r.cache.Get(modelID); ok {
		r.mu.Unlock()
		handle := cached.(*ModelHandle)
		handle.touch()
		return handle, nil
	}

	if future, ok := r.inflight[modelID]; ok {
		r.mu.Unlock()
		<-future.done
		if future.err != nil {
			return nil, future.err
		}
		return future.handle, nil
	}

	loader, ok := r.loaders[modelID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.KindConfiguration, "UNKNOWN_MODEL", fmt.Sprintf("model id %q is not in the curated registry", modelID))
	}

	future := &loadFuture{done: make(chan struct{})}
	r.inflight[modelID] = future

	// Evict the LRU victim before loading the replacement, so a cache-full
	// miss never holds N+1 models resident at once (spec §4.C).
	if r.cache.Len() >= r.capacity {
		r.cache.RemoveOldest()
	}
	r.mu.Unlock()

	embedder, err := loader(ctx, modelID)

	r.mu.Lock()
	delete(r.inflight, modelID)
	if err != nil {
		future.err = errs.Wrap(errs.KindModel, "LOAD_FAILED", err, fmt.Sprintf("unable to load model %q", modelID))
		r.mu.Unlock()
		close(future.done)
		return nil, future.err
	}

	handle := &ModelHandle{
		modelID:  modelID,
		embedder: embedder,
		registry: r,
		lastUsed: time.Now(),
		jobs:     make(chan embedJob),
		stop:     make(chan struct{}),
	}
	handle.done.Add(1)
	go handle.schedulerLoop()

	r.cache.Add(modelID, handle)
	r.loaded[modelID] = true
	future.handle = handle
	r.mu.Unlock()
	close(future.done)

	return handle, nil
}

// markUsed refreshes modelID's LRU position without returning a handle.
func (r *Registry) markUsed(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Get(modelID)
}

// IsLoaded reports whether modelID currently has a loaded handle, without
// affecting its LRU recency.
func (r *Registry) IsLoaded(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded[modelID]
}

// Unload evicts modelID if loaded, shutting down its scheduler loop.
func (r *Registry) Unload(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(modelID)
}

// Stats summarizes the registry's current state.
type Stats struct {
	LoadedModelIDs []string
	Capacity       int
}

// Stats returns a snapshot of currently loaded model ids, sorted for
// deterministic output.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.loaded))
	for modelID := range r.loaded {
		ids = append(ids, modelID)
	}
	sort.Strings(ids)

	return Stats{LoadedModelIDs: ids, Capacity: r.capacity}
}

// Shutdown unloads every currently loaded model, shutting down their
// scheduler loops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Clear()
}
