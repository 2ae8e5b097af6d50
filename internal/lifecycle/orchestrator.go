package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/okets/folder-mcp/internal/config"
	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/fingerprint"
	"github.com/okets/folder-mcp/internal/identifier"
	"github.com/okets/folder-mcp/internal/logging"
	"github.com/okets/folder-mcp/internal/model"
	"github.com/okets/folder-mcp/internal/pipeline"
	"github.com/okets/folder-mcp/internal/queue"
	"github.com/okets/folder-mcp/internal/state"
	"github.com/okets/folder-mcp/internal/storage"
)

// dispatchPollInterval is how often the drain loop re-checks the queue for
// newly-eligible tasks (e.g. a retry whose backoff deadline has just
// elapsed). The queue's own change tracker only fires on mutation, not on
// the passage of time, so a short poll bridges that gap.
const dispatchPollInterval = 50 * time.Millisecond

// ChangeWatcher is the subset of *config.Watcher the orchestrator depends
// on, accepted as an interface so tests can substitute a fake without a real
// filesystem watch.
type ChangeWatcher interface {
	Add(root string) error
	Ready()
	Events() <-chan config.Event
	Close() error
}

// Config configures an Orchestrator.
type Config struct {
	Path           string
	IgnorePatterns []string
	Extensions     []string
	ModelID        string
	Concurrency    int
	// RescanInterval, if non-zero, triggers a periodic rescan from the active
	// state even in the absence of a filesystem change event.
	RescanInterval time.Duration

	Store    *storage.Store
	Registry *model.Registry
	Parser   pipeline.Parser
	Chunker  pipeline.Chunker

	// Watcher overrides the orchestrator's default filesystem watcher,
	// primarily for tests. When nil, the orchestrator creates and owns its
	// own.
	Watcher ChangeWatcher

	Logger *logging.Logger
}

// Snapshot is a point-in-time view of a folder's lifecycle state, bubbled up
// to the folder manager and control plane.
type Snapshot struct {
	Path          string
	State         State
	PreviousState State
	Queue         queue.Stats
	LastError     error
}

// Orchestrator drives a single folder's scan/index/watch loop (spec §4.G).
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger

	sm        *StateMachine
	stateLock *state.TrackingLock
	tracker   *state.Tracker
	lastErr   error

	queue *queue.Queue

	watcher     ChangeWatcher
	ownsWatcher bool
	retrySignal chan struct{}

	// fingerprintsByPath holds the current cycle's walk results, keyed by
	// path, for dispatch workers to look up without re-walking. It is
	// written once per scan, before any dispatch goroutine is started, and
	// only read thereafter, so it needs no lock.
	fingerprintsByPath map[string]fingerprint.Fingerprint

	lifecycleLock sync.Mutex
	disabled      bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New constructs an Orchestrator for the given folder. The orchestrator does
// not begin scanning until Start is called.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Parser == nil || cfg.Chunker == nil {
		return nil, errs.New(errs.KindFatalInternal, "ORCHESTRATOR_MISCONFIGURED", "orchestrator requires a store, registry, parser, and chunker")
	}

	tracker := state.NewTracker()
	o := &Orchestrator{
		cfg:         cfg,
		logger:      cfg.Logger,
		sm:          NewStateMachine(),
		stateLock:   state.NewTrackingLock(tracker),
		tracker:     tracker,
		queue:       queue.New(cfg.Concurrency),
		retrySignal: make(chan struct{}, 1),
	}

	watcher := cfg.Watcher
	if watcher == nil {
		w, err := config.New(config.Options{Logger: cfg.Logger})
		if err != nil {
			return nil, errs.Wrap(errs.KindFatalInternal, "WATCHER_INIT_FAILED", err, "unable to create folder change watcher")
		}
		watcher = w
		o.ownsWatcher = true
	}
	if err := watcher.Add(cfg.Path); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "WATCH_ADD_FAILED", err, "unable to watch folder")
	}
	watcher.Ready()
	o.watcher = watcher

	return o, nil
}

// Tracker exposes the orchestrator's state change tracker for polling.
func (o *Orchestrator) Tracker() *state.Tracker {
	return o.tracker
}

// Store returns the folder's storage, for search and metadata queries issued
// by the control plane.
func (o *Orchestrator) Store() *storage.Store {
	return o.cfg.Store
}

// ModelID returns the folder's configured embedding model id.
func (o *Orchestrator) ModelID() string {
	return o.cfg.ModelID
}

// Snapshot returns the orchestrator's current state for diagnostics and the
// control plane.
func (o *Orchestrator) Snapshot() Snapshot {
	o.stateLock.Lock()
	defer o.stateLock.UnlockWithoutNotify()
	return Snapshot{
		Path:          o.cfg.Path,
		State:         o.sm.Current(),
		PreviousState: o.sm.Previous(),
		Queue:         o.queue.Stats(),
		LastError:     o.lastErr,
	}
}

// Retry requests a transition from error back to scanning, the only legal
// trigger out of the error state (spec §4.F). It returns false if the
// orchestrator was not in the error state.
func (o *Orchestrator) Retry() bool {
	o.stateLock.Lock()
	ok := o.sm.Current() == StateError && o.sm.TransitionTo(StateScanning)
	o.stateLock.Unlock()

	if ok {
		select {
		case o.retrySignal <- struct{}{}:
		default:
		}
	}
	return ok
}

// Start begins the orchestrator's scan/index/watch loop. Start is idempotent:
// calling it again while already running has no effect.
func (o *Orchestrator) Start() error {
	o.lifecycleLock.Lock()
	defer o.lifecycleLock.Unlock()

	if o.disabled {
		return errs.New(errs.KindFatalInternal, "ORCHESTRATOR_DISPOSED", "orchestrator has already been disposed")
	}
	if o.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx)
	return nil
}

// Dispose signals the orchestrator to stop at the next safe point, waits for
// it to finish, releases its storage handle, and unsubscribes from change
// events. After Dispose, no further state change is published.
func (o *Orchestrator) Dispose() {
	o.lifecycleLock.Lock()
	defer o.lifecycleLock.Unlock()

	if o.disabled {
		return
	}
	o.disabled = true

	if o.cancel != nil {
		o.cancel()
		<-o.done
		o.cancel = nil
	}

	if o.ownsWatcher && o.watcher != nil {
		_ = o.watcher.Close()
	}
	if o.cfg.Store != nil {
		_ = o.cfg.Store.Close()
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := o.scanAndIndex(ctx); err != nil && o.logger != nil {
			o.logger.Warn(err)
		}

		if !o.waitForNextTrigger(ctx) {
			return
		}
	}
}

// waitForNextTrigger blocks until the orchestrator should re-enter scanning:
// an explicit retry if currently in error, or a filesystem change / periodic
// rescan if currently active. It returns false if ctx was canceled first.
func (o *Orchestrator) waitForNextTrigger(ctx context.Context) bool {
	o.stateLock.Lock()
	current := o.sm.Current()
	o.stateLock.UnlockWithoutNotify()

	if current == StateError {
		select {
		case <-ctx.Done():
			return false
		case <-o.retrySignal:
			return true
		}
	}

	var watchEvents <-chan config.Event
	if o.watcher != nil {
		watchEvents = o.watcher.Events()
	}

	var tickerC <-chan time.Time
	if o.cfg.RescanInterval > 0 {
		ticker := time.NewTicker(o.cfg.RescanInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-watchEvents:
		o.drainPendingEvents(watchEvents)
		return true
	case <-tickerC:
		return true
	case <-o.retrySignal:
		return true
	}
}

// drainPendingEvents discards any additional buffered change events so that
// a burst of filesystem activity triggers exactly one rescan rather than
// one per event.
func (o *Orchestrator) drainPendingEvents(events <-chan config.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

// scanAndIndex runs one full cycle: scanning, diffing against storage,
// indexing the result (if any), and transitioning to active or error.
func (o *Orchestrator) scanAndIndex(ctx context.Context) error {
	o.setState(StateScanning)

	fpChan, errChan := fingerprint.Walk(ctx, o.cfg.Path, fingerprint.WalkOptions{
		Extensions:     o.cfg.Extensions,
		IgnorePatterns: o.cfg.IgnorePatterns,
	})

	walked := make(map[string]fingerprint.Fingerprint)
	for fp := range fpChan {
		walked[fp.Path] = fp
	}
	if err := <-errChan; err != nil {
		werr := errs.Wrap(errs.KindTransientIO, "SCAN_FAILED", err, "unable to walk folder")
		o.setError(werr)
		return werr
	}

	existing, err := o.cfg.Store.AllDocuments(ctx)
	if err != nil {
		werr := errs.Wrap(errs.KindCorruption, "SCAN_LOAD_DOCUMENTS_FAILED", err, "unable to load existing documents")
		o.setError(werr)
		return werr
	}
	existingByPath := make(map[string]storage.Document, len(existing))
	for _, d := range existing {
		existingByPath[d.Path] = d
	}

	tasks, err := diffTasks(walked, existingByPath)
	if err != nil {
		werr := errs.Wrap(errs.KindFatalInternal, "TASK_ID_GENERATION_FAILED", err, "unable to generate task identifiers")
		o.setError(werr)
		return werr
	}

	o.fingerprintsByPath = walked

	if len(tasks) == 0 {
		o.setState(StateActive)
		return nil
	}

	o.setState(StateIndexing)
	o.queue.ClearAll()
	o.queue.AddTasks(tasks)

	handle, err := o.cfg.Registry.GetOrLoad(ctx, o.cfg.ModelID)
	if err != nil {
		werr := errs.Wrap(errs.KindModel, "MODEL_LOAD_FAILED", err, "unable to load embedding model")
		o.setError(werr)
		return werr
	}

	pipe := pipeline.New(pipeline.Config{
		Parser:      rootedParser{root: o.cfg.Path, inner: o.cfg.Parser},
		Chunker:     o.cfg.Chunker,
		Embedder:    handle,
		Persister:   &storeAdapter{store: o.cfg.Store},
		AllowedExts: o.cfg.Extensions,
		Concurrency: o.cfg.Concurrency,
	})

	o.drainQueue(ctx, pipe)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	o.setState(StateActive)
	return nil
}

// diffTasks computes the task set T of spec §4.G step 2: files whose stored
// fingerprint differs or is missing, plus tombstone tasks for files that no
// longer exist on disk.
func diffTasks(walked map[string]fingerprint.Fingerprint, existing map[string]storage.Document) ([]queue.Task, error) {
	var tasks []queue.Task

	for path, fp := range walked {
		doc, ok := existing[path]
		if ok && doc.Fingerprint == fp.Hash && !doc.NeedsReindex {
			continue
		}
		id, err := identifier.New(identifier.PrefixTask)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, queue.Task{ID: id, DocumentPath: path})
	}

	for path := range existing {
		if _, ok := walked[path]; ok {
			continue
		}
		id, err := identifier.New(identifier.PrefixTask)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, queue.Task{ID: id, DocumentPath: path, Tombstone: true})
	}

	return tasks, nil
}

// drainQueue repeatedly dispatches eligible tasks through the pipeline
// (or, for tombstones, straight to storage removal) until the queue is
// drained or ctx is canceled.
func (o *Orchestrator) drainQueue(ctx context.Context, pipe *pipeline.Pipeline) {
	concurrency := o.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = pipeline.DefaultConcurrency
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}
		if o.queue.Drained() {
			break
		}

		task := o.queue.NextTask()
		if task == nil {
			select {
			case <-time.After(dispatchPollInterval):
			case <-ctx.Done():
				wg.Wait()
				return
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(t queue.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			o.dispatchTask(ctx, pipe, t)
		}(*task)
	}

	wg.Wait()
}

func (o *Orchestrator) dispatchTask(ctx context.Context, pipe *pipeline.Pipeline, t queue.Task) {
	if t.Tombstone {
		err := o.cfg.Store.RemoveDocument(ctx, t.DocumentPath)
		o.queue.UpdateStatus(t.ID, statusFor(err), err)
		return
	}

	fp, ok := o.fingerprintsByPath[t.DocumentPath]
	if !ok {
		o.queue.UpdateStatus(t.ID, queue.StatusError, fmt.Errorf("no fingerprint recorded for %s", t.DocumentPath))
		return
	}

	ch := make(chan fingerprint.Fingerprint, 1)
	ch <- fp
	close(ch)

	var outcome pipeline.Outcome
	for result := range pipe.Run(ctx, ch) {
		outcome = result
	}

	if outcome.Succeeded {
		o.queue.UpdateStatusWithRetries(t.ID, queue.StatusSuccess, nil, outcome.Retries)
	} else {
		o.queue.UpdateStatus(t.ID, queue.StatusError, outcome.Err)
	}
}

// rootedParser joins the folder-relative paths the pipeline carries onto the
// folder root before handing them to the configured Parser.
type rootedParser struct {
	root  string
	inner pipeline.Parser
}

func (p rootedParser) Parse(ctx context.Context, path string) (string, error) {
	return p.inner.Parse(ctx, filepath.Join(p.root, filepath.FromSlash(path)))
}

func statusFor(err error) queue.Status {
	if err != nil {
		return queue.StatusError
	}
	return queue.StatusSuccess
}

func (o *Orchestrator) setState(target State) {
	o.stateLock.Lock()
	o.sm.TransitionTo(target)
	if target != StateError {
		o.lastErr = nil
	}
	o.stateLock.Unlock()
}

func (o *Orchestrator) setError(err error) {
	o.stateLock.Lock()
	o.sm.TransitionTo(StateError)
	o.lastErr = err
	o.stateLock.Unlock()
}
