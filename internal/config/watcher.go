// Package config implements the Configuration Watcher (spec §4.L) and the
// daemon's layered configuration surface. The watcher's debounce-by-path
// timer map is grounded on the fsnotify-based watcher service pattern seen
// across the example pack (e.g. the notebit watcher.Service), generalized
// from "watch one base directory for markdown files" to "watch an arbitrary
// set of paths for any change," since the same debounced-event shape serves
// both the daemon's configuration file and, via internal/lifecycle, a
// folder's content tree.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okets/folder-mcp/internal/logging"
)

// EventKind classifies a debounced filesystem change.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventChange EventKind = "change"
	EventUnlink EventKind = "unlink"
)

// Event is a single debounced, stability-checked filesystem change.
type Event struct {
	Path      string
	Kind      EventKind
	Timestamp time.Time
}

// DefaultDebounce is the window within which rapid successive writes to the
// same path coalesce into a single event, per spec §4.L.
const DefaultDebounce = 500 * time.Millisecond

// DefaultStabilityThreshold is how long a path's size/mtime must go unchanged
// before a write is considered finished, per spec §4.L.
const DefaultStabilityThreshold = 200 * time.Millisecond

// Watcher emits debounced, write-finish-aware filesystem events for a set of
// watched roots. The zero value is not usable; construct with New.
type Watcher struct {
	logger    *logging.Logger
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	stability time.Duration
	pollEvery time.Duration

	events chan Event

	pendingMu sync.Mutex
	pending   map[string]*time.Timer

	ready     chan struct{}
	readyOnce sync.Once
	preReady  []Event
	preMu     sync.Mutex

	done     chan struct{}
	closeErr error
	closeOne sync.Once

	pollRoots map[string]bool
	pollMu    sync.Mutex
	pollState map[string]time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce overrides DefaultDebounce.
	Debounce time.Duration
	// StabilityThreshold overrides DefaultStabilityThreshold.
	StabilityThreshold time.Duration
	// PollInterval, if non-zero, switches the watcher to poll mode for every
	// added root instead of relying on native filesystem notifications. This
	// is required on network filesystems where inotify-style events are
	// unreliable or unavailable.
	PollInterval time.Duration
	// Logger is optional.
	Logger *logging.Logger
}

// New constructs a Watcher. Watched roots are registered with Add; no events
// are emitted until the caller calls Ready, which signals that initial
// watches have been established.
func New(opts Options) (*Watcher, error) {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	stability := opts.StabilityThreshold
	if stability <= 0 {
		stability = DefaultStabilityThreshold
	}

	w := &Watcher{
		logger:    opts.Logger,
		debounce:  debounce,
		stability: stability,
		pollEvery: opts.PollInterval,
		events:    make(chan Event, 64),
		pending:   make(map[string]*time.Timer),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		pollRoots: make(map[string]bool),
		pollState: make(map[string]time.Time),
	}

	if w.pollEvery <= 0 {
		fsWatcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("unable to create filesystem watcher: %w", err)
		}
		w.fsWatcher = fsWatcher
		go w.nativeEventLoop()
	}

	return w, nil
}

// Add registers root for watching. Directories are added recursively so that
// files created under newly-created subdirectories are also observed.
func (w *Watcher) Add(root string) error {
	if w.pollEvery > 0 {
		w.pollMu.Lock()
		w.pollRoots[root] = true
		w.pollMu.Unlock()
		go w.pollLoop(root)
		return nil
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsWatcher.Add(path)
	})
}

// Ready signals that all initial Add calls have completed; events observed
// before Ready is called are queued and released once it fires, satisfying
// the "no events before ready" guarantee.
func (w *Watcher) Ready() {
	w.readyOnce.Do(func() {
		w.preMu.Lock()
		queued := w.preReady
		w.preReady = nil
		w.preMu.Unlock()

		close(w.ready)
		for _, e := range queued {
			w.events <- e
		}
	})
}

// Events returns the channel on which debounced events are delivered.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.closeOne.Do(func() {
		close(w.done)
		if w.fsWatcher != nil {
			w.closeErr = w.fsWatcher.Close()
		}
	})
	return w.closeErr
}

func (w *Watcher) nativeEventLoop() {
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleRawEvent(ev.Name, kindForOp(ev.Op))
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fsWatcher.Add(ev.Name)
				}
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn(err)
			}
		case <-w.done:
			return
		}
	}
}

func kindForOp(op fsnotify.Op) EventKind {
	switch {
	case op&fsnotify.Remove == fsnotify.Remove, op&fsnotify.Rename == fsnotify.Rename:
		return EventUnlink
	case op&fsnotify.Create == fsnotify.Create:
		return EventAdd
	default:
		return EventChange
	}
}

// handleRawEvent debounces a raw change to path, restarting its timer on
// every successive event within the debounce window.
func (w *Watcher) handleRawEvent(path string, kind EventKind) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()

		w.emitStable(path, kind)
	})
}

// emitStable waits for path to stop changing (or confirms it is gone, for an
// unlink) before emitting, then delivers the event, queuing it if Ready has
// not yet fired.
func (w *Watcher) emitStable(path string, kind EventKind) {
	if kind != EventUnlink {
		if !w.awaitStability(path) {
			return
		}
	}

	event := Event{Path: path, Kind: kind, Timestamp: time.Now()}

	select {
	case <-w.ready:
		select {
		case w.events <- event:
		case <-w.done:
		}
	default:
		w.preMu.Lock()
		w.preReady = append(w.preReady, event)
		w.preMu.Unlock()
	}
}

// awaitStability polls path's modification time until it stops changing for
// one stability window, reporting false if the path disappeared while
// waiting (in which case no change event is emitted; a subsequent native
// remove event will have already been queued separately).
func (w *Watcher) awaitStability(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	last := info.ModTime()

	for {
		select {
		case <-time.After(w.stability):
		case <-w.done:
			return false
		}

		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.ModTime().Equal(last) {
			return true
		}
		last = info.ModTime()
	}
}

// pollLoop periodically re-stats every file under root, synthesizing
// debounced events for network filesystems where native notifications are
// unreliable.
func (w *Watcher) pollLoop(root string) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-ticker.C:
			w.pollOnce(ctx, root)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context, root string) {
	seen := make(map[string]bool)

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}

		seen[path] = true

		w.pollMu.Lock()
		previous, existed := w.pollState[path]
		w.pollState[path] = info.ModTime()
		w.pollMu.Unlock()

		if !existed {
			w.handleRawEvent(path, EventAdd)
		} else if !previous.Equal(info.ModTime()) {
			w.handleRawEvent(path, EventChange)
		}
		return nil
	})

	w.pollMu.Lock()
	for path := range w.pollState {
		if !seen[path] {
			delete(w.pollState, path)
			w.pollMu.Unlock()
			w.handleRawEvent(path, EventUnlink)
			w.pollMu.Lock()
		}
	}
	w.pollMu.Unlock()
}
