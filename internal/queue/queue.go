// Package queue implements the per-folder Task Queue (spec §4.E): an
// in-memory, priority-ordered queue of indexing tasks with bounded
// concurrency, retry scheduling, and deterministic dispatch ordering. The
// tracking-lock-guarded mutable state pattern mirrors the teacher's
// pkg/state.TrackingLock usage in pkg/synchronization/controller.go, so that
// callers polling queue Stats can use the same state.Tracker-based
// WaitForChange discipline as the rest of the daemon.
package queue

import (
	"time"

	"github.com/okets/folder-mcp/internal/state"
)

// Status is a task's lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusFailed     Status = "failed"
)

// RetryBase and RetryFactor define the exponential backoff schedule for
// rescheduling a failed task: the Nth retry is scheduled at
// now + RetryBase * RetryFactor^retryCount.
const (
	RetryBase   = 1 * time.Second
	RetryFactor = 2
)

// DefaultMaxRetries is applied to tasks that don't specify their own.
const DefaultMaxRetries = 3

// DefaultMaxConcurrent bounds the number of simultaneously in-progress
// tasks.
const DefaultMaxConcurrent = 3

// Task is a single unit of indexing work.
type Task struct {
	ID          string
	DocumentPath string
	Tombstone   bool // true for deletion tasks, per spec §4.G step 2
	Status      Status
	Message     string
	RetryCount  int
	MaxRetries  int
	CompletedAt time.Time
	// retryAt is when a rescheduled error task becomes eligible again; zero
	// means immediately eligible.
	retryAt time.Time
	// insertionOrder breaks ties among fresh pending tasks, FIFO.
	insertionOrder uint64
}

// Stats summarizes the queue's current contents.
type Stats struct {
	Pending    int
	InProgress int
	Success    int
	Error      int
	Failed     int
}

// Queue is a per-folder task queue. All exported methods are safe for
// concurrent use.
type Queue struct {
	lock *state.TrackingLock
	tracker *state.Tracker

	tasks       map[string]*Task
	order       []string
	nextOrder   uint64
	maxConcurrent int
	inProgress  int
}

// New constructs an empty Queue with the given concurrency bound. A
// maxConcurrent of 0 uses DefaultMaxConcurrent.
func New(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	tracker := state.NewTracker()
	return &Queue{
		lock:          state.NewTrackingLock(tracker),
		tracker:       tracker,
		tasks:         make(map[string]*Task),
		maxConcurrent: maxConcurrent,
	}
}

// Tracker exposes the queue's change tracker so callers can block on
// WaitForChange the same way the rest of the daemon polls for state
// transitions.
func (q *Queue) Tracker() *state.Tracker {
	return q.tracker
}

// AddTask enqueues a single task in pending status.
func (q *Queue) AddTask(t Task) {
	q.AddTasks([]Task{t})
}

// AddTasks enqueues multiple tasks, preserving relative insertion order for
// FIFO dispatch among fresh pending tasks.
func (q *Queue) AddTasks(ts []Task) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for _, t := range ts {
		if t.MaxRetries == 0 {
			t.MaxRetries = DefaultMaxRetries
		}
		t.Status = StatusPending
		t.insertionOrder = q.nextOrder
		q.nextOrder++

		cp := t
		q.tasks[t.ID] = &cp
		q.order = append(q.order, t.ID)
	}
}

// NextTask dispatches the next eligible task: a task in error status whose
// retry deadline has elapsed takes priority over fresh pending tasks; among
// fresh pending tasks, dispatch is FIFO by insertion order. Returns nil if
// no task is eligible, including when the concurrency bound is already
// reached.
func (q *Queue) NextTask() *Task {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.inProgress >= q.maxConcurrent {
		return nil
	}

	now := time.Now()

	var retryCandidate *Task
	var pendingCandidate *Task
	for _, id := range q.order {
		t := q.tasks[id]
		if t == nil {
			continue
		}
		switch t.Status {
		case StatusError:
			if !t.retryAt.IsZero() && !now.Before(t.retryAt) {
				if retryCandidate == nil || t.insertionOrder < retryCandidate.insertionOrder {
					retryCandidate = t
				}
			}
		case StatusPending:
			if pendingCandidate == nil || t.insertionOrder < pendingCandidate.insertionOrder {
				pendingCandidate = t
			}
		}
	}

	chosen := retryCandidate
	if chosen == nil {
		chosen = pendingCandidate
	}
	if chosen == nil {
		return nil
	}

	chosen.Status = StatusInProgress
	q.inProgress++

	cp := *chosen
	return &cp
}

// UpdateStatus records the outcome of a dispatched task. On StatusError the
// task's RetryCount is incremented; while it stays below MaxRetries, the task
// is rescheduled with exponential backoff and returns to error-with-deadline
// eligibility; once it reaches MaxRetries the task transitions to terminal
// StatusFailed.
func (q *Queue) UpdateStatus(id string, status Status, taskErr error) {
	q.UpdateStatusWithRetries(id, status, taskErr, 0)
}

// UpdateStatusWithRetries behaves like UpdateStatus, additionally recording
// retries against the task's RetryCount when it completes successfully.
// retries is the number of stage-level retries the pipeline consumed while
// producing this outcome (e.g. an embed stage that failed 3 times before
// succeeding reports retries=3), so a task that only recovered through the
// pipeline's internal per-stage retries still surfaces that count rather
// than always reporting zero.
func (q *Queue) UpdateStatusWithRetries(id string, status Status, taskErr error, retries int) {
	q.lock.Lock()
	defer q.lock.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return
	}

	if t.Status == StatusInProgress {
		q.inProgress--
	}

	switch status {
	case StatusSuccess:
		t.Status = StatusSuccess
		t.CompletedAt = time.Now()
		t.Message = ""
		if retries > t.RetryCount {
			t.RetryCount = retries
		}
	case StatusError:
		if taskErr != nil {
			t.Message = taskErr.Error()
		}
		t.RetryCount++
		if t.RetryCount >= t.MaxRetries {
			t.Status = StatusFailed
		} else {
			t.Status = StatusError
			backoff := RetryBase
			for i := 0; i < t.RetryCount; i++ {
				backoff *= RetryFactor
			}
			t.retryAt = time.Now().Add(backoff)
		}
	default:
		t.Status = status
	}
}

// Stats summarizes the queue's current status distribution.
func (q *Queue) Stats() Stats {
	q.lock.Lock()
	defer q.lock.Unlock()

	var s Stats
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusSuccess:
			s.Success++
		case StatusError:
			s.Error++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Drained reports whether the queue has no pending, in-progress, or
// retrying (error-with-deadline) tasks, the condition under which the
// orchestrator transitions from indexing to active (spec §4.F).
func (q *Queue) Drained() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	for _, t := range q.tasks {
		if t.Status == StatusPending || t.Status == StatusInProgress || t.Status == StatusError {
			return false
		}
	}
	return true
}

// ClearCompleted removes all tasks in a terminal success state, keeping
// error/failed/in-flight tasks for diagnostics.
func (q *Queue) ClearCompleted() {
	q.clearMatching(func(t *Task) bool { return t.Status == StatusSuccess })
}

// ClearAll removes every task from the queue regardless of status.
func (q *Queue) ClearAll() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.tasks = make(map[string]*Task)
	q.order = nil
	q.inProgress = 0
}

func (q *Queue) clearMatching(match func(*Task) bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	remaining := q.order[:0]
	for _, id := range q.order {
		t := q.tasks[id]
		if t != nil && match(t) {
			delete(q.tasks, id)
			continue
		}
		remaining = append(remaining, id)
	}
	q.order = remaining
}
