package state

import "sync"

// TrackingLock is a mutex that notifies a Tracker of every state change it
// guards, mirroring the teacher's state.TrackingLock. Callers that mutate
// state call Lock/Unlock; callers that only need a consistent read (and know
// they won't be the one to cause a visible change, e.g. to take a snapshot)
// call Lock/UnlockWithoutNotify to avoid spurious notifications.
type TrackingLock struct {
	lock    sync.Mutex
	tracker *Tracker
}

// NewTrackingLock creates a new tracking lock bound to tracker.
func NewTrackingLock(tracker *Tracker) *TrackingLock {
	return &TrackingLock{tracker: tracker}
}

// Lock locks the underlying mutex.
func (l *TrackingLock) Lock() {
	l.lock.Lock()
}

// Unlock unlocks the underlying mutex and notifies the tracker of a change.
func (l *TrackingLock) Unlock() {
	l.lock.Unlock()
	l.tracker.NotifyOfChange()
}

// UnlockWithoutNotify unlocks the underlying mutex without notifying the
// tracker, for read-only critical sections.
func (l *TrackingLock) UnlockWithoutNotify() {
	l.lock.Unlock()
}
