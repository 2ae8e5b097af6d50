package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

const trackerTestTimeout = 1 * time.Second

func TestTracker(t *testing.T) {
	tracker := NewTracker()

	handoff := make(chan bool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		firstState, err := tracker.WaitForChange(context.Background(), 1)
		if err != nil || firstState != 2 {
			handoff <- false
			return
		}
		handoff <- true

		secondState, err := tracker.WaitForChange(ctx, firstState)
		if !errors.Is(err, context.Canceled) || secondState != firstState {
			handoff <- false
			return
		}
		handoff <- true

		finalState, err := tracker.WaitForChange(context.Background(), secondState)
		handoff <- (finalState == firstState && errors.Is(err, ErrTrackingTerminated))
	}()

	tracker.NotifyOfChange()
	select {
	case value := <-handoff:
		if !value {
			t.Fatal("received failure on state tracking")
		}
	case <-time.After(trackerTestTimeout):
		t.Fatal("timeout failure on state tracking")
	}

	cancel()
	select {
	case value := <-handoff:
		if !value {
			t.Fatal("received failure on state tracking with cancellation")
		}
	case <-time.After(trackerTestTimeout):
		t.Fatal("timeout failure on state tracking with cancellation")
	}

	tracker.Terminate()
	select {
	case value := <-handoff:
		if !value {
			t.Fatal("received failure on tracking termination")
		}
	case <-time.After(trackerTestTimeout):
		t.Fatal("timeout failure on tracking termination")
	}
}

func TestWaitForChangeImmediate(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()

	index, err := tracker.WaitForChange(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if index != 1 {
		t.Errorf("expected initial index 1, got %d", index)
	}
}
