package daemonctl

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/logging"
)

// SupervisorState is a Process Supervisor lifecycle state (spec §4.J).
type SupervisorState string

const (
	StateStopped    SupervisorState = "stopped"
	StateStarting   SupervisorState = "starting"
	StateRunning    SupervisorState = "running"
	StateStopping   SupervisorState = "stopping"
	StateRestarting SupervisorState = "restarting"
	StateFailed     SupervisorState = "failed"
)

// RestartPolicy configures the supervisor's auto-restart behavior.
type RestartPolicy struct {
	Enabled    bool
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
	// StabilityWindow is how long the child must stay running before a start
	// counts as "successful" and resets the attempt counter. Without this, a
	// process that starts fine but crashes immediately every time would never
	// exhaust MaxRetries, since each launch would reset the counter before
	// the next crash incremented it.
	StabilityWindow time.Duration
	ShutdownTimeout time.Duration
}

// DefaultRestartPolicy matches spec §4.J's defaults.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:         true,
		MaxRetries:      5,
		Delay:           time.Second,
		MaxDelay:        30 * time.Second,
		StabilityWindow: 2 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// CommandFactory builds a fresh *exec.Cmd for each (re)start, since an
// *exec.Cmd cannot be reused after it has run once.
type CommandFactory func(ctx context.Context) *exec.Cmd

// Supervisor supervises a single auxiliary child process.
type Supervisor struct {
	newCommand CommandFactory
	policy     RestartPolicy
	logger     *logging.Logger

	mu       sync.Mutex
	state    SupervisorState
	attempts int
	cmd      *exec.Cmd
	exited   chan struct{}

	restartCancel context.CancelFunc
}

// NewSupervisor constructs a Supervisor in the stopped state.
func NewSupervisor(newCommand CommandFactory, policy RestartPolicy, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		newCommand: newCommand,
		policy:     policy,
		logger:     logger,
		state:      StateStopped,
	}
}

// Status reports the supervisor's current state and restart attempt count.
func (s *Supervisor) Status() (SupervisorState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.attempts
}

// IsResponsive reports whether the child is alive. The supervisor itself
// only checks liveness; an application-level ping can be layered on top by
// the caller.
func (s *Supervisor) IsResponsive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil
}

// Start launches the child process. It is a no-op if already starting or
// running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	return s.spawn(ctx)
}

func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := s.newCommand(ctx)
	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return errs.Wrap(errs.KindFatalInternal, "SUPERVISOR_SPAWN_FAILED", err, "unable to start auxiliary process")
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.state = StateRunning
	s.mu.Unlock()

	go s.awaitStability(exited)

	go func() {
		waitErr := cmd.Wait()
		close(exited)
		s.handleExit(ctx, waitErr)
	}()

	return nil
}

// awaitStability resets the restart-attempt counter once the child has
// stayed up for the policy's StabilityWindow, so a genuinely-recovered
// process doesn't carry a stale attempt count into its next crash.
func (s *Supervisor) awaitStability(exited chan struct{}) {
	if s.policy.StabilityWindow <= 0 {
		return
	}
	select {
	case <-exited:
	case <-time.After(s.policy.StabilityWindow):
		s.mu.Lock()
		if s.exited == exited && s.state == StateRunning {
			s.attempts = 0
		}
		s.mu.Unlock()
	}
}

// handleExit runs the restart policy after the child exits unexpectedly
// (i.e. not as a result of Stop having moved the state to stopping first).
func (s *Supervisor) handleExit(ctx context.Context, waitErr error) {
	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}

	if !s.policy.Enabled || s.attempts >= s.policy.MaxRetries {
		s.state = StateFailed
		s.mu.Unlock()
		if s.logger != nil && waitErr != nil {
			s.logger.Warn(fmt.Errorf("auxiliary process exited and will not be restarted: %w", waitErr))
		}
		return
	}

	attempt := s.attempts
	s.attempts++
	s.state = StateRestarting
	restartCtx, cancel := context.WithCancel(ctx)
	s.restartCancel = cancel
	s.mu.Unlock()

	delay := s.policy.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > s.policy.MaxDelay {
			delay = s.policy.MaxDelay
			break
		}
	}

	select {
	case <-time.After(delay):
	case <-restartCtx.Done():
		return
	}

	s.mu.Lock()
	if s.state != StateRestarting {
		s.mu.Unlock()
		return
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil && s.logger != nil {
		s.logger.Warn(err)
	}
}

// Stop gracefully terminates the child, waiting up to the restart policy's
// ShutdownTimeout before force-killing it. Stop disables any pending
// scheduled restart.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped || s.cmd == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	if s.restartCancel != nil {
		s.restartCancel()
		s.restartCancel = nil
	}
	s.state = StateStopping
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()

	_ = cmd.Process.Signal(terminateSignal())

	select {
	case <-exited:
	case <-time.After(s.policy.ShutdownTimeout):
		_ = cmd.Process.Kill()
		<-exited
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

// Restart stops and then starts the child, bypassing the auto-restart
// policy's backoff (it is a user-requested restart, not a crash recovery).
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Kill force-terminates the child immediately, without awaiting a graceful
// exit.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	if s.restartCancel != nil {
		s.restartCancel()
		s.restartCancel = nil
	}
	cmd := s.cmd
	s.state = StateStopping
	s.mu.Unlock()

	return cmd.Process.Kill()
}
