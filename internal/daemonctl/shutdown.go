package daemonctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/okets/folder-mcp/internal/logging"
)

// DefaultShutdownTimeout is the default bound on the graceful shutdown
// sequence (spec §4.K).
const DefaultShutdownTimeout = 10 * time.Second

// ShutdownHooks are the concrete per-component teardown steps the
// coordinator drives, in order. They're injected rather than imported
// directly so daemonctl doesn't need to depend on the folder manager,
// model registry, or control plane packages.
type ShutdownHooks struct {
	// RejectRequests marks the control plane as shutting down, causing it to
	// respond service-unavailable to further requests.
	RejectRequests func()
	// StopFolders disposes every managed folder orchestrator and drains
	// in-flight tasks.
	StopFolders func()
	// ShutdownModels evicts every loaded model handle.
	ShutdownModels func()
	// StopChild stops the process supervisor's child with its own timeout.
	StopChild func() error
	// Reload re-reads configuration and propagates it to live components. May
	// be nil if reload isn't supported.
	Reload func()
}

// Coordinator owns signal registration and drives the graceful shutdown and
// reload sequences.
type Coordinator struct {
	hooks           ShutdownHooks
	shutdownTimeout time.Duration
	logger          *logging.Logger
	registration    *Registration

	sigCh chan os.Signal

	doneOnce sync.Once
	done     chan struct{}
}

// NewCoordinator constructs a Coordinator. registration may be nil if the
// caller manages the PID registry separately.
func NewCoordinator(hooks ShutdownHooks, shutdownTimeout time.Duration, registration *Registration, logger *logging.Logger) *Coordinator {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Coordinator{
		hooks:           hooks,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
		registration:    registration,
		sigCh:           make(chan os.Signal, 1),
		done:            make(chan struct{}),
	}
}

// Done returns a channel that is closed once shutdown has been requested
// through RequestShutdown, which takes the same path a termination signal
// would.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// RequestShutdown signals that shutdown should begin, as if a termination
// signal had been received.
func (c *Coordinator) RequestShutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Run registers signal handlers and blocks until a termination signal, a
// reload signal, or an externally requested shutdown (via Done/RequestShutdown)
// occurs; reload is handled in place and looped, while termination runs the
// graceful shutdown sequence once and returns.
func (c *Coordinator) Run(ctx context.Context) error {
	all := append(append([]os.Signal{}, TerminationSignals...), ReloadSignals...)
	signal.Notify(c.sigCh, all...)
	defer signal.Stop(c.sigCh)

	reloadSet := make(map[os.Signal]bool, len(ReloadSignals))
	for _, s := range ReloadSignals {
		reloadSet[s] = true
	}

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-c.done:
			return c.shutdown()
		case sig := <-c.sigCh:
			if reloadSet[sig] {
				if c.hooks.Reload != nil {
					if c.logger != nil {
						c.logger.Info("Reloading configuration")
					}
					c.hooks.Reload()
				}
				continue
			}
			if c.logger != nil {
				c.logger.Info("Received termination signal:", sig)
			}
			return c.shutdown()
		}
	}
}

// shutdown runs the graceful shutdown sequence from spec §4.K, bounded by
// shutdownTimeout.
func (c *Coordinator) shutdown() error {
	c.RequestShutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c.hooks.RejectRequests != nil {
			c.hooks.RejectRequests()
		}
		if c.hooks.StopFolders != nil {
			c.hooks.StopFolders()
		}
		if c.hooks.ShutdownModels != nil {
			c.hooks.ShutdownModels()
		}
		if c.hooks.StopChild != nil {
			if err := c.hooks.StopChild(); err != nil && c.logger != nil {
				c.logger.Warn(fmt.Errorf("auxiliary process did not stop cleanly: %w", err))
			}
		}
		if c.registration != nil {
			_ = c.registration.Release()
		}
	}()

	select {
	case <-done:
		return nil
	case <-time.After(c.shutdownTimeout):
		return fmt.Errorf("shutdown sequence did not complete within %s", c.shutdownTimeout)
	}
}
