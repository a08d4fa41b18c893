package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"herald/internal/logging"
)

// Coordinator runs registered cleanup steps exactly once, bounded by a
// timeout. Steps that miss the deadline are logged and abandoned; a
// late cleanup never prevents process exit.
type Coordinator struct {
	mu      sync.Mutex
	once    sync.Once
	steps   []cleanupStep
	timeout time.Duration
	logger  logging.Logger
}

type cleanupStep struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCoordinator creates a shutdown coordinator with the given cleanup
// timeout.
func NewCoordinator(timeout time.Duration, logger logging.Logger) *Coordinator {
	return &Coordinator{
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the configured cleanup timeout.
func (c *Coordinator) Timeout() time.Duration { return c.timeout }

// Register adds a named cleanup step. Steps run concurrently during
// shutdown.
func (c *Coordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

// Run executes all registered steps under the timeout. Idempotent:
// signals delivered more than once trigger cleanup exactly once.
func (c *Coordinator) Run() {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		steps := make([]cleanupStep, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()

		g, ctx := errgroup.WithContext(ctx)
		for _, step := range steps {
			step := step
			g.Go(func() error {
				done := make(chan error, 1)
				go func() { done <- step.fn(ctx) }()

				select {
				case err := <-done:
					if err != nil {
						c.logger.WithError(err).WithField("step", step.name).Warn("Shutdown cleanup step failed")
					} else {
						c.logger.WithField("step", step.name).Debug("Shutdown cleanup step completed")
					}
				case <-ctx.Done():
					c.logger.WithField("step", step.name).Warn("Shutdown cleanup step timed out, abandoning")
				}
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // step errors are logged, never fatal
	})
}
