// Package executor provides named serial execution contexts: one run
// loop per logical context, with cross-context work submission. The
// pipeline worker owns one context; request-serving callers submit work
// into it through a Future instead of touching the worker's state
// directly.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSchedulerUnavailable is returned when work is submitted to a
// context that has been shut down. Submissions are never silently
// dropped.
var ErrSchedulerUnavailable = errors.New("executor: scheduler unavailable")

// submitQueueDepth bounds how many submissions may wait per context.
const submitQueueDepth = 64

// Task is a unit of work executed on a context's run loop.
type Task func(ctx context.Context) (interface{}, error)

// Future is the handle returned by Submit. Wait blocks until the task
// has run on its target context or the caller's context is cancelled.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Wait blocks until the task completes and returns its result.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the task has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

type submission struct {
	task   Task
	future *Future
}

// Context is a serial execution context. All tasks submitted to it run
// one at a time, in submission order, on a single goroutine it owns.
type Context struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	queue  chan submission
	closed bool

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Name returns the context's identifier.
func (c *Context) Name() string { return c.name }

// Submit queues a task for execution on this context's run loop. The
// task is always queued, never executed inline on the caller, so the
// one-loop-per-context invariant holds even for same-context callers.
func (c *Context) Submit(task Task) (*Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: context %q is shut down", ErrSchedulerUnavailable, c.name)
	}

	f := &Future{done: make(chan struct{})}
	select {
	case c.queue <- submission{task: task, future: f}:
		return f, nil
	default:
		return nil, fmt.Errorf("%w: context %q submission queue full", ErrSchedulerUnavailable, c.name)
	}
}

// run is the context's serial loop. It exits when the queue is closed
// and drained, or when the run context is cancelled.
func (c *Context) run() {
	defer close(c.done)

	for sub := range c.queue {
		if c.runCtx.Err() != nil {
			// Grace expired: fail remaining tasks instead of
			// swallowing them.
			sub.future.err = fmt.Errorf("%w: context %q shut down before task ran",
				ErrSchedulerUnavailable, c.name)
			close(sub.future.done)
			continue
		}

		sub.future.value, sub.future.err = sub.task(c.runCtx)
		close(sub.future.done)
	}
}

// Manager hands out execution contexts by name, creating each lazily on
// first request. Construct one at process start and pass it by
// reference; there is no package-level instance.
type Manager struct {
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]*Context
	shutdown bool
}

// NewManager creates an empty context manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		contexts: make(map[string]*Context),
	}
}

// Context returns the execution context with the given name, creating
// it (and starting its run loop) on first request. Two callers asking
// for the same name always share one context.
func (m *Manager) Context(name string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, fmt.Errorf("%w: manager is shut down", ErrSchedulerUnavailable)
	}

	if c, ok := m.contexts[name]; ok {
		return c, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Context{
		name:   name,
		logger: m.logger,
		queue:  make(chan submission, submitQueueDepth),
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.contexts[name] = c

	go c.run()
	m.logger.Debug("execution context created", zap.String("context", name))

	return c, nil
}

// Shutdown stops accepting new work, waits up to grace for queued tasks
// to drain, then cancels anything still pending. It is idempotent.
func (m *Manager) Shutdown(grace time.Duration) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	m.mu.Unlock()

	// Close every queue so run loops exit after draining.
	for _, c := range contexts {
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
	}

	// The grace period bounds the whole shutdown, not each context in
	// turn: once the absolute deadline passes, every still-busy context
	// is cancelled immediately.
	deadline := time.Now().Add(grace)

	for _, c := range contexts {
		select {
		case <-c.done:
		case <-time.After(time.Until(deadline)):
			// Grace expired: cancel and let remaining tasks fail.
			m.logger.Warn("shutdown grace expired, cancelling",
				zap.String("context", c.name))
			c.cancel()
			<-c.done
		}
	}

	for _, c := range contexts {
		c.cancel()
	}

	m.logger.Info("execution contexts shut down",
		zap.Int("count", len(contexts)))
}
