// Package worker runs the evaluation loop that applies queued commands to the
// engine. Exactly one worker consumes the queue, so commands are applied in
// the order they were accepted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/loudsound/internal/adapters/mq/queue"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

// ErrStopped is returned to producers whose command was still queued when the
// worker stopped.
var ErrStopped = errors.New("worker stopped")

// Executor applies one command and reports its result.
type Executor interface {
	Execute(ctx context.Context, c queue.Command) queue.Result
}

// Queue defines how the worker receives commands.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Command
}

// Worker processes commands until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is called or
	// the queue is closed and drained.
	Run(ctx context.Context)

	// Shutdown stops the worker; commands still queued are answered with
	// ErrStopped.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue Queue
	exec  Executor
	name  string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, exec Executor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		exec:     exec,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	metrics.UpdateWorkerActiveCount(1)
	defer metrics.UpdateWorkerActiveCount(0)

	commands := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			w.drain(ctx, commands)
			return
		case c, ok := <-commands:
			if !ok {
				return
			}
			w.process(ctx, c)
		}
	}
}

// drain answers whatever is immediately available so producers stop waiting.
func (w *InMemoryWorker) drain(ctx context.Context, commands <-chan queue.Command) {
	n := 0
	defer func() {
		if n > 0 {
			w.logger.Info(ctx, "pending commands rejected on shutdown", logger.Int("count", n))
		}
	}()
	for {
		select {
		case c, ok := <-commands:
			if !ok {
				return
			}
			c.Respond(queue.Result{Err: ErrStopped})
			n++
		default:
			return
		}
	}
}

// Done is closed when Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, c queue.Command) { //nolint:gocritic // hugeParam: Command is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	res := w.exec.Execute(ctx, c)
	if res.Err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", string(c.Kind))
		w.logger.Debug(ctx, "command failed",
			logger.String("kind", string(c.Kind)),
			logger.Error(res.Err))
	}
	c.Respond(res)
}
