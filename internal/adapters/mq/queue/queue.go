// Package queue carries engine commands from producers to the single
// evaluation worker.
//
// Enqueue never blocks: a full queue reports failure and the caller decides
// how to surface backpressure.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Kind names the engine operation a command performs.
type Kind string

// Command kinds.
const (
	KindSubmitSong  Kind = "submit_song"
	KindSubmitEvent Kind = "submit_event"
	KindAdvance     Kind = "advance"
	KindRemoveSong  Kind = "remove_song"
)

// Result is what the worker sends back for a command.
type Result struct {
	SongID  model.SongID
	Outcome engine.Outcome
	Err     error
}

// Command is one engine mutation waiting to be executed.
type Command struct {
	Kind    Kind
	Draft   model.SongDraft // KindSubmitSong
	Event   model.Event     // KindSubmitEvent
	Advance time.Duration   // KindAdvance
	SongID  model.SongID    // KindRemoveSong

	EnqueuedAt time.Time
	// Reply receives exactly one Result. It is buffered so the worker never
	// blocks on a producer that gave up waiting.
	Reply chan Result
}

// NewCommand returns a command of kind k with a fresh reply channel.
func NewCommand(k Kind) Command {
	return Command{Kind: k, Reply: make(chan Result, 1)}
}

// Respond delivers r to the producer, if anyone is listening.
func (c Command) Respond(r Result) { //nolint:gocritic // hugeParam: Command is passed by value for channel semantics
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a command to the queue.
	// Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, c Command) bool

	// Dequeue returns a channel that will receive commands as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Command

	// Len returns the current number of queued commands.
	Len(ctx context.Context) int

	// Close stops accepting commands; queued ones are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	commands   chan Command
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}
	q.commands = make(chan Command, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a command to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, c Command) bool { //nolint:gocritic // hugeParam: Command is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if len(q.commands) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	if c.EnqueuedAt.IsZero() {
		c.EnqueuedAt = time.Now()
	}
	select {
	case q.commands <- c:
		metrics.RecordQueueEnqueue()
		q.observe(len(q.commands))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive commands as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		for c := range q.commands {
			select {
			case out <- c:
				metrics.RecordQueueDequeue()
				metrics.RecordQueueProcessingLatency(float64(time.Since(c.EnqueuedAt).Microseconds()) / 1000)
				q.observe(len(q.commands))
			case <-ctx.Done():
				c.Respond(Result{Err: ctx.Err()})
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued commands.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.commands)
	q.observe(size)
	return size
}

func (q *InMemoryQueue) observe(size int) {
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.commands)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
