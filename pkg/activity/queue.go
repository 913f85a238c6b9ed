package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by QueueHook when the buffer has no room.
var ErrQueueFull = errors.New("activity: queue full")

// ErrQueueClosed is returned by QueueHook after Close.
var ErrQueueClosed = errors.New("activity: queue closed")

// QueueHook delivers events to Next on a background goroutine through a
// bounded buffer. Notify never blocks: when the buffer is full the event is
// rejected with ErrQueueFull.
type QueueHook struct {
	next   ActivityHook
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueueHook starts the delivery goroutine. size below one is treated as one.
func NewQueueHook(next ActivityHook, size int, logger *slog.Logger) *QueueHook {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &QueueHook{
		next:   next,
		logger: logger,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Notify enqueues the event.
func (q *QueueHook) Notify(_ context.Context, event Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.events <- NormalizeEvent(event):
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx is done.
func (q *QueueHook) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *QueueHook) run() {
	defer close(q.done)
	for event := range q.events {
		if q.next == nil {
			continue
		}
		if err := q.next.Notify(context.Background(), event); err != nil {
			q.logger.Error("activity delivery failed",
				slog.String("verb", event.Verb),
				slog.String("object_id", event.ObjectID),
				slog.Any("error", err))
		}
	}
}
