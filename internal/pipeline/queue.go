package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is the bounded outbound message queue between the acquisition loop
// and the delivery goroutine. When full, the oldest message is dropped so the
// acquisition loop never blocks on a slow consumer.
//
// Push is single-producer: only the acquisition loop calls it, and Close must
// not be called until the producer has stopped.
type Queue struct {
	ch        chan Message
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewQueue returns a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// Push enqueues a message, evicting the oldest one when the queue is full.
func (q *Queue) Push(m Message) {
	for {
		select {
		case q.ch <- m:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a message is available, the queue is closed and drained,
// or the context is done. The second return is false when no more messages
// will arrive.
func (q *Queue) Pop(ctx context.Context) (Message, bool) {
	select {
	case <-ctx.Done():
		return Message{}, false
	case m, ok := <-q.ch:
		return m, ok
	}
}

// Close marks the queue as finished. Buffered messages remain readable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Dropped returns the number of messages evicted due to backpressure.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
