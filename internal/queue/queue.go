// Package queue provides an in-memory FIFO message queue used to hand
// outbound responses to the dispatch worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueFull is returned by Publish when the buffer has no free slot.
var ErrQueueFull = errors.New("queue is full")

// DefaultBuffer is the buffer size used when a non-positive size is given.
const DefaultBuffer = 100

// DeadLetterCap is how many failed messages a queue retains. Older ones are
// dropped but still counted.
const DeadLetterCap = 50

// Message is a payload handed to a consumer. Exactly one of Ack or Nack
// must be called once the payload has been handled.
type Message[T any] struct {
	payload *T
	queue   *Queue[T]

	mu        sync.Mutex
	processed bool
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return m.payload
}

// Ack marks the message as handled successfully.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	return nil
}

// Nack marks the message as failed. Failed messages are not redelivered;
// the most recent DeadLetterCap are kept for inspection.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true

	m.queue.deadLetter(DeadLetter[T]{Payload: m.payload, Err: err, At: time.Now()})
	return nil
}

// DeadLetter is a payload whose handling failed.
type DeadLetter[T any] struct {
	Payload *T
	Err     error
	At      time.Time
}

// Queue is a bounded in-memory FIFO. Publish never blocks.
type Queue[T any] struct {
	messages chan *Message[T]

	dlqMu    sync.Mutex
	dlq      []DeadLetter[T]
	dlqTotal int
}

// New creates a queue holding up to buffer pending messages.
func New[T any](buffer int) *Queue[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Queue[T]{messages: make(chan *Message[T], buffer)}
}

// Publish appends t to the queue. It returns ErrQueueFull rather than wait
// for a free slot.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{payload: t, queue: q}
	select {
	case q.messages <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume blocks until a message is available or ctx is done.
func (q *Queue[T]) Consume(ctx context.Context) (*Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of pending messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

func (q *Queue[T]) deadLetter(dl DeadLetter[T]) {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	if len(q.dlq) == DeadLetterCap {
		copy(q.dlq, q.dlq[1:])
		q.dlq = q.dlq[:DeadLetterCap-1]
	}
	q.dlq = append(q.dlq, dl)
	q.dlqTotal++
}

// DeadLetters returns the retained failed messages, oldest first, and how
// many messages have failed in total.
func (q *Queue[T]) DeadLetters() ([]DeadLetter[T], int) {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]DeadLetter[T](nil), q.dlq...), q.dlqTotal
}
