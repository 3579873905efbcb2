package gojob

import (
	"context"
	"fmt"
	"sync"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a bounded in-process queue for single-instance runs and
// tests. Messages with an idempotency key already queued are dropped.
// Nack delays are not honoured; a requeued message goes to the back.
type MemoryQueue struct {
	messages chan *job.ExecutionMessage

	mu         sync.Mutex
	queued     map[string]struct{}
	deadLetter []*job.ExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		messages: make(chan *job.ExecutionMessage, capacity),
		queued:   map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if key := msg.IdempotencyKey; key != "" && msg.DedupPolicy == dedupDrop {
		q.mu.Lock()
		if _, exists := q.queued[key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.queued[key] = struct{}{}
		q.mu.Unlock()
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		q.forget(msg)
		return ctx.Err()
	default:
		q.forget(msg)
		return fmt.Errorf("gojob: memory queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg := <-q.messages:
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.messages)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.ExecutionMessage, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

func (q *MemoryQueue) forget(msg *job.ExecutionMessage) {
	if msg == nil || msg.IdempotencyKey == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, msg.IdempotencyKey)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.forget(d.msg)
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		select {
		case d.queue.messages <- d.msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	d.queue.forget(d.msg)
	if opts.DeadLetter || opts.Requeue {
		d.queue.mu.Lock()
		d.queue.deadLetter = append(d.queue.deadLetter, d.msg)
		d.queue.mu.Unlock()
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
