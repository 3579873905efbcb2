package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// backoff doubles BaseDelay per attempt; NormalizeAttempt caps it.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return p.BaseDelay
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < time.Hour; i++ {
		delay *= 2
	}
	return delay
}

// EventConsumer pulls outbox events off a go-job queue and hands them to a
// downstream publisher. Failed deliveries are nacked under the retry policy.
type EventConsumer struct {
	dequeuer queue.Dequeuer
	handler  outbox.Publisher
	policy   RetryPolicy
	hook     worker.Hook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewEventConsumer(dequeuer queue.Dequeuer, handler outbox.Publisher, policy RetryPolicy, hook worker.Hook) *EventConsumer {
	return &EventConsumer{
		dequeuer: dequeuer,
		handler:  handler,
		policy:   policy,
		hook:     hook,
		now:      time.Now,
		attempts: map[string]int{},
	}
}

// ConsumeOne processes a single delivery. Handler failures are settled on
// the queue and reported through the hook; only queue errors are returned.
func (c *EventConsumer) ConsumeOne(ctx context.Context) error {
	if c == nil || c.dequeuer == nil || c.handler == nil {
		return fmt.Errorf("gojob: consumer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	event, err := FromExecutionMessage(msg)
	if err != nil {
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	attempt := c.nextAttempt(event.ID)
	startedAt := c.now()
	c.emit(ctx, func(h worker.Hook, evt worker.Event) { h.OnStart(ctx, evt) }, worker.Event{
		Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt,
	})

	if err := c.handler.Publish(ctx, event); err != nil {
		opts := c.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   c.policy.backoff(attempt),
			Requeue: true,
			Reason:  err.Error(),
		}, attempt)
		evt := worker.Event{
			Message: msg, Delivery: delivery, Attempt: attempt, Delay: opts.Delay,
			Err: err, StartedAt: startedAt, Duration: c.now().Sub(startedAt),
		}
		if opts.Requeue {
			c.emit(ctx, func(h worker.Hook, e worker.Event) { h.OnRetry(ctx, e) }, evt)
		} else {
			c.forget(event.ID)
			c.emit(ctx, func(h worker.Hook, e worker.Event) { h.OnFailure(ctx, e) }, evt)
		}
		return delivery.Nack(ctx, opts)
	}

	c.forget(event.ID)
	c.emit(ctx, func(h worker.Hook, evt worker.Event) { h.OnSuccess(ctx, evt) }, worker.Event{
		Message: msg, Delivery: delivery, Attempt: attempt,
		StartedAt: startedAt, Duration: c.now().Sub(startedAt),
	})
	return delivery.Ack(ctx)
}

// Run consumes until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		if err := c.ConsumeOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *EventConsumer) nextAttempt(eventID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[eventID]++
	return c.attempts[eventID]
}

func (c *EventConsumer) forget(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, eventID)
}

func (c *EventConsumer) emit(_ context.Context, fn func(worker.Hook, worker.Event), evt worker.Event) {
	if c.hook == nil {
		return
	}
	fn(c.hook, evt)
}

// ObserverHook reports worker lifecycle events through the observer.
type ObserverHook struct {
	Observer core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.Observer.Count(ctx, "queue.start", 1, eventTags(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.Observer.Observe(ctx, event.StartedAt, "queue.deliver", nil, eventFields(event))
}

func (h ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.Observer.Observe(ctx, event.StartedAt, "queue.deliver", event.Err, eventFields(event))
}

func (h ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	fields := eventFields(event)
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.Observer.Info(ctx, "queue delivery retry scheduled", fields)
}

func eventMessage(event worker.Event) (jobID string, eventType string, key string) {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return "", "", ""
	}
	return message.JobID, message.ScriptPath, message.IdempotencyKey
}

func eventTags(event worker.Event) map[string]string {
	jobID, eventType, _ := eventMessage(event)
	return map[string]string{"job_id": jobID, "event_type": eventType}
}

func eventFields(event worker.Event) map[string]any {
	jobID, eventType, key := eventMessage(event)
	return map[string]any{
		"job_id":     jobID,
		"event_type": eventType,
		"event_id":   key,
		"attempt":    event.Attempt,
	}
}

var _ worker.Hook = ObserverHook{}
