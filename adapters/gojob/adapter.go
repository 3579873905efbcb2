package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
)

const (
	JobIDOutboxEvent = "claimbot.outbox.event"
	JobIDOutboxRelay = "claimbot.outbox.relay"
)

const dedupDrop = job.DeduplicationPolicy("drop")

const (
	paramEventID       = "event_id"
	paramAggregateID   = "aggregate_id"
	paramAggregateType = "aggregate_type"
	paramEventType     = "event_type"
	paramPayload       = "payload"
	paramCreatedAt     = "created_at"
)

// ToExecutionMessage maps an outbox event onto a go-job message. The event
// id doubles as the idempotency key so a republished event is dropped by
// queues that deduplicate.
func ToExecutionMessage(event core.OutboxEvent) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDOutboxEvent,
		ScriptPath: strings.TrimSpace(event.EventType),
		Parameters: map[string]any{
			paramEventID:       event.ID,
			paramAggregateID:   event.AggregateID,
			paramAggregateType: string(event.AggregateType),
			paramEventType:     event.EventType,
			paramPayload:       copyAnyMap(event.Payload),
			paramCreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		IdempotencyKey: strings.TrimSpace(event.ID),
		DedupPolicy:    dedupDrop,
	}
}

// FromExecutionMessage rebuilds the outbox event carried by msg.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.OutboxEvent, error) {
	if msg == nil {
		return core.OutboxEvent{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDOutboxEvent {
		return core.OutboxEvent{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	event := core.OutboxEvent{
		ID:            stringParam(msg.Parameters, paramEventID),
		AggregateID:   stringParam(msg.Parameters, paramAggregateID),
		AggregateType: core.AggregateType(stringParam(msg.Parameters, paramAggregateType)),
		EventType:     stringParam(msg.Parameters, paramEventType),
	}
	if event.ID == "" {
		event.ID = strings.TrimSpace(msg.IdempotencyKey)
	}
	if event.EventType == "" {
		event.EventType = strings.TrimSpace(msg.ScriptPath)
	}
	if payload, ok := msg.Parameters[paramPayload].(map[string]any); ok {
		event.Payload = copyAnyMap(payload)
	}
	if raw := stringParam(msg.Parameters, paramCreatedAt); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.OutboxEvent{}, fmt.Errorf("gojob: invalid created_at: %w", err)
		}
		event.CreatedAt = createdAt
	}
	if event.ID == "" {
		return core.OutboxEvent{}, fmt.Errorf("gojob: event id is required")
	}
	if err := outbox.ValidateDraft(core.EventDraft{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
	}); err != nil {
		return core.OutboxEvent{}, err
	}
	return event, nil
}

// QueuePublisher hands outbox events to a go-job queue.
type QueuePublisher struct {
	enqueuer queue.Enqueuer
}

func NewQueuePublisher(enqueuer queue.Enqueuer) *QueuePublisher {
	return &QueuePublisher{enqueuer: enqueuer}
}

func (p *QueuePublisher) Publish(ctx context.Context, event core.OutboxEvent) error {
	if p == nil || p.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return p.enqueuer.Enqueue(ctx, ToExecutionMessage(event))
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ outbox.Publisher = (*QueuePublisher)(nil)
