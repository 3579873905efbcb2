package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

// Publisher delivers one event to the event bus. Consumers must be
// idempotent: an event is republished when MarkPublished fails.
type Publisher interface {
	Publish(ctx context.Context, event core.OutboxEvent) error
}

type PublisherFunc func(ctx context.Context, event core.OutboxEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event core.OutboxEvent) error {
	return f(ctx, event)
}

type RelayStats struct {
	Listed    int
	Published int
	Failed    int
}

type Relay struct {
	Reader    core.OutboxReader
	Publisher Publisher
	BatchSize int
	Observer  core.Observer
}

func NewRelay(reader core.OutboxReader, publisher Publisher, batchSize int) (*Relay, error) {
	if reader == nil {
		return nil, fmt.Errorf("outbox: reader is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox: publisher is required")
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{Reader: reader, Publisher: publisher, BatchSize: batchSize}, nil
}

// Drain publishes one batch oldest first. A failed publish leaves the event
// unpublished for the next run; later events in the batch are still tried.
func (r *Relay) Drain(ctx context.Context, batchSize int) (RelayStats, error) {
	if r == nil || r.Reader == nil || r.Publisher == nil {
		return RelayStats{}, fmt.Errorf("outbox: relay is not configured")
	}
	startedAt := time.Now()
	limit := batchSize
	if limit <= 0 {
		limit = r.BatchSize
	}
	events, err := r.Reader.ListUnpublished(ctx, limit)
	if err != nil {
		r.Observer.Observe(ctx, startedAt, "relay", err, nil)
		return RelayStats{}, err
	}

	stats := RelayStats{Listed: len(events)}
	var failures []error
	for _, event := range events {
		if err := r.Publisher.Publish(ctx, event); err != nil {
			stats.Failed++
			failures = append(failures, fmt.Errorf("outbox: publish %q: %w", event.ID, err))
			continue
		}
		if err := r.Reader.MarkPublished(ctx, event.ID); err != nil {
			stats.Failed++
			failures = append(failures, fmt.Errorf("outbox: mark published %q: %w", event.ID, err))
			continue
		}
		stats.Published++
	}
	relayErr := errors.Join(failures...)
	r.Observer.Observe(ctx, startedAt, "relay", relayErr, map[string]any{
		"listed":    stats.Listed,
		"published": stats.Published,
		"failed":    stats.Failed,
	})
	return stats, relayErr
}

// LogPublisher writes events to the log. It stands in for an event bus in
// local runs.
type LogPublisher struct {
	Logger core.Logger
}

func (p LogPublisher) Publish(_ context.Context, event core.OutboxEvent) error {
	if p.Logger == nil {
		return nil
	}
	p.Logger.Info("outbox event published",
		"aggregate_id", event.AggregateID,
		"aggregate_type", string(event.AggregateType),
		"event_id", event.ID,
		"event_type", event.EventType,
	)
	return nil
}

var (
	_ Publisher = PublisherFunc(nil)
	_ Publisher = LogPublisher{}
)
