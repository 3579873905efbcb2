// Package outbox holds the transactional event outbox: draft validation, an
// in-memory store and the relay that drains unpublished events to a
// publisher with at-least-once delivery.
package outbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-claimbot/core"
)

// ValidateDraft checks the fields every outbox row requires.
func ValidateDraft(draft core.EventDraft) error {
	if strings.TrimSpace(draft.AggregateID) == "" {
		return fmt.Errorf("outbox: aggregate id is required")
	}
	if err := draft.AggregateType.Validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	eventType := strings.TrimSpace(draft.EventType)
	if eventType == "" || !strings.Contains(eventType, ".") {
		return fmt.Errorf("outbox: event type %q must be dot-namespaced", draft.EventType)
	}
	return nil
}

// NewEvent assigns an id and creation time to a validated draft.
func NewEvent(draft core.EventDraft, now time.Time) (core.OutboxEvent, error) {
	if err := ValidateDraft(draft); err != nil {
		return core.OutboxEvent{}, err
	}
	return core.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateID:   strings.TrimSpace(draft.AggregateID),
		AggregateType: draft.AggregateType,
		EventType:     strings.TrimSpace(draft.EventType),
		Payload:       copyPayload(draft.Payload),
		CreatedAt:     now.UTC(),
	}, nil
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	return out
}
