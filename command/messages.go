package command

import (
	"strings"
)

const (
	TypeRelayOutbox   = "claimbot.command.outbox.relay"
	TypeMarkPublished = "claimbot.command.outbox.mark_published"
	TypeResetSession  = "claimbot.command.session.reset"
)

const maxRelayBatchSize = 1000

// RelayOutboxMessage drains one batch of unpublished events. A zero batch
// size uses the relay default.
type RelayOutboxMessage struct {
	BatchSize int
}

func (RelayOutboxMessage) Type() string { return TypeRelayOutbox }

func (m RelayOutboxMessage) Validate() error {
	if m.BatchSize < 0 {
		return commandValidationError("batch_size", "must not be negative")
	}
	if m.BatchSize > maxRelayBatchSize {
		return commandValidationError("batch_size", "must not exceed 1000")
	}
	return nil
}

type MarkPublishedMessage struct {
	EventID string
}

func (MarkPublishedMessage) Type() string { return TypeMarkPublished }

func (m MarkPublishedMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "is required")
	}
	return nil
}

// ResetSessionMessage drops the conversation of one sender so the next
// message starts from the welcome prompt.
type ResetSessionMessage struct {
	SenderID string
	Reason   string
}

func (ResetSessionMessage) Type() string { return TypeResetSession }

func (m ResetSessionMessage) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return commandValidationError("sender_id", "is required")
	}
	return nil
}
