package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
)

type OutboxDrainer interface {
	Drain(ctx context.Context, batchSize int) (outbox.RelayStats, error)
}

type RelayOutboxCommand struct {
	relay OutboxDrainer
}

func NewRelayOutboxCommand(relay OutboxDrainer) *RelayOutboxCommand {
	return &RelayOutboxCommand{relay: relay}
}

// Execute stores the batch stats even when some events failed so callers
// can report partial progress.
func (c *RelayOutboxCommand) Execute(ctx context.Context, msg RelayOutboxMessage) error {
	if c == nil || c.relay == nil {
		return commandDependencyError("command: outbox relay is required")
	}
	stats, err := c.relay.Drain(ctx, msg.BatchSize)
	storeResult(ctx, stats)
	return err
}

type MarkPublishedCommand struct {
	reader core.OutboxReader
}

func NewMarkPublishedCommand(reader core.OutboxReader) *MarkPublishedCommand {
	return &MarkPublishedCommand{reader: reader}
}

func (c *MarkPublishedCommand) Execute(ctx context.Context, msg MarkPublishedMessage) error {
	if c == nil || c.reader == nil {
		return commandDependencyError("command: outbox reader is required")
	}
	return c.reader.MarkPublished(ctx, strings.TrimSpace(msg.EventID))
}

type ResetSessionCommand struct {
	sessions core.SessionStore
	observer core.Observer
}

func NewResetSessionCommand(sessions core.SessionStore, observer core.Observer) *ResetSessionCommand {
	return &ResetSessionCommand{sessions: sessions, observer: observer}
}

func (c *ResetSessionCommand) Execute(ctx context.Context, msg ResetSessionMessage) error {
	if c == nil || c.sessions == nil {
		return commandDependencyError("command: session store is required")
	}
	senderID := strings.TrimSpace(msg.SenderID)
	if err := c.sessions.Delete(ctx, senderID); err != nil {
		return err
	}
	c.observer.Info(ctx, "session reset", map[string]any{
		"sender_id": senderID,
		"reason":    strings.TrimSpace(msg.Reason),
	})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	if collector := gocmd.ResultFromContext[T](ctx); collector != nil {
		collector.Store(value)
	}
}
