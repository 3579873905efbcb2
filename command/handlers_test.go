package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/kvstore"
	"github.com/goliatone/go-claimbot/outbox"
	"github.com/goliatone/go-claimbot/session"
)

func seedOutbox(t *testing.T, count int) *outbox.MemoryStore {
	t.Helper()
	store := outbox.NewMemoryStore()
	for i := 0; i < count; i++ {
		if _, err := store.Append(context.Background(), core.EventDraft{
			AggregateID:   "user-1",
			AggregateType: core.AggregateUser,
			EventType:     "user.registered",
		}); err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}
	return store
}

func TestRelayOutboxCommand_DrainsAndStoresStats(t *testing.T) {
	store := seedOutbox(t, 3)
	published := 0
	relay, err := outbox.NewRelay(store, outbox.PublisherFunc(func(context.Context, core.OutboxEvent) error {
		published++
		return nil
	}), 10)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	cmd := NewRelayOutboxCommand(relay)
	collector := gocmd.NewResult[outbox.RelayStats]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, RelayOutboxMessage{BatchSize: 2}); err != nil {
		t.Fatalf("execute relay: %v", err)
	}
	stats, ok := collector.Load()
	if !ok {
		t.Fatalf("expected stats to be stored")
	}
	if stats.Listed != 2 || stats.Published != 2 || published != 2 {
		t.Fatalf("unexpected stats %+v (published %d)", stats, published)
	}
	pending, _ := store.ListUnpublished(context.Background(), 0)
	if len(pending) != 1 {
		t.Fatalf("expected one event left, got %d", len(pending))
	}
}

func TestRelayOutboxCommand_StoresPartialStatsOnFailure(t *testing.T) {
	store := seedOutbox(t, 2)
	calls := 0
	relay, _ := outbox.NewRelay(store, outbox.PublisherFunc(func(context.Context, core.OutboxEvent) error {
		calls++
		if calls == 1 {
			return errors.New("bus down")
		}
		return nil
	}), 10)

	collector := gocmd.NewResult[outbox.RelayStats]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewRelayOutboxCommand(relay).Execute(ctx, RelayOutboxMessage{})
	if err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	stats, _ := collector.Load()
	if stats.Failed != 1 || stats.Published != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMarkPublishedCommand_MarksEvent(t *testing.T) {
	store := seedOutbox(t, 1)
	event := store.Events()[0]

	if err := NewMarkPublishedCommand(store).Execute(context.Background(), MarkPublishedMessage{EventID: " " + event.ID + " "}); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if !store.Events()[0].Published() {
		t.Fatalf("expected event to be published")
	}
	if err := NewMarkPublishedCommand(store).Execute(context.Background(), MarkPublishedMessage{EventID: "missing"}); err == nil {
		t.Fatalf("expected unknown event to fail")
	}
}

func TestResetSessionCommand_DeletesSession(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	sessions := session.NewKVStore(kv, core.DefaultConfig().Session)
	ctx := context.Background()
	if err := sessions.Save(ctx, "whatsapp:+447700900001", core.Session{State: core.StateAuthenticated}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	cmd := NewResetSessionCommand(sessions, core.Observer{})
	if err := cmd.Execute(ctx, ResetSessionMessage{SenderID: "whatsapp:+447700900001", Reason: "support"}); err != nil {
		t.Fatalf("reset session: %v", err)
	}
	if keys := kv.Keys(session.Key("")); len(keys) != 0 {
		t.Fatalf("expected session to be removed, got %v", keys)
	}
}

func TestCommands_NilDependenciesReturnRichError(t *testing.T) {
	var relay *RelayOutboxCommand
	errs := []error{
		relay.Execute(context.Background(), RelayOutboxMessage{}),
		NewMarkPublishedCommand(nil).Execute(context.Background(), MarkPublishedMessage{EventID: "e1"}),
		NewResetSessionCommand(nil, core.Observer{}).Execute(context.Background(), ResetSessionMessage{SenderID: "s"}),
	}
	for index, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("case %d: expected go-errors envelope, got %T", index, err)
		}
		if rich.Category != goerrors.CategoryInternal {
			t.Fatalf("case %d: expected internal category, got %q", index, rich.Category)
		}
		if rich.TextCode != core.ErrorConfiguration {
			t.Fatalf("case %d: expected %q, got %q", index, core.ErrorConfiguration, rich.TextCode)
		}
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"negative batch": RelayOutboxMessage{BatchSize: -1},
		"huge batch":     RelayOutboxMessage{BatchSize: maxRelayBatchSize + 1},
		"no event id":    MarkPublishedMessage{},
		"no sender":      ResetSessionMessage{},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorValidation {
			t.Fatalf("%s: unexpected envelope %q %q", name, rich.Category, rich.TextCode)
		}
	}
	if err := (RelayOutboxMessage{BatchSize: 50}).Validate(); err != nil {
		t.Fatalf("expected valid relay message, got %v", err)
	}
}
