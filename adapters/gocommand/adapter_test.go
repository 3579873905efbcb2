package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	claimcmd "github.com/goliatone/go-claimbot/command"
	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/outbox"
)

type okMessage struct{}

func (okMessage) Type() string { return "claimbot.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "claimbot.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "claimbot.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "claimbot.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver(QueueResolverKey, queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("claimbot.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterCommands_DispatchesOutboxRelay(t *testing.T) {
	store := outbox.NewMemoryStore()
	if _, err := store.Append(context.Background(), core.EventDraft{
		AggregateID:   "journey-1",
		AggregateType: core.AggregateJourney,
		EventType:     "journey.created",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	var delivered []string
	relay, err := outbox.NewRelay(store, outbox.PublisherFunc(func(_ context.Context, event core.OutboxEvent) error {
		delivered = append(delivered, event.EventType)
		return nil
	}), 10)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	adapter := NewRegistryAdapter(nil)
	subscriptions, err := RegisterCommands(adapter, Commands{
		Relay:         claimcmd.NewRelayOutboxCommand(relay),
		MarkPublished: claimcmd.NewMarkPublishedCommand(store),
	})
	if err != nil {
		t.Fatalf("register commands: %v", err)
	}
	t.Cleanup(func() { Unsubscribe(subscriptions) })
	if len(subscriptions) != 2 {
		t.Fatalf("expected two subscriptions, got %d", len(subscriptions))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	collector := command.NewResult[outbox.RelayStats]()
	ctx := command.ContextWithResult(context.Background(), collector)
	if err := Dispatch(ctx, claimcmd.RelayOutboxMessage{}); err != nil {
		t.Fatalf("dispatch relay: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "journey.created" {
		t.Fatalf("unexpected deliveries %v", delivered)
	}
	if stats, ok := collector.Load(); !ok || stats.Published != 1 {
		t.Fatalf("expected relay stats, got %+v", stats)
	}
}

func TestRegisterAndSubscribe_RequiresConfiguration(t *testing.T) {
	cmd := command.CommandFunc[okMessage](func(context.Context, okMessage) error { return nil })
	if _, err := RegisterAndSubscribe[okMessage](nil, cmd); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	if _, err := RegisterAndSubscribe[okMessage](NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil command to fail")
	}
}
