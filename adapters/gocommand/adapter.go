package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	claimcmd "github.com/goliatone/go-claimbot/command"
)

// QueueResolverKey names the resolver that mirrors commands into go-job.
const QueueResolverKey = "queue"

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so workers can execute them out of process.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Commands groups the operator commanders exposed through the dispatcher.
// Nil members are skipped.
type Commands struct {
	Relay         *claimcmd.RelayOutboxCommand
	MarkPublished *claimcmd.MarkPublishedCommand
	ResetSession  *claimcmd.ResetSessionCommand
}

// RegisterCommands subscribes every configured commander. On failure the
// subscriptions made so far are removed.
func RegisterCommands(adapter *RegistryAdapter, cmds Commands, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	subscriptions := make([]commanddispatcher.Subscription, 0, 3)
	register := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			Unsubscribe(subscriptions)
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}
	if cmds.Relay != nil {
		if err := register(RegisterAndSubscribe[claimcmd.RelayOutboxMessage](adapter, cmds.Relay, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.MarkPublished != nil {
		if err := register(RegisterAndSubscribe[claimcmd.MarkPublishedMessage](adapter, cmds.MarkPublished, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.ResetSession != nil {
		if err := register(RegisterAndSubscribe[claimcmd.ResetSessionMessage](adapter, cmds.ResetSession, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}

func Unsubscribe(subscriptions []commanddispatcher.Subscription) {
	for _, subscription := range subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}
