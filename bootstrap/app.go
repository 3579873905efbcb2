package bootstrap

import (
	"context"
	"net/http"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-claimbot/adapters/gocommand"
	"github.com/goliatone/go-claimbot/adapters/gojob"
	"github.com/goliatone/go-claimbot/command"
	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/fsm"
	"github.com/goliatone/go-claimbot/idempotency"
	"github.com/goliatone/go-claimbot/outbox"
	"github.com/goliatone/go-claimbot/ratelimit"
	"github.com/goliatone/go-claimbot/routing"
	"github.com/goliatone/go-claimbot/session"
	"github.com/goliatone/go-claimbot/transport"
	"github.com/goliatone/go-claimbot/verification"
	"github.com/goliatone/go-claimbot/webhook"
)

type options struct {
	kv         core.KeyValueStore
	storage    *Storage
	httpClient transport.HTTPDoer
	verifier   core.PhoneVerifier
	matcher    core.JourneyMatcher
	params     ParameterGetter
	publisher  outbox.Publisher
	aws        *AWSClients
}

type Option func(*options)

func WithKeyValueStore(store core.KeyValueStore) Option {
	return func(o *options) { o.kv = store }
}

func WithStorage(storage *Storage) Option {
	return func(o *options) { o.storage = storage }
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(o *options) { o.httpClient = client }
}

func WithPhoneVerifier(verifier core.PhoneVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

func WithJourneyMatcher(matcher core.JourneyMatcher) Option {
	return func(o *options) { o.matcher = matcher }
}

func WithParameterStore(params ParameterGetter) Option {
	return func(o *options) { o.params = params }
}

// WithPublisher replaces the configured outbox publisher.
func WithPublisher(publisher outbox.Publisher) Option {
	return func(o *options) { o.publisher = publisher }
}

func WithAWSClients(clients *AWSClients) Option {
	return func(o *options) { o.aws = clients }
}

// App is the wired bot: the webhook pipeline behind a chi router, the
// outbox relay and the operator commands registered with go-command.
type App struct {
	Config   core.Config
	Pipeline *webhook.Pipeline
	Router   http.Handler
	Relay    *outbox.Relay
	Commands *gocommand.RegistryAdapter
	// Queue and Consumer are set when events are published to the
	// in-process go-job queue.
	Queue    *gojob.MemoryQueue
	Consumer *gojob.EventConsumer
	// QueueCommands mirrors the operator commands for queue workers.
	QueueCommands *jobqueuecommand.Registry

	observer      core.Observer
	storage       *Storage
	subscriptions []commanddispatcher.Subscription
}

func New(ctx context.Context, runtime *core.Runtime, opts ...Option) (*App, error) {
	if runtime == nil {
		return nil, core.ConfigurationError("bootstrap: runtime is required", nil)
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	cfg := runtime.Config
	if o.aws == nil {
		o.aws = &AWSClients{Region: cfg.KV.Region}
	}
	app := &App{observer: core.NewObserver(runtime, "bootstrap", "claimbot")}

	webhookCfg, err := app.resolveWebhookConfig(ctx, cfg.Webhook, o)
	if err != nil {
		return nil, err
	}
	cfg.Webhook = webhookCfg
	app.Config = cfg

	kv := o.kv
	if kv == nil {
		if kv, err = OpenKV(ctx, cfg.KV, o.aws); err != nil {
			return nil, err
		}
	}
	storage := o.storage
	if storage == nil {
		if storage, err = OpenStorage(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}
	app.storage = storage

	verifier, matcher, err := collaborators(cfg.Collaborators, o)
	if err != nil {
		app.Close()
		return nil, err
	}
	machine, err := fsm.New(fsm.Dependencies{
		Users:    storage.Users,
		Journeys: storage.Journeys,
		Verifier: verifier,
		Matcher:  matcher,
	},
		fsm.WithConversationConfig(cfg.Conversation),
		fsm.WithCollaboratorTimeout(cfg.Collaborators.Timeout),
		fsm.WithClock(runtime.Now),
		fsm.WithObserver(core.NewObserver(runtime, "fsm", "claimbot.fsm")),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	sessions := session.NewKVStore(kv, cfg.Session)
	deps := webhook.Dependencies{
		Verifier:   signatureVerifier(cfg.Webhook),
		Guard:      idempotency.NewGuard(kv, cfg.Idempotency),
		Limiter:    ratelimit.NewFixedWindowLimiter(kv, cfg.RateLimit),
		Sessions:   sessions,
		Dispatcher: machine,
		UnitOfWork: storage.UnitOfWork,
		Observer:   core.NewObserver(runtime, "webhook", "claimbot.webhook"),
		Now:        runtime.Now,
	}
	if cfg.Session.LeaseEnabled {
		deps.Leaser = session.NewKVLeaser(kv, cfg.Session)
	}
	pipeline, err := webhook.NewPipeline(deps)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = pipeline
	app.Router = webhook.NewRouter(webhook.NewHandler(pipeline, cfg.Webhook.PublicURL), cfg.Webhook.Path)

	publisher := o.publisher
	if publisher == nil {
		publisher = app.configurePublisher(runtime)
	}
	relay, err := outbox.NewRelay(storage.Outbox, publisher, cfg.Outbox.BatchSize)
	if err != nil {
		app.Close()
		return nil, core.ConfigurationError(err.Error(), nil)
	}
	relay.Observer = core.NewObserver(runtime, "outbox", "claimbot.outbox")
	app.Relay = relay

	app.Commands = gocommand.NewRegistryAdapter(nil)
	if app.Queue != nil {
		app.QueueCommands = jobqueuecommand.NewRegistry()
		if err := app.Commands.AddQueueResolver(gocommand.QueueResolverKey, app.QueueCommands); err != nil {
			app.Close()
			return nil, core.ConfigurationError("register queue resolver", map[string]any{"error": err.Error()})
		}
	}
	app.subscriptions, err = gocommand.RegisterCommands(app.Commands, gocommand.Commands{
		Relay:         command.NewRelayOutboxCommand(relay),
		MarkPublished: command.NewMarkPublishedCommand(storage.Outbox),
		ResetSession:  command.NewResetSessionCommand(sessions, core.NewObserver(runtime, "command", "claimbot.command")),
	})
	if err != nil {
		app.Close()
		return nil, core.ConfigurationError("register commands", map[string]any{"error": err.Error()})
	}
	if err := app.Commands.Initialize(); err != nil {
		app.Close()
		return nil, core.ConfigurationError("initialize commands", map[string]any{"error": err.Error()})
	}
	if app.Commands.HasResolver(gocommand.QueueResolverKey) {
		app.observer.Info(ctx, "operator commands mirrored to the job queue", nil)
	}
	return app, nil
}

func (a *App) resolveWebhookConfig(ctx context.Context, cfg core.WebhookConfig, o options) (core.WebhookConfig, error) {
	params := o.params
	if params == nil && strings.TrimSpace(cfg.AuthToken) == "" && strings.TrimSpace(cfg.AuthTokenParameter) != "" {
		store, err := o.aws.ParameterStore(ctx)
		if err != nil {
			return cfg, err
		}
		params = store
	}
	resolved, err := ResolveAuthToken(ctx, params, cfg)
	if err != nil {
		return cfg, err
	}
	if !resolved.SkipSignature && strings.TrimSpace(resolved.AuthToken) == "" {
		return cfg, core.ConfigurationError("webhook auth token is required unless signature checks are skipped", nil)
	}
	if resolved.SkipSignature {
		a.observer.Info(ctx, "webhook signature checks are disabled", nil)
	}
	return resolved, nil
}

func signatureVerifier(cfg core.WebhookConfig) webhook.Verifier {
	if cfg.SkipSignature {
		return webhook.NopVerifier{}
	}
	return webhook.SignatureVerifier{AuthToken: cfg.AuthToken}
}

func collaborators(cfg core.CollaboratorConfig, o options) (core.PhoneVerifier, core.JourneyMatcher, error) {
	verifier := o.verifier
	if verifier == nil {
		client, err := verification.NewClient(o.httpClient, cfg.VerificationURL, cfg.VerificationToken)
		if err != nil {
			return nil, nil, err
		}
		verifier = client
	}
	matcher := o.matcher
	if matcher == nil {
		client, err := routing.NewClient(o.httpClient, cfg.RoutingURL)
		if err != nil {
			return nil, nil, err
		}
		matcher = client
	}
	cacheService, err := routing.NewCacheService(cfg)
	if err != nil {
		return nil, nil, core.ConfigurationError("route cache", map[string]any{"error": err.Error()})
	}
	cached, err := routing.NewCachedMatcher(matcher, cacheService)
	if err != nil {
		return nil, nil, err
	}
	return verifier, cached, nil
}

func (a *App) configurePublisher(runtime *core.Runtime) outbox.Publisher {
	logPublisher := outbox.LogPublisher{Logger: runtime.Named("events")}
	if runtime.Config.Outbox.Publisher != core.PublisherQueue {
		return logPublisher
	}
	a.Queue = gojob.NewMemoryQueue(0)
	a.Consumer = gojob.NewEventConsumer(a.Queue, logPublisher, gojob.RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}, gojob.ObserverHook{Observer: core.NewObserver(runtime, "queue", "claimbot.queue")})
	return gojob.NewQueuePublisher(a.Queue)
}

// RelayOnce dispatches one relay batch through go-command.
func (a *App) RelayOnce(ctx context.Context) (outbox.RelayStats, error) {
	collector := gocmd.NewResult[outbox.RelayStats]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	err := gocommand.Dispatch(ctx, command.RelayOutboxMessage{BatchSize: a.Config.Outbox.BatchSize})
	stats, _ := collector.Load()
	return stats, err
}

// RunRelay drains the outbox every poll interval until ctx is cancelled. A
// full batch is followed immediately by another.
func (a *App) RunRelay(ctx context.Context) {
	interval := a.Config.Outbox.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			stats, err := a.RelayOnce(ctx)
			if err != nil {
				a.observer.Error(ctx, "outbox relay failed", map[string]any{"error": err.Error()})
				break
			}
			if stats.Listed < a.Relay.BatchSize || stats.Published == 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunConsumer delivers queued events until ctx is cancelled. It returns at
// once when events are not queued.
func (a *App) RunConsumer(ctx context.Context) error {
	if a.Consumer == nil {
		return nil
	}
	return a.Consumer.Run(ctx)
}

// ResetSession clears the conversation of one sender.
func (a *App) ResetSession(ctx context.Context, senderID string, reason string) error {
	msg := command.ResetSessionMessage{SenderID: senderID, Reason: reason}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return core.ValidationError(err.Error(), map[string]any{"type": msg.Type()})
	}
	return gocommand.Dispatch(ctx, msg)
}

// Close removes the command subscriptions and closes storage.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	gocommand.Unsubscribe(a.subscriptions)
	a.subscriptions = nil
	return a.storage.Close()
}
