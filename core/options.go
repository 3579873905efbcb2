package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// Runtime carries the process-wide collaborators that every component
// receives explicitly instead of reaching for globals.
type Runtime struct {
	Config         Config
	Logger         Logger
	LoggerProvider LoggerProvider
	Metrics        MetricsRecorder
	Now            func() time.Time
}

// Named returns a child logger for the given component.
func (r *Runtime) Named(name string) Logger {
	if r == nil || r.LoggerProvider == nil {
		return glog.Nop()
	}
	return r.LoggerProvider.GetLogger(name)
}

type runtimeBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	now             func() time.Time
}

type Option func(*runtimeBuilder)

func WithLogger(logger Logger) Option {
	return func(b *runtimeBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *runtimeBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *runtimeBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *runtimeBuilder) {
		b.optionsResolver = resolver
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *runtimeBuilder) {
		b.now = now
	}
}

// NewRuntime resolves configuration as defaults < loaded < runtime and wires
// logging and metrics.
func NewRuntime(ctx context.Context, runtime Config, options ...Option) (*Runtime, error) {
	builder := runtimeBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now:             time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(&builder)
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(ctx, defaults)
	if err != nil {
		return nil, ConfigurationError("configuration load failed", map[string]any{"error": err.Error()})
	}
	resolved, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, ConfigurationError("configuration resolve failed", map[string]any{"error": err.Error()})
	}

	loggerProvider, logger := glog.Resolve(resolved.ServiceName, builder.loggerProvider, builder.logger)
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.now == nil {
		builder.now = time.Now
	}
	return &Runtime{
		Config:         resolved,
		Logger:         logger,
		LoggerProvider: loggerProvider,
		Metrics:        builder.metricsRecorder,
		Now:            builder.now,
	}, nil
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap flattens cfg into a layer. Zero values are omitted unless
// includeZero is set, so an upper layer only overrides what it names.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	put(layer, "service_name", strings.TrimSpace(cfg.ServiceName), includeZero)

	section(layer, "webhook", includeZero, func(m map[string]any) {
		put(m, "path", cfg.Webhook.Path, includeZero)
		put(m, "public_url", cfg.Webhook.PublicURL, includeZero)
		put(m, "auth_token", cfg.Webhook.AuthToken, includeZero)
		put(m, "auth_token_parameter", cfg.Webhook.AuthTokenParameter, includeZero)
		put(m, "skip_signature", cfg.Webhook.SkipSignature, includeZero)
	})
	section(layer, "rate_limit", includeZero, func(m map[string]any) {
		put(m, "max_requests", cfg.RateLimit.MaxRequests, includeZero)
		put(m, "window", cfg.RateLimit.Window, includeZero)
		put(m, "buffer", cfg.RateLimit.Buffer, includeZero)
	})
	section(layer, "idempotency", includeZero, func(m map[string]any) {
		put(m, "ttl", cfg.Idempotency.TTL, includeZero)
		put(m, "lease", cfg.Idempotency.Lease, includeZero)
	})
	section(layer, "session", includeZero, func(m map[string]any) {
		put(m, "ttl", cfg.Session.TTL, includeZero)
		put(m, "lease_enabled", cfg.Session.LeaseEnabled, includeZero)
		put(m, "lease_ttl", cfg.Session.LeaseTTL, includeZero)
	})
	section(layer, "collaborators", includeZero, func(m map[string]any) {
		put(m, "timeout", cfg.Collaborators.Timeout, includeZero)
		put(m, "verification_url", cfg.Collaborators.VerificationURL, includeZero)
		put(m, "verification_token", cfg.Collaborators.VerificationToken, includeZero)
		put(m, "routing_url", cfg.Collaborators.RoutingURL, includeZero)
		put(m, "route_cache_ttl", cfg.Collaborators.RouteCacheTTL, includeZero)
	})
	section(layer, "conversation", includeZero, func(m map[string]any) {
		put(m, "terms_url", cfg.Conversation.TermsURL, includeZero)
		put(m, "claim_window_days", cfg.Conversation.ClaimWindowDays, includeZero)
		put(m, "max_otp_attempts", cfg.Conversation.MaxOTPAttempts, includeZero)
		put(m, "max_alternatives", cfg.Conversation.MaxAlternatives, includeZero)
	})
	section(layer, "outbox", includeZero, func(m map[string]any) {
		put(m, "batch_size", cfg.Outbox.BatchSize, includeZero)
		put(m, "poll_interval", cfg.Outbox.PollInterval, includeZero)
		put(m, "publisher", cfg.Outbox.Publisher, includeZero)
	})
	section(layer, "storage", includeZero, func(m map[string]any) {
		put(m, "driver", cfg.Storage.Driver, includeZero)
		put(m, "dsn", cfg.Storage.DSN, includeZero)
		put(m, "migrate", cfg.Storage.Migrate, includeZero)
		put(m, "debug", cfg.Storage.Debug, includeZero)
	})
	section(layer, "kv", includeZero, func(m map[string]any) {
		put(m, "backend", cfg.KV.Backend, includeZero)
		put(m, "table", cfg.KV.Table, includeZero)
		put(m, "region", cfg.KV.Region, includeZero)
	})
	section(layer, "server", includeZero, func(m map[string]any) {
		put(m, "addr", cfg.Server.Addr, includeZero)
		put(m, "shutdown_timeout", cfg.Server.ShutdownTimeout, includeZero)
	})
	return layer
}

func section(layer map[string]any, key string, includeZero bool, fill func(map[string]any)) {
	values := map[string]any{}
	fill(values)
	if includeZero || len(values) > 0 {
		layer[key] = values
	}
}

func put[T comparable](layer map[string]any, key string, value T, includeZero bool) {
	var zero T
	if includeZero || value != zero {
		layer[key] = value
	}
}
