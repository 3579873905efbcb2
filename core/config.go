package core

import (
	"fmt"
	"strings"
	"time"
)

type WebhookConfig struct {
	Path string `koanf:"path" mapstructure:"path"`
	// PublicURL is the externally visible URL the transport signs. When empty
	// the URL is reconstructed from the request.
	PublicURL string `koanf:"public_url" mapstructure:"public_url"`
	AuthToken string `koanf:"auth_token" mapstructure:"auth_token"`
	// AuthTokenParameter names an SSM parameter holding the auth token. It
	// is read at startup when AuthToken is empty.
	AuthTokenParameter string `koanf:"auth_token_parameter" mapstructure:"auth_token_parameter"`
	// SkipSignature disables transport signature checks. Local use only.
	SkipSignature bool `koanf:"skip_signature" mapstructure:"skip_signature"`
}

type RateLimitConfig struct {
	MaxRequests int           `koanf:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `koanf:"window" mapstructure:"window"`
	Buffer      time.Duration `koanf:"buffer" mapstructure:"buffer"`
}

type IdempotencyConfig struct {
	TTL   time.Duration `koanf:"ttl" mapstructure:"ttl"`
	Lease time.Duration `koanf:"lease" mapstructure:"lease"`
}

type SessionConfig struct {
	TTL          time.Duration `koanf:"ttl" mapstructure:"ttl"`
	LeaseEnabled bool          `koanf:"lease_enabled" mapstructure:"lease_enabled"`
	LeaseTTL     time.Duration `koanf:"lease_ttl" mapstructure:"lease_ttl"`
}

type CollaboratorConfig struct {
	Timeout           time.Duration `koanf:"timeout" mapstructure:"timeout"`
	VerificationURL   string        `koanf:"verification_url" mapstructure:"verification_url"`
	VerificationToken string        `koanf:"verification_token" mapstructure:"verification_token"`
	RoutingURL        string        `koanf:"routing_url" mapstructure:"routing_url"`
	RouteCacheTTL     time.Duration `koanf:"route_cache_ttl" mapstructure:"route_cache_ttl"`
}

type ConversationConfig struct {
	TermsURL        string `koanf:"terms_url" mapstructure:"terms_url"`
	ClaimWindowDays int    `koanf:"claim_window_days" mapstructure:"claim_window_days"`
	MaxOTPAttempts  int    `koanf:"max_otp_attempts" mapstructure:"max_otp_attempts"`
	MaxAlternatives int    `koanf:"max_alternatives" mapstructure:"max_alternatives"`
}

const (
	PublisherLog   = "log"
	PublisherQueue = "queue"
)

type OutboxConfig struct {
	BatchSize    int           `koanf:"batch_size" mapstructure:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	// Publisher selects where relayed events go: "log" or "queue".
	Publisher string `koanf:"publisher" mapstructure:"publisher"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type StorageConfig struct {
	Driver  string `koanf:"driver" mapstructure:"driver"`
	DSN     string `koanf:"dsn" mapstructure:"dsn"`
	Migrate bool   `koanf:"migrate" mapstructure:"migrate"`
	Debug   bool   `koanf:"debug" mapstructure:"debug"`
}

const (
	KVMemory   = "memory"
	KVDynamoDB = "dynamodb"
)

type KVConfig struct {
	Backend string `koanf:"backend" mapstructure:"backend"`
	Table   string `koanf:"table" mapstructure:"table"`
	Region  string `koanf:"region" mapstructure:"region"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type Config struct {
	ServiceName   string             `koanf:"service_name" mapstructure:"service_name"`
	Webhook       WebhookConfig      `koanf:"webhook" mapstructure:"webhook"`
	RateLimit     RateLimitConfig    `koanf:"rate_limit" mapstructure:"rate_limit"`
	Idempotency   IdempotencyConfig  `koanf:"idempotency" mapstructure:"idempotency"`
	Session       SessionConfig      `koanf:"session" mapstructure:"session"`
	Collaborators CollaboratorConfig `koanf:"collaborators" mapstructure:"collaborators"`
	Conversation  ConversationConfig `koanf:"conversation" mapstructure:"conversation"`
	Outbox        OutboxConfig       `koanf:"outbox" mapstructure:"outbox"`
	Storage       StorageConfig      `koanf:"storage" mapstructure:"storage"`
	KV            KVConfig           `koanf:"kv" mapstructure:"kv"`
	Server        ServerConfig       `koanf:"server" mapstructure:"server"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "claimbot",
		Webhook: WebhookConfig{
			Path: "/webhook/whatsapp",
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 60,
			Window:      time.Minute,
			Buffer:      time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL:   24 * time.Hour,
			Lease: 2 * time.Minute,
		},
		Session: SessionConfig{
			TTL:      24 * time.Hour,
			LeaseTTL: 45 * time.Second,
		},
		Collaborators: CollaboratorConfig{
			Timeout:       15 * time.Second,
			RouteCacheTTL: 5 * time.Minute,
		},
		Conversation: ConversationConfig{
			TermsURL:        "https://example.com/terms",
			ClaimWindowDays: 28,
			MaxOTPAttempts:  3,
			MaxAlternatives: 3,
		},
		Outbox: OutboxConfig{
			BatchSize:    50,
			PollInterval: 5 * time.Second,
			Publisher:    PublisherLog,
		},
		Storage: StorageConfig{
			Driver:  StorageMemory,
			Migrate: true,
		},
		KV: KVConfig{
			Backend: KVMemory,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// MaxCollaboratorCalls is the most sequential collaborator calls a single
// transition makes (terms acceptance looks the user up, then starts a
// verification).
const MaxCollaboratorCalls = 2

// DispatchBudget is the longest a single message can spend in collaborator
// calls. In-flight claims and sender leases must outlive it.
func (c Config) DispatchBudget() time.Duration {
	return c.Collaborators.Timeout * MaxCollaboratorCalls
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("core: rate_limit.max_requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("core: rate_limit.window must be positive")
	}
	if c.Session.TTL <= 0 || c.Session.TTL > 24*time.Hour {
		return fmt.Errorf("core: session.ttl must be within (0, 24h]")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("core: idempotency.ttl must be positive")
	}
	if c.Collaborators.Timeout <= 0 {
		return fmt.Errorf("core: collaborators.timeout must be positive")
	}
	budget := c.DispatchBudget()
	if c.Idempotency.Lease <= budget {
		return fmt.Errorf("core: idempotency.lease must exceed the dispatch budget %s", budget)
	}
	if c.Session.LeaseEnabled && c.Session.LeaseTTL <= budget {
		return fmt.Errorf("core: session.lease_ttl must exceed the dispatch budget %s", budget)
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres, StorageSQLite:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("core: storage.dsn is required for %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("core: unsupported storage.driver %q", c.Storage.Driver)
	}
	switch c.KV.Backend {
	case KVMemory:
	case KVDynamoDB:
		if strings.TrimSpace(c.KV.Table) == "" {
			return fmt.Errorf("core: kv.table is required for dynamodb")
		}
	default:
		return fmt.Errorf("core: unsupported kv.backend %q", c.KV.Backend)
	}
	switch c.Outbox.Publisher {
	case PublisherLog, PublisherQueue:
	default:
		return fmt.Errorf("core: unsupported outbox.publisher %q", c.Outbox.Publisher)
	}
	return nil
}
