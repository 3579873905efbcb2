package bootstrap

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/kvstore"
)

// AWSClients loads the shared SDK configuration once, on first use, so
// processes that never touch AWS do not need credentials.
type AWSClients struct {
	Region string

	once sync.Once
	cfg  aws.Config
	err  error
}

func (c *AWSClients) config(ctx context.Context) (aws.Config, error) {
	c.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if region := strings.TrimSpace(c.Region); region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		c.cfg, c.err = awsconfig.LoadDefaultConfig(ctx, opts...)
	})
	return c.cfg, c.err
}

func (c *AWSClients) DynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, core.ConfigurationError("load aws config", map[string]any{"error": err.Error()})
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func (c *AWSClients) ParameterStore(ctx context.Context) (*ParameterStore, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, core.ConfigurationError("load aws config", map[string]any{"error": err.Error()})
	}
	return NewParameterStore(ssm.NewFromConfig(cfg))
}

// OpenKV returns the shared key-value store behind sessions, idempotency
// records, rate-limit counters and leases.
func OpenKV(ctx context.Context, cfg core.KVConfig, clients *AWSClients) (core.KeyValueStore, error) {
	switch cfg.Backend {
	case core.KVMemory, "":
		return kvstore.NewMemoryStore(), nil
	case core.KVDynamoDB:
		if clients == nil {
			clients = &AWSClients{Region: cfg.Region}
		}
		client, err := clients.DynamoDB(ctx)
		if err != nil {
			return nil, err
		}
		store, err := kvstore.NewDynamoStore(client, cfg.Table)
		if err != nil {
			return nil, core.ConfigurationError("create dynamodb store", map[string]any{"error": err.Error()})
		}
		return store, nil
	default:
		return nil, core.ConfigurationError("unsupported kv backend", map[string]any{"backend": cfg.Backend})
	}
}
