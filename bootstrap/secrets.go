package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/goliatone/go-claimbot/core"
)

// ssmAPI is the subset of *ssm.Client used by ParameterStore.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ParameterStore struct {
	api ssmAPI
}

func NewParameterStore(api ssmAPI) (*ParameterStore, error) {
	if api == nil {
		return nil, errors.New("bootstrap: ssm api must not be nil")
	}
	return &ParameterStore{api: api}, nil
}

// GetParameter reads a decrypted SecureString or String parameter.
func (p *ParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("bootstrap: parameter name is required")
	}
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("bootstrap: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("bootstrap: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

type ParameterGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveAuthToken fills Webhook.AuthToken from the parameter store when it
// is not configured directly. A configured token always wins.
func ResolveAuthToken(ctx context.Context, params ParameterGetter, cfg core.WebhookConfig) (core.WebhookConfig, error) {
	if strings.TrimSpace(cfg.AuthToken) != "" || strings.TrimSpace(cfg.AuthTokenParameter) == "" {
		return cfg, nil
	}
	if params == nil {
		return cfg, core.ConfigurationError("auth token parameter is set but no parameter store is configured", map[string]any{
			"parameter": cfg.AuthTokenParameter,
		})
	}
	token, err := params.GetParameter(ctx, cfg.AuthTokenParameter)
	if err != nil {
		return cfg, core.ConfigurationError("auth token lookup failed", map[string]any{
			"parameter": cfg.AuthTokenParameter,
			"error":     err.Error(),
		})
	}
	cfg.AuthToken = strings.TrimSpace(token)
	return cfg, nil
}
