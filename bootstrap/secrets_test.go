package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-claimbot/core"
)

type fakeSSM struct {
	values map[string]string
	err    error
	last   *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(value)}}, nil
}

func TestParameterStore_GetParameter(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/claimbot/token": "secret"}}
	store, err := NewParameterStore(api)
	require.NoError(t, err)

	value, err := store.GetParameter(context.Background(), " /claimbot/token ")
	require.NoError(t, err)
	require.Equal(t, "secret", value)
	require.True(t, aws.ToBool(api.last.WithDecryption))

	_, err = store.GetParameter(context.Background(), "/claimbot/missing")
	require.ErrorContains(t, err, "has no value")

	_, err = store.GetParameter(context.Background(), "")
	require.Error(t, err)

	_, err = NewParameterStore(nil)
	require.Error(t, err)
}

func TestParameterStore_WrapsAPIErrors(t *testing.T) {
	store, err := NewParameterStore(&fakeSSM{err: errors.New("throttled")})
	require.NoError(t, err)

	_, err = store.GetParameter(context.Background(), "/claimbot/token")
	require.ErrorContains(t, err, "throttled")
}

func TestResolveAuthToken(t *testing.T) {
	store, err := NewParameterStore(&fakeSSM{values: map[string]string{"/claimbot/token": " from-ssm "}})
	require.NoError(t, err)

	cfg := core.WebhookConfig{AuthTokenParameter: "/claimbot/token"}
	resolved, err := ResolveAuthToken(context.Background(), store, cfg)
	require.NoError(t, err)
	require.Equal(t, "from-ssm", resolved.AuthToken)

	cfg.AuthToken = "configured"
	resolved, err = ResolveAuthToken(context.Background(), store, cfg)
	require.NoError(t, err)
	require.Equal(t, "configured", resolved.AuthToken)

	_, err = ResolveAuthToken(context.Background(), nil, core.WebhookConfig{AuthTokenParameter: "/claimbot/token"})
	require.True(t, core.HasTextCode(err, core.ErrorConfiguration))

	failing, err := NewParameterStore(&fakeSSM{err: errors.New("denied")})
	require.NoError(t, err)
	_, err = ResolveAuthToken(context.Background(), failing, core.WebhookConfig{AuthTokenParameter: "/claimbot/token"})
	require.True(t, core.HasTextCode(err, core.ErrorConfiguration))
}
