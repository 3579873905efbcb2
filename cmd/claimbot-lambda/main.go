// Claimbot-lambda serves the webhook behind API Gateway. Outbox events are
// relayed by a separate claimbot process.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/goliatone/go-claimbot/bootstrap"
	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/webhook"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.NewSlogLogger(os.Stdout, os.Getenv(bootstrap.EnvPrefix+"LOG_LEVEL"))

	runtime, err := core.NewRuntime(ctx,
		bootstrap.EnvOverrides(nil),
		core.WithConfigProvider(core.NewCfgxConfigProvider(bootstrap.YAMLFileLoader{Path: os.Getenv(bootstrap.EnvPrefix + "CONFIG")})),
		core.WithLogger(logger),
		core.WithLoggerProvider(logger),
	)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	app, err := bootstrap.New(ctx, runtime)
	if err != nil {
		slog.Error("failed to wire claimbot", "err", err)
		os.Exit(1)
	}

	h := webhook.NewLambdaHandler(app.Pipeline, app.Config.Webhook.PublicURL)
	lambda.Start(h.Handle)
}
