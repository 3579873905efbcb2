// Claimbot serves the WhatsApp claims-intake webhook and relays outbox
// events.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/goliatone/go-claimbot/bootstrap"
	"github.com/goliatone/go-claimbot/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet, flags := bootstrap.NewFlagSet("claimbot")
	flagSet.Usage = func() { printHelp(flagSet) }
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := bootstrap.LoadEnvFiles(flags.EnvFiles...); err != nil {
		return err
	}

	logger := bootstrap.NewSlogLogger(os.Stdout, flags.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := core.NewRuntime(ctx,
		flags.Apply(bootstrap.EnvOverrides(nil)),
		core.WithConfigProvider(core.NewCfgxConfigProvider(bootstrap.YAMLFileLoader{Path: flags.ConfigPath()})),
		core.WithLogger(logger),
		core.WithLoggerProvider(logger),
	)
	if err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, runtime)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("close storage failed", "error", closeErr)
		}
	}()

	args := flagSet.Args()
	if len(args) == 0 {
		return serve(ctx, app, logger)
	}
	switch args[0] {
	case "serve":
		return serve(ctx, app, logger)
	case "relay-once":
		stats, err := app.RelayOnce(ctx)
		logger.Info("outbox relayed", "listed", stats.Listed, "published", stats.Published, "failed", stats.Failed)
		return err
	case "reset-session":
		if len(args) < 2 {
			return errors.New("reset-session requires a sender id")
		}
		reason := "operator reset"
		if len(args) > 2 {
			reason = args[2]
		}
		return app.ResetSession(ctx, args[1], reason)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context, app *bootstrap.App, logger core.Logger) error {
	cfg := app.Config
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		app.RunRelay(ctx)
	}()
	go func() {
		defer workers.Done()
		if err := app.RunConsumer(ctx); err != nil {
			logger.Error("event consumer stopped", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "path", cfg.Webhook.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	workers.Wait()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `claimbot - WhatsApp claims-intake bot

Usage:
  claimbot [flags] [serve]
  claimbot [flags] relay-once
  claimbot [flags] reset-session SENDER [REASON]

Environment variables prefixed with %s override the configuration file.

Flags:
`, bootstrap.EnvPrefix)
	flagSet.PrintDefaults()
}
