package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dayframe/calsync/runner"
	"github.com/dayframe/calsync/runner/redisrunner"
	"github.com/dayframe/calsync/runner/webrunner"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load() // pick up a local .env when present

	cfg := runner.ParseConfig()
	runner.Banner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer runner.Telemetry().Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		log.Println("Received signal, shutting down...")

		cancel()
	}()

	instance, err := runnerFactory(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}

	if err := instance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		_ = instance.Close(ctx)

		return 1
	}

	_ = instance.Close(ctx)

	return 0
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeWeb:
		return webrunner.New(cfg)
	case runner.RunModeWorker:
		return redisrunner.New(cfg)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
