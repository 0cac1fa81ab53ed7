package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/gatehouse/pkg/cli"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, _ := observability.ParseLevel(os.Getenv("GATEHOUSE_LOG_LEVEL"))
	logger := observability.NewLogger(level, observability.FormatText, os.Stderr)

	env := &cli.Env{Out: os.Stdout, Logger: logger}
	if err := cli.NewRootCommand().Execute(ctx, env, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
