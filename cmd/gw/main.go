package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/groundworkhq/groundwork/cmd/gw/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	os.Exit(commands.ExitCode(err))
}
