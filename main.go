// Package main is the entry point for the labctl CLI
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrgochan/labctl/cmd"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cmd.SetVersion(version)
	code := cmd.Execute(ctx)

	stop()
	os.Exit(code)
}
