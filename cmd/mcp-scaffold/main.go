// Package main is the entry point for the mcp-scaffold server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdutton/mcp-scaffold/cmd/mcp-scaffold/app"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
