package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/mcpserver"
	"github.com/askdb/askdb/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv("askdb-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol.
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("askdb-mcp failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	archiveCtx, stopArchive := context.WithCancel(context.WithoutCancel(ctx))
	archiveDone := make(chan struct{})
	go func() {
		defer close(archiveDone)
		if a.Archiver != nil {
			_ = a.Archiver.Run(archiveCtx)
		}
	}()
	defer func() {
		stopArchive()
		<-archiveDone
	}()

	s := mcpserver.New(a.Assistant, version)
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("serving mcp over stdio", slog.String("version", version))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}
