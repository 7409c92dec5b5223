package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/slackbot"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-bot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("askdb-bot failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bot, err := slackbot.New(slackbot.Config{
		BotToken:     cfg.Slack.BotToken,
		AppToken:     cfg.Slack.AppToken,
		Debug:        cfg.Slack.Debug,
		DrainTimeout: cfg.Slack.DrainTimeout,
	}, a.Assistant, logger)
	if err != nil {
		return fmt.Errorf("initialize slack bot: %w", err)
	}
	server, err := a.HTTPServer()
	if err != nil {
		return err
	}

	// The archive outlives the producers so their last records still get
	// flushed.
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting slack socket mode loop")
		if err := bot.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("slack socket mode loop stopped")
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting ops api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down ops api server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
