// Package app assembles the question pipeline and its supporting stores from
// configuration. The bot and MCP binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/history/archive"
	historypostgres "github.com/askdb/askdb/internal/history/postgres"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *database.DB
	Assistant *assistant.Assistant
	// History is nil unless the Postgres history store is enabled.
	History history.Reader
	// Archiver is nil unless the object store archive is enabled. Its Run
	// loop must be started by the caller.
	Archiver  *archive.Archiver
	Readiness api.ReadinessCheck

	closers []func() error
}

// Build opens every configured dependency. On error, anything already opened
// is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = database.Open(ctx, database.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open target database: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)
	checks := []api.ReadinessCheck{a.DB.HealthCheck}

	translator, err := nl2sql.New(ctx, nl2sql.Config{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize query translator: %w", err)
	}

	var sinks history.Multi
	if cfg.History.Enabled {
		historyDB, err := historypostgres.Open(ctx, historypostgres.DBConfig{DSN: cfg.History.DSN})
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		a.closers = append(a.closers, historyDB.Close)
		checks = append(checks, pingCheck(historyDB))

		store := historypostgres.NewStore(historyDB)
		a.History = store
		sinks = append(sinks, history.Sink{Name: "postgres", Recorder: store})
	}
	if cfg.Archive.Enabled {
		archiveStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize history archive store: %w", err)
		}
		checks = append(checks, archiveStore.Ping)

		a.Archiver = &archive.Archiver{
			Store: archiveStore,
			Config: archive.Config{
				BatchSize:     cfg.Archive.BatchSize,
				FlushInterval: cfg.Archive.FlushInterval,
			},
			Logger: logger,
		}
		sinks = append(sinks, history.Sink{Name: "archive", Recorder: a.Archiver})
	}

	var recorder history.Recorder = history.Nop{}
	if len(sinks) > 0 {
		recorder = sinks
	}

	executor := query.NewExecutor(a.DB)
	if cfg.Guard.ReadOnly && a.DB.Dialect.ReadOnlyTx {
		executor = query.NewReadOnlyExecutor(a.DB)
	}
	a.Assistant, err = assistant.New(assistant.Dependencies{
		Schema:     schema.WithCache(schema.NewInspector(a.DB, a.DB.Dialect), cfg.Schema.CacheTTL),
		Translator: translator,
		Executor:   executor,
		Recorder:   recorder,
		Logger:     logger,
	}, assistant.Config{
		Dialect:  a.DB.Dialect.Name,
		ReadOnly: cfg.Guard.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	a.Readiness = api.CombineReadinessChecks(checks...)
	return a, nil
}

// HTTPServer returns the ops API server for a.
func (a *App) HTTPServer() (*http.Server, error) {
	deps := api.Dependencies{
		Logger:            a.Logger,
		Readiness:         a.Readiness,
		DependencyTimeout: 2 * time.Second,
		Assistant:         a.Assistant,
		History:           a.History,
	}
	if a.Config.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(a.Config.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(a.Logger, validator)
	}

	return &http.Server{
		Addr:         a.Config.HTTP.Address,
		Handler:      api.NewHandler(a.Config, deps),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
		IdleTimeout:  a.Config.HTTP.IdleTimeout,
	}, nil
}

// Close releases every opened pool in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func pingCheck(db *sql.DB) api.ReadinessCheck {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping history db: %w", err)
		}
		return nil
	}
}
