// Package archive batches history records into Parquet objects in an
// S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

const dataset = "query-history"

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxPending bounds the records kept after failed flushes. Oldest
	// records are dropped first.
	MaxPending int
}

type Archiver struct {
	Store  storage.BatchWriter
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time

	once    sync.Once
	mu      sync.Mutex
	pending []history.Record
	full    chan struct{}
}

func (a *Archiver) ensureDefaults() {
	a.once.Do(func() {
		if a.Clock == nil {
			a.Clock = time.Now
		}
		if a.Logger == nil {
			a.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		if a.Config.BatchSize <= 0 {
			a.Config.BatchSize = 100
		}
		if a.Config.FlushInterval <= 0 {
			a.Config.FlushInterval = time.Minute
		}
		if a.Config.MaxPending <= 0 {
			a.Config.MaxPending = a.Config.BatchSize * 10
		}
		a.full = make(chan struct{}, 1)
	})
}

// Record buffers record and wakes Run once a full batch is pending.
func (a *Archiver) Record(_ context.Context, record history.Record) error {
	a.ensureDefaults()

	a.mu.Lock()
	a.pending = append(a.pending, record)
	ready := len(a.pending) >= a.Config.BatchSize
	a.mu.Unlock()

	if ready {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run flushes on every interval tick and whenever a batch fills up. On
// cancellation it flushes what is left and returns.
func (a *Archiver) Run(ctx context.Context) error {
	a.ensureDefaults()

	ticker := time.NewTicker(a.Config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.Flush(context.WithoutCancel(ctx)); err != nil {
				a.Logger.Error("final history archive flush failed", slog.Any("error", err))
			}
			return nil
		case <-ticker.C:
		case <-a.full:
		}
		if err := a.Flush(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "history archive flush failed", slog.Any("error", err))
		}
	}
}

// Flush writes every pending record as one object. Records from a failed
// flush are kept for the next attempt.
func (a *Archiver) Flush(ctx context.Context) error {
	a.ensureDefaults()

	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	err := a.put(ctx, batch)
	observability.ObserveArchiveFlush(err)
	if err != nil {
		a.requeue(batch)
		return err
	}
	return nil
}

func (a *Archiver) put(ctx context.Context, records []history.Record) error {
	if a.Store == nil {
		return fmt.Errorf("archive store is required")
	}
	data, err := EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("encode history records: %w", err)
	}
	stored, err := a.Store.WriteBatch(ctx, storage.Batch{
		Dataset:   dataset,
		FlushedAt: a.Clock(),
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Records:   len(records),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("write history archive: %w", err)
	}
	a.Logger.DebugContext(ctx, "history archive batch stored", slog.String("key", stored.Key), slog.Int64("bytes", stored.Size))
	return nil
}

func (a *Archiver) requeue(batch []history.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged := append(batch, a.pending...)
	if dropped := len(merged) - a.Config.MaxPending; dropped > 0 {
		a.Logger.Warn("dropping unarchived history records", slog.Int("records", dropped))
		merged = merged[dropped:]
	}
	a.pending = merged
}

// Pending reports how many records wait for the next flush.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
