// Package storage describes history archive batches and the store they are
// written to.
package storage

import (
	"context"
	"time"
)

// ParquetContentType is the media type archive objects are written with.
const ParquetContentType = "application/vnd.apache.parquet"

// Batch is one flush of history records encoded as a Parquet file.
type Batch struct {
	Dataset   string
	FlushedAt time.Time
	ID        string
	Records   int
	Data      []byte
}

type StoredBatch struct {
	Key  string
	Size int64
	ETag string
}

// BatchWriter persists archive batches. The writer owns key layout.
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch Batch) (StoredBatch, error)
}
