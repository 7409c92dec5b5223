package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/storage"
)

func TestEncodeRecords(t *testing.T) {
	received := time.Date(2026, time.February, 19, 10, 0, 0, 0, time.UTC)
	data, err := EncodeRecords([]history.Record{
		{RunID: "run-1", Source: "slack", Question: "how many users?", SQL: "SELECT COUNT(*) FROM users;", Outcome: history.OutcomeReplied, RowCount: 1, ReceivedAt: received},
		{RunID: "run-2", Source: "api", Question: "list", Outcome: history.OutcomeRepliedWithError, ErrorStage: "inspect", ReceivedAt: received},
	})
	if err != nil {
		t.Fatalf("EncodeRecords() error = %v", err)
	}

	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetRecord, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].RunID != "run-1" || rows[0].ReceivedAtUnixMs != received.UnixMilli() {
		t.Fatalf("rows[0] = %+v", rows[0])
	}
	if rows[1].Outcome != "replied_with_error" || rows[1].ErrorStage != "inspect" {
		t.Fatalf("rows[1] = %+v", rows[1])
	}
}

func TestEncodeRecordsRequiresRecords(t *testing.T) {
	if _, err := EncodeRecords(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFlushWritesOneObjectPerBatch(t *testing.T) {
	store := &fakeStore{}
	archiver := &Archiver{
		Store:  store,
		Config: Config{BatchSize: 10},
		Clock:  func() time.Time { return time.Date(2026, time.February, 19, 10, 0, 0, 0, time.UTC) },
	}
	for i := 0; i < 3; i++ {
		_ = archiver.Record(context.Background(), history.Record{RunID: "run", Outcome: history.OutcomeReplied})
	}

	if err := archiver.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	keys := store.Keys()
	if len(keys) != 1 {
		t.Fatalf("objects = %v", keys)
	}
	if !strings.HasPrefix(keys[0], "query-history/date=2026-02-19/hour=10/part-") || !strings.HasSuffix(keys[0], ".parquet") {
		t.Fatalf("key = %q", keys[0])
	}
	if store.records[0] != 3 {
		t.Fatalf("batch records = %d, want 3", store.records[0])
	}
	if archiver.Pending() != 0 {
		t.Fatalf("pending = %d", archiver.Pending())
	}

	if err := archiver.Flush(context.Background()); err != nil {
		t.Fatalf("empty Flush() error = %v", err)
	}
	if len(store.Keys()) != 1 {
		t.Fatal("empty flush should not write an object")
	}
}

func TestFlushKeepsRecordsAfterFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("bucket unavailable")}
	archiver := &Archiver{Store: store, Config: Config{BatchSize: 2, MaxPending: 3}}
	for i := 0; i < 5; i++ {
		_ = archiver.Record(context.Background(), history.Record{RunID: "run"})
	}

	if err := archiver.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if got := archiver.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3 after bounded requeue", got)
	}

	store.setErr(nil)
	if err := archiver.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if archiver.Pending() != 0 {
		t.Fatalf("pending = %d", archiver.Pending())
	}
}

func TestRunFlushesFullBatchAndRemainderOnShutdown(t *testing.T) {
	store := &fakeStore{}
	archiver := &Archiver{Store: store, Config: Config{BatchSize: 2, FlushInterval: time.Hour}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx) }()

	_ = archiver.Record(ctx, history.Record{RunID: "a"})
	_ = archiver.Record(ctx, history.Record{RunID: "b"})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.Keys()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for batch flush")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = archiver.Record(ctx, history.Record{RunID: "c"})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(store.Keys()); got != 2 {
		t.Fatalf("objects = %d, want 2", got)
	}
}

type fakeStore struct {
	mu      sync.Mutex
	keys    []string
	records []int
	err     error
}

func (f *fakeStore) WriteBatch(_ context.Context, batch storage.Batch) (storage.StoredBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.StoredBatch{}, f.err
	}
	key, err := storage.BuildArchivePath(batch.Dataset, batch.FlushedAt, batch.ID)
	if err != nil {
		return storage.StoredBatch{}, err
	}
	f.keys = append(f.keys, key)
	f.records = append(f.records, batch.Records)
	return storage.StoredBatch{Key: key, Size: int64(len(batch.Data))}, nil
}

func (f *fakeStore) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
