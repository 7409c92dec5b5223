package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveMentionCountsByOutcome(t *testing.T) {
	counter := mentionsTotal.WithLabelValues("slack", "replied_with_error")
	before := testutil.ToFloat64(counter)
	ObserveMention("slack", "replied_with_error")
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("mention counter delta = %v, want 1", got)
	}
}

func TestHistoryAndArchiveCounters(t *testing.T) {
	failures := historyWriteFailuresTotal.WithLabelValues("postgres")
	before := testutil.ToFloat64(failures)
	IncrementHistoryWriteFailure("postgres")
	if got := testutil.ToFloat64(failures) - before; got != 1 {
		t.Fatalf("history failure delta = %v, want 1", got)
	}

	flushErrors := archiveFlushesTotal.WithLabelValues("error")
	before = testutil.ToFloat64(flushErrors)
	ObserveArchiveFlush(errors.New("put failed"))
	if got := testutil.ToFloat64(flushErrors) - before; got != 1 {
		t.Fatalf("archive flush error delta = %v, want 1", got)
	}

	malformedBefore := testutil.ToFloat64(malformedEventsTotal)
	IncrementMalformedEvents()
	if got := testutil.ToFloat64(malformedEventsTotal) - malformedBefore; got != 1 {
		t.Fatalf("malformed delta = %v, want 1", got)
	}
}

func TestObserveStageRecordsStatus(t *testing.T) {
	ObserveStage("execute", nil, 10*time.Millisecond)
	ObserveStage("execute", errors.New("boom"), time.Millisecond)
	if got := testutil.CollectAndCount(stageDurationSeconds, "askdb_stage_duration_seconds"); got < 2 {
		t.Fatalf("stage series = %d, want at least 2", got)
	}
	ObserveResultRows(-3)
}
