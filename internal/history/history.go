// Package history records one entry per handled question. Records are
// write-only from the assistant's point of view.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/askdb/askdb/internal/observability"
)

type Outcome string

const (
	OutcomeReplied          Outcome = "replied"
	OutcomeRepliedWithError Outcome = "replied_with_error"
)

type Record struct {
	RunID        string        `json:"run_id"`
	Source       string        `json:"source"`
	Channel      string        `json:"channel,omitempty"`
	User         string        `json:"user,omitempty"`
	EventTS      string        `json:"event_ts,omitempty"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	ErrorStage   string        `json:"error_stage,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RowCount     int           `json:"row_count"`
	Duration     time.Duration `json:"duration_ns"`
	ReceivedAt   time.Time     `json:"received_at"`
}

type Recorder interface {
	Record(ctx context.Context, record Record) error
}

type Reader interface {
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}

type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// Sink names a recorder for failure accounting.
type Sink struct {
	Name     string
	Recorder Recorder
}

// Multi writes every record to each sink. A failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m {
		if sink.Recorder == nil {
			continue
		}
		if err := sink.Recorder.Record(ctx, record); err != nil {
			observability.IncrementHistoryWriteFailure(sink.Name)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
