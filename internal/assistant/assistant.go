// Package assistant runs the question pipeline: read the schema, ask the
// completion service for SQL, execute it and format the rows as a reply.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

const (
	SourceSlack = "slack"
	SourceAPI   = "api"
	SourceMCP   = "mcp"
)

type MentionEvent struct {
	Text     string
	TS       string
	ThreadTS string
	Channel  string
	User     string
}

// Replier posts text into the thread rooted at threadTS.
type Replier interface {
	Reply(ctx context.Context, channel, threadTS, text string) error
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) (query.Result, error)
}

type Answer struct {
	Question string   `json:"question"`
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Reply    string   `json:"reply"`
}

type Config struct {
	// Dialect is named in the completion prompt.
	Dialect string
	// ReadOnly rejects generated statements that are not a single read.
	ReadOnly bool
}

type Dependencies struct {
	Schema     schema.Source
	Translator nl2sql.Translator
	Executor   Executor
	Recorder   history.Recorder
	Logger     *slog.Logger
	Clock      func() time.Time
}

type Assistant struct {
	schema     schema.Source
	translator nl2sql.Translator
	executor   Executor
	recorder   history.Recorder
	logger     *slog.Logger
	clock      func() time.Time
	cfg        Config
}

func New(deps Dependencies, cfg Config) (*Assistant, error) {
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema source is required")
	}
	if deps.Translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	a := &Assistant{
		schema:     deps.Schema,
		translator: deps.Translator,
		executor:   deps.Executor,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		clock:      deps.Clock,
		cfg:        cfg,
	}
	if a.recorder == nil {
		a.recorder = history.Nop{}
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	return a, nil
}

// Answer runs the pipeline for question. The first failing stage stops the
// run and is returned as a *StageError.
func (a *Assistant) Answer(ctx context.Context, question string) (answer Answer, err error) {
	answer.Question = question
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &StageError{Stage: StageInternal, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()

	var rendered string
	err = a.runStage(ctx, StageInspect, func(ctx context.Context) error {
		snapshot, err := a.schema.Inspect(ctx)
		if err != nil {
			return err
		}
		rendered, err = snapshot.Render()
		return err
	})
	if err != nil {
		return answer, err
	}

	err = a.runStage(ctx, StageTranslate, func(ctx context.Context) error {
		result, err := a.translator.Translate(ctx, nl2sql.Request{
			Question: question,
			Schema:   rendered,
			Dialect:  a.cfg.Dialect,
		})
		answer.SQL = result.SQL
		return err
	})
	if err != nil {
		return answer, err
	}

	if a.cfg.ReadOnly {
		err = a.runStage(ctx, StageGuard, func(context.Context) error {
			return query.CheckReadOnly(answer.SQL)
		})
		if err != nil {
			return answer, err
		}
	}

	var result query.Result
	err = a.runStage(ctx, StageExecute, func(ctx context.Context) error {
		var err error
		result, err = a.executor.Execute(ctx, answer.SQL)
		return err
	})
	if err != nil {
		return answer, err
	}
	observability.ObserveResultRows(len(result.Rows))

	answer.Columns = result.Columns
	answer.Rows = result.Rows
	answer.Reply = query.Format(result)
	return answer, nil
}

// Ask runs Answer for a caller other than the chat transport and records
// the run.
func (a *Assistant) Ask(ctx context.Context, source, question string) (Answer, error) {
	run := a.startRun(ctx, source)
	answer, err := a.Answer(run.ctx, question)
	a.finishRun(run, history.Record{Question: question, SQL: answer.SQL, RowCount: len(answer.Rows)}, err)
	return answer, err
}

// HandleMention answers one mention and posts exactly one reply in the
// thread of event.TS. Pipeline failures become an error reply; only a
// failure to post the reply is returned.
func (a *Assistant) HandleMention(ctx context.Context, event MentionEvent, replier Replier) error {
	run := a.startRun(ctx, SourceSlack)
	question := ExtractQuestion(event.Text)

	answer, err := a.Answer(run.ctx, question)
	text := answer.Reply
	if err != nil {
		text = ErrorReply(err)
	}

	replyErr := replier.Reply(run.ctx, event.Channel, event.TS, text)
	a.finishRun(run, history.Record{
		Channel:  event.Channel,
		User:     event.User,
		EventTS:  event.TS,
		Question: question,
		SQL:      answer.SQL,
		RowCount: len(answer.Rows),
	}, err)

	if replyErr != nil {
		a.logger.ErrorContext(run.ctx, "post reply failed",
			slog.String("run_id", run.id),
			slog.String("channel", event.Channel),
			slog.Any("error", replyErr),
		)
		return fmt.Errorf("post reply: %w", replyErr)
	}
	return nil
}

// DescribeSchema returns the current catalog snapshot.
func (a *Assistant) DescribeSchema(ctx context.Context) (schema.Snapshot, error) {
	var snapshot schema.Snapshot
	err := a.runStage(ctx, StageInspect, func(ctx context.Context) error {
		var err error
		snapshot, err = a.schema.Inspect(ctx)
		return err
	})
	return snapshot, err
}

func (a *Assistant) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	observability.ObserveStage(string(stage), err, time.Since(start))
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

type run struct {
	ctx        context.Context
	id         string
	source     string
	receivedAt time.Time
	start      time.Time
}

func (a *Assistant) startRun(ctx context.Context, source string) run {
	id := uuid.NewString()
	return run{
		ctx:        observability.ContextWithRunID(ctx, id),
		id:         id,
		source:     source,
		receivedAt: a.clock().UTC(),
		start:      time.Now(),
	}
}

func (a *Assistant) finishRun(r run, record history.Record, err error) {
	record.RunID = r.id
	record.Source = r.source
	record.ReceivedAt = r.receivedAt
	record.Duration = time.Since(r.start)
	record.Outcome = history.OutcomeReplied

	attrs := []slog.Attr{
		slog.String("run_id", r.id),
		slog.String("source", r.source),
		slog.Duration("duration", record.Duration),
	}
	if err != nil {
		record.Outcome = history.OutcomeRepliedWithError
		record.ErrorMessage = err.Error()
		record.ErrorStage = string(StageInternal)
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			record.ErrorStage = string(stageErr.Stage)
		}
		attrs = append(attrs, slog.String("stage", record.ErrorStage), slog.Any("error", err))
		a.logger.LogAttrs(r.ctx, slog.LevelWarn, "question failed", attrs...)
	} else {
		attrs = append(attrs, slog.Int("rows", record.RowCount))
		a.logger.LogAttrs(r.ctx, slog.LevelInfo, "question answered", attrs...)
	}
	observability.ObserveMention(r.source, string(record.Outcome))

	if err := a.recorder.Record(context.WithoutCancel(r.ctx), record); err != nil {
		a.logger.WarnContext(r.ctx, "record query history failed", slog.String("run_id", r.id), slog.Any("error", err))
	}
}
