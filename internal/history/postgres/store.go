// Package postgres stores query history rows in askdb_query_history.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/askdb/askdb/internal/history"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, record history.Record) error {
	query := `
INSERT INTO askdb_query_history (
    run_id, source, channel, user_id, event_ts, question, generated_sql,
    outcome, error_stage, error_message, row_count, duration_ms, received_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, query,
		record.RunID,
		record.Source,
		record.Channel,
		record.User,
		record.EventTS,
		record.Question,
		record.SQL,
		string(record.Outcome),
		record.ErrorStage,
		record.ErrorMessage,
		record.RowCount,
		record.Duration.Milliseconds(),
		record.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

// ListRecent returns the newest records first. limit is clamped to
// [1, 500] with 50 used for non-positive values.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
SELECT run_id, source, channel, user_id, event_ts, question, generated_sql,
       outcome, error_stage, error_message, row_count, duration_ms, received_at
FROM askdb_query_history
ORDER BY received_at DESC
LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]history.Record, 0)
	for rows.Next() {
		var (
			record     history.Record
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(
			&record.RunID,
			&record.Source,
			&record.Channel,
			&record.User,
			&record.EventTS,
			&record.Question,
			&record.SQL,
			&outcome,
			&record.ErrorStage,
			&record.ErrorMessage,
			&record.RowCount,
			&durationMS,
			&record.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		record.Outcome = history.Outcome(outcome)
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return records, nil
}
