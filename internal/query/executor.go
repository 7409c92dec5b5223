package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Executor struct {
	db         ConnSource
	readOnlyTx bool
}

func NewExecutor(db ConnSource) *Executor {
	return &Executor{db: db}
}

// NewReadOnlyExecutor runs every statement inside a read-only transaction
// that is rolled back once the rows are read, so the database itself
// refuses writes the statement guard missed.
func NewReadOnlyExecutor(db ConnSource) *Executor {
	return &Executor{db: db, readOnlyTx: true}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execute runs sqlText as given, without parameters, and reads every row.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var q queryer = conn
	if e.readOnlyTx {
		tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
		}
		// Deferred before rows.Close, so it runs after the rows are released.
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
