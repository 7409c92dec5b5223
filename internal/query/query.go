// Package query executes candidate statements against the target database
// and renders their rows for chat replies.
package query

import (
	"context"
	"database/sql"
	"time"
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// ConnSource hands out dedicated connections; *sql.DB satisfies it.
type ConnSource interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}
