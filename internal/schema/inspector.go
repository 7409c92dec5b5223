package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askdb/askdb/internal/database"
)

// ConnSource hands out dedicated connections; *sql.DB satisfies it.
type ConnSource interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Inspector struct {
	db      ConnSource
	dialect database.Dialect
}

func NewInspector(db ConnSource, dialect database.Dialect) *Inspector {
	return &Inspector{db: db, dialect: dialect}
}

// Inspect queries the catalog on every call. The connection is held only for
// the duration of the call.
func (i *Inspector) Inspect(ctx context.Context) (Snapshot, error) {
	conn, err := i.db.Conn(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	names, err := listTables(ctx, conn, i.dialect.TablesQuery)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		columns, err := listColumns(ctx, conn, i.dialect.ColumnsQuery, name)
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Tables = append(snapshot.Tables, Table{Name: name, Columns: columns})
	}
	return snapshot, nil
}

func listTables(ctx context.Context, conn *sql.Conn, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

func listColumns(ctx context.Context, conn *sql.Conn, query, table string) ([]Column, error) {
	rows, err := conn.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column for table %q: %w", table, err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns for table %q: %w", table, err)
	}
	return columns, nil
}
