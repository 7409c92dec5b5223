package database

import (
	"fmt"
	"strings"
)

// Dialect describes how to reach and introspect one database family.
type Dialect struct {
	Name   string
	Driver string
	// TablesQuery lists table names in the default schema, one per row.
	TablesQuery string
	// ColumnsQuery lists (column name, declared type) for the table bound to
	// its single parameter.
	ColumnsQuery string
	// ReadOnlyTx reports whether the driver honors sql.TxOptions.ReadOnly.
	ReadOnlyTx bool
}

var (
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "pgx",
		TablesQuery: `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
ORDER BY table_name`,
		ColumnsQuery: `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`,
		ReadOnlyTx: true,
	}

	DuckDB = Dialect{
		Name:   "duckdb",
		Driver: "duckdb",
		TablesQuery: `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main'
ORDER BY table_name`,
		ColumnsQuery: `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`,
	}

	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		TablesQuery: `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`,
		ColumnsQuery: `
SELECT name, type
FROM pragma_table_info(?)
ORDER BY cid`,
	}
)

// ParseDSN picks the dialect for dsn and returns the data source name in the
// form its driver expects.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Dialect{}, "", fmt.Errorf("database dsn is required")
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(lower, "duckdb://"):
		return DuckDB, dsn[len("duckdb://"):], nil
	case strings.HasPrefix(lower, "sqlite://"):
		path := dsn[len("sqlite://"):]
		if path == "" {
			return Dialect{}, "", fmt.Errorf("sqlite dsn requires a path")
		}
		return SQLite, path, nil
	case strings.HasPrefix(lower, "file:"):
		return SQLite, dsn, nil
	default:
		return Dialect{}, "", fmt.Errorf("unsupported database dsn scheme in %q", redact(dsn))
	}
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(dsn string) string {
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		return dsn[:idx+3] + "..."
	}
	if len(dsn) > 8 {
		return dsn[:8] + "..."
	}
	return dsn
}
