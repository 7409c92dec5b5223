package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// DB is a pooled handle to the target database together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func Open(ctx context.Context, cfg DBConfig) (*DB, error) {
	dialect, driverDSN, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect.Name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect.Name, err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// HealthCheck pings the pool; it backs the readiness endpoint.
func (d *DB) HealthCheck(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s db: %w", d.Dialect.Name, err)
	}
	return nil
}
