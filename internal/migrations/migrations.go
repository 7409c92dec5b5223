// Package migrations evolves the query history schema in the history
// database.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedScripts embed.FS

const (
	revisionTable = "askdb_history_revisions"
	// revisionLockKey serializes schema changes across bots and askdb-migrate
	// runs that share one history database.
	revisionLockKey int64 = 0x61736b6462
)

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Revision is one numbered change to the history schema.
type Revision struct {
	Number    int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

type revisionScripts struct {
	number int64
	name   string
	apply  string
	revert string
}

// HistorySchema applies and reverts the history schema revisions embedded in
// the binary.
type HistorySchema struct {
	db        *sql.DB
	revisions []revisionScripts
}

func ForHistory(db *sql.DB) (*HistorySchema, error) {
	return forHistory(db, embeddedScripts)
}

func forHistory(db *sql.DB, scripts fs.FS) (*HistorySchema, error) {
	if db == nil {
		return nil, fmt.Errorf("history database is required")
	}
	revisions, err := readRevisions(scripts)
	if err != nil {
		return nil, err
	}
	return &HistorySchema{db: db, revisions: revisions}, nil
}

// Migrate applies every pending revision in order and returns the ones it
// applied. A revision another process applied concurrently is skipped.
func (h *HistorySchema) Migrate(ctx context.Context) ([]Revision, error) {
	if err := h.ensureRevisionTable(ctx); err != nil {
		return nil, err
	}
	applied, err := h.appliedAt(ctx)
	if err != nil {
		return nil, err
	}

	var done []Revision
	for _, rev := range h.revisions {
		if _, ok := applied[rev.number]; ok {
			continue
		}
		ran, err := h.inLockedTx(ctx, rev.number, false, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, rev.apply); err != nil {
				return fmt.Errorf("apply history revision %d (%s): %w", rev.number, rev.name, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO `+revisionTable+` (revision, name) VALUES ($1, $2)`, rev.number, rev.name)
			return err
		})
		if err != nil {
			return done, err
		}
		if ran {
			done = append(done, Revision{Number: rev.number, Name: rev.name, Applied: true})
		}
	}
	return done, nil
}

// Revert undoes the newest count applied revisions, one when count is not
// positive, and returns them newest first.
func (h *HistorySchema) Revert(ctx context.Context, count int) ([]Revision, error) {
	if count <= 0 {
		count = 1
	}
	if err := h.ensureRevisionTable(ctx); err != nil {
		return nil, err
	}
	applied, err := h.appliedAt(ctx)
	if err != nil {
		return nil, err
	}

	numbers := make([]int64, 0, len(applied))
	for number := range applied {
		numbers = append(numbers, number)
	}
	slices.Sort(numbers)
	slices.Reverse(numbers)

	var done []Revision
	for _, number := range numbers[:min(count, len(numbers))] {
		idx := slices.IndexFunc(h.revisions, func(r revisionScripts) bool { return r.number == number })
		if idx < 0 {
			return done, fmt.Errorf("history revision %d is applied but not known to this binary", number)
		}
		rev := h.revisions[idx]
		ran, err := h.inLockedTx(ctx, rev.number, true, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, rev.revert); err != nil {
				return fmt.Errorf("revert history revision %d (%s): %w", rev.number, rev.name, err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM `+revisionTable+` WHERE revision = $1`, rev.number)
			return err
		})
		if err != nil {
			return done, err
		}
		if ran {
			done = append(done, Revision{Number: rev.number, Name: rev.name})
		}
	}
	return done, nil
}

// Revisions lists every known revision in order with its applied state.
func (h *HistorySchema) Revisions(ctx context.Context) ([]Revision, error) {
	if err := h.ensureRevisionTable(ctx); err != nil {
		return nil, err
	}
	applied, err := h.appliedAt(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Revision, 0, len(h.revisions))
	for _, rev := range h.revisions {
		at, ok := applied[rev.number]
		out = append(out, Revision{Number: rev.number, Name: rev.name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// inLockedTx runs fn in a transaction holding the revision lock, after
// re-checking that revision is still in the state fn expects. It reports
// whether fn ran.
func (h *HistorySchema) inLockedTx(ctx context.Context, revision int64, wantApplied bool, fn func(*sql.Tx) error) (bool, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin history revision %d: %w", revision, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, revisionLockKey); err != nil {
		return false, fmt.Errorf("lock history revisions: %w", err)
	}
	var applied bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+revisionTable+` WHERE revision = $1)`, revision).Scan(&applied); err != nil {
		return false, fmt.Errorf("check history revision %d: %w", revision, err)
	}
	if applied != wantApplied {
		return false, nil
	}
	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit history revision %d: %w", revision, err)
	}
	return true, nil
}

func (h *HistorySchema) ensureRevisionTable(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+revisionTable+` (
	revision BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", revisionTable, err)
	}
	return nil
}

func (h *HistorySchema) appliedAt(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT revision, applied_at FROM `+revisionTable)
	if err != nil {
		return nil, fmt.Errorf("list applied history revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int64]time.Time)
	for rows.Next() {
		var (
			revision int64
			at       time.Time
		)
		if err := rows.Scan(&revision, &at); err != nil {
			return nil, fmt.Errorf("scan applied history revision: %w", err)
		}
		applied[revision] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied history revisions: %w", err)
	}
	return applied, nil
}

// readRevisions pairs NNNNNN_name.up.sql with NNNNNN_name.down.sql under
// sql/ and orders them by number.
func readRevisions(scripts fs.FS) ([]revisionScripts, error) {
	names, err := fs.Glob(scripts, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list history revision scripts: %w", err)
	}

	byNumber := map[int64]*revisionScripts{}
	for _, file := range names {
		base := strings.TrimPrefix(file, "sql/")
		match := scriptNamePattern.FindStringSubmatch(base)
		if match == nil {
			return nil, fmt.Errorf("history revision script %q does not match NNNNNN_name.(up|down).sql", base)
		}
		number, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("history revision number in %q: %w", base, err)
		}
		body, err := fs.ReadFile(scripts, file)
		if err != nil {
			return nil, fmt.Errorf("read history revision script %q: %w", base, err)
		}

		rev, ok := byNumber[number]
		if !ok {
			rev = &revisionScripts{number: number, name: match[2]}
			byNumber[number] = rev
		} else if rev.name != match[2] {
			return nil, fmt.Errorf("history revision %d has scripts named %q and %q", number, rev.name, match[2])
		}
		if match[3] == "up" {
			rev.apply = string(body)
		} else {
			rev.revert = string(body)
		}
	}

	revisions := make([]revisionScripts, 0, len(byNumber))
	for _, rev := range byNumber {
		if strings.TrimSpace(rev.apply) == "" || strings.TrimSpace(rev.revert) == "" {
			return nil, fmt.Errorf("history revision %d (%s) needs both an up and a down script", rev.number, rev.name)
		}
		revisions = append(revisions, *rev)
	}
	slices.SortFunc(revisions, func(a, b revisionScripts) int { return cmp.Compare(a.number, b.number) })
	return revisions, nil
}
