// Package sqlite implements the domain stores on an embedded SQLite file.
// It is the default backend for paper and small live runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

//go:embed schema.sql
var schema string

// DB wraps a single-connection SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if err := addColumn(ctx, db, "positions", "window_end", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// addColumn upgrades a table created by an older schema.
func addColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("sqlite: inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("sqlite: add %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping checks the database handle.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stores returns every domain store backed by this database.
func (d *DB) Stores() domain.Stores {
	return domain.Stores{
		Decisions: &DecisionStore{db: d.db},
		Orders:    &OrderStore{db: d.db},
		Fills:     &FillStore{db: d.db},
		Positions: &PositionStore{db: d.db},
		PnL:       &PnLStore{db: d.db},
		Errors:    &ErrorStore{db: d.db},
		Report:    &ReportStore{db: d.db},
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// window appends time and paging filters on column ts to query.
func window(query, ts string, opts domain.ListOpts, args []any) (string, []any) {
	if opts.Mode != "" {
		query += " AND mode = ?"
		args = append(args, opts.Mode)
	}
	if opts.Since != nil {
		query += " AND " + ts + " >= ?"
		args = append(args, toNanos(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + ts + " <= ?"
		args = append(args, toNanos(*opts.Until))
	}
	query += " ORDER BY " + ts + " ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}
	return query, args
}
