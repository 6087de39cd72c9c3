// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coredb keeps the local submission history in a size-capped SQLite
// file under the kfpt data directory.
package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/flowd-org/kfpt/internal/paths"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	dbFileName       = "kfpt.db"

	busyTimeout = 5 * time.Second

	defaultMaxBytes        = 16 << 20
	defaultJournalMaxBytes = 4 << 20
	fallbackPageSize       = 4096
)

// Options controls how the history DB is opened.
type Options struct {
	// DataDir holds kfpt.db. Empty means paths.DataDir().
	DataDir string
	// MaxBytes caps the DB file; inserts past it fail with SQLITE_FULL.
	MaxBytes int64
	// JournalMaxBytes caps the WAL file left behind after checkpoints.
	JournalMaxBytes int64
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = paths.DataDir()
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	if o.JournalMaxBytes <= 0 {
		o.JournalMaxBytes = defaultJournalMaxBytes
	}
	return o
}

// DB is an open history database.
type DB struct {
	sql  *sql.DB
	path string
	opts Options
}

// Open creates the data directory if needed, opens kfpt.db and brings its
// schema up to date.
func Open(ctx context.Context, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	path := filepath.Join(opts.DataDir, dbFileName)

	conn, err := sql.Open(sqliteDriverName, dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the CLI never needs more.
	conn.SetMaxOpenConns(1)

	if err := limitSize(ctx, conn, opts.MaxBytes); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{sql: conn, path: path, opts: opts}, nil
}

// dsn encodes the connection pragmas so every pooled connection gets them.
func dsn(path string, opts Options) string {
	q := url.Values{}
	for _, pragma := range []string{
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("journal_size_limit(%d)", opts.JournalMaxBytes),
	} {
		q.Add("_pragma", pragma)
	}
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

// limitSize turns MaxBytes into max_page_count for the DB's page size.
func limitSize(ctx context.Context, conn *sql.DB, maxBytes int64) error {
	pageSize, err := querySingleInt(ctx, conn, "PRAGMA page_size;")
	if err != nil || pageSize <= 0 {
		pageSize = fallbackPageSize
	}
	pages := maxBytes / pageSize
	if pages < 1 {
		pages = 1
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA max_page_count=%d;", pages)); err != nil {
		return fmt.Errorf("limit history size: %w", err)
	}
	return nil
}

// Path returns the location of the DB file.
func (db *DB) Path() string {
	if db == nil {
		return ""
	}
	return db.path
}

func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

func querySingleInt(ctx context.Context, conn *sql.DB, stmt string, args ...any) (int64, error) {
	var out sql.NullInt64
	if err := conn.QueryRowContext(ctx, stmt, args...).Scan(&out); err != nil {
		return 0, err
	}
	return out.Int64, nil
}
