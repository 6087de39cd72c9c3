// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] brings the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS submissions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			target TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			pipeline_file TEXT NOT NULL,
			run_name TEXT NOT NULL DEFAULT '',
			experiment TEXT NOT NULL DEFAULT '',
			arguments BLOB NOT NULL,
			labels BLOB NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_submissions_target ON submissions(target, seq);`,
	},
}

func schemaVersion() int64 { return int64(len(migrations)) }

// migrate applies the steps past the stored user_version, one transaction
// per step. A DB written by a newer kfpt is left alone.
func migrate(ctx context.Context, conn *sql.DB) error {
	current, err := querySingleInt(ctx, conn, "PRAGMA user_version;")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion() {
		return &SchemaVersionError{Found: current, Supported: schemaVersion()}
	}
	for v := current; v < schemaVersion(); v++ {
		if err := applyStep(ctx, conn, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(ctx context.Context, conn *sql.DB, version int64, stmts []string) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", version, err)
		}
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", version)); err != nil {
		return fmt.Errorf("migrate to v%d: %w", version, err)
	}
	return tx.Commit()
}
