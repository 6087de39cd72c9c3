package coredb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCollectStorageStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := Open(ctx, Options{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stats, err := CollectStorageStats(ctx, db)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if stats.Driver != sqliteDriverName {
		t.Fatalf("expected driver %q, got %q", sqliteDriverName, stats.Driver)
	}
	if stats.MaxBytes != defaultMaxBytes {
		t.Fatalf("expected max bytes %d, got %d", defaultMaxBytes, stats.MaxBytes)
	}
	if !stats.OK || stats.NearlyFull {
		t.Fatalf("fresh db should not be full: %+v", stats)
	}
	if stats.SchemaVersion != schemaVersion() {
		t.Fatalf("expected schema version %d, got %d", schemaVersion(), stats.SchemaVersion)
	}
	if stats.Submissions != 0 || stats.LastSubmission != nil || stats.ByTarget != nil {
		t.Fatalf("expected empty history, got %+v", stats)
	}
	if stats.Path != filepath.Join(dir, dbFileName) || db.Path() != stats.Path {
		t.Fatalf("unexpected path %s", stats.Path)
	}
}

func TestCollectStorageStatsCountsByTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(ctx, Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := NewHistory(db)
	newest := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)
	for i, s := range []Submission{
		{Target: "kfp", Status: StatusSubmitted, CreatedAt: newest.Add(-2 * time.Hour)},
		{Target: "kfp", Status: StatusFailed, Error: "boom", CreatedAt: newest.Add(-time.Hour)},
		{Target: "vertex", Status: StatusSubmitted, CreatedAt: newest},
	} {
		s.Pipeline, s.PipelineFile = "echo", "echo.json"
		if _, err := h.Record(ctx, s); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	stats, err := CollectStorageStats(ctx, db)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if stats.Submissions != 3 || stats.Failed != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.ByTarget["kfp"] != 2 || stats.ByTarget["vertex"] != 1 {
		t.Fatalf("unexpected per-target counts %v", stats.ByTarget)
	}
	if stats.LastSubmission == nil || !stats.LastSubmission.Equal(newest) {
		t.Fatalf("expected last submission %v, got %v", newest, stats.LastSubmission)
	}
}

func TestCollectStorageStatsNoDB(t *testing.T) {
	t.Parallel()
	if _, err := CollectStorageStats(context.Background(), nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestOpenOnPreexistingEmptyFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, dbFileName), []byte{}, 0o600); err != nil {
		t.Fatalf("seed db file: %v", err)
	}
	db, err := Open(ctx, Options{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := CollectStorageStats(ctx, db); err != nil {
		t.Fatalf("collect stats on fresh db: %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(ctx, Options{DataDir: dir})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = db.Close()
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	raw, err := sql.Open(sqliteDriverName, filepath.Join(dir, dbFileName))
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.ExecContext(ctx, "PRAGMA user_version=99;"); err != nil {
		t.Fatalf("seed version: %v", err)
	}
	_ = raw.Close()

	_, err = Open(ctx, Options{DataDir: dir})
	var verr *SchemaVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaVersionError, got %v", err)
	}
	if verr.Found != 99 || verr.Supported != schemaVersion() {
		t.Fatalf("unexpected error %+v", verr)
	}
}
