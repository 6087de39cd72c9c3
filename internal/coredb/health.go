// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"fmt"
	"time"
)

// StorageStats summarises the history DB for `:history --stats`.
type StorageStats struct {
	Driver          string           `json:"driver"`
	Path            string           `json:"path"`
	OK              bool             `json:"ok"`
	BytesUsed       int64            `json:"bytes_used"`
	MaxBytes        int64            `json:"max_bytes"`
	JournalMaxBytes int64            `json:"journal_max_bytes"`
	NearlyFull      bool             `json:"nearly_full"`
	SchemaVersion   int64            `json:"schema_version"`
	Submissions     int64            `json:"submissions"`
	Failed          int64            `json:"failed"`
	ByTarget        map[string]int64 `json:"by_target,omitempty"`
	LastSubmission  *time.Time       `json:"last_submission,omitempty"`
}

// CollectStorageStats reads size and row counts. NearlyFull is set from 90%
// of the size cap.
func CollectStorageStats(ctx context.Context, db *DB) (StorageStats, error) {
	if db == nil || db.sql == nil {
		return StorageStats{}, ErrNotOpen
	}
	conn := db.sql
	stats := StorageStats{
		Driver:          sqliteDriverName,
		Path:            db.path,
		JournalMaxBytes: db.opts.JournalMaxBytes,
	}

	pragmas := []struct {
		name string
		dst  *int64
	}{
		{"page_size", new(int64)},
		{"page_count", new(int64)},
		{"max_page_count", new(int64)},
		{"user_version", &stats.SchemaVersion},
	}
	for _, p := range pragmas {
		v, err := querySingleInt(ctx, conn, "PRAGMA "+p.name+";")
		if err != nil {
			return stats, fmt.Errorf("coredb: lookup %s: %w", p.name, err)
		}
		*p.dst = v
	}
	pageSize := *pragmas[0].dst
	stats.BytesUsed = *pragmas[1].dst * pageSize
	stats.MaxBytes = *pragmas[2].dst * pageSize
	if stats.MaxBytes <= 0 || stats.MaxBytes > db.opts.MaxBytes {
		stats.MaxBytes = db.opts.MaxBytes
	}
	stats.OK = stats.BytesUsed < stats.MaxBytes
	stats.NearlyFull = stats.BytesUsed >= stats.MaxBytes*9/10

	rows, err := conn.QueryContext(ctx,
		`SELECT target, COUNT(*), SUM(status = ?), MAX(created_at) FROM submissions GROUP BY target ORDER BY target`,
		StatusFailed)
	if err != nil {
		return stats, fmt.Errorf("coredb: count submissions: %w", err)
	}
	defer rows.Close()
	var last int64
	for rows.Next() {
		var (
			target        string
			count, failed int64
			newest        int64
		)
		if err := rows.Scan(&target, &count, &failed, &newest); err != nil {
			return stats, fmt.Errorf("coredb: count submissions: %w", err)
		}
		if stats.ByTarget == nil {
			stats.ByTarget = map[string]int64{}
		}
		stats.ByTarget[target] = count
		stats.Submissions += count
		stats.Failed += failed
		if newest > last {
			last = newest
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("coredb: count submissions: %w", err)
	}
	if last > 0 {
		t := time.Unix(0, last).UTC()
		stats.LastSubmission = &t
	}
	return stats, nil
}
