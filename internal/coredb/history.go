// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowd-org/kfpt/internal/observability/tracing"
	"github.com/google/uuid"
)

// Submission statuses.
const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

// Submission is one recorded call to a pipeline backend.
type Submission struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	Target       string            `json:"target"`
	Pipeline     string            `json:"pipeline"`
	PipelineFile string            `json:"pipeline_file"`
	RunName      string            `json:"run_name,omitempty"`
	Experiment   string            `json:"experiment,omitempty"`
	Arguments    map[string]any    `json:"arguments,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	// Resource is the backend identifier of the created run or job.
	Resource string `json:"resource,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// History is the append-only submission log.
type History struct {
	db    *sql.DB
	nowFn func() time.Time
	idFn  func() string
}

// NewHistory returns a History backed by db.
func NewHistory(db *DB) *History {
	if db == nil {
		return nil
	}
	return &History{
		db: db.sql,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
		idFn: uuid.NewString,
	}
}

// Record stores s, assigning an ID and timestamp when they are unset, and
// returns the stored row.
func (h *History) Record(ctx context.Context, s Submission) (out Submission, err error) {
	if h == nil || h.db == nil {
		return out, ErrNotOpen
	}
	ctx, span := tracing.Start(ctx, "coredb.history.record",
		tracing.Store(sqliteDriverName),
		tracing.StoreOp("insert"),
		tracing.Target(s.Target),
		tracing.RunName(s.RunName),
	)
	defer tracing.End(span, &err)

	if s.Target == "" {
		err = fmt.Errorf("record submission: target required")
		return out, err
	}
	if s.Status == "" {
		s.Status = StatusSubmitted
	}
	if s.ID == "" {
		s.ID = h.idFn()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = h.nowFn()
	}

	args, err := json.Marshal(nonNilArgs(s.Arguments))
	if err != nil {
		err = fmt.Errorf("encode arguments: %w", err)
		return out, err
	}
	labels, err := json.Marshal(nonNilLabels(s.Labels))
	if err != nil {
		err = fmt.Errorf("encode labels: %w", err)
		return out, err
	}

	_, err = h.db.ExecContext(ctx, `INSERT INTO submissions
		(id, created_at, target, pipeline, pipeline_file, run_name, experiment, arguments, labels, resource, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CreatedAt.UnixNano(), s.Target, s.Pipeline, s.PipelineFile, s.RunName, s.Experiment,
		args, labels, s.Resource, s.Status, s.Error,
	)
	if err != nil {
		err = fmt.Errorf("insert submission: %w", err)
		return out, err
	}
	return s, nil
}

// List returns up to limit submissions, newest first. A limit of zero or
// less returns everything.
func (h *History) List(ctx context.Context, limit int) (out []Submission, err error) {
	if h == nil || h.db == nil {
		return nil, ErrNotOpen
	}
	ctx, span := tracing.Start(ctx, "coredb.history.list",
		tracing.Store(sqliteDriverName),
		tracing.StoreOp("select"),
		tracing.Int("limit", limit),
	)
	defer tracing.End(span, &err)

	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx, `SELECT id, created_at, target, pipeline, pipeline_file, run_name,
		experiment, arguments, labels, resource, status, error
		FROM submissions ORDER BY created_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		err = fmt.Errorf("query submissions: %w", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s      Submission
			ts     int64
			args   []byte
			labels []byte
		)
		if err = rows.Scan(&s.ID, &ts, &s.Target, &s.Pipeline, &s.PipelineFile, &s.RunName,
			&s.Experiment, &args, &labels, &s.Resource, &s.Status, &s.Error); err != nil {
			err = fmt.Errorf("scan submission: %w", err)
			return nil, err
		}
		s.CreatedAt = time.Unix(0, ts).UTC()
		if err = json.Unmarshal(args, &s.Arguments); err != nil {
			err = fmt.Errorf("decode arguments for %s: %w", s.ID, err)
			return nil, err
		}
		if err = json.Unmarshal(labels, &s.Labels); err != nil {
			err = fmt.Errorf("decode labels for %s: %w", s.ID, err)
			return nil, err
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate submissions: %w", err)
		return nil, err
	}
	return out, nil
}

// Prune deletes all but the newest keep submissions and reports how many rows
// were removed. keep <= 0 is a no-op.
func (h *History) Prune(ctx context.Context, keep int) (removed int64, err error) {
	if h == nil || h.db == nil {
		return 0, ErrNotOpen
	}
	if keep <= 0 {
		return 0, nil
	}
	ctx, span := tracing.Start(ctx, "coredb.history.prune",
		tracing.Store(sqliteDriverName),
		tracing.StoreOp("delete"),
		tracing.Int("keep", keep),
	)
	defer tracing.End(span, &err)

	res, err := h.db.ExecContext(ctx, `DELETE FROM submissions WHERE seq NOT IN (
		SELECT seq FROM submissions ORDER BY created_at DESC, seq DESC LIMIT ?
	)`, keep)
	if err != nil {
		err = fmt.Errorf("prune submissions: %w", err)
		return 0, err
	}
	removed, err = res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("prune submissions: %w", err)
		return 0, err
	}
	span.SetAttributes(tracing.Int64("removed", removed))
	return removed, nil
}

func nonNilArgs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilLabels(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
