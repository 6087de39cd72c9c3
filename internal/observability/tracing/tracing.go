// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracing times backend and history calls and reports them through
// the context logger as "trace.span_end" records.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowd-org/kfpt/internal/logging"
)

// Attribute is a key/value pair attached to a span. The zero Attribute is
// ignored.
type Attribute = slog.Attr

const (
	AttrStore      = "store"
	AttrStoreOp    = "store.op"
	AttrTarget     = "target"
	AttrPipeline   = "pipeline"
	AttrRunName    = "run_name"
	AttrHTTPMethod = "http.method"
	AttrHTTPStatus = "http.status"
)

func String(key, value string) Attribute { return slog.String(key, value) }

func Int(key string, value int) Attribute { return slog.Int(key, value) }

func Int64(key string, value int64) Attribute { return slog.Int64(key, value) }

// Store names the database driver behind a history span.
func Store(driver string) Attribute { return String(AttrStore, driver) }

// StoreOp names the statement kind of a history span (insert, select, delete).
func StoreOp(op string) Attribute { return String(AttrStoreOp, op) }

// Target names the submission backend.
func Target(value string) Attribute { return String(AttrTarget, value) }

func Pipeline(value string) Attribute { return String(AttrPipeline, value) }

// RunName names the run or job. Empty names are dropped.
func RunName(value string) Attribute {
	if value == "" {
		return Attribute{}
	}
	return String(AttrRunName, value)
}

type spanKey struct{}

// Span is a timed operation. Attributes keep the order they were first set
// in; setting a key again replaces its value.
type Span struct {
	name   string
	start  time.Time
	ctx    context.Context
	logger *slog.Logger

	mu    sync.Mutex
	attrs []slog.Attr
	err   error
	ended bool
}

// Start begins a span and stores it in the returned context.
func Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	span := &Span{
		name:   name,
		start:  time.Now(),
		logger: logging.FromContext(ctx),
	}
	span.SetAttributes(attrs...)
	ctx = context.WithValue(ctx, spanKey{}, span)
	span.ctx = ctx
	return ctx, span
}

// FromContext returns the innermost span started on ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

func (s *Span) SetAttributes(attrs ...Attribute) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
next:
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		for i := range s.attrs {
			if s.attrs[i].Key == attr.Key {
				s.attrs[i] = attr
				continue next
			}
		}
		s.attrs = append(s.attrs, attr)
	}
}

// RecordError keeps the last non-nil error.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// End logs the span once: at debug level on success, at warn level when an
// error was recorded.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	attrs := make([]slog.Attr, 0, len(s.attrs)+3)
	attrs = append(attrs,
		slog.String("span", s.name),
		slog.Float64("duration_ms", float64(time.Since(s.start).Microseconds())/1000.0),
	)
	attrs = append(attrs, s.attrs...)
	err := s.err
	s.mu.Unlock()

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(s.ctx, level, "trace.span_end", attrs...)
}

// End records *errPtr, if any, and ends span. It is meant to be deferred with
// a named error result.
func End(span *Span, errPtr *error, attrs ...Attribute) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
	if errPtr != nil {
		span.RecordError(*errPtr)
	}
	span.End()
}
