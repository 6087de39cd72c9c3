// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	TypeSubmitStart  = "submit.start"
	TypeSubmitFinish = "submit.finish"
)

const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

// SubmitEvent is one line of machine readable submit output.
type SubmitEvent struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Target    string         `json:"target"`
	Pipeline  string         `json:"pipeline,omitempty"`
	RunName   string         `json:"run_name,omitempty"`
	ID        string         `json:"id,omitempty"`
	URL       string         `json:"url,omitempty"`
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emitter writes submit events to out, one per line. A nil *Emitter drops
// every event.
type Emitter struct {
	mu       sync.Mutex
	seq      int64
	out      io.Writer
	json     bool
	redactor func(string) string
	now      func() time.Time
}

func NewEmitter(out io.Writer, json bool) *Emitter {
	if out == nil {
		return nil
	}
	return &Emitter{out: out, json: json, now: time.Now}
}

// WithRedactor applies redact to error messages before they are written.
func (e *Emitter) WithRedactor(redact func(string) string) *Emitter {
	if e != nil {
		e.redactor = redact
	}
	return e
}

func (e *Emitter) emit(ev SubmitEvent) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev.Sequence = e.seq
	ev.Timestamp = e.now().UTC()
	if ev.Error != "" && e.redactor != nil {
		ev.Error = e.redactor(ev.Error)
	}

	if e.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(e.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(e.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(e.out, "[%d] %s target=%s", ev.Sequence, ev.Type, ev.Target)
	if ev.RunName != "" {
		fmt.Fprintf(e.out, " run=%q", ev.RunName)
	}
	if ev.ID != "" {
		fmt.Fprintf(e.out, " id=%s", ev.ID)
	}
	if ev.Status != "" {
		fmt.Fprintf(e.out, " status=%s", ev.Status)
	}
	if ev.Error != "" {
		fmt.Fprintf(e.out, " error=%q", ev.Error)
	}
	fmt.Fprintln(e.out)
}

// EmitSubmitStart records that a pipeline is about to be submitted.
func (e *Emitter) EmitSubmitStart(target, pipeline, runName string, arguments map[string]any) {
	e.emit(SubmitEvent{
		Type:     TypeSubmitStart,
		Target:   target,
		Pipeline: pipeline,
		RunName:  runName,
		Data:     arguments,
	})
}

// EmitSubmitFinish records the outcome of a submission.
func (e *Emitter) EmitSubmitFinish(target, runName, id, url string, err error) {
	ev := SubmitEvent{
		Type:    TypeSubmitFinish,
		Target:  target,
		RunName: runName,
		ID:      id,
		URL:     url,
		Status:  StatusSubmitted,
	}
	if err != nil {
		ev.Status = StatusFailed
		ev.Error = err.Error()
	}
	e.emit(ev)
}
