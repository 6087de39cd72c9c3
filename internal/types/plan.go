// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// Plan previews a submission without contacting either backend.
type Plan struct {
	Target        string            `json:"target"` // kfp|vertex
	PipelineFile  string            `json:"pipeline_file"`
	Pipeline      string            `json:"pipeline"`
	Parameters    []PlanParameter   `json:"parameters,omitempty"`
	RunName       string            `json:"run_name,omitempty"`
	Experiment    string            `json:"experiment,omitempty"`
	Arguments     map[string]any    `json:"arguments,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	EnableCaching *bool             `json:"enable_caching,omitempty"`
	// Client carries the connection settings with secrets redacted.
	Client map[string]any `json:"client,omitempty"`
}

// PlanParameter describes one pipeline input and the flag that sets it.
type PlanParameter struct {
	Name     string `json:"name"`
	Flag     string `json:"flag"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}
