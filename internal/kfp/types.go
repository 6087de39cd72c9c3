// SPDX-License-Identifier: AGPL-3.0-or-later

package kfp

// Wire types for the v1beta1 REST API. Only the fields kfpt reads or
// writes are declared.

type resourceKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type resourceReference struct {
	Key          resourceKey `json:"key"`
	Name         string      `json:"name,omitempty"`
	Relationship string      `json:"relationship"`
}

// Experiment groups runs on the API server.
type Experiment struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	ResourceReferences []resourceReference `json:"resource_references,omitempty"`
}

type listExperimentsResponse struct {
	Experiments   []Experiment `json:"experiments"`
	TotalSize     int          `json:"total_size"`
	NextPageToken string       `json:"next_page_token"`
}

type parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type runtimeConfig struct {
	Parameters   map[string]any `json:"parameters,omitempty"`
	PipelineRoot string         `json:"pipeline_root,omitempty"`
}

type pipelineSpec struct {
	WorkflowManifest string         `json:"workflow_manifest,omitempty"`
	PipelineManifest string         `json:"pipeline_manifest,omitempty"`
	Parameters       []parameter    `json:"parameters,omitempty"`
	RuntimeConfig    *runtimeConfig `json:"runtime_config,omitempty"`
}

type apiRun struct {
	ID                 string              `json:"id,omitempty"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	PipelineSpec       pipelineSpec        `json:"pipeline_spec"`
	ResourceReferences []resourceReference `json:"resource_references,omitempty"`
	ServiceAccount     string              `json:"service_account,omitempty"`
	Status             string              `json:"status,omitempty"`
	CreatedAt          string              `json:"created_at,omitempty"`
}

type runDetail struct {
	Run apiRun `json:"run"`
}

// Run is the created run as reported by the API server.
type Run struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExperimentID string `json:"experiment_id"`
	// URL points at the run details page of the pipelines UI.
	URL string `json:"url"`
}
