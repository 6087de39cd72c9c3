// SPDX-License-Identifier: AGPL-3.0-or-later

package kfp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DefaultExperiment is used when a run names no experiment.
const DefaultExperiment = "Default"

// GetExperiment returns the experiment called name in namespace. A missing
// experiment is an *APIError with status 404.
func (c *Client) GetExperiment(ctx context.Context, name, namespace string) (*Experiment, error) {
	filter, err := json.Marshal(map[string]any{
		"predicates": []map[string]any{
			{"key": "name", "op": "EQUALS", "string_value": name},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get experiment: encode filter: %w", err)
	}
	q := url.Values{}
	q.Set("filter", string(filter))
	if namespace != "" {
		q.Set("resource_reference_key.type", "NAMESPACE")
		q.Set("resource_reference_key.id", namespace)
	}

	var out listExperimentsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/apis/v1beta1/experiments?"+q.Encode(), "get experiment", nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Experiments {
		if out.Experiments[i].Name == name {
			return &out.Experiments[i], nil
		}
	}
	return nil, &APIError{
		Operation:  "get experiment",
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("no experiment named %q", name),
	}
}

// CreateExperiment creates an experiment owned by namespace.
func (c *Client) CreateExperiment(ctx context.Context, name, namespace string) (*Experiment, error) {
	body := Experiment{Name: name}
	if namespace != "" {
		body.ResourceReferences = []resourceReference{{
			Key:          resourceKey{Type: "NAMESPACE", ID: namespace},
			Relationship: "OWNER",
		}}
	}
	var out Experiment
	if err := c.doJSON(ctx, http.MethodPost, "/apis/v1beta1/experiments", "create experiment", body, &out); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "created experiment", "experiment", out.Name, "id", out.ID)
	return &out, nil
}

// EnsureExperiment returns the named experiment, creating it when the server
// does not know it. An empty name selects DefaultExperiment.
func (c *Client) EnsureExperiment(ctx context.Context, name, namespace string) (*Experiment, error) {
	if name == "" {
		name = DefaultExperiment
	}
	exp, err := c.GetExperiment(ctx, name, namespace)
	if err == nil {
		return exp, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	return c.CreateExperiment(ctx, name, namespace)
}
