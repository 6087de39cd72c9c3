// SPDX-License-Identifier: AGPL-3.0-or-later

package kfp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/flowd-org/kfpt/internal/component"
	"github.com/flowd-org/kfpt/internal/observability/tracing"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/yamlnode"
	"gopkg.in/yaml.v3"
)

// Target names this backend in logs and history.
const Target = "kfp"

// RootParameter carries the pipeline root of legacy artifacts.
const RootParameter = "pipeline-root"

const runNameLayout = "2006-01-02 15-04-05"

// RunRequest describes a run created from a compiled pipeline file.
type RunRequest struct {
	PipelineFile   string
	Arguments      map[string]any
	RunName        string
	ExperimentName string
	// Namespace is the user namespace owning the experiment in multi-user
	// deployments.
	Namespace    string
	PipelineRoot string
	// EnableCaching overrides the caching option of every task when set.
	EnableCaching  *bool
	ServiceAccount string
}

// CreateRunFromPipelinePackage uploads the pipeline in req.PipelineFile as a
// new run of the requested experiment.
func (c *Client) CreateRunFromPipelinePackage(ctx context.Context, req RunRequest) (run *Run, err error) {
	ctx, span := tracing.Start(ctx, "kfp.create_run_from_pipeline_package", tracing.Target(Target))
	defer tracing.End(span, &err)

	doc, err := pipeline.Load(req.PipelineFile)
	if err != nil {
		return nil, err
	}
	if req.EnableCaching != nil {
		tasks, err := component.Tasks(doc)
		if err != nil {
			return nil, err
		}
		if err := component.Caching(*req.EnableCaching).ApplyAll(tasks); err != nil {
			return nil, err
		}
	}

	spec, err := buildPipelineSpec(doc, req)
	if err != nil {
		return nil, err
	}

	name := pipelineName(doc)
	runName := req.RunName
	if runName == "" {
		runName = name + " " + c.now().Format(runNameLayout)
	}
	span.SetAttributes(tracing.Pipeline(name), tracing.RunName(runName))

	exp, err := c.EnsureExperiment(ctx, req.ExperimentName, req.Namespace)
	if err != nil {
		return nil, err
	}

	body := apiRun{
		Name:         runName,
		PipelineSpec: spec,
		ResourceReferences: []resourceReference{{
			Key:          resourceKey{Type: "EXPERIMENT", ID: exp.ID},
			Relationship: "OWNER",
		}},
		ServiceAccount: req.ServiceAccount,
	}
	var detail runDetail
	if err := c.doJSON(ctx, http.MethodPost, "/apis/v1beta1/runs", "create run", body, &detail); err != nil {
		return nil, err
	}

	run = &Run{
		ID:           detail.Run.ID,
		Name:         detail.Run.Name,
		ExperimentID: exp.ID,
		URL:          c.baseURL + "/#/runs/details/" + detail.Run.ID,
	}
	if run.Name == "" {
		run.Name = runName
	}
	c.logger.InfoContext(ctx, "run created",
		"target", Target, "pipeline", name, "run_name", run.Name, "run_id", run.ID, "experiment", exp.Name)
	return run, nil
}

func buildPipelineSpec(doc *pipeline.Document, req RunRequest) (pipelineSpec, error) {
	switch doc.Schema {
	case pipeline.SchemaLegacy:
		manifest, err := compactJSON(doc.Root)
		if err != nil {
			return pipelineSpec{}, fmt.Errorf("%s: %w", doc.Path, err)
		}
		params, err := legacyParameters(req.Arguments, req.PipelineRoot)
		if err != nil {
			return pipelineSpec{}, err
		}
		return pipelineSpec{WorkflowManifest: manifest, Parameters: params}, nil
	case pipeline.SchemaModern:
		ir, _ := yamlnode.Lookup(doc.Root, "pipelineSpec")
		manifest, err := compactJSON(ir)
		if err != nil {
			return pipelineSpec{}, fmt.Errorf("%s: %w", doc.Path, err)
		}
		rc := &runtimeConfig{PipelineRoot: req.PipelineRoot}
		if len(req.Arguments) > 0 {
			rc.Parameters = make(map[string]any, len(req.Arguments))
			for k, v := range req.Arguments {
				rc.Parameters[k] = plain(v)
			}
		}
		return pipelineSpec{PipelineManifest: manifest, RuntimeConfig: rc}, nil
	default:
		return pipelineSpec{}, &pipeline.SchemaError{Path: doc.Path}
	}
}

// legacyParameters renders arguments as name/value pairs sorted by name.
func legacyParameters(args map[string]any, root string) ([]parameter, error) {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]parameter, 0, len(args)+1)
	for _, k := range names {
		if k == RootParameter && root != "" {
			continue
		}
		v, err := FormatArgument(args[k])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", k, err)
		}
		out = append(out, parameter{Name: k, Value: v})
	}
	if root != "" {
		out = append(out, parameter{Name: RootParameter, Value: root})
	}
	return out, nil
}

// FormatArgument renders an argument the way the API server expects legacy
// parameter values: scalars as their literal, lists and maps as JSON.
func FormatArgument(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case pipeline.Value:
		return x.String(), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return pipeline.FloatValue(x).String(), nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func plain(v any) any {
	if pv, ok := v.(pipeline.Value); ok {
		return pv.Interface()
	}
	return v
}

func compactJSON(n *yaml.Node) (string, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// pipelineName falls back to the file name when the artifact carries no
// usable name.
func pipelineName(doc *pipeline.Document) string {
	if p, err := (&pipeline.Parser{}).Extract(doc); err == nil && p.Name != "" {
		return p.Name
	}
	return filepath.Base(doc.Path)
}
