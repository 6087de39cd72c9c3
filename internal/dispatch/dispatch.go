// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch routes a submission to the on-cluster pipelines API server
// or to Vertex AI Pipelines.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/flowd-org/kfpt/internal/kfp"
	"github.com/flowd-org/kfpt/internal/logging"
	"github.com/flowd-org/kfpt/internal/observability/tracing"
	"github.com/flowd-org/kfpt/internal/vertex"
)

// ExperimentLabel carries the experiment name of managed jobs.
const ExperimentLabel = "experiment"

// Request is everything either backend may need for one submission. An
// empty Endpoint selects the managed backend.
type Request struct {
	PipelineFile string
	Arguments    map[string]any

	// On-cluster connection.
	Endpoint          string
	IAPClientID       string
	APINamespace      string
	OtherClientID     string
	OtherClientSecret string

	RunName        string
	ExperimentName string
	Namespace      string
	PipelineRoot   string
	EnableCaching  *bool
	ServiceAccount string

	// Managed job settings.
	EncryptionSpecKeyName string
	Labels                map[string]string
	Project               string
	Location              string
	Network               string
}

// Target names the backend the request is routed to.
func (r Request) Target() string {
	if r.Endpoint != "" {
		return kfp.Target
	}
	return vertex.Target
}

// JobLabels returns the managed job labels with the experiment label merged
// in when an experiment is named.
func (r Request) JobLabels() map[string]string {
	if r.ExperimentName == "" {
		return r.Labels
	}
	out := make(map[string]string, len(r.Labels)+1)
	for k, v := range r.Labels {
		out[k] = v
	}
	out[ExperimentLabel] = r.ExperimentName
	return out
}

// Result identifies what was created.
type Result struct {
	Target string `json:"target"`
	// RunName is the run name or the job id.
	RunName string `json:"run_name"`
	// ID is the run id or the job resource name.
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// RunClient creates runs on the pipelines API server.
type RunClient interface {
	CreateRunFromPipelinePackage(ctx context.Context, req kfp.RunRequest) (*kfp.Run, error)
}

// PipelineJob is a managed job ready to submit.
type PipelineJob interface {
	Submit(ctx context.Context, serviceAccount, network string) error
	JobID() string
	Name() string
	ConsoleURL() string
}

// Dispatcher submits requests. Nil constructor fields use the real backends.
type Dispatcher struct {
	NewRunClient   func(ctx context.Context, cfg kfp.ClientConfig) (RunClient, error)
	NewPipelineJob func(cfg vertex.JobConfig) (PipelineJob, error)
	Logger         *slog.Logger
}

// New returns a Dispatcher wired to the real backends.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		NewRunClient:   newRunClient,
		NewPipelineJob: newPipelineJob,
		Logger:         logger,
	}
}

func newRunClient(ctx context.Context, cfg kfp.ClientConfig) (RunClient, error) {
	return kfp.NewClient(ctx, cfg)
}

func newPipelineJob(cfg vertex.JobConfig) (PipelineJob, error) {
	return vertex.NewPipelineJob(cfg)
}

// Submit makes exactly one outbound call. Errors from the backends are
// returned as they are.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (res Result, err error) {
	target := req.Target()
	ctx, span := tracing.Start(ctx, "dispatch.submit", tracing.Target(target))
	defer tracing.End(span, &err)

	d.logger().InfoContext(ctx, "submitting pipeline",
		"target", target, "pipeline_file", req.PipelineFile, "run_name", req.RunName)

	if target == kfp.Target {
		return d.submitRun(ctx, req)
	}
	return d.submitJob(ctx, req)
}

func (d *Dispatcher) submitRun(ctx context.Context, req Request) (Result, error) {
	namespace := req.APINamespace
	if namespace == "" {
		namespace = kfp.DefaultNamespace
	}
	newClient := d.NewRunClient
	if newClient == nil {
		newClient = newRunClient
	}
	client, err := newClient(ctx, kfp.ClientConfig{
		Host:              req.Endpoint,
		ClientID:          req.IAPClientID,
		Namespace:         namespace,
		OtherClientID:     req.OtherClientID,
		OtherClientSecret: req.OtherClientSecret,
	})
	if err != nil {
		return Result{}, err
	}
	run, err := client.CreateRunFromPipelinePackage(ctx, kfp.RunRequest{
		PipelineFile:   req.PipelineFile,
		Arguments:      req.Arguments,
		RunName:        req.RunName,
		ExperimentName: req.ExperimentName,
		Namespace:      req.Namespace,
		PipelineRoot:   req.PipelineRoot,
		EnableCaching:  req.EnableCaching,
		ServiceAccount: req.ServiceAccount,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Target: kfp.Target, RunName: run.Name, ID: run.ID, URL: run.URL}, nil
}

func (d *Dispatcher) submitJob(ctx context.Context, req Request) (Result, error) {
	newJob := d.NewPipelineJob
	if newJob == nil {
		newJob = newPipelineJob
	}
	job, err := newJob(vertex.JobConfig{
		TemplatePath:          req.PipelineFile,
		JobID:                 req.RunName,
		PipelineRoot:          req.PipelineRoot,
		ParameterValues:       req.Arguments,
		EnableCaching:         req.EnableCaching,
		EncryptionSpecKeyName: req.EncryptionSpecKeyName,
		Labels:                req.JobLabels(),
		Project:               req.Project,
		Location:              req.Location,
	})
	if err != nil {
		return Result{}, err
	}
	if err := job.Submit(ctx, req.ServiceAccount, req.Network); err != nil {
		return Result{}, err
	}
	return Result{Target: vertex.Target, RunName: job.JobID(), ID: job.Name(), URL: job.ConsoleURL()}, nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.New("dispatch")
}
