// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vertex submits compiled pipelines to Vertex AI Pipelines.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/flowd-org/kfpt/internal/component"
	"github.com/flowd-org/kfpt/internal/logging"
	"github.com/flowd-org/kfpt/internal/observability/tracing"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/yamlnode"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// Target names this backend in logs and history.
const Target = "vertex"

// DefaultLocation is used when no region is configured.
const DefaultLocation = "us-central1"

// ProjectEnv is consulted when no project is configured.
const ProjectEnv = "GOOGLE_CLOUD_PROJECT"

const jobIDLayout = "20060102150405"

var jobIDInvalid = regexp.MustCompile(`[^-0-9a-z]+`)

// JobConfig describes a pipeline job built from a compiled template.
type JobConfig struct {
	// DisplayName defaults to the pipeline name.
	DisplayName  string
	TemplatePath string
	// JobID defaults to the sanitised pipeline name plus a timestamp.
	JobID        string
	PipelineRoot string
	// ParameterValues override the template's runtime defaults.
	ParameterValues       map[string]any
	EnableCaching         *bool
	EncryptionSpecKeyName string
	Labels                map[string]string
	Project               string
	Location              string
}

// Option configures a PipelineJob.
type Option func(*jobOptions) error

type jobOptions struct {
	factory    ClientFactory
	clientOpts []option.ClientOption
	logger     *slog.Logger
	now        func() time.Time
}

// WithClient submits through c instead of dialing the service.
func WithClient(c JobClient) Option {
	return func(o *jobOptions) error {
		if c == nil {
			return errors.New("vertex: nil client")
		}
		o.factory = func(context.Context, string, ...option.ClientOption) (JobClient, error) {
			return c, nil
		}
		return nil
	}
}

// WithClientFactory overrides how the service client is opened.
func WithClientFactory(f ClientFactory) Option {
	return func(o *jobOptions) error {
		o.factory = f
		return nil
	}
}

// WithClientOptions passes extra options to the service client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *jobOptions) error {
		o.clientOpts = append(o.clientOpts, opts...)
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *jobOptions) error {
		o.logger = l
		return nil
	}
}

// WithNow sets the clock used for generated job ids.
func WithNow(now func() time.Time) Option {
	return func(o *jobOptions) error {
		o.now = now
		return nil
	}
}

// PipelineJob is a pipeline job ready to be submitted.
type PipelineJob struct {
	displayName  string
	jobID        string
	pipelineName string
	pipelineRoot string
	project      string
	location     string
	encryptKey   string
	labels       map[string]string

	spec   *structpb.Struct
	values map[string]*structpb.Value
	typed  map[string]*aiplatformpb.Value
	// modernValues selects ParameterValues over typed Parameters.
	modernValues bool

	name string

	opts jobOptions
}

// NewPipelineJob reads cfg.TemplatePath and resolves every job setting. The
// template is either a compiled job ({pipelineSpec, runtimeConfig}) or a bare
// pipeline spec.
func NewPipelineJob(cfg JobConfig, opts ...Option) (*PipelineJob, error) {
	o := jobOptions{factory: NewJobClient}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.logger == nil {
		o.logger = logging.New("vertex")
	}
	if o.now == nil {
		o.now = time.Now
	}

	doc, ir, runtime, err := loadTemplate(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	decl, err := (&pipeline.Parser{Logger: o.logger}).Extract(doc)
	if err != nil {
		return nil, err
	}

	if cfg.EnableCaching != nil {
		if err := component.Caching(*cfg.EnableCaching).ApplyAll(component.ModernTasks(ir)); err != nil {
			return nil, err
		}
	}

	j := &PipelineJob{
		displayName:  cfg.DisplayName,
		jobID:        cfg.JobID,
		pipelineName: decl.Name,
		pipelineRoot: cfg.PipelineRoot,
		project:      cfg.Project,
		location:     cfg.Location,
		encryptKey:   cfg.EncryptionSpecKeyName,
		opts:         o,
	}
	if j.displayName == "" {
		j.displayName = decl.Name
	}
	if j.jobID == "" {
		j.jobID = GenerateJobID(decl.Name, o.now())
	}
	if j.pipelineRoot == "" {
		out, _ := yamlnode.Lookup(runtime, "gcsOutputDirectory")
		j.pipelineRoot = yamlnode.Scalar(out)
	}
	if j.pipelineRoot == "" {
		def, _ := yamlnode.Lookup(ir, "defaultPipelineRoot")
		j.pipelineRoot = yamlnode.Scalar(def)
	}
	if j.project == "" {
		j.project = os.Getenv(ProjectEnv)
	}
	if j.project == "" {
		return nil, fmt.Errorf("vertex: project is not set: configure a project or set %s", ProjectEnv)
	}
	if j.location == "" {
		j.location = DefaultLocation
	}
	if len(cfg.Labels) > 0 {
		j.labels = make(map[string]string, len(cfg.Labels))
		for k, v := range cfg.Labels {
			j.labels[k] = v
		}
	}

	for name := range cfg.ParameterValues {
		if _, ok := decl.Parameter(name); !ok {
			return nil, fmt.Errorf("vertex: parameter %s is not declared by pipeline %s", name, decl.Name)
		}
	}
	version, _ := yamlnode.Lookup(ir, "schemaVersion")
	j.modernValues = SchemaAtLeast(yamlnode.Scalar(version), 2, 1)
	if j.modernValues {
		j.values, err = parameterValues(decl, runtime, cfg.ParameterValues)
	} else {
		j.typed, err = typedParameters(decl, cfg.ParameterValues)
	}
	if err != nil {
		return nil, err
	}

	var spec map[string]any
	if err := ir.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.TemplatePath, err)
	}
	if j.spec, err = structpb.NewStruct(spec); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.TemplatePath, err)
	}
	return j, nil
}

// loadTemplate returns the template as a modern document together with its
// pipeline spec and runtime config nodes.
func loadTemplate(path string) (*pipeline.Document, *yaml.Node, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	top := yamlnode.Content(&root)

	if pipeline.Classify(top) == pipeline.SchemaModern {
		ir, _ := yamlnode.Lookup(top, "pipelineSpec")
		runtime, _ := yamlnode.Lookup(top, "runtimeConfig")
		doc := &pipeline.Document{Path: path, Root: top, Schema: pipeline.SchemaModern}
		return doc, yamlnode.Content(ir), yamlnode.Content(runtime), nil
	}

	_, hasInfo := yamlnode.Lookup(top, "pipelineInfo")
	_, hasRoot := yamlnode.Lookup(top, "root")
	if !yamlnode.IsMapping(top) || !hasInfo || !hasRoot {
		return nil, nil, nil, &pipeline.SchemaError{Path: path}
	}
	runtime := yamlnode.Mapping()
	wrapped := yamlnode.Mapping()
	yamlnode.Set(wrapped, "pipelineSpec", top)
	yamlnode.Set(wrapped, "runtimeConfig", runtime)
	doc := &pipeline.Document{Path: path, Root: wrapped, Schema: pipeline.SchemaModern}
	return doc, top, runtime, nil
}

// GenerateJobID derives a job id from a pipeline name: lower case, runs of
// characters outside [-0-9a-z] replaced by "-", plus a timestamp.
func GenerateJobID(pipelineName string, now time.Time) string {
	base := jobIDInvalid.ReplaceAllString(strings.ToLower(pipelineName), "-")
	base = strings.Trim(base, "-")
	return base + "-" + now.Format(jobIDLayout)
}

// SchemaAtLeast reports whether a dotted schema version is at least
// major.minor. Unparsable versions compare as 0.0.
func SchemaAtLeast(version string, major, minor int) bool {
	parts := strings.SplitN(version, ".", 3)
	num := func(i int) int {
		if i >= len(parts) {
			return 0
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0
		}
		return n
	}
	if num(0) != major {
		return num(0) > major
	}
	return num(1) >= minor
}

// DisplayName returns the job display name.
func (j *PipelineJob) DisplayName() string { return j.displayName }

// JobID returns the job id sent with the request.
func (j *PipelineJob) JobID() string { return j.jobID }

// PipelineRoot returns the resolved output directory.
func (j *PipelineJob) PipelineRoot() string { return j.pipelineRoot }

// Parent returns the project/location the job is created in.
func (j *PipelineJob) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", j.project, j.location)
}

// Name returns the job resource name: as assigned by the service once
// submitted, otherwise the name the job will get.
func (j *PipelineJob) Name() string {
	if j.name != "" {
		return j.name
	}
	return j.Parent() + "/pipelineJobs/" + j.jobID
}

// Request builds the create request. Every call returns an independent copy.
func (j *PipelineJob) Request(serviceAccount, network string) *aiplatformpb.CreatePipelineJobRequest {
	rc := &aiplatformpb.PipelineJob_RuntimeConfig{GcsOutputDirectory: j.pipelineRoot}
	if j.modernValues {
		rc.ParameterValues = make(map[string]*structpb.Value, len(j.values))
		for k, v := range j.values {
			rc.ParameterValues[k] = proto.Clone(v).(*structpb.Value)
		}
	} else {
		rc.Parameters = make(map[string]*aiplatformpb.Value, len(j.typed))
		for k, v := range j.typed {
			rc.Parameters[k] = proto.Clone(v).(*aiplatformpb.Value)
		}
	}

	job := &aiplatformpb.PipelineJob{
		DisplayName:    j.displayName,
		PipelineSpec:   proto.Clone(j.spec).(*structpb.Struct),
		RuntimeConfig:  rc,
		ServiceAccount: serviceAccount,
		Network:        network,
	}
	if len(j.labels) > 0 {
		job.Labels = make(map[string]string, len(j.labels))
		for k, v := range j.labels {
			job.Labels[k] = v
		}
	}
	if j.encryptKey != "" {
		job.EncryptionSpec = &aiplatformpb.EncryptionSpec{KmsKeyName: j.encryptKey}
	}
	return &aiplatformpb.CreatePipelineJobRequest{
		Parent:        j.Parent(),
		PipelineJob:   job,
		PipelineJobId: j.jobID,
	}
}

// Submit creates the job. Service errors are returned unchanged.
func (j *PipelineJob) Submit(ctx context.Context, serviceAccount, network string) (err error) {
	ctx, span := tracing.Start(ctx, "vertex.create_pipeline_job",
		tracing.Target(Target), tracing.Pipeline(j.pipelineName), tracing.RunName(j.jobID))
	defer tracing.End(span, &err)

	client, err := j.opts.factory(ctx, j.location, j.opts.clientOpts...)
	if err != nil {
		return err
	}
	defer client.Close()

	req := j.Request(serviceAccount, network)
	j.opts.logger.DebugContext(ctx, "creating pipeline job", "parent", req.GetParent(), "job_id", j.jobID)
	resp, err := client.CreatePipelineJob(ctx, req)
	if err != nil {
		j.opts.logger.ErrorContext(ctx, "create pipeline job failed",
			"job_id", j.jobID, "code", status.Code(err).String())
		return err
	}
	j.name = resp.GetName()
	j.opts.logger.InfoContext(ctx, "pipeline job created",
		"target", Target, "pipeline", j.pipelineName, "run_name", j.jobID, "name", j.Name(),
		"console", j.ConsoleURL())
	return nil
}

// ConsoleURL links to the job in the Cloud console.
func (j *PipelineJob) ConsoleURL() string {
	return fmt.Sprintf("https://console.cloud.google.com/vertex-ai/locations/%s/pipelines/runs/%s?project=%s",
		j.location, j.jobID, j.project)
}
