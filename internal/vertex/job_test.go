package vertex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const typedTemplate = `{
  "pipelineSpec": {
    "components": {"comp-echo": {"executorLabel": "exec-echo"}},
    "deploymentSpec": {"executors": {"exec-echo": {"container": {"image": "python:3.7"}}}},
    "pipelineInfo": {"name": "Echo Pipeline_v1"},
    "root": {
      "dag": {"tasks": {"echo": {"componentRef": {"name": "comp-echo"}, "taskInfo": {"name": "echo"}}}},
      "inputDefinitions": {"parameters": {
        "int_param": {"type": "INT"},
        "float_param": {"type": "DOUBLE"},
        "str_param": {"type": "STRING"}
      }}
    },
    "schemaVersion": "2.0.0",
    "defaultPipelineRoot": "gs://default/root"
  },
  "runtimeConfig": {
    "gcsOutputDirectory": "gs://template/root",
    "parameters": {"int_param": {"intValue": "1"}, "str_param": {"stringValue": "abc"}}
  }
}`

const valuesTemplate = `{
  "pipelineSpec": {
    "pipelineInfo": {"name": "echo"},
    "root": {
      "dag": {"tasks": {}},
      "inputDefinitions": {"parameters": {
        "count": {"parameterType": "NUMBER_INTEGER"},
        "items": {"parameterType": "LIST"}
      }}
    },
    "schemaVersion": "2.1.0",
    "defaultPipelineRoot": "gs://default/root"
  },
  "runtimeConfig": {"parameterValues": {"count": 2, "items": ["a", "b"]}}
}`

const bareIR = `pipelineInfo: {name: bare}
root:
  dag: {tasks: {}}
schemaVersion: 2.1.0
`

type fakeClient struct {
	reqs   []*aiplatformpb.CreatePipelineJobRequest
	err    error
	closed bool
}

func (f *fakeClient) CreatePipelineJob(_ context.Context, req *aiplatformpb.CreatePipelineJobRequest, _ ...gax.CallOption) (*aiplatformpb.PipelineJob, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &aiplatformpb.PipelineJob{Name: req.GetParent() + "/pipelineJobs/" + req.GetPipelineJobId()}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

var fixedNow = time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

func writeTemplate(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewPipelineJobDefaults(t *testing.T) {
	t.Setenv(ProjectEnv, "env-project")
	job, err := NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "p.json", typedTemplate)},
		WithNow(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	assert.Equal(t, "Echo Pipeline_v1", job.DisplayName())
	assert.Equal(t, "echo-pipeline-v1-20240305070809", job.JobID())
	assert.Equal(t, "gs://template/root", job.PipelineRoot())
	assert.Equal(t, "projects/env-project/locations/us-central1", job.Parent())
	assert.Equal(t, "projects/env-project/locations/us-central1/pipelineJobs/echo-pipeline-v1-20240305070809", job.Name())
}

func TestNewPipelineJobRequiresProject(t *testing.T) {
	t.Setenv(ProjectEnv, "")
	_, err := NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "p.json", typedTemplate)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ProjectEnv)
}

func TestPipelineRootPrecedence(t *testing.T) {
	path := writeTemplate(t, "p.json", typedTemplate)
	job, err := NewPipelineJob(JobConfig{TemplatePath: path, Project: "p", PipelineRoot: "gs://flag/root"})
	require.NoError(t, err)
	assert.Equal(t, "gs://flag/root", job.PipelineRoot())

	job, err = NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "v.json", valuesTemplate), Project: "p"})
	require.NoError(t, err)
	assert.Equal(t, "gs://default/root", job.PipelineRoot())
}

func TestRequestTypedParameters(t *testing.T) {
	disable := false
	job, err := NewPipelineJob(JobConfig{
		TemplatePath:          writeTemplate(t, "p.json", typedTemplate),
		JobID:                 "job-1",
		ParameterValues:       map[string]any{"float_param": int64(2), "int_param": int64(5)},
		EnableCaching:         &disable,
		EncryptionSpecKeyName: "projects/p/locations/l/keyRings/r/cryptoKeys/k",
		Labels:                map[string]string{"experiment": "nightly"},
		Project:               "proj",
		Location:              "europe-west4",
	})
	require.NoError(t, err)

	req := job.Request("sa@proj.iam.gserviceaccount.com", "projects/1/global/networks/vpc")
	assert.Equal(t, "projects/proj/locations/europe-west4", req.GetParent())
	assert.Equal(t, "job-1", req.GetPipelineJobId())

	pj := req.GetPipelineJob()
	assert.Equal(t, "Echo Pipeline_v1", pj.GetDisplayName())
	assert.Equal(t, "sa@proj.iam.gserviceaccount.com", pj.GetServiceAccount())
	assert.Equal(t, "projects/1/global/networks/vpc", pj.GetNetwork())
	assert.Equal(t, map[string]string{"experiment": "nightly"}, pj.GetLabels())
	assert.Equal(t, "projects/p/locations/l/keyRings/r/cryptoKeys/k", pj.GetEncryptionSpec().GetKmsKeyName())

	rc := pj.GetRuntimeConfig()
	assert.Equal(t, "gs://template/root", rc.GetGcsOutputDirectory())
	assert.Empty(t, rc.GetParameterValues())
	params := rc.GetParameters()
	require.Len(t, params, 3)
	assert.Equal(t, int64(5), params["int_param"].GetIntValue())
	assert.Equal(t, 2.0, params["float_param"].GetDoubleValue())
	assert.Equal(t, "abc", params["str_param"].GetStringValue())

	echo := pj.GetPipelineSpec().AsMap()["root"].(map[string]any)["dag"].(map[string]any)["tasks"].(map[string]any)["echo"].(map[string]any)
	assert.Equal(t, map[string]any{"enableCache": false}, echo["cachingOptions"])
}

func TestRequestParameterValues(t *testing.T) {
	job, err := NewPipelineJob(JobConfig{
		TemplatePath:    writeTemplate(t, "v.json", valuesTemplate),
		ParameterValues: map[string]any{"count": int64(7)},
		Project:         "proj",
	})
	require.NoError(t, err)

	rc := job.Request("", "").GetPipelineJob().GetRuntimeConfig()
	assert.Empty(t, rc.GetParameters())
	values := rc.GetParameterValues()
	assert.Equal(t, 7.0, values["count"].GetNumberValue())
	assert.Equal(t, []any{"a", "b"}, values["items"].AsInterface())
}

func TestRequestTaggedDefaultWinsOverParameterValues(t *testing.T) {
	const tmpl = `{
  "pipelineSpec": {
    "pipelineInfo": {"name": "echo"},
    "root": {
      "dag": {"tasks": {}},
      "inputDefinitions": {"parameters": {
        "count": {"parameterType": "NUMBER_INTEGER"},
        "items": {"parameterType": "LIST"}
      }}
    },
    "schemaVersion": "2.1.0"
  },
  "runtimeConfig": {
    "parameters": {"count": {"intValue": "3"}},
    "parameterValues": {"count": 9, "items": ["a"]}
  }
}`
	job, err := NewPipelineJob(JobConfig{
		TemplatePath: writeTemplate(t, "v.json", tmpl),
		Project:      "proj",
	})
	require.NoError(t, err)

	values := job.Request("", "").GetPipelineJob().GetRuntimeConfig().GetParameterValues()
	assert.Equal(t, 3.0, values["count"].GetNumberValue())
	assert.Equal(t, []any{"a"}, values["items"].AsInterface())
}

func TestRequestReturnsCopies(t *testing.T) {
	job, err := NewPipelineJob(JobConfig{
		TemplatePath: writeTemplate(t, "v.json", valuesTemplate),
		Labels:       map[string]string{"a": "b"},
		Project:      "proj",
	})
	require.NoError(t, err)

	first := job.Request("", "")
	first.GetPipelineJob().Labels["a"] = "changed"
	first.GetPipelineJob().GetRuntimeConfig().GetParameterValues()["count"] = nil
	second := job.Request("", "")
	assert.Equal(t, "b", second.GetPipelineJob().GetLabels()["a"])
	assert.Equal(t, 2.0, second.GetPipelineJob().GetRuntimeConfig().GetParameterValues()["count"].GetNumberValue())
}

func TestUndeclaredParameter(t *testing.T) {
	_, err := NewPipelineJob(JobConfig{
		TemplatePath:    writeTemplate(t, "v.json", valuesTemplate),
		ParameterValues: map[string]any{"nope": "x"},
		Project:         "proj",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestBareIRAccepted(t *testing.T) {
	job, err := NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "ir.yaml", bareIR), Project: "proj"},
		WithNow(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	assert.Equal(t, "bare-20240305070809", job.JobID())
	assert.Empty(t, job.PipelineRoot())
}

func TestInvalidTemplate(t *testing.T) {
	path := writeTemplate(t, "bad.yaml", "kind: Something\n")
	_, err := NewPipelineJob(JobConfig{TemplatePath: path, Project: "proj"})
	require.EqualError(t, err, "invalid schema: "+path)

	_, err = NewPipelineJob(JobConfig{TemplatePath: filepath.Join(t.TempDir(), "missing.json"), Project: "proj"})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSubmit(t *testing.T) {
	fake := &fakeClient{}
	var gotLocation string
	job, err := NewPipelineJob(JobConfig{
		TemplatePath: writeTemplate(t, "v.json", valuesTemplate),
		JobID:        "job-1",
		Project:      "proj",
		Location:     "asia-east1",
	}, WithClientFactory(func(_ context.Context, location string, _ ...option.ClientOption) (JobClient, error) {
		gotLocation = location
		return fake, nil
	}))
	require.NoError(t, err)

	require.NoError(t, job.Submit(context.Background(), "sa", "net"))
	assert.Equal(t, "asia-east1", gotLocation)
	assert.True(t, fake.closed)
	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "sa", fake.reqs[0].GetPipelineJob().GetServiceAccount())
	assert.Equal(t, "projects/proj/locations/asia-east1/pipelineJobs/job-1", job.Name())
}

func TestSubmitReturnsServiceErrorUnchanged(t *testing.T) {
	want := status.Error(codes.PermissionDenied, "no access")
	job, err := NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "v.json", valuesTemplate), Project: "proj"},
		WithClient(&fakeClient{err: want}))
	require.NoError(t, err)

	err = job.Submit(context.Background(), "", "")
	assert.Same(t, want, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	boom := errors.New("dial failed")
	job, err = NewPipelineJob(JobConfig{TemplatePath: writeTemplate(t, "v.json", valuesTemplate), Project: "proj"},
		WithClientFactory(func(context.Context, string, ...option.ClientOption) (JobClient, error) { return nil, boom }))
	require.NoError(t, err)
	assert.Same(t, boom, job.Submit(context.Background(), "", ""))
}

func TestSchemaAtLeast(t *testing.T) {
	assert.True(t, SchemaAtLeast("2.1.0", 2, 1))
	assert.True(t, SchemaAtLeast("3.0.0", 2, 1))
	assert.False(t, SchemaAtLeast("2.0.0", 2, 1))
	assert.False(t, SchemaAtLeast("", 2, 1))
	assert.Equal(t, "x-y-20240305070809", GenerateJobID("--X  y!", fixedNow))
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "us-central1-aiplatform.googleapis.com:443", Endpoint(DefaultLocation))
}
