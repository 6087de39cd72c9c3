package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowd-org/kfpt/internal/coredb"
	"github.com/flowd-org/kfpt/internal/dispatch"
	"github.com/flowd-org/kfpt/internal/events"
	"github.com/flowd-org/kfpt/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoPipeline = `{
  "pipelineSpec": {
    "components": {"comp-echo": {"executorLabel": "exec-echo"}},
    "deploymentSpec": {"executors": {"exec-echo": {"container": {"image": "alpine"}}}},
    "pipelineInfo": {"name": "echo"},
    "root": {
      "dag": {"tasks": {"echo": {"componentRef": {"name": "comp-echo"}, "taskInfo": {"name": "echo"}}}},
      "inputDefinitions": {"parameters": {
        "no_default_param": {"type": "INT"},
        "str_param": {"type": "STRING"}
      }}
    },
    "schemaVersion": "2.0.0"
  },
  "runtimeConfig": {"parameters": {"str_param": {"stringValue": "hi"}}}
}`

type fakeSubmitter struct {
	reqs []dispatch.Request
	res  dispatch.Result
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type env struct {
	t        *testing.T
	dir      string
	dataDir  string
	pipeline string
	sub      *fakeSubmitter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("KFPT_ENDPOINT", "")
	path := filepath.Join(dir, "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(echoPipeline), 0o644))
	return &env{
		t:        t,
		dir:      dir,
		dataDir:  filepath.Join(dir, "data"),
		pipeline: path,
		sub: &fakeSubmitter{res: dispatch.Result{
			Target:  "kfp",
			RunName: "r1",
			ID:      "run-1",
			URL:     "http://kfp/#/runs/details/run-1",
		}},
	}
}

func (e *env) run(args ...string) (string, string, int) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--data-dir", e.dataDir}, args...)
	code := run(context.Background(), args, &stdout, &stderr, Deps{Submitter: e.sub, WorkDir: e.dir})
	return stdout.String(), stderr.String(), code
}

func TestSubmitRequiresPipelineFile(t *testing.T) {
	e := newEnv(t)
	_, stderr, code := e.run("submit")
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: The --pipeline-file option must be specified.\n", stderr)
	assert.Empty(t, e.sub.reqs)
}

func TestSubmitRejectsLabelWithoutColon(t *testing.T) {
	e := newEnv(t)
	_, stderr, code := e.run("submit", "-f", e.pipeline, "-l", "team")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "The --label value must be contained a colon.: team")
}

func TestSubmitOnCluster(t *testing.T) {
	e := newEnv(t)
	stdout, stderr, code := e.run("submit", "-f", e.pipeline,
		"--endpoint", "http://kfp", "--run-name", "r1", "-l", "team:ml", "--no-caching",
		"--", "--no-default-param", "5")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Submitted kfp run r1")
	assert.Contains(t, stdout, "URL: http://kfp/#/runs/details/run-1")

	require.Len(t, e.sub.reqs, 1)
	req := e.sub.reqs[0]
	assert.Equal(t, "http://kfp", req.Endpoint)
	assert.Equal(t, "kubeflow", req.APINamespace)
	assert.Equal(t, "r1", req.RunName)
	assert.Equal(t, map[string]any{"no_default_param": int64(5), "str_param": "hi"}, req.Arguments)
	assert.Equal(t, map[string]string{"team": "ml"}, req.Labels)
	require.NotNil(t, req.EnableCaching)
	assert.False(t, *req.EnableCaching)

	stdout, _, code = e.run(":history", "--json")
	require.Equal(t, 0, code)
	var subs []coredb.Submission
	require.NoError(t, json.Unmarshal([]byte(stdout), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "kfp", subs[0].Target)
	assert.Equal(t, "echo", subs[0].Pipeline)
	assert.Equal(t, coredb.StatusSubmitted, subs[0].Status)
	assert.Equal(t, "run-1", subs[0].Resource)
	assert.Empty(t, subs[0].Labels)
}

func TestSubmitConfigFromEnvironment(t *testing.T) {
	e := newEnv(t)
	t.Setenv("KFPT_PROJECT", "env-project")
	t.Setenv("KFPT_HISTORY_ENABLED", "false")
	_, stderr, code := e.run("submit", "-f", e.pipeline, "--location", "europe-west4", "--", "--no-default-param", "1")
	require.Equal(t, 0, code, stderr)
	req := e.sub.reqs[0]
	assert.Equal(t, "vertex", req.Target())
	assert.Equal(t, "env-project", req.Project)
	assert.Equal(t, "europe-west4", req.Location)
	assert.Nil(t, req.EnableCaching)

	_, err := os.Stat(filepath.Join(e.dataDir, "kfpt.db"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "history disabled")
}

func TestSubmitMissingRequiredParameter(t *testing.T) {
	e := newEnv(t)
	_, stderr, code := e.run("submit", "-f", e.pipeline)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--no-default-param: required")
	assert.Empty(t, e.sub.reqs)
}

func TestSubmitRejectsArgumentsBeforeDash(t *testing.T) {
	e := newEnv(t)
	_, stderr, code := e.run("submit", "-f", e.pipeline, "stray")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unexpected arguments before --: stray")
}

func TestSubmitDryRun(t *testing.T) {
	e := newEnv(t)
	stdout, stderr, code := e.run("submit", "-f", e.pipeline, "--endpoint", "http://kfp",
		"--other-client-secret", "hunter2", "--dry-run", "--", "--no-default-param", "3")
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, e.sub.reqs)
	assert.NotContains(t, stdout, "hunter2")

	var plan types.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, "kfp", plan.Target)
	assert.Equal(t, "echo", plan.Pipeline)
	assert.Equal(t, "[secret]", plan.Client["other_client_secret"])
	assert.Equal(t, float64(3), plan.Arguments["no_default_param"])
	require.Len(t, plan.Parameters, 2)
	assert.True(t, plan.Parameters[0].Required)
}

func TestSubmitFailureIsRecordedAndRedacted(t *testing.T) {
	e := newEnv(t)
	e.sub.err = errors.New("create run: HTTP 403: bad secret hunter2")
	_, stderr, code := e.run("submit", "-f", e.pipeline, "--endpoint", "http://kfp",
		"--other-client-secret", "hunter2", "--", "--no-default-param", "3")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "bad secret [secret]")
	assert.NotContains(t, stderr, "hunter2")

	stdout, _, code := e.run(":history", "--json")
	require.Equal(t, 0, code)
	var subs []coredb.Submission
	require.NoError(t, json.Unmarshal([]byte(stdout), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, coredb.StatusFailed, subs[0].Status)
	assert.Equal(t, "create run: HTTP 403: bad secret [secret]", subs[0].Error)
}

func TestSubmitJSONEvents(t *testing.T) {
	e := newEnv(t)
	stdout, stderr, code := e.run("submit", "-f", e.pipeline, "--endpoint", "http://kfp",
		"--events", "json", "--", "--no-default-param", "2")
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "Submitted")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	var finish events.SubmitEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &finish))
	assert.Equal(t, events.TypeSubmitFinish, finish.Type)
	assert.Equal(t, "run-1", finish.ID)
	assert.Equal(t, events.StatusSubmitted, finish.Status)

	_, stderr, code = e.run("submit", "-f", e.pipeline, "--events", "xml", "--", "--no-default-param", "2")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unsupported format "xml"`)
}

func TestSubmitHelpListsPipelineParameters(t *testing.T) {
	e := newEnv(t)
	stdout, _, code := e.run("submit", "-f", e.pipeline, "--help")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Pipeline parameters (echo):")
	assert.Contains(t, stdout, "--no-default-param int")
	assert.Contains(t, stdout, "[required]")
	assert.Contains(t, stdout, "[default: hi]")
}

func TestParamsCommand(t *testing.T) {
	e := newEnv(t)
	stdout, stderr, code := e.run(":params", "-f", e.pipeline)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Pipeline: echo")
	assert.Contains(t, stdout, "Schema: modern")
	assert.Contains(t, stdout, "--no-default-param")
	assert.Contains(t, stdout, "(required)")

	stdout, _, code = e.run(":params", "-f", e.pipeline, "--json")
	require.Equal(t, 0, code)
	var view paramsView
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.Equal(t, "echo", view.Name)
	require.Len(t, view.Parameters, 2)
	assert.Equal(t, "hi", view.Parameters[1].Default)

	bad := filepath.Join(e.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("kind: Other\n"), 0o644))
	_, stderr, code = e.run(":params", "-f", bad)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: invalid schema: "+bad+"\n", stderr)
}

func TestAnnotateCommand(t *testing.T) {
	e := newEnv(t)
	stdout, _, code := e.run(":annotate", "-f", e.pipeline, "--list")
	require.Equal(t, 0, code)
	assert.Equal(t, "echo\n", stdout)

	out := filepath.Join(e.dir, "annotated.json")
	_, stderr, code := e.run(":annotate", "-f", e.pipeline, "--task", "echo", "--cpu", "500m", "--no-caching", "-o", out)
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cpuLimit": 0.5`)
	assert.Contains(t, string(data), `"enableCache": false`)

	_, stderr, code = e.run(":annotate", "-f", e.pipeline, "--task", "echo", "--cpu", "lots")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid cpu quantity")

	_, stderr, code = e.run(":annotate", "-f", e.pipeline, "--task", "echo")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nothing to apply")
}

func TestHistoryEmpty(t *testing.T) {
	e := newEnv(t)
	stdout, _, code := e.run(":history")
	require.Equal(t, 0, code)
	assert.Equal(t, "(no submissions recorded)\n", stdout)

	stdout, _, code = e.run(":history", "--stats", "--json")
	require.Equal(t, 0, code)
	var st coredb.StorageStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.True(t, st.OK)
	assert.EqualValues(t, 0, st.Submissions)
}

func TestInitCommand(t *testing.T) {
	e := newEnv(t)
	target := filepath.Join(e.dir, "project")
	_, stderr, code := e.run("init", target)
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(filepath.Join(target, "kfpt.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_namespace: kubeflow")

	_, stderr, code = e.run("init", target)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	_, _, code = e.run("init", target, "--force")
	assert.Equal(t, 0, code)
}

func TestCompletionCommand(t *testing.T) {
	e := newEnv(t)
	stdout, _, code := e.run("completion", "bash")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "kfpt")

	_, _, code = e.run("completion", "tcsh")
	assert.Equal(t, 1, code)
}
