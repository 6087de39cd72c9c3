package configloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowd-org/kfpt/internal/paths"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KFPT_DATA_DIR", "")
	t.Cleanup(func() { paths.SetDataDirOverride("") })
	return t.TempDir()
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(Options{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "kubeflow", cfg.APINamespace)
	assert.Equal(t, "us-central1", cfg.Location)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 500, cfg.History.Keep)
	assert.False(t, cfg.Parser.Strict)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_ProjectFileEnvAndFlags(t *testing.T) {
	dir := isolate(t)
	body := `endpoint: https://kfp.example.com
namespace: team-a
project: file-project
parser:
  strict: true
history:
  keep: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte(body), 0o644))
	t.Setenv("KFPT_PROJECT", "env-project")
	t.Setenv("KFPT_HISTORY_ENABLED", "false")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("namespace", "", "")
	fs.String("location", "", "")
	require.NoError(t, fs.Parse([]string{"--namespace", "team-b"}))

	cfg, err := Load(Options{
		WorkDir: dir,
		Flags: map[string]*pflag.Flag{
			"namespace": fs.Lookup("namespace"),
			"location":  fs.Lookup("location"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://kfp.example.com", cfg.Endpoint)
	assert.Equal(t, "team-b", cfg.Namespace, "set flag wins over file")
	assert.Equal(t, "us-central1", cfg.Location, "unset flag does not mask the default")
	assert.Equal(t, "env-project", cfg.Project, "env wins over file")
	assert.True(t, cfg.Parser.Strict)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 10, cfg.History.Keep)
}

func TestLoad_UserConfigDir(t *testing.T) {
	dir := isolate(t)
	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "kfpt")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, UserFile), []byte("network: projects/1/global/networks/n\n"), 0o644))

	cfg, err := Load(Options{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "projects/1/global/networks/n", cfg.Network)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := Load(Options{ConfigFile: filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
}

func TestLoad_DataDirPinsPaths(t *testing.T) {
	dir := isolate(t)
	data := filepath.Join(dir, "state")
	t.Setenv("KFPT_DATA_DIR", data)

	cfg, err := Load(Options{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, data, cfg.DataDir)
	assert.Equal(t, data, paths.DataDir())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := isolate(t)
	t.Setenv("KFPT_LOG_FORMAT", "xml")
	_, err := Load(Options{WorkDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")

	t.Setenv("KFPT_LOG_FORMAT", "json")
	t.Setenv("KFPT_HISTORY_KEEP", "-1")
	_, err = Load(Options{WorkDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.keep")
}

func TestStarter(t *testing.T) {
	out, err := Starter()
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, yaml.Unmarshal(out, &round))
	assert.Equal(t, "kubeflow", round["api_namespace"])
	assert.Equal(t, "us-central1", round["location"])
	assert.Contains(t, round, "parser")
}
