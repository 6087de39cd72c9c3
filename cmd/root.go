// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/flowd-org/kfpt/internal/configloader"
	"github.com/flowd-org/kfpt/internal/coredb"
	"github.com/flowd-org/kfpt/internal/dispatch"
	"github.com/flowd-org/kfpt/internal/logging"
	"github.com/flowd-org/kfpt/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Submitter sends a request to a pipeline backend.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Deps are the collaborators commands use. Zero values select the real ones.
type Deps struct {
	Submitter Submitter
	// OpenDB opens the submission history.
	OpenDB func(ctx context.Context, opts coredb.Options) (*coredb.DB, error)
	// WorkDir is searched for kfpt.yaml; empty means the working directory.
	WorkDir string
}

// configFlags maps config keys to the flag names that override them.
var configFlags = map[string]string{
	"endpoint":                 "endpoint",
	"iap_client_id":            "iap-client-id",
	"api_namespace":            "api-namespace",
	"other_client_id":          "other-client-id",
	"other_client_secret":      "other-client-secret",
	"namespace":                "namespace",
	"pipeline_root":            "pipeline-root",
	"service_account":          "service-account",
	"encryption_spec_key_name": "encryption-spec-key-name",
	"project":                  "project",
	"location":                 "location",
	"network":                  "network",
	"parser.strict":            "strict",
	"log.format":               "log-format",
	"log.level":                "log-level",
	"data_dir":                 "data-dir",
}

// app is the state shared by commands once configuration is loaded.
type app struct {
	deps   Deps
	cfg    *types.Config
	logger *slog.Logger
}

func (a *app) submitter() Submitter {
	if a.deps.Submitter != nil {
		return a.deps.Submitter
	}
	return dispatch.New(logging.New("dispatch"))
}

func (a *app) openDB(ctx context.Context) (*coredb.DB, error) {
	open := a.deps.OpenDB
	if open == nil {
		open = coredb.Open
	}
	return open(ctx, coredb.Options{DataDir: a.cfg.DataDir})
}

// load resolves configuration and logging for the command being run.
func (a *app) load(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	bound := make(map[string]*pflag.Flag, len(configFlags))
	for key, name := range configFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			bound[key] = f
		}
	}
	cfg, err := configloader.Load(configloader.Options{
		ConfigFile: configFile,
		WorkDir:    a.deps.WorkDir,
		Flags:      bound,
	})
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetCount("verbose")
	a.logger = logging.Init(logging.Verbosity(level, verbose), cfg.Log.Format, cmd.ErrOrStderr())
	a.cfg = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, a.logger))
	a.logger.Debug("configuration loaded", "data_dir", cfg.DataDir, "config", configFile)
	return nil
}

// NewRootCmd builds the kfpt command tree.
func NewRootCmd(deps Deps) *cobra.Command {
	a := &app{deps: deps}
	root := &cobra.Command{
		Use:           "kfpt",
		Short:         "Inspect, annotate and submit compiled Kubeflow pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default ./kfpt.yaml, then the user config dir)")
	pf.String("log-format", "", "Log format (text|json)")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.CountP("verbose", "v", "Increase verbosity")
	pf.String("data-dir", "", "Directory holding the submission history; overrides KFPT_DATA_DIR")

	root.AddCommand(newSubmitCmd(a))
	root.AddCommand(newParamsCmd(a))
	root.AddCommand(newAnnotateCmd())
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newInitCmd())
	root.AddCommand(NewCompletionCmd(root))
	return root
}

// Execute runs kfpt and exits non-zero on failure.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, Deps{}))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, deps Deps) int {
	root := NewRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}
