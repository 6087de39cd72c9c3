// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flowd-org/kfpt/internal/argsloader"
	"github.com/flowd-org/kfpt/internal/coredb"
	"github.com/flowd-org/kfpt/internal/dispatch"
	"github.com/flowd-org/kfpt/internal/engine"
	"github.com/flowd-org/kfpt/internal/events"
	"github.com/flowd-org/kfpt/internal/kfp"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	errPipelineFileRequired = errors.New("The --pipeline-file option must be specified.")
	pipelineFileExts        = []string{"yaml", "yml", "json"}
)

type submitOptions struct {
	pipelineFile   string
	runName        string
	experimentName string
	labels         []string
	caching        bool
	noCaching      bool
	dryRun         bool
	events         string
}

func newSubmitCmd(a *app) *cobra.Command {
	var o submitOptions
	c := &cobra.Command{
		Use:   "submit -f FILE [flags] [-- --<param> VALUE ...]",
		Short: "Submit a compiled pipeline to Kubeflow Pipelines or Vertex AI",
		Long: `Submit a compiled pipeline.

With --endpoint the pipeline runs on that Kubeflow Pipelines API server;
otherwise it is created as a Vertex AI pipeline job. Pipeline parameters
follow "--" and are spelled after the parameter names, with "_" replaced
by "-". Run "kfpt submit -f FILE --help" to list them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := paramArgs(cmd, args)
			if err != nil {
				return err
			}
			return runSubmit(cmd, a, &o, params)
		},
		ValidArgsFunction: completeParams,
	}

	f := c.Flags()
	f.SortFlags = false
	f.StringVarP(&o.pipelineFile, "pipeline-file", "f", "", "Compiled pipeline file (.yaml, .yml or .json)")
	f.String("endpoint", "", "Kubeflow Pipelines API server; empty submits to Vertex AI")
	f.String("iap-client-id", "", "OAuth client id of the Identity-Aware Proxy in front of --endpoint")
	f.String("api-namespace", "", "Namespace the API server runs in (default kubeflow)")
	f.String("other-client-id", "", "Desktop OAuth client id")
	f.String("other-client-secret", "", "Desktop OAuth client secret")
	f.StringVar(&o.runName, "run-name", "", "Run name, or job id on Vertex AI")
	f.StringVarP(&o.experimentName, "experiment-name", "e", "", "Experiment to file the run under")
	f.StringP("namespace", "n", "", "User namespace owning the experiment")
	f.String("pipeline-root", "", "Root directory for pipeline outputs")
	f.BoolVar(&o.caching, "caching", false, "Enable caching for every task")
	f.BoolVar(&o.noCaching, "no-caching", false, "Disable caching for every task")
	f.String("service-account", "", "Service account the run executes as")
	f.String("encryption-spec-key-name", "", "Cloud KMS key protecting the job")
	f.StringArrayVarP(&o.labels, "label", "l", nil, "Job label as key:value (repeatable)")
	f.String("project", "", "Google Cloud project (default $GOOGLE_CLOUD_PROJECT)")
	f.String("location", "", "Vertex AI region (default us-central1)")
	f.String("network", "", "VPC network peered with the job")
	f.Bool("strict", false, "Reject unknown parameter types instead of treating them as strings")
	f.BoolVar(&o.dryRun, "dry-run", false, "Print the submission plan without submitting")
	f.StringVar(&o.events, "events", "", "Report progress as events: text or json (json replaces the summary)")
	c.MarkFlagsMutuallyExclusive("caching", "no-caching")
	_ = c.RegisterFlagCompletionFunc("pipeline-file", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return pipelineFileExts, cobra.ShellCompDirectiveFilterFileExt
	})

	defaultHelp := c.HelpFunc()
	c.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		defaultHelp(cmd, args)
		if o.pipelineFile == "" {
			return
		}
		if err := printParamUsage(cmd.OutOrStdout(), o.pipelineFile); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[warn] %s: %v\n", o.pipelineFile, err)
		}
	})
	_ = c.RegisterFlagCompletionFunc("events", cobra.FixedCompletions([]string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp))
	return c
}

func (o *submitOptions) emitter(out io.Writer, secret string) (*events.Emitter, error) {
	switch o.events {
	case "":
		return nil, nil
	case "text", "json":
		return events.NewEmitter(out, o.events == "json").WithRedactor(events.NewLineRedactor([]string{secret})), nil
	default:
		return nil, fmt.Errorf("--events: unsupported format %q (expected text or json)", o.events)
	}
}

// paramArgs returns the arguments given after "--".
func paramArgs(cmd *cobra.Command, args []string) ([]string, error) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		dash = len(args)
	}
	if dash > 0 {
		return nil, fmt.Errorf("unexpected arguments before --: %s", strings.Join(args[:dash], " "))
	}
	return args[dash:], nil
}

func printParamUsage(w io.Writer, file string) error {
	p, err := pipeline.Parse(file)
	if err != nil {
		return err
	}
	usage, err := argsloader.Usage(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nPipeline parameters (%s):\n", p.Name)
	if usage == "" {
		fmt.Fprintln(w, "  (none)")
		return nil
	}
	fmt.Fprint(w, usage)
	return nil
}

func parseLabels(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("The --label value must be contained a colon.: %s", v)
		}
		out[key] = value
	}
	return out, nil
}

func (o *submitOptions) enableCaching() *bool {
	switch {
	case o.caching:
		v := true
		return &v
	case o.noCaching:
		v := false
		return &v
	}
	return nil
}

func runSubmit(cmd *cobra.Command, a *app, o *submitOptions, params []string) error {
	if o.pipelineFile == "" {
		return errPipelineFileRequired
	}
	em, err := o.emitter(cmd.OutOrStdout(), a.cfg.OtherClientSecret)
	if err != nil {
		return err
	}
	labels, err := parseLabels(o.labels)
	if err != nil {
		return err
	}

	parser := &pipeline.Parser{Strict: a.cfg.Parser.Strict, Logger: a.logger}
	p, err := parser.Parse(o.pipelineFile)
	if err != nil {
		return err
	}
	arguments, err := argsloader.Parse(p, params)
	if errors.Is(err, pflag.ErrHelp) {
		return cmd.Help()
	}
	if err != nil {
		return err
	}

	cfg := a.cfg
	req := dispatch.Request{
		PipelineFile:          o.pipelineFile,
		Arguments:             arguments,
		Endpoint:              cfg.Endpoint,
		IAPClientID:           cfg.IAPClientID,
		APINamespace:          cfg.APINamespace,
		OtherClientID:         cfg.OtherClientID,
		OtherClientSecret:     cfg.OtherClientSecret,
		RunName:               o.runName,
		ExperimentName:        o.experimentName,
		Namespace:             cfg.Namespace,
		PipelineRoot:          cfg.PipelineRoot,
		EnableCaching:         o.enableCaching(),
		ServiceAccount:        cfg.ServiceAccount,
		EncryptionSpecKeyName: cfg.EncryptionSpecKeyName,
		Labels:                labels,
		Project:               cfg.Project,
		Location:              cfg.Location,
		Network:               cfg.Network,
	}

	if o.dryRun {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(engine.BuildPlan(req, p))
	}

	ctx := cmd.Context()
	em.EmitSubmitStart(req.Target(), p.Name, req.RunName, req.Arguments)
	res, submitErr := a.submitter().Submit(ctx, req)
	em.EmitSubmitFinish(req.Target(), res.RunName, res.ID, res.URL, submitErr)
	a.recordSubmission(ctx, req, p, res, submitErr)
	if submitErr != nil {
		return redactError(submitErr, cfg.OtherClientSecret)
	}
	if o.events == "json" {
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Submitted %s run %s\n", res.Target, res.RunName)
	if res.ID != "" {
		fmt.Fprintf(out, "ID: %s\n", res.ID)
	}
	if res.URL != "" {
		fmt.Fprintf(out, "URL: %s\n", res.URL)
	}
	return nil
}

// recordSubmission appends to the local history. Failures are logged and
// never fail the submission.
func (a *app) recordSubmission(ctx context.Context, req dispatch.Request, p *pipeline.Pipeline, res dispatch.Result, submitErr error) {
	if !a.cfg.History.Enabled {
		return
	}
	db, err := a.openDB(ctx)
	if err != nil {
		a.logger.Warn("history unavailable", "error", err)
		return
	}
	defer db.Close()

	s := coredb.Submission{
		Target:       req.Target(),
		Pipeline:     p.Name,
		PipelineFile: req.PipelineFile,
		RunName:      req.RunName,
		Experiment:   req.ExperimentName,
		Arguments:    req.Arguments,
		Labels:       req.JobLabels(),
		Status:       coredb.StatusSubmitted,
	}
	if req.Target() == kfp.Target {
		s.Labels = nil
	}
	if res.RunName != "" {
		s.RunName = res.RunName
	}
	s.Resource = res.ID
	if submitErr != nil {
		s.Status = coredb.StatusFailed
		s.Error = redactError(submitErr, req.OtherClientSecret).Error()
	}

	history := coredb.NewHistory(db)
	if _, err := history.Record(ctx, s); err != nil {
		if coredb.IsQuotaExceeded(err) {
			a.logger.Warn("history is full; prune it with a lower history.keep", "error", err)
			return
		}
		a.logger.Warn("record submission failed", "error", err)
		return
	}
	if keep := a.cfg.History.Keep; keep > 0 {
		if removed, err := history.Prune(ctx, keep); err != nil {
			a.logger.Warn("prune history failed", "error", err)
		} else if removed > 0 {
			a.logger.Debug("pruned history", "removed", removed)
		}
	}
}

// redactError masks secret in err's message, keeping err itself when there
// is nothing to mask.
func redactError(err error, secret string) error {
	redact := events.NewLineRedactor([]string{secret})
	if redact == nil {
		return err
	}
	msg := err.Error()
	if masked := redact(msg); masked != msg {
		return errors.New(masked)
	}
	return err
}

// completeParams offers the parameter flags of the file given with -f once
// the command line has reached "--".
func completeParams(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	file, _ := cmd.Flags().GetString("pipeline-file")
	if file == "" || cmd.ArgsLenAtDash() < 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	p, err := pipeline.Parse(file)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	used := make(map[string]bool, len(args))
	for _, arg := range args {
		name, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		used[name] = true
	}
	var out []string
	for _, plan := range engine.PlanParameters(p) {
		flag := "--" + plan.Flag
		if used[plan.Flag] || !strings.HasPrefix(flag, toComplete) {
			continue
		}
		desc := plan.Type
		if plan.Required {
			desc += " [required]"
		}
		out = append(out, flag+"\t"+desc)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
