// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/flowd-org/kfpt/internal/engine"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/flowd-org/kfpt/internal/types"
	"github.com/spf13/cobra"
)

type paramsView struct {
	Name       string                `json:"name"`
	Schema     string                `json:"schema"`
	File       string                `json:"file"`
	Parameters []types.PlanParameter `json:"parameters"`
}

func newParamsCmd(a *app) *cobra.Command {
	var (
		file   string
		asJSON bool
	)
	c := &cobra.Command{
		Use:   ":params -f FILE",
		Short: "Show the parameters of a compiled pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errPipelineFileRequired
			}
			doc, err := pipeline.Load(file)
			if err != nil {
				return err
			}
			p, err := (&pipeline.Parser{Strict: a.cfg.Parser.Strict, Logger: a.logger}).Extract(doc)
			if err != nil {
				return err
			}
			view := paramsView{
				Name:       p.Name,
				Schema:     doc.Schema.String(),
				File:       file,
				Parameters: engine.PlanParameters(p),
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			fmt.Fprintf(out, "Pipeline: %s\n", view.Name)
			fmt.Fprintf(out, "Schema: %s\n", view.Schema)
			fmt.Fprintln(out, "Parameters:")
			if len(view.Parameters) == 0 {
				fmt.Fprintln(out, "  (none)")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  NAME\tFLAG\tTYPE\tDEFAULT")
			for _, param := range view.Parameters {
				def := "(required)"
				if !param.Required {
					def = fmt.Sprint(param.Default)
				}
				fmt.Fprintf(tw, "  %s\t--%s\t%s\t%s\n", param.Name, param.Flag, param.Type, def)
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVarP(&file, "pipeline-file", "f", "", "Compiled pipeline file")
	c.Flags().BoolVar(&asJSON, "json", false, "Output parameters as JSON")
	c.Flags().Bool("strict", false, "Reject unknown parameter types instead of treating them as strings")
	_ = c.RegisterFlagCompletionFunc("pipeline-file", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return pipelineFileExts, cobra.ShellCompDirectiveFilterFileExt
	})
	return c
}
