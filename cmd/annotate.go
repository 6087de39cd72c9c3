// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/flowd-org/kfpt/internal/component"
	"github.com/flowd-org/kfpt/internal/pipeline"
	"github.com/spf13/cobra"
)

func newAnnotateCmd() *cobra.Command {
	var (
		file, output, task string
		all, list          bool
		caching, noCaching bool
		spec               component.Spec
	)
	c := &cobra.Command{
		Use:   ":annotate -f FILE (--task NAME | --all) [settings]",
		Short: "Set display name, resources or caching on tasks of a compiled pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errPipelineFileRequired
			}
			doc, err := pipeline.Load(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				tasks, err := component.Tasks(doc)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintln(out, t.Name())
				}
				return nil
			}

			switch {
			case caching:
				spec = spec.Merge(component.Caching(true))
			case noCaching:
				spec = spec.Merge(component.Caching(false))
			}
			if spec.IsZero() {
				return errors.New("nothing to apply: set at least one of --display-name, --cpu, --memory, --gpu, --accelerator, --caching, --no-caching")
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			var tasks []component.Task
			switch {
			case all:
				if spec.DisplayName != "" {
					return errors.New("--display-name needs a single --task")
				}
				if tasks, err = component.Tasks(doc); err != nil {
					return err
				}
			case task != "":
				t, err := component.OpenTask(doc, task)
				if err != nil {
					return err
				}
				tasks = []component.Task{t}
			default:
				return errors.New("one of --task or --all is required")
			}
			if err := spec.ApplyAll(tasks); err != nil {
				return err
			}

			data, err := doc.Encode()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = out.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[OK] Applied %s to %d task(s) in %s\n", spec, len(tasks), output)
			return nil
		},
	}
	f := c.Flags()
	f.SortFlags = false
	f.StringVarP(&file, "pipeline-file", "f", "", "Compiled pipeline file")
	f.StringVar(&task, "task", "", "Task to change")
	f.BoolVar(&all, "all", false, "Change every task")
	f.BoolVar(&list, "list", false, "List the task names and exit")
	f.StringVar(&spec.DisplayName, "display-name", "", "Task display name")
	f.StringVar(&spec.CPU, "cpu", "", "CPU limit, e.g. 500m or 2")
	f.StringVar(&spec.Memory, "memory", "", "Memory limit, e.g. 512Mi or 4G")
	f.StringVar(&spec.GPU, "gpu", "", "GPU limit")
	f.StringVar(&spec.Accelerator, "accelerator", "", "Accelerator type, e.g. NVIDIA_TESLA_T4")
	f.BoolVar(&caching, "caching", false, "Enable caching")
	f.BoolVar(&noCaching, "no-caching", false, "Disable caching")
	f.StringVarP(&output, "output", "o", "", "Write the result to this file instead of stdout")
	c.MarkFlagsMutuallyExclusive("caching", "no-caching")
	c.MarkFlagsMutuallyExclusive("task", "all")
	return c
}
