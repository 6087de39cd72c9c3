// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowd-org/kfpt/internal/configloader"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter kfpt.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			target := filepath.Join(dir, configloader.ProjectFile)
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			data, err := configloader.Starter()
			if err != nil {
				return err
			}
			header := "# kfpt configuration. KFPT_* environment variables and flags override these values.\n"
			if err := os.WriteFile(target, append([]byte(header), data...), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", target, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[OK] Wrote %s\n", target)
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Overwrite an existing kfpt.yaml")
	return c
}
