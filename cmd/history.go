// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/flowd-org/kfpt/internal/coredb"
	"github.com/flowd-org/kfpt/internal/kfp"
	"github.com/flowd-org/kfpt/internal/vertex"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
		stats  bool
	)
	c := &cobra.Command{
		Use:   ":history",
		Short: "List recorded submissions (local)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")

			if stats {
				st, err := coredb.CollectStorageStats(ctx, db)
				if err != nil {
					return err
				}
				if asJSON {
					return enc.Encode(st)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Path:\t%s\n", st.Path)
				fmt.Fprintf(tw, "Submissions:\t%d (%d failed)\n", st.Submissions, st.Failed)
				for _, target := range []string{kfp.Target, vertex.Target} {
					if n, ok := st.ByTarget[target]; ok {
						fmt.Fprintf(tw, "  %s:\t%d\n", target, n)
					}
				}
				if st.LastSubmission != nil {
					fmt.Fprintf(tw, "Last submission:\t%s\n", st.LastSubmission.Local().Format(time.DateTime))
				}
				fmt.Fprintf(tw, "Bytes used:\t%d / %d\n", st.BytesUsed, st.MaxBytes)
				fmt.Fprintf(tw, "Schema version:\t%d\n", st.SchemaVersion)
				if st.NearlyFull {
					fmt.Fprintln(tw, "Warning:\tnearly full; lower history.keep")
				}
				return tw.Flush()
			}

			subs, err := coredb.NewHistory(db).List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				if subs == nil {
					subs = []coredb.Submission{}
				}
				return enc.Encode(subs)
			}
			if len(subs) == 0 {
				fmt.Fprintln(out, "(no submissions recorded)")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTARGET\tPIPELINE\tRUN\tSTATUS\tRESOURCE")
			for _, s := range subs {
				resource := s.Resource
				if s.Status == coredb.StatusFailed {
					resource = s.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.CreatedAt.Local().Format(time.DateTime), s.Target, s.Pipeline, s.RunName, s.Status, resource)
			}
			return tw.Flush()
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "Maximum number of submissions to show (0 for all)")
	c.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	c.Flags().BoolVar(&stats, "stats", false, "Show storage statistics instead of submissions")
	return c
}
