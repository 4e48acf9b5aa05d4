package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect the evidence provenance log",
}

var evidenceListCmd = &cobra.Command{
	Use:   "list <entity>",
	Short: "List recorded captures for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		evidence, err := st.ListEvidence(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "evidence list")
		}
		if len(evidence) == 0 {
			fmt.Fprintln(os.Stderr, "No evidence found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tTIER\tFETCHED\tHASH")
		for _, ev := range evidence {
			hash := ev.ContentHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.ID, ev.SourceKey, ev.Tier,
				ev.FetchedAt.Format("2006-01-02 15:04"), hash)
		}
		return w.Flush()
	},
}

func init() {
	evidenceCmd.AddCommand(evidenceListCmd)
	rootCmd.AddCommand(evidenceCmd)
}
