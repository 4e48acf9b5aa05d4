package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Sweep open events against enabled rules",
	Long: "Evaluates every open event against the enabled rule set and delivers " +
		"matched notifications. Already-delivered (event, rule, channel) triples " +
		"are skipped, so repeated sweeps after failures are safe.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sent, err := initDispatcher(st).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "dispatch")
		}
		fmt.Printf("Delivered %d notifications.\n", sent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}
