package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and acknowledge change events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entity, _ := cmd.Flags().GetString("entity")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		sinceStr, _ := cmd.Flags().GetString("since")

		filter := store.EventFilter{
			EntityID: entity,
			Status:   model.EventStatus(status),
			Limit:    limit,
		}
		if sinceStr != "" {
			since, err := time.Parse("2006-01-02", sinceStr)
			if err != nil {
				return eris.Wrap(err, "parse --since")
			}
			filter.Since = since
		}

		events, err := st.ListEvents(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "events list")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tENTITY\tFIELD\tOLD\tNEW\tSEVERITY\tSTATUS\tDETECTED")
		for _, e := range events {
			old, nu := "-", "-"
			if e.OldValue != nil {
				old = e.OldValue.String()
			}
			if e.NewValue != nil {
				nu = e.NewValue.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.EntityID, e.FieldKey, old, nu, e.Severity, e.Status,
				e.DetectedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var eventsCloseCmd = &cobra.Command{
	Use:   "close <event-id>",
	Short: "Acknowledge an open event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CloseEvent(ctx, args[0]); err != nil {
			return eris.Wrap(err, "events close")
		}
		fmt.Println("Event closed.")
		return nil
	},
}

func init() {
	eventsListCmd.Flags().String("entity", "", "filter by entity id")
	eventsListCmd.Flags().String("status", "", "filter by status (OPEN or CLOSED)")
	eventsListCmd.Flags().String("since", "", "only events detected on or after this date (YYYY-MM-DD)")
	eventsListCmd.Flags().Int("limit", 50, "maximum events to list")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsCloseCmd)
	rootCmd.AddCommand(eventsCmd)
}
