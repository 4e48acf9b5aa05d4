package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compintel-cli/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review tasks ranked by priority",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := st.ListReviewTasks(ctx, model.TaskStatus(status), limit)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No review tasks found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tENTITY\tFIELD\tPRIORITY\tSTATUS\tCREATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%s\n",
				t.ID, t.EntityID, t.FieldKey, t.Priority, t.Status,
				t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reviewStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Mark a task as in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := initPipeline(st)
		if err != nil {
			return err
		}
		if err := p.StartReviewTask(ctx, args[0]); err != nil {
			return eris.Wrap(err, "review start")
		}
		fmt.Println("Task in progress.")
		return nil
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <task-id>",
	Short: "Approve a held candidate",
	Long: "Approves the candidate behind a review task and promotes its value " +
		"through the claim ledger with the reviewer recorded. --value overrides " +
		"the extracted value with a JSON literal, validated against the field spec.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reviewer, _ := cmd.Flags().GetString("reviewer")
		valueJSON, _ := cmd.Flags().GetString("value")

		var override any
		if valueJSON != "" {
			if err := json.Unmarshal([]byte(valueJSON), &override); err != nil {
				return eris.Wrap(err, "parse --value")
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := initPipeline(st)
		if err != nil {
			return err
		}
		if err := p.ResolveReviewTask(ctx, args[0], override, reviewer); err != nil {
			return eris.Wrap(err, "review resolve")
		}
		fmt.Println("Candidate approved and promoted.")
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Discard a held candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := initPipeline(st)
		if err != nil {
			return err
		}
		if err := p.RejectReviewTask(ctx, args[0], reviewer, reason); err != nil {
			return eris.Wrap(err, "review reject")
		}
		fmt.Println("Candidate rejected.")
		return nil
	},
}

func init() {
	reviewListCmd.Flags().String("status", string(model.TaskOpen), "filter by task status (empty for all)")
	reviewListCmd.Flags().Int("limit", 50, "maximum tasks to list")

	reviewResolveCmd.Flags().String("reviewer", "", "reviewer id recorded in the audit trail")
	reviewResolveCmd.Flags().String("value", "", "JSON literal overriding the extracted value")
	_ = reviewResolveCmd.MarkFlagRequired("reviewer")

	reviewRejectCmd.Flags().String("reviewer", "", "reviewer id recorded on the task")
	reviewRejectCmd.Flags().String("reason", "", "why the candidate is discarded")
	_ = reviewRejectCmd.MarkFlagRequired("reviewer")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewStartCmd)
	reviewCmd.AddCommand(reviewResolveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}
