package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <batch.json>",
	Short: "Submit an extraction batch into the pipeline",
	Long: "Reads a JSON file of evidence captures with their extracted candidates, " +
		"records the evidence, and runs every candidate through the promotion gate. " +
		"Submissions whose evidence content is unchanged since the last capture are skipped.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read batch file")
		}

		var subs []pipeline.Submission
		if err := json.Unmarshal(data, &subs); err != nil {
			return eris.Wrap(err, "parse batch file")
		}
		if len(subs) == 0 {
			return eris.New("batch file contains no submissions")
		}
		for i := range subs {
			ev := &subs[i].Evidence
			if ev.ContentHash == "" && ev.Snippet != "" {
				ev.ContentHash = model.HashContent([]byte(ev.Snippet))
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

		results, err := p.Ingest(ctx, subs)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		var promoted, review, rejected, events int
		for _, r := range results {
			if r.Promoted {
				promoted++
			}
			if r.ReviewTaskID != "" {
				review++
			}
			if r.Event != nil {
				events++
			}
			for _, d := range r.Decisions {
				if d.Status == model.CandidateRejected {
					rejected++
				}
			}
		}

		fmt.Printf("Processed %d field batches: %d promoted, %d held for review, %d rejected, %d change events.\n",
			len(results), promoted, review, rejected, events)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
