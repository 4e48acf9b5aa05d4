package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/compintel-cli/internal/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alert rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an alert rule",
	Long: "Registers a rule matched against change events. Conditions: CHANGED " +
		"(any change), GT/LT (numeric comparison of the new value against " +
		"--threshold), CONTAINS (case-insensitive substring on the new value).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		entity, _ := cmd.Flags().GetString("entity")
		field, _ := cmd.Flags().GetString("field")
		condition, _ := cmd.Flags().GetString("condition")
		threshold, _ := cmd.Flags().GetString("threshold")
		channels, _ := cmd.Flags().GetStringSlice("channels")

		rule := model.AlertRule{
			ID:          uuid.New().String(),
			EntityScope: entity,
			FieldScope:  field,
			Condition:   model.RuleCondition(strings.ToUpper(condition)),
			Threshold:   threshold,
			Channels:    channels,
			Enabled:     true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := rule.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateRule(ctx, rule); err != nil {
			return eris.Wrap(err, "rules add")
		}
		fmt.Printf("Rule %s registered.\n", rule.ID)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		enabledOnly, _ := cmd.Flags().GetBool("enabled")
		rules, err := st.ListRules(ctx, enabledOnly)
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stderr, "No rules found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tENTITY\tFIELD\tCONDITION\tTHRESHOLD\tCHANNELS\tENABLED")
		for _, r := range rules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				r.ID, r.EntityScope, r.FieldScope, r.Condition, r.Threshold,
				strings.Join(r.Channels, ","), r.Enabled)
		}
		return w.Flush()
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleEnabled(cmd, args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleEnabled(cmd, args[0], false) },
}

func setRuleEnabled(cmd *cobra.Command, ruleID string, enabled bool) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.SetRuleEnabled(ctx, ruleID, enabled); err != nil {
		return eris.Wrap(err, "rules toggle")
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Rule %s %s.\n", ruleID, state)
	return nil
}

func init() {
	rulesAddCmd.Flags().String("entity", model.ScopeAll, "entity scope (ALL or an entity id)")
	rulesAddCmd.Flags().String("field", model.ScopeAll, "field scope (ALL or a field key)")
	rulesAddCmd.Flags().String("condition", "CHANGED", "CHANGED, GT, LT, or CONTAINS")
	rulesAddCmd.Flags().String("threshold", "", "numeric bound for GT/LT, substring for CONTAINS")
	rulesAddCmd.Flags().StringSlice("channels", []string{"webhook"}, "notification channels")

	rulesListCmd.Flags().Bool("enabled", false, "only enabled rules")

	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rootCmd.AddCommand(rulesCmd)
}
