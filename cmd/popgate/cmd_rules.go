package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/rules"
	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored frequency rules",
		Long: `Create, list and delete the frequency rules kept in the settings database.
A running server picks up changes on its next start.

Kinds: max_per_hour, max_per_day, max_per_week, max_per_month (counts),
min_interval, cooldown_period (seconds).

Examples:
  popgate rules set newsletter max_per_day 500
  popgate rules set exit-intent cooldown_period 3600 --when device=mobile
  popgate rules list newsletter
  popgate rules delete newsletter max_per_day`,
	}

	cmd.AddCommand(
		newRulesSetCmd(),
		newRulesListCmd(),
		newRulesDeleteCmd(),
	)
	return cmd
}

func newRulesSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <popup> <kind> <value>",
		Short: "Create or replace a rule",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			priority, _ := cmd.Flags().GetInt("priority")
			disabled, _ := cmd.Flags().GetBool("disabled")
			when, _ := cmd.Flags().GetStringSlice("when")

			kind, err := models.ParseRuleKind(args[1])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("%w: value %q is not a number", models.ErrInvalidArgument, args[2])
			}
			conditions, err := parseConditions(when)
			if err != nil {
				return err
			}

			rule := models.FrequencyRule{
				PopupID:    args[0],
				Kind:       kind,
				Value:      value,
				Enabled:    !disabled,
				Priority:   priority,
				Conditions: conditions,
				CreatedAt:  time.Now().UTC(),
			}
			if err := rules.Validate(rule); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			if err := settings.PutRule(context.Background(), rule); err != nil {
				return fmt.Errorf("failed to store rule: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rule)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", formatRule(rule))
			return nil
		},
	}

	cmd.Flags().Int("priority", 0, "Rule priority; higher is listed first")
	cmd.Flags().Bool("disabled", false, "Store the rule disabled")
	cmd.Flags().StringSlice("when", nil, "Restrict the rule to a context field value (key=value, repeatable)")
	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [popup]",
		Short: "List stored rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			all, err := settings.Rules(context.Background())
			if err != nil {
				return fmt.Errorf("failed to read rules: %w", err)
			}
			list := make([]models.FrequencyRule, 0, len(all))
			for _, r := range all {
				if len(args) == 0 || r.PopupID == args[0] {
					list = append(list, r)
				}
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"rules": list,
					"count": len(list),
				})
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rules.")
				return nil
			}
			for _, r := range list {
				fmt.Fprintln(cmd.OutOrStdout(), formatRule(r))
			}
			return nil
		},
	}
}

func newRulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <popup> <kind>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			kind, err := models.ParseRuleKind(args[1])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			if err := settings.DeleteRule(context.Background(), args[0], kind); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "popup_id": args[0], "kind": string(kind)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s rule for %s\n", kind, args[0])
			return nil
		},
	}
}

// parseConditions turns key=value pairs into a rule condition map.
func parseConditions(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: condition %q must be key=value", models.ErrInvalidArgument, p)
		}
		out[key] = value
	}
	return out, nil
}

func formatRule(r models.FrequencyRule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-16s %g", r.PopupID, r.Kind, r.Value)
	if r.Kind.IsDuration() {
		b.WriteString("s")
	}
	if r.Priority != 0 {
		fmt.Fprintf(&b, "  priority=%d", r.Priority)
	}
	if !r.Enabled {
		b.WriteString("  (disabled)")
	}
	keys := make([]string, 0, len(r.Conditions))
	for k := range r.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%v", k, r.Conditions[k])
	}
	return b.String()
}
