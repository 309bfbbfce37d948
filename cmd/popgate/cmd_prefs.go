package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nvandessel/popgate/internal/models"
	"github.com/spf13/cobra"
)

func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage stored visitor preferences",
		Long: `Set and read per-visitor overrides kept in the settings database.

Examples:
  popgate prefs set v-123 --max-per-day 1 --cooldown 2h
  popgate prefs set v-456 --opt-out
  popgate prefs get v-123
  popgate prefs blocker v-789
  popgate prefs blocker v-789 --clear`,
	}

	cmd.AddCommand(
		newPrefsSetCmd(),
		newPrefsGetCmd(),
		newPrefsBlockerCmd(),
	)
	return cmd
}

func newPrefsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <visitor>",
		Short: "Replace a visitor's overrides",
		Long: `Replace a visitor's overrides. Flags that are not given clear the
corresponding override, so the engine default applies again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			optOut, _ := cmd.Flags().GetBool("opt-out")

			prefs := models.Preferences{OptedOut: optOut}
			if cmd.Flags().Changed("max-per-day") {
				n, _ := cmd.Flags().GetInt("max-per-day")
				prefs.MaxPerDay = models.IntPtr(n)
			}
			if cmd.Flags().Changed("max-per-session") {
				n, _ := cmd.Flags().GetInt("max-per-session")
				prefs.MaxPerSession = models.IntPtr(n)
			}
			if cmd.Flags().Changed("cooldown") {
				d, _ := cmd.Flags().GetDuration("cooldown")
				prefs.CooldownSeconds = models.IntPtr(int(d / time.Second))
			}
			if err := prefs.Validate(); err != nil {
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

			if err := settings.PutPreferences(context.Background(), args[0], prefs); err != nil {
				return fmt.Errorf("failed to store preferences: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"visitor_id": args[0], "preferences": prefs})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored preferences for %s\n", args[0])
			printPreferences(cmd.OutOrStdout(), prefs)
			return nil
		},
	}

	cmd.Flags().Int("max-per-day", 0, "Daily show cap for this visitor (0 means never)")
	cmd.Flags().Int("max-per-session", 0, "Per-session show cap for this visitor")
	cmd.Flags().Duration("cooldown", 0, "Minimum time between shows of one popup")
	cmd.Flags().Bool("opt-out", false, "Never show popups to this visitor")
	return cmd
}

func newPrefsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <visitor>",
		Short: "Show a visitor's overrides",
		Args:  cobra.ExactArgs(1),
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

			snap, err := settings.Load(context.Background())
			if err != nil {
				return fmt.Errorf("failed to read preferences: %w", err)
			}
			prefs := snap.Preferences[args[0]]
			blocker := false
			for _, id := range snap.Blockers {
				if id == args[0] {
					blocker = true
					break
				}
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"visitor_id":  args[0],
					"preferences": prefs,
					"blocker":     blocker,
				})
			}
			if prefs.IsZero() && !blocker {
				fmt.Fprintf(cmd.OutOrStdout(), "No overrides for %s; engine defaults apply.\n", args[0])
				return nil
			}
			printPreferences(cmd.OutOrStdout(), prefs)
			if blocker {
				fmt.Fprintln(cmd.OutOrStdout(), "  popup blocker:   yes")
			}
			return nil
		},
	}
}

func newPrefsBlockerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocker <visitor>",
		Short: "Mark a visitor as running a popup blocker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			unset, _ := cmd.Flags().GetBool("clear")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			if err := settings.SetBlocker(context.Background(), args[0], !unset); err != nil {
				return fmt.Errorf("failed to store blocker signal: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"visitor_id": args[0], "blocker": !unset})
			}
			if unset {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared blocker signal for %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as a popup blocker\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().Bool("clear", false, "Clear the signal instead of setting it")
	return cmd
}

func printPreferences(w io.Writer, p models.Preferences) {
	show := func(label string, v *int, unit string) {
		if v == nil {
			fmt.Fprintf(w, "  %-16s (default)\n", label+":")
			return
		}
		fmt.Fprintf(w, "  %-16s %d%s\n", label+":", *v, unit)
	}
	show("max per day", p.MaxPerDay, "")
	show("max per session", p.MaxPerSession, "")
	show("cooldown", p.CooldownSeconds, "s")
	if p.OptedOut {
		fmt.Fprintln(w, "  opted out:       yes")
	}
}
