package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nvandessel/popgate/internal/config"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/logging"
	"github.com/nvandessel/popgate/internal/rules"
	"github.com/nvandessel/popgate/internal/store"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "popgate",
		Short: "Popup admission engine",
		Long: `popgate decides whether a popup may be shown to a visitor right now.

It enforces global, per-visitor and per-session caps, cooldowns and
frequency rules, and throttles visitors whose recorded behavior shows
they do not want popups.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.popgate/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newServeCmd(),
		newReplayCmd(),
		newRulesCmd(),
		newPrefsCmd(),
		newSnapshotCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "popgate version %s\n", version)
			}
		},
	}
}

// loadConfig loads the --config file, or the default locations when unset,
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.PopgateConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.PopgateConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildEngine creates an engine from cfg with the configured schedules as page
// rules. A zero seed seeds the throttle from the clock.
func buildEngine(cfg *config.PopgateConfig, opts ...engine.Option) (*engine.Engine, error) {
	sched := rules.NewSchedule()
	for popup, expr := range cfg.Schedules {
		if err := sched.Set(popup, expr); err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", popup, err)
		}
	}

	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	all := append([]engine.Option{
		engine.WithRand(engine.NewRand(seed)),
		engine.WithPageRules(sched),
	}, opts...)
	return engine.New(cfg.EngineConfig(), all...)
}

// openSettings opens the SQLite settings store named by cfg.
func openSettings(cfg *config.PopgateConfig) (*store.SQLiteSettings, error) {
	path, err := cfg.SettingsPath()
	if err != nil {
		return nil, err
	}
	settings, err := store.NewSQLiteSettings(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	return settings, nil
}

// newLogger returns the operational logger for cfg, writing to w.
func newLogger(cfg *config.PopgateConfig, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
