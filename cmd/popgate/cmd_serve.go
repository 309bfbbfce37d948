package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nvandessel/popgate/internal/backup"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/logging"
	"github.com/nvandessel/popgate/internal/mcp"
	"github.com/nvandessel/popgate/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Run popgate as an MCP server on stdin/stdout.

Stored rules, preferences and blocker signals are loaded from the settings
database at startup, and every change made through a tool is written back.
Operational logs go to stderr. At debug level each decision is also appended
to <data dir>/decisions.jsonl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}
			retention, err := backup.NewPolicy(cfg.Storage.SnapshotRetention, cfg.Storage.SnapshotMaxAge)
			if err != nil {
				return err
			}

			eng, err := buildEngine(cfg)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := restoreSettings(ctx, eng, settings)
			if err != nil {
				return err
			}
			logger.Info("loaded settings", "path", settings.Path(), "rules", n)

			decisions := logging.NewDecisionLogger(dataDir, cfg.Logging.Level)
			defer decisions.Close()

			server, err := mcp.NewServer(&mcp.Config{
				Name:        cfg.Server.Name,
				Version:     version,
				Engine:      eng,
				Settings:    settings,
				RateLimits:  cfg.Server.RateLimits,
				Logger:      logger,
				Decisions:   decisions,
				AuditDir:    dataDir,
				SnapshotDir: backup.DefaultDir(dataDir),
				Retention:   retention,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			return server.Run(ctx)
		},
	}
}

// restoreSettings loads every stored setting into eng and returns the number
// of rules restored.
func restoreSettings(ctx context.Context, eng *engine.Engine, settings *store.SQLiteSettings) (int, error) {
	snap, err := settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := eng.Restore(snap); err != nil {
		return 0, fmt.Errorf("failed to restore settings: %w", err)
	}
	return len(snap.Rules), nil
}
