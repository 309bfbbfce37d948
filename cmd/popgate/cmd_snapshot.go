package main

import (
	"context"
	"fmt"

	"github.com/nvandessel/popgate/internal/backup"
	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/rules"
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save and restore settings snapshots",
		Long: `Save the stored rules, preferences and blocker signals to a compressed,
checksummed snapshot file, and restore them later.

Snapshots live in <data dir>/snapshots. After each save, snapshots beyond
storage.snapshot_retention or older than storage.snapshot_max_age are removed.

Examples:
  popgate snapshot save
  popgate snapshot list
  popgate snapshot verify ~/.popgate/snapshots/popgate-snapshot-20260504-100000.000.pgs
  popgate snapshot restore            # newest snapshot
  popgate snapshot restore <file>`,
	}

	cmd.AddCommand(
		newSnapshotSaveCmd(),
		newSnapshotListCmd(),
		newSnapshotVerifyCmd(),
		newSnapshotRestoreCmd(),
	)
	return cmd
}

func newSnapshotSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write the stored settings to a new snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir, err := cfg.SnapshotDir()
			if err != nil {
				return err
			}
			policy, err := backup.NewPolicy(cfg.Storage.SnapshotRetention, cfg.Storage.SnapshotMaxAge)
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
				return fmt.Errorf("failed to read settings: %w", err)
			}
			res, err := backup.Save(dir, snap, policy)
			if err != nil {
				return fmt.Errorf("failed to save snapshot: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d rules, %d preferences, %d blockers)\n",
				res.Path, res.Header.RuleCount, res.Header.PreferenceCount, res.Header.BlockerCount)
			if len(res.Deleted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old snapshot(s)\n", len(res.Deleted))
			}
			return nil
		},
	}
}

func newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir, err := cfg.SnapshotDir()
			if err != nil {
				return err
			}
			infos, err := backup.List(dir)
			if err != nil {
				return err
			}

			if jsonOut {
				if infos == nil {
					infos = []backup.SnapshotInfo{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"snapshots":   infos,
					"total_count": len(infos),
					"directory":   dir,
				})
			}
			if len(infos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No snapshots found in %s\n", dir)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Snapshots in %s:\n", dir)
			var total int64
			for _, info := range infos {
				total += info.Size
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  v%d  %6s  %3d rules  %s\n",
					info.CreatedAt.UTC().Format("2006-01-02 15:04:05"), info.Format,
					formatSize(info.Size), info.Rules, info.Path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %d snapshot(s), %s\n", len(infos), formatSize(total))
			return nil
		},
	}
}

func newSnapshotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a snapshot's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			verr := backup.VerifyChecksum(args[0])
			if jsonOut {
				out := map[string]interface{}{"path": args[0], "valid": verr == nil}
				if verr != nil {
					out["error"] = verr.Error()
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				return verr
			}
			if verr != nil {
				return fmt.Errorf("snapshot %s is invalid: %w", args[0], verr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
			return nil
		},
	}
}

func newSnapshotRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [file]",
		Short: "Replace the stored settings with a snapshot",
		Long: `Replace every stored rule, preference and blocker signal with the contents
of a snapshot. Without a file, the newest snapshot in the snapshot directory
is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var (
				snap *models.Snapshot
				path string
			)
			if len(args) == 1 {
				path = args[0]
				snap, err = backup.Read(path)
			} else {
				dir, dirErr := cfg.SnapshotDir()
				if dirErr != nil {
					return dirErr
				}
				snap, path, err = backup.Latest(dir)
				if err == nil && snap == nil {
					return fmt.Errorf("no snapshots found in %s", dir)
				}
			}
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}
			if err := validateSnapshot(snap); err != nil {
				return err
			}

			settings, err := openSettings(cfg)
			if err != nil {
				return err
			}
			defer settings.Close()

			if err := settings.Save(context.Background(), snap); err != nil {
				return fmt.Errorf("failed to restore settings: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"status":      "restored",
					"path":        path,
					"snapshot_id": snap.ID,
					"rules":       len(snap.Rules),
					"preferences": len(snap.Preferences),
					"blockers":    len(snap.Blockers),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s (%d rules, %d preferences, %d blockers)\n",
				path, len(snap.Rules), len(snap.Preferences), len(snap.Blockers))
			return nil
		},
	}
}

// validateSnapshot rejects snapshots the engine would refuse to load.
func validateSnapshot(snap *models.Snapshot) error {
	if snap.Version > models.SnapshotVersion {
		return fmt.Errorf("%w: snapshot version %d is newer than supported version %d",
			models.ErrInvalidArgument, snap.Version, models.SnapshotVersion)
	}
	for _, r := range snap.Rules {
		if err := rules.Validate(r); err != nil {
			return fmt.Errorf("snapshot rule %s/%s: %w", r.PopupID, r.Kind, err)
		}
	}
	for id, p := range snap.Preferences {
		if id == "" {
			return fmt.Errorf("%w: snapshot preferences with empty visitor id", models.ErrInvalidArgument)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("snapshot preferences for %s: %w", id, err)
		}
	}
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
