package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/connectivity"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued offline changes now",
	Long: `Replay every queued change against the API in the order it was made.

Items that fail, whether rejected by the server or not delivered, are
retried on later runs and dropped after the configured retry ceiling.
Interrupting the run stops it early without charging a retry.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.ForceSync(ctx)
			if err != nil {
				return err
			}
			switch {
			case res.Skipped:
				stdout.Linef("A sync is already running")
			case res.Attempted == 0 && !res.Interrupted:
				stdout.Linef("Nothing to sync")
			default:
				stdout.Linef("Synced %d, failed %d, remaining %d", res.Synced, res.Failed, res.Remaining)
				if res.Interrupted {
					stdout.Mutedf("Stopped early: cancelled")
				}
				for _, item := range res.Dropped {
					stdout.Mutedf("Dropped %s %s after %d retries", item.Action, item.TargetID(), item.Retries)
				}
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity and queued changes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			status, err := a.GetSyncStatus(ctx)
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "json":
				return printJSON(status)
			case "yaml":
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				if err := enc.Encode(status); err != nil {
					return fmt.Errorf("failed to encode status: %w", err)
				}
				return enc.Close()
			case "", "text":
			default:
				return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
			}

			stdout.Linef("Connectivity: %s", stdout.Connectivity(status.Online, status.ForcedOffline))
			stdout.Linef("Pending:      %d", status.Pending)
			if status.Degraded {
				stdout.Linef("Storage:      in memory (data directory unavailable)")
			}
			for _, item := range status.Items {
				line := fmt.Sprintf("  %-11s %s  %s", item.Action, item.TargetID(), item.Timestamp.Local().Format("2006-01-02 15:04"))
				if item.Retries > 0 {
					line += fmt.Sprintf("  (retries: %d)", item.Retries)
				}
				stdout.Mutedf("%s", line)
			}
			return nil
		})
	},
}

var offlineCmd = &cobra.Command{
	Use:       "offline [on|off]",
	GroupID:   "sync",
	Short:     "Force offline mode on or off",
	Long:      `Force offline mode regardless of network state. A running daemon picks the change up immediately. Without an argument the current setting is shown.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			if connectivity.OfflineFlagSet(cfg.DataDir) {
				stdout.Linef("Forced offline: on")
			} else {
				stdout.Linef("Forced offline: off")
			}
			return nil
		}

		on := args[0] == "on"
		if err := connectivity.SetOfflineFlag(cfg.DataDir, on); err != nil {
			return err
		}
		if on {
			stdout.Linef("Offline mode forced on; changes will be queued locally")
		} else {
			stdout.Linef("Offline mode off; run 'taskly sync' to replay queued changes")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "Output format (text, json, yaml)")

	rootCmd.AddCommand(syncCmd, statusCmd, offlineCmd)
}
