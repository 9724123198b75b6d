package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/store"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Write offline records as JSONL",
	Long: `Write every record of a collection in the local store as JSON Lines,
including offline markers and tombstones. Use 'taskly import' to restore.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		output, _ := cmd.Flags().GetString("output")
		noProbe = true

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			n, err := a.Store.ExportJSONL(ctx, w, store.Collection(collection))
			if err != nil {
				return err
			}
			stderr.Mutedf("Exported %d %s record(s)", n, collection)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import [file]",
	GroupID: "advanced",
	Short:   "Load offline records from JSONL",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		noProbe = true

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			res, err := a.Store.ImportJSONL(ctx, r, store.Collection(collection))
			if err != nil {
				return err
			}
			stdout.Linef("Imported %d, skipped %d", res.Imported, res.Skipped)
			for _, msg := range res.Errors {
				stderr.Mutedf("  %s", msg)
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringP("collection", "c", string(store.Tasks), "Collection to export (tasks, user)")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	importCmd.Flags().StringP("collection", "c", string(store.Tasks), "Collection to import into (tasks, user)")

	rootCmd.AddCommand(exportCmd, importCmd)
}
