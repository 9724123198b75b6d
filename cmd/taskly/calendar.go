package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/calendar"
	"github.com/taskly-app/taskly/internal/schema"
)

var calendarCmd = &cobra.Command{
	Use:     "calendar",
	Aliases: []string{"cal"},
	GroupID: "tasks",
	Short:   "Calendar view of tasks",
}

var calendarSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the calendar view with the task list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := loadViews(ctx, a); err != nil {
				return err
			}
			mismatched, err := a.Calendar.ValidateConsistency(ctx)
			if err != nil {
				return err
			}
			res, err := a.Calendar.Synchronize(ctx)
			if err != nil {
				return err
			}
			if len(mismatched) == 0 && res.Changes() == 0 {
				stdout.Linef("Calendar in sync (%d task(s))", a.Calendar.Calendar().Len())
				return nil
			}
			stdout.Linef("Calendar reconciled: %d mismatched, %d added, %d updated, %d removed",
				len(mismatched), res.Added, res.Updated, res.Removed)
			return nil
		})
	},
}

var calendarShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List tasks with a due date, soonest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Calendar.Load(ctx); err != nil {
				return err
			}
			var dated []schema.Task
			for _, t := range a.Calendar.Calendar().List() {
				if t.DueDate != nil {
					dated = append(dated, t)
				}
			}
			slices.SortStableFunc(dated, func(x, y schema.Task) int {
				return x.DueDate.Compare(*y.DueDate)
			})
			stdout.Tasks(dated)
			return nil
		})
	},
}

var calendarMoveCmd = &cobra.Command{
	Use:   "move <id> <when>",
	Short: "Move a task to another due date",
	Long: `Move a task to another due date. The date can be ISO or natural language:
  taskly calendar move 6523f0 tomorrow
  taskly calendar move 6523f0 "next friday at 5pm"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, err := calendar.ParseDate(strings.Join(args[1:], " "), time.Now())
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := loadViews(ctx, a); err != nil {
				return err
			}
			t, err := a.Calendar.ChangeDate(ctx, args[0], due)
			if err != nil {
				return err
			}
			stdout.Linef("Moved %s to %s", t.ID, due.Local().Format("Mon Jan 2 2006 15:04"))
			return nil
		})
	},
}

var calendarStatusCmd = &cobra.Command{
	Use:   "set-status <status> <id>...",
	Short: "Move one or more tasks to a status column",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, ids := args[0], args[1:]
		if !schema.ValidStatus(status) {
			return fmt.Errorf("unknown status %q", status)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := loadViews(ctx, a); err != nil {
				return err
			}
			if len(ids) == 1 {
				if _, err := a.Calendar.ChangeStatus(ctx, ids[0], status); err != nil {
					return err
				}
				stdout.Linef("%s is now %s", ids[0], status)
				return nil
			}
			updated, err := a.Calendar.BulkUpdate(ctx, ids, schema.Record{schema.FieldStatus: status})
			stdout.Linef("Updated %d of %d task(s)", len(updated), len(ids))
			return err
		})
	},
}

// loadViews fills both task caches from the API or the local store.
func loadViews(ctx context.Context, a *app.App) error {
	if _, err := a.Manager.Refresh(ctx); err != nil {
		return err
	}
	return a.Calendar.Load(ctx)
}

func init() {
	calendarCmd.AddCommand(calendarSyncCmd, calendarShowCmd, calendarMoveCmd, calendarStatusCmd)
	rootCmd.AddCommand(calendarCmd)
}
