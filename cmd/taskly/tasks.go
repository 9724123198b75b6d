package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/calendar"
	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task", "t"},
	GroupID: "tasks",
	Short:   "List and edit tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks from the API, or from the local store while offline.

Tasks created or edited offline are marked "(offline)" until they sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			records, err := a.Client.GetTasks(ctx, api.TaskFilters{Status: status, Priority: priority})
			if err != nil {
				return err
			}
			tasks, err := schema.TasksFromRecords(records)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(tasks)
			}
			stdout.Tasks(tasks)
			return nil
		})
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Client.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			task, err := schema.TaskFromRecord(rec)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(task)
			}
			stdout.Task(task)
			return nil
		})
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a task",
	Long: `Create a task. Without a title on a terminal an interactive form is shown.

Due dates accept ISO dates and natural language:
  taskly tasks add "Pay rent" --due "next monday"
  taskly tasks add "Ship release" --due 2026-11-02 --priority high`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := ui.TaskInput{}
		in.Description, _ = cmd.Flags().GetString("description")
		in.Priority, _ = cmd.Flags().GetString("priority")
		in.Due, _ = cmd.Flags().GetString("due")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		if len(args) == 1 {
			in.Title = args[0]
		} else {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("a title is required when not running on a terminal")
			}
			if err := ui.TaskForm(&in).RunWithContext(cmd.Context()); err != nil {
				return err
			}
		}

		data, err := taskRecord(in, tags, time.Now())
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Client.CreateTask(ctx, data)
			if err != nil {
				return err
			}
			reportWrite("Created", rec)
			return nil
		})
	},
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := schema.Record{}
		for _, name := range []string{"title", "description", "status", "priority"} {
			if cmd.Flags().Changed(name) {
				v, _ := cmd.Flags().GetString(name)
				fields[name] = v
			}
		}
		if cmd.Flags().Changed("due") {
			v, _ := cmd.Flags().GetString("due")
			due, err := calendar.ParseDate(v, time.Now())
			if err != nil {
				return err
			}
			fields["dueDate"] = due.UTC().Format(time.RFC3339)
		}
		if cmd.Flags().Changed("tag") {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			fields["tags"] = tags
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to update; pass at least one field flag")
		}
		if err := validateFields(fields); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Client.UpdateTask(ctx, args[0], fields)
			if err != nil {
				return err
			}
			reportWrite("Updated", rec)
			return nil
		})
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Client.DeleteTask(ctx, args[0]); err != nil {
				return err
			}
			if a.Monitor.IsOnline() && !schema.IsTempID(args[0]) {
				stdout.Linef("Deleted %s", args[0])
			} else {
				stdout.Linef("Deleted %s locally; the change will sync when online", args[0])
			}
			return nil
		})
	},
}

func init() {
	tasksListCmd.Flags().String("status", "", "Only tasks with this status")
	tasksListCmd.Flags().String("priority", "", "Only tasks with this priority")
	tasksListCmd.Flags().Bool("json", false, "Output JSON")

	tasksShowCmd.Flags().Bool("json", false, "Output JSON")

	tasksAddCmd.Flags().StringP("description", "d", "", "Task description")
	tasksAddCmd.Flags().StringP("priority", "p", "", "Priority (low, medium, high, urgent)")
	tasksAddCmd.Flags().String("due", "", "Due date (ISO date or natural language)")
	tasksAddCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")

	tasksUpdateCmd.Flags().String("title", "", "New title")
	tasksUpdateCmd.Flags().StringP("description", "d", "", "New description")
	tasksUpdateCmd.Flags().StringP("status", "s", "", "New status (todo, in-progress, review, done)")
	tasksUpdateCmd.Flags().StringP("priority", "p", "", "New priority (low, medium, high, urgent)")
	tasksUpdateCmd.Flags().String("due", "", "New due date (ISO date or natural language)")
	tasksUpdateCmd.Flags().StringSlice("tag", nil, "Replace tags (repeatable)")

	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksAddCmd, tasksUpdateCmd, tasksDeleteCmd)
	rootCmd.AddCommand(tasksCmd)
}

// taskRecord turns form or flag input into a create payload.
func taskRecord(in ui.TaskInput, tags []string, now time.Time) (schema.Record, error) {
	if err := ui.ValidateTitle(in.Title); err != nil {
		return nil, err
	}
	data := schema.Record{"title": strings.TrimSpace(in.Title)}
	if in.Description != "" {
		data["description"] = in.Description
	}
	if in.Priority != "" {
		data["priority"] = in.Priority
	}
	if len(tags) > 0 {
		data["tags"] = tags
	}
	if strings.TrimSpace(in.Due) != "" {
		due, err := calendar.ParseDate(in.Due, now)
		if err != nil {
			return nil, err
		}
		data["dueDate"] = due.UTC().Format(time.RFC3339)
	}
	return data, validateFields(data)
}

func validateFields(fields schema.Record) error {
	if s := fields.String("status"); s != "" && !schema.ValidStatus(s) {
		return fmt.Errorf("unknown status %q", s)
	}
	if p := fields.String("priority"); p != "" && !schema.ValidPriority(p) {
		return fmt.Errorf("unknown priority %q", p)
	}
	if _, ok := fields["title"]; ok {
		if err := ui.ValidateTitle(fields.String("title")); err != nil {
			return err
		}
	}
	return nil
}

// reportWrite tells the user whether a write reached the server.
func reportWrite(verb string, rec schema.Record) {
	if rec.Offline() {
		stdout.Linef("%s %s offline; the change will sync when online", verb, rec.ID())
		return
	}
	stdout.Linef("%s %s", verb, rec.ID())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
