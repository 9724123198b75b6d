package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "advanced",
	Short:   "Store an API token",
	Long: `Store the bearer token used for API requests.

The token can be passed with --token or piped on stdin:
  echo "$TASKLY_TOKEN" | taskly login`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		user, _ := cmd.Flags().GetString("user")
		if token == "" {
			data, err := readAllStdin()
			if err != nil {
				return err
			}
			token = strings.TrimSpace(data)
		}
		if token == "" {
			return fmt.Errorf("no token given; use --token or pipe it on stdin")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session := api.NewSessionFile(cfg.SessionPath())
		if err := session.Save(api.Session{Token: token, User: user, CreatedAt: time.Now()}); err != nil {
			return err
		}
		stdout.Linef("Token saved to %s", session.Path())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "advanced",
	Short:   "Forget the API token and all offline data",
	Long: `Remove the stored token and wipe the local store: cached responses,
offline copies and the sync queue. Changes that have not been synced are
lost.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noProbe = true
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			pending, err := a.Store.PendingCount(ctx)
			if err != nil {
				return err
			}
			if err := a.Logout(ctx); err != nil {
				return err
			}
			if pending > 0 {
				stdout.Linef("Logged out; discarded %d unsynced change(s)", pending)
			} else {
				stdout.Linef("Logged out")
			}
			return nil
		})
	},
}

// readAllStdin returns piped input, or "" when stdin is a terminal.
func readAllStdin() (string, error) {
	if ui.IsTerminal(os.Stdin) {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return string(data), nil
}

func init() {
	loginCmd.Flags().String("token", "", "Bearer token")
	loginCmd.Flags().String("user", "", "User name to remember with the token")

	rootCmd.AddCommand(loginCmd, logoutCmd)
}
