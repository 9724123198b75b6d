package main

import (
	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/fakeapi"
	"github.com/taskly-app/taskly/internal/logging"
)

var devserverCmd = &cobra.Command{
	Use:         "devserver",
	GroupID:     "advanced",
	Short:       "Serve an in-memory Taskly API for local development",
	Annotations: map[string]string{longRunning: "true"},
	Long: `Serve an in-memory implementation of the Taskly REST API.

Point the client at it to try offline behaviour without a real backend:
  taskly devserver --addr :5000 &
  taskly --api http://localhost:5000/api tasks add "try me"

Stopping the server makes the client go offline; restarting it (empty)
and running 'taskly sync' replays the queue.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}

		srv := fakeapi.New(fakeapi.Options{
			Token:  token,
			Logger: logging.Component(logger, "devserver"),
		})
		stdout.Linef("Serving the Taskly API on %s%s", addr, srv.Prefix())
		return srv.Run(addr)
	},
}

func init() {
	devserverCmd.Flags().String("addr", ":5000", "Listen address")
	devserverCmd.Flags().String("token", "", "Require this bearer token")

	rootCmd.AddCommand(devserverCmd)
}
