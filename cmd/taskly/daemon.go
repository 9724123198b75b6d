package main

import (
	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/daemon"
	"github.com/taskly-app/taskly/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:         "daemon",
	GroupID:     "sync",
	Short:       "Keep syncing in the background",
	Annotations: map[string]string{longRunning: "true"},
	Long: `Run the offline-sync core until interrupted.

The daemon:
- probes the API health endpoint to track connectivity
- replays queued changes as soon as the API is reachable again
- keeps the calendar view reconciled with the task list
- watches for 'taskly offline on|off'

With --dashboard a live view is served with a WebSocket feed of
notifications (/ws), the sync status (/status) and Prometheus metrics
(/metrics).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dash, _ := cmd.Flags().GetBool("dashboard")
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		return runDaemon(cmd, dash, host, port)
	},
}

var dashboardCmd = &cobra.Command{
	Use:         "dashboard",
	GroupID:     "advanced",
	Short:       "Run the daemon with the live dashboard",
	Annotations: map[string]string{longRunning: "true"},
	Long: `Start the daemon together with the dashboard server.

Endpoints:
  /ws       notifications as they happen (status message on connect)
  /status   current connectivity and queued changes
  /metrics  Prometheus metrics
  /health   liveness

Example usage:
  taskly dashboard              # Start on the configured port (default 8787)
  taskly dashboard --port 9000  # Start on a custom port`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		return runDaemon(cmd, true, host, port)
	},
}

func runDaemon(cmd *cobra.Command, dash bool, host string, port int) error {
	noProbe = true
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Dispose()

	cfg := a.Config()
	if !cmd.Flags().Changed("port") {
		port = cfg.Dashboard.Port
	}

	d, err := daemon.New(a, &daemon.Config{
		StatusPollInterval: cfg.Status.PollInterval,
		Dashboard:          dash,
		DashboardHost:      host,
		DashboardPort:      port,
		Logger:             logging.Component(a.Logger(), "daemon"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return err
	}
	if addr := d.DashboardAddr(); addr != "" {
		stdout.Linef("Dashboard: http://%s/", addr)
		stdout.Linef("WebSocket: ws://%s/ws", addr)
	}
	stdout.Mutedf("Press Ctrl+C to stop...")

	<-ctx.Done()
	stdout.Linef("Shutting down...")
	return d.Stop()
}

func init() {
	for _, c := range []*cobra.Command{daemonCmd, dashboardCmd} {
		c.Flags().String("host", "127.0.0.1", "Dashboard bind address")
		c.Flags().IntP("port", "p", 8787, "Dashboard port")
	}
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the live dashboard")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
