// Command taskly is the command-line client for the Taskly offline-sync core.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/config"
	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/ui"
)

var version = "dev"

// longRunning marks commands that keep the process alive and log at the
// configured level instead of the quieter CLI default.
const longRunning = "long-running"

var (
	cfgFile  string
	dataDir  string
	baseURL  string
	logLevel string
	noProbe  bool

	stdout = ui.NewPrinter(os.Stdout)
	stderr = ui.NewPrinter(os.Stderr)
)

var rootCmd = &cobra.Command{
	Use:   "taskly",
	Short: "Taskly - task management that keeps working offline",
	Long: `Taskly manages tasks against the Taskly REST API.

Every change made while the API is unreachable is applied locally and
queued. The queue is replayed in order once connectivity returns, either
by 'taskly sync' or by a running 'taskly daemon'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: "+config.DefaultConfigDir()+"/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the local store and session")
	rootCmd.PersistentFlags().StringVar(&baseURL, "api", "", "Base URL of the Taskly API")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noProbe, "no-probe", false, "Skip the startup health check and assume online")
}

func main() {
	ctx, cancel := signalContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	return cfg, cfg.Validate()
}

// newLogger builds the logger for cmd. One-shot commands only log warnings
// unless --log-level says otherwise.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level := cfg.Log.Level
	if _, ok := cmd.Annotations[longRunning]; !ok {
		level = "warn"
	}
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(logging.Config{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
}

// openApp builds the App for cmd and checks connectivity once. Notifications
// are printed to stderr.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	a, err := app.New(app.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		Notifiers: []notify.Notifier{stderr},
	})
	if err != nil {
		return nil, err
	}

	if !noProbe {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Connectivity.ProbeTimeout+time.Second)
		a.Prober.Probe(ctx)
		cancel()
	}
	return a, nil
}

// withApp runs fn with an App that is disposed afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Dispose(); err != nil {
			stderr.Linef("Warning: failed to close local store: %v", err)
		}
	}()
	return fn(cmd.Context(), a)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
