// Package daemon runs the offline-sync core in the background.
//
// The daemon:
//  1. Probes the API health endpoint and feeds the connectivity monitor
//  2. Reconciles the calendar view with the task list on a timer
//  3. Polls the sync queue and drains it whenever the API is reachable
//  4. Optionally serves the live dashboard
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/dashboard"
	"github.com/taskly-app/taskly/internal/logging"
)

// Config holds configuration for the daemon.
type Config struct {
	// StatusPollInterval is how often the pending count is refreshed.
	StatusPollInterval time.Duration

	// Dashboard enables the dashboard server on DashboardHost:DashboardPort.
	Dashboard     bool
	DashboardHost string
	DashboardPort int

	// Logger for daemon activity
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StatusPollInterval: 30 * time.Second,
		DashboardHost:      "127.0.0.1",
		DashboardPort:      8787,
		Logger:             logrus.StandardLogger(),
	}
}

// Daemon orchestrates probing, reconciliation and queue replay for an App.
type Daemon struct {
	app    *app.App
	config *Config
	logger logrus.FieldLogger

	dash *dashboard.Server

	mu      sync.Mutex
	started bool
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon for a. The App is owned by the caller; Stop does not
// dispose it.
func New(a *app.App, config *Config) (*Daemon, error) {
	if a == nil {
		return nil, fmt.Errorf("app cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.StatusPollInterval <= 0 {
		config.StatusPollInterval = DefaultConfig().StatusPollInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &Daemon{app: a, config: config, logger: logger}
	if config.Dashboard {
		d.dash = dashboard.NewServer(&dashboard.Config{
			Host: config.DashboardHost,
			Port: config.DashboardPort,
			Status: func(ctx context.Context) (any, error) {
				return a.GetSyncStatus(ctx)
			},
			Metrics: a.Metrics(),
			Logger:  logging.Component(logger, "dashboard"),
		})
	}
	return d, nil
}

// Start initializes the App and launches the background loops. It returns
// once everything is running; use Run to block until shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("daemon already started")
	}

	d.logger.Info("starting daemon")
	if err := d.app.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.app.AddNotifier(d.dash)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.app.Prober.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		if err := d.app.Calendar.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.WithError(err).Warn("calendar loop stopped")
		}
	}()
	go d.pollStatus(runCtx)

	d.started = true
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.logger.Info("shutdown signal received")
	return d.Stop()
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.logger.Info("stopping daemon")
	d.cancel()
	d.wg.Wait()

	var err error
	if d.dash != nil {
		err = d.dash.Stop()
	}
	d.logger.Info("daemon stopped")
	return err
}

// DashboardAddr returns the dashboard listen address, or "" when the
// dashboard is disabled.
func (d *Daemon) DashboardAddr() string {
	if d.dash == nil {
		return ""
	}
	return d.dash.GetAddr()
}

// pollStatus refreshes the pending count on every interval.
func (d *Daemon) pollStatus(ctx context.Context) {
	defer d.wg.Done()

	ticker := d.app.Clock().NewTicker(d.config.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := d.Poll(ctx); err != nil && ctx.Err() == nil {
				d.logger.WithError(err).Warn("status poll failed")
			}
		}
	}
}

// Poll records the pending count and, when online, refreshes the task list
// and asks for a sync if anything is queued.
func (d *Daemon) Poll(ctx context.Context) error {
	status, err := d.app.GetSyncStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}
	if !status.Online {
		return nil
	}
	if status.Pending > 0 {
		d.logger.WithField("pending", status.Pending).Debug("requesting sync")
		d.app.RequestSync()
	}
	if _, err := d.app.Manager.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh tasks: %w", err)
	}
	return nil
}
