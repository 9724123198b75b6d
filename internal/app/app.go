// Package app wires the offline-sync core together: Local Store,
// connectivity monitor, API facade, synchronizer and calendar
// integration. One App is built per process and disposed explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	gosync "sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/calendar"
	"github.com/taskly-app/taskly/internal/config"
	"github.com/taskly-app/taskly/internal/connectivity"
	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/store"
	"github.com/taskly-app/taskly/internal/sync"
)

// ErrOffline is returned by ForceSync while the monitor reports OFFLINE.
var ErrOffline = api.ErrOffline

// Options configures New. Only Config is required.
type Options struct {
	Config *config.Config

	Logger     logrus.FieldLogger
	Clock      clockwork.Clock
	HTTPClient *http.Client
	Metrics    *metrics.Metrics

	// Notifiers receive every notification in addition to the log.
	Notifiers []notify.Notifier

	// InitialState is the platform state assumed before the first probe.
	InitialState connectivity.State
}

// App owns every component of the core.
type App struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	clock   clockwork.Clock
	metrics *metrics.Metrics
	hub     *notify.Hub

	Store    *store.Store
	Monitor  *connectivity.Monitor
	Prober   *connectivity.Prober
	Session  *api.SessionFile
	Client   *api.Client
	Syncer   *sync.Syncer
	Manager  *calendar.Manager
	Calendar *calendar.Integration

	flags        *connectivity.FlagWatcher
	unsubscribe  func()
	syncRequests chan struct{}

	mu       gosync.Mutex
	started  bool
	disposed bool
	cancel   context.CancelFunc
	wg       gosync.WaitGroup

	// bgCtx scopes passes requested before Init.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New builds an App. A Local Store that cannot be opened on disk is
// replaced by an in-memory one and the user is warned.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		clock:        clock,
		metrics:      opts.Metrics,
		hub:          &notify.Hub{},
		syncRequests: make(chan struct{}, 1),
	}
	a.bgCtx, a.bgCancel = context.WithCancel(context.Background())
	a.hub.Add(notify.Log{Logger: logging.Component(logger, "notify")})
	for _, n := range opts.Notifiers {
		a.hub.Add(n)
	}

	st, err := store.OpenOrMemory(cfg.DatabasePath(),
		store.WithClock(clock),
		store.WithLogger(logging.Component(logger, "store")))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	a.Store = st
	if st.Degraded() {
		a.hub.Notify(notify.Notification{
			Kind:    notify.KindStorage,
			Level:   notify.Warning,
			Title:   "Storage unavailable",
			Message: "Offline data will not survive a restart",
			Time:    clock.Now(),
		})
	}

	a.Monitor = connectivity.NewMonitor(connectivity.Config{
		Initial:  opts.InitialState,
		Notifier: a.hub,
		Logger:   logging.Component(logger, "connectivity"),
		Clock:    clock,
		Metrics:  opts.Metrics,
	})
	if connectivity.OfflineFlagSet(cfg.DataDir) {
		a.Monitor.SetForcedOffline(true)
	}

	a.Prober = connectivity.NewProber(a.Monitor, connectivity.ProberConfig{
		URL:      cfg.API.BaseURL + cfg.Connectivity.HealthPath,
		Interval: cfg.Connectivity.ProbeInterval,
		Timeout:  cfg.Connectivity.ProbeTimeout,
		Client:   opts.HTTPClient,
		Clock:    clock,
		Logger:   logging.Component(logger, "prober"),
	})

	a.Session = api.NewSessionFile(cfg.SessionPath())
	a.Client, err = api.New(api.Config{
		BaseURL:      cfg.API.BaseURL,
		Store:        st,
		Connectivity: a.Monitor,
		Tokens:       a.Session,
		CacheTTL:     cfg.Cache.TTL,
		HTTPClient:   opts.HTTPClient,
		Clock:        clock,
		Logger:       logging.Component(logger, "api"),
		Metrics:      opts.Metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.Syncer, err = sync.New(sync.Config{
		Remote:     a.Client,
		Store:      st,
		MaxRetries: cfg.Sync.MaxRetries,
		Notifier:   a.hub,
		Logger:     logging.Component(logger, "sync"),
		Clock:      clock,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.Manager = calendar.NewManager(a.Client)
	a.Calendar, err = calendar.NewIntegration(calendar.Config{
		Manager:             a.Manager,
		SyncInterval:        cfg.Calendar.SyncInterval,
		MinSyncGap:          cfg.Calendar.MinSyncGap,
		ConsistencyInterval: cfg.Calendar.ConsistencyInterval,
		Notifier:            a.hub,
		Logger:              logging.Component(logger, "calendar"),
		Clock:               clock,
		Metrics:             opts.Metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.flags = connectivity.NewFlagWatcher(a.Monitor, cfg.DataDir, logging.Component(logger, "flag"))
	return a, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() logrus.FieldLogger {
	return a.logger
}

// Clock returns the clock shared by every component.
func (a *App) Clock() clockwork.Clock {
	return a.clock
}

// Metrics returns the metrics sink, possibly nil.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// AddNotifier registers another notification sink.
func (a *App) AddNotifier(n notify.Notifier) {
	a.hub.Add(n)
}

// Notify sends n through every registered sink.
func (a *App) Notify(n notify.Notification) {
	a.hub.Notify(n)
}

// Init starts the background parts: the offline flag watcher, the sync
// worker, and the reconnect trigger. Calling it twice is a no-op.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return fmt.Errorf("app already disposed")
	}
	if a.started {
		return nil
	}

	if err := a.flags.Start(); err != nil {
		a.logger.WithError(err).Warn("offline flag watcher unavailable")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.syncWorker(workerCtx)

	a.unsubscribe = a.Monitor.Subscribe(func(ev connectivity.Event) {
		if ev.To == connectivity.Online {
			a.RequestSync()
		}
	})

	a.started = true
	return nil
}

// Dispose stops everything Init started, waits for in-flight sync passes,
// and closes the Local Store.
func (a *App) Dispose() error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.disposed = true
	a.mu.Unlock()

	if started {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		if a.flags.IsRunning() {
			if err := a.flags.Stop(); err != nil {
				a.logger.WithError(err).Warn("failed to stop offline flag watcher")
			}
		}
		a.cancel()
	}
	a.bgCancel()
	a.wg.Wait()
	return a.Store.Close()
}

// RequestSync asks for a sync pass without waiting for it. Requests made
// while one is already pending are merged. Before Init there is no worker,
// so the pass runs on its own goroutine; after Dispose it is ignored.
func (a *App) RequestSync() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	if !a.started {
		a.wg.Add(1)
		a.mu.Unlock()
		go func() {
			defer a.wg.Done()
			a.runSync(a.bgCtx)
		}()
		return
	}
	a.mu.Unlock()

	select {
	case a.syncRequests <- struct{}{}:
	default:
	}
}

func (a *App) syncWorker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.syncRequests:
			a.runSync(ctx)
		}
	}
}

func (a *App) runSync(ctx context.Context) {
	if !a.Monitor.IsOnline() {
		return
	}
	if _, err := a.Syncer.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Warn("background sync failed")
	}
}

// ForceSync runs a pass now. It fails fast with ErrOffline while offline.
func (a *App) ForceSync(ctx context.Context) (*sync.Result, error) {
	if !a.Monitor.IsOnline() {
		return nil, fmt.Errorf("cannot sync: %w", ErrOffline)
	}
	return a.Syncer.Sync(ctx)
}

// Logout clears the session and every piece of offline data.
func (a *App) Logout(ctx context.Context) error {
	if err := a.Session.Clear(); err != nil {
		return err
	}
	if err := a.Store.ClearOfflineData(ctx); err != nil {
		return fmt.Errorf("failed to clear offline data: %w", err)
	}
	a.Manager.Cache().Set(nil)
	a.Calendar.Calendar().Set(nil)
	return nil
}
