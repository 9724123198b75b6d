// Package calendar keeps the calendar's task cache consistent with the
// task manager's.
//
// Both caches are filled by independent fetches and changed by independent
// handlers, so they drift. An Integration reconciles them one way: the
// task-manager copy wins when it is strictly newer, tasks missing from the
// task manager are dropped from the calendar, and new ones are added.
// Mutations made from the calendar go through the shared Manager first and
// are mirrored into the calendar cache right away.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/schema"
)

// Default timings.
const (
	DefaultSyncInterval        = 60 * time.Second
	DefaultMinSyncGap          = 30 * time.Second
	DefaultConsistencyInterval = 5 * time.Minute
)

// Config holds configuration for an Integration.
type Config struct {
	Manager *Manager
	// Source feeds the calendar's own fetch (Load). Defaults to the
	// manager's service.
	Source TaskService

	SyncInterval        time.Duration
	MinSyncGap          time.Duration
	ConsistencyInterval time.Duration

	Notifier notify.Notifier
	Logger   logrus.FieldLogger
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

// Diff is the outcome of comparing the two caches.
type Diff struct {
	Add    []schema.Task
	Update []schema.Task
	Remove []string
}

// Empty reports whether the caches already agree.
func (d Diff) Empty() bool {
	return d.Changes() == 0
}

// Changes is the number of tasks the diff touches.
func (d Diff) Changes() int {
	return len(d.Add) + len(d.Update) + len(d.Remove)
}

// Result summarizes one reconciliation pass.
type Result struct {
	Skipped bool `json:"skipped,omitempty"`
	Added   int  `json:"added"`
	Updated int  `json:"updated"`
	Removed int  `json:"removed"`
}

// Changes is the number of tasks the pass touched.
func (r *Result) Changes() int {
	return r.Added + r.Updated + r.Removed
}

// Integration owns the calendar cache.
type Integration struct {
	manager  *Manager
	source   TaskService
	calendar *Cache

	syncInterval        time.Duration
	minSyncGap          time.Duration
	consistencyInterval time.Duration

	notifier notify.Notifier
	logger   logrus.FieldLogger
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	running  atomic.Bool
	mu       sync.Mutex
	lastSync time.Time
}

// NewIntegration creates an Integration with an empty calendar cache.
func NewIntegration(cfg Config) (*Integration, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}

	in := &Integration{
		manager:             cfg.Manager,
		source:              cfg.Source,
		calendar:            NewCache(nil),
		syncInterval:        cfg.SyncInterval,
		minSyncGap:          cfg.MinSyncGap,
		consistencyInterval: cfg.ConsistencyInterval,
		notifier:            cfg.Notifier,
		logger:              cfg.Logger,
		clock:               cfg.Clock,
		metrics:             cfg.Metrics,
	}
	if in.source == nil {
		in.source = cfg.Manager.service
	}
	if in.syncInterval <= 0 {
		in.syncInterval = DefaultSyncInterval
	}
	if in.minSyncGap <= 0 {
		in.minSyncGap = DefaultMinSyncGap
	}
	if in.consistencyInterval <= 0 {
		in.consistencyInterval = DefaultConsistencyInterval
	}
	if in.notifier == nil {
		in.notifier = notify.Nop{}
	}
	if in.logger == nil {
		in.logger = logrus.StandardLogger()
	}
	if in.clock == nil {
		in.clock = clockwork.NewRealClock()
	}
	return in, nil
}

// Calendar returns the calendar cache.
func (in *Integration) Calendar() *Cache {
	return in.calendar
}

// Manager returns the task manager the integration mirrors.
func (in *Integration) Manager() *Manager {
	return in.manager
}

// LastSync returns when the last reconciliation pass finished.
func (in *Integration) LastSync() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastSync
}

// Load fills the calendar cache from its own fetch.
func (in *Integration) Load(ctx context.Context) error {
	tasks, err := fetchTasks(ctx, in.source)
	if err != nil {
		return err
	}
	in.calendar.Set(tasks)
	return nil
}

// ComputeDiff compares the task-manager tasks with the calendar tasks.
// Only the task-manager side can win a conflict.
func ComputeDiff(manager, calendar []schema.Task) Diff {
	var d Diff

	cal := make(map[string]schema.Task, len(calendar))
	for _, t := range calendar {
		cal[t.ID] = t
	}
	tm := make(map[string]bool, len(manager))
	for _, t := range manager {
		tm[t.ID] = true
		existing, ok := cal[t.ID]
		switch {
		case !ok:
			d.Add = append(d.Add, t)
		case t.UpdatedAt.After(existing.UpdatedAt):
			d.Update = append(d.Update, t)
		}
	}
	for _, t := range calendar {
		if !tm[t.ID] {
			d.Remove = append(d.Remove, t.ID)
		}
	}
	return d
}

// Apply returns calendar with d applied: removed tasks dropped, updated
// tasks replaced in place, added tasks appended.
func (d Diff) Apply(calendar []schema.Task) []schema.Task {
	removed := make(map[string]bool, len(d.Remove))
	for _, id := range d.Remove {
		removed[id] = true
	}
	updated := make(map[string]schema.Task, len(d.Update))
	for _, t := range d.Update {
		updated[t.ID] = t
	}

	out := make([]schema.Task, 0, len(calendar)+len(d.Add))
	for _, t := range calendar {
		if removed[t.ID] {
			continue
		}
		if u, ok := updated[t.ID]; ok {
			t = u
		}
		out = append(out, t)
	}
	return append(out, d.Add...)
}

// Synchronize runs one reconciliation pass. A pass already in flight makes
// this call a no-op with Result.Skipped set.
func (in *Integration) Synchronize(ctx context.Context) (*Result, error) {
	if !in.running.CompareAndSwap(false, true) {
		in.metrics.ReconcileRun("skipped")
		return &Result{Skipped: true}, nil
	}
	defer in.running.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current := in.calendar.List()
	diff := ComputeDiff(in.manager.Tasks(), current)
	res := &Result{Added: len(diff.Add), Updated: len(diff.Update), Removed: len(diff.Remove)}

	if !diff.Empty() {
		in.calendar.Set(diff.Apply(current))

		n := diff.Changes()
		in.notifier.Notify(notify.Notification{
			Kind:    notify.KindCalendar,
			Level:   notify.Info,
			Title:   "Calendar",
			Message: fmt.Sprintf("Calendar synchronized: %d %s updated", n, tasksWord(n)),
			Time:    in.clock.Now(),
		})
		in.logger.WithFields(logrus.Fields{
			"added":   res.Added,
			"updated": res.Updated,
			"removed": res.Removed,
		}).Info("calendar synchronized")
		in.metrics.ReconcileRun("changed")
	} else {
		in.metrics.ReconcileRun("unchanged")
	}

	in.mu.Lock()
	in.lastSync = in.clock.Now()
	in.mu.Unlock()
	return res, nil
}

func tasksWord(n int) string {
	if n == 1 {
		return "task"
	}
	return "tasks"
}

// Tick runs Synchronize unless the previous pass finished less than the
// minimum gap ago.
func (in *Integration) Tick(ctx context.Context) (*Result, error) {
	last := in.LastSync()
	if !last.IsZero() && in.clock.Since(last) < in.minSyncGap {
		return &Result{Skipped: true}, nil
	}
	return in.Synchronize(ctx)
}

// ValidateConsistency compares the fields shown in the calendar for tasks
// present in both caches. On any mismatch a reconciliation pass runs
// immediately. Returns the mismatched ids.
func (in *Integration) ValidateConsistency(ctx context.Context) ([]string, error) {
	cal := make(map[string]schema.Task, in.calendar.Len())
	for _, t := range in.calendar.List() {
		cal[t.ID] = t
	}

	var mismatched []string
	for _, t := range in.manager.Tasks() {
		if c, ok := cal[t.ID]; ok && !schema.SameCriticalFields(t, c) {
			mismatched = append(mismatched, t.ID)
		}
	}
	if len(mismatched) == 0 {
		return nil, nil
	}

	in.logger.WithField("tasks", mismatched).Warn("calendar out of sync with task manager, reconciling")
	if _, err := in.Synchronize(ctx); err != nil {
		return mismatched, err
	}
	return mismatched, nil
}

// Run reconciles once right away, then on every sync interval tick (subject
// to the minimum gap) and checks consistency on its own slower ticker.
// It returns when ctx is done.
func (in *Integration) Run(ctx context.Context) error {
	if _, err := in.Synchronize(ctx); err != nil && !errors.Is(err, context.Canceled) {
		in.logger.WithError(err).Warn("initial calendar sync failed")
	}

	syncTicker := in.clock.NewTicker(in.syncInterval)
	defer syncTicker.Stop()
	checkTicker := in.clock.NewTicker(in.consistencyInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncTicker.Chan():
			if _, err := in.Tick(ctx); err != nil && ctx.Err() == nil {
				in.logger.WithError(err).Warn("calendar sync failed")
			}
		case <-checkTicker.Chan():
			if _, err := in.ValidateConsistency(ctx); err != nil && ctx.Err() == nil {
				in.logger.WithError(err).Warn("calendar consistency check failed")
			}
		}
	}
}
