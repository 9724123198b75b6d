package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/store"
)

// DefaultMaxRetries is the number of failed replays an item survives.
const DefaultMaxRetries = 3

// Config holds configuration for a Syncer.
type Config struct {
	Remote Remote
	Store  *store.Store

	// MaxRetries: an item whose retry counter exceeds it is dropped.
	// Zero means DefaultMaxRetries.
	MaxRetries int

	Notifier notify.Notifier
	Logger   logrus.FieldLogger
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

// Result summarizes one pass.
type Result struct {
	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Interrupted is set when the context was cancelled mid-pass.
	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`

	Attempted int `json:"attempted" yaml:"attempted"`
	Synced    int `json:"synced" yaml:"synced"`
	Failed    int `json:"failed" yaml:"failed"`
	Remaining int `json:"remaining" yaml:"remaining"`

	Dropped []store.SyncQueueItem `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// Syncer drains the Sync Queue. It is safe for concurrent use.
type Syncer struct {
	remote     Remote
	store      *store.Store
	maxRetries int

	notifier notify.Notifier
	logger   logrus.FieldLogger
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	running atomic.Bool
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Syncer{
		remote:     cfg.Remote,
		store:      cfg.Store,
		maxRetries: cfg.MaxRetries,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s, nil
}

// Running reports whether a pass is in flight.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// Sync runs one pass over the queue. The returned error is reserved for
// failures of the Local Store itself; per-item replay failures are
// counted in the Result.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sync already in progress, skipping")
		s.metrics.SyncRun("skipped")
		return &Result{Skipped: true}, nil
	}
	defer s.running.Store(false)

	items, err := s.store.ListSyncQueue(ctx)
	if err != nil {
		s.metrics.SyncRun("error")
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}

	res := &Result{}
	if len(items) > 0 {
		s.logger.WithField("pending", len(items)).Info("starting sync")
	}

	// Earlier creates may have rewritten temp ids in later items, so each
	// item is reloaded by position before it is replayed.
	for i := 0; i < len(items); i++ {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			break
		}

		item, err := s.reload(ctx, items[i])
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.metrics.SyncRun("error")
			return res, err
		}

		res.Attempted++
		replayErr := s.replay(ctx, item)
		if replayErr == nil {
			res.Synced++
			s.metrics.SyncItem(string(item.Action), "synced")
			continue
		}

		if ctx.Err() != nil {
			s.logger.WithError(replayErr).WithField("item", item.ID).Warn("sync pass cancelled")
			s.metrics.SyncItem(string(item.Action), "interrupted")
			res.Attempted--
			res.Interrupted = true
			break
		}

		var storageErr *store.StorageError
		if errors.As(replayErr, &storageErr) {
			s.metrics.SyncRun("error")
			return res, replayErr
		}

		dropped, err := s.fail(ctx, item, replayErr)
		if err != nil {
			s.metrics.SyncRun("error")
			return res, err
		}
		res.Failed++
		if dropped {
			res.Dropped = append(res.Dropped, item)
		}
	}

	if res.Remaining, err = s.store.PendingCount(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to count pending items")
	}
	s.metrics.SetQueueDepth(res.Remaining)
	s.report(res)
	return res, nil
}

func (s *Syncer) reload(ctx context.Context, item store.SyncQueueItem) (store.SyncQueueItem, error) {
	current, err := s.store.ListSyncQueue(ctx)
	if err != nil {
		return item, fmt.Errorf("failed to read sync queue: %w", err)
	}
	for _, it := range current {
		if it.ID == item.ID {
			return it, nil
		}
	}
	return item, fmt.Errorf("sync queue item %s: %w", item.ID, store.ErrNotFound)
}

// fail records a failed replay and drops the item once it is out of
// retries.
func (s *Syncer) fail(ctx context.Context, item store.SyncQueueItem, cause error) (bool, error) {
	retries, err := s.store.UpdateSyncItemRetries(ctx, item.ID)
	if err != nil {
		return false, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"item":    item.ID,
		"action":  item.Action,
		"target":  item.TargetID(),
		"retries": retries,
	}).WithError(cause)

	if retries <= s.maxRetries {
		log.Warn("sync item failed, will retry")
		s.metrics.SyncItem(string(item.Action), "failed")
		return false, nil
	}

	if err := s.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		return false, err
	}
	log.Error("sync item exceeded retry limit, dropped")
	s.metrics.SyncItem(string(item.Action), "dropped")
	return true, nil
}

func (s *Syncer) report(res *Result) {
	switch {
	case res.Interrupted:
		s.metrics.SyncRun("interrupted")
	case res.Failed > 0:
		s.metrics.SyncRun("partial")
	default:
		s.metrics.SyncRun("ok")
	}

	now := s.clock.Now()
	if n := len(res.Dropped); n > 0 {
		s.notifier.Notify(notify.Notification{
			Kind:    notify.KindSyncDrop,
			Level:   notify.Warning,
			Title:   "Sync Failed",
			Message: fmt.Sprintf("Failed to sync %d %s", n, changes(n)),
			Time:    now,
		})
	}
	if res.Synced > 0 {
		s.notifier.Notify(notify.Notification{
			Kind:    notify.KindSync,
			Level:   notify.Success,
			Title:   "Sync complete",
			Message: fmt.Sprintf("%d %s synced", res.Synced, changes(res.Synced)),
			Time:    now,
		})
	}
	if res.Attempted > 0 {
		s.logger.WithFields(logrus.Fields{
			"synced":    res.Synced,
			"failed":    res.Failed,
			"dropped":   len(res.Dropped),
			"remaining": res.Remaining,
		}).Info("sync pass finished")
	}
}

func changes(n int) string {
	if n == 1 {
		return "change"
	}
	return "changes"
}

func (s *Syncer) replay(ctx context.Context, item store.SyncQueueItem) error {
	switch item.Action {
	case store.CreateTask:
		return s.replayCreate(ctx, item)
	case store.UpdateTask:
		return s.replayUpdate(ctx, item)
	case store.DeleteTask:
		return s.replayDelete(ctx, item)
	case store.UpdateUser:
		return s.replayUser(ctx, item)
	default:
		return fmt.Errorf("unknown sync action %q", item.Action)
	}
}

// replayCreate posts the task and swaps the temporary record for the
// server one. Later queue items are pointed at the server id; when any
// exist, the local copy keeps its unsynced state under the new id.
func (s *Syncer) replayCreate(ctx context.Context, item store.SyncQueueItem) error {
	tempID := item.TargetID()
	out, err := s.remote.Do(ctx, http.MethodPost, api.TasksEndpoint, item.Data.Payload())
	if err != nil {
		return err
	}
	created, err := schema.RecordFromJSON(out)
	if err != nil {
		return fmt.Errorf("failed to decode created task: %w", err)
	}
	serverID := created.ID()
	if serverID == "" {
		return fmt.Errorf("server returned a task without an id")
	}

	if err := s.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		return err
	}
	later, err := s.store.RewriteQueuedID(ctx, tempID, serverID)
	if err != nil {
		return err
	}

	local, getErr := s.store.Get(ctx, store.Tasks, tempID)
	if _, err := s.store.Replace(ctx, store.Tasks, tempID, created); err != nil {
		return err
	}
	if later > 0 && getErr == nil {
		local.SetID(serverID)
		if _, err := s.store.StoreOffline(ctx, store.Tasks, local); err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{"temp_id": tempID, "id": serverID}).Debug("synced task create")
	return nil
}

func (s *Syncer) replayUpdate(ctx context.Context, item store.SyncQueueItem) error {
	id := item.TargetID()
	out, err := s.remote.Do(ctx, http.MethodPut, api.TasksEndpoint+"/"+url.PathEscape(id), item.Data.Payload())
	if err != nil {
		return err
	}
	if err := s.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		return err
	}
	return s.confirm(ctx, store.Tasks, id, out)
}

func (s *Syncer) replayDelete(ctx context.Context, item store.SyncQueueItem) error {
	id := item.TargetID()
	_, err := s.remote.Do(ctx, http.MethodDelete, api.TasksEndpoint+"/"+url.PathEscape(id), nil)
	if err != nil && !api.IsNotFound(err) {
		return err
	}
	if err := s.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		return err
	}

	pending, err := s.store.HasPending(ctx, id)
	if err != nil || pending {
		return err
	}
	return s.store.Delete(ctx, store.Tasks, id)
}

func (s *Syncer) replayUser(ctx context.Context, item store.SyncQueueItem) error {
	out, err := s.remote.Do(ctx, http.MethodPut, api.UserProfileEndpoint, item.Data.Payload())
	if err != nil {
		return err
	}
	if err := s.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
		return err
	}
	return s.confirm(ctx, store.User, item.TargetID(), out)
}

// confirm stores the server copy of an updated record unless more local
// changes to it are still queued.
func (s *Syncer) confirm(ctx context.Context, c store.Collection, localID string, out []byte) error {
	pending, err := s.store.HasPending(ctx, localID)
	if err != nil || pending {
		return err
	}

	rec, err := schema.RecordFromJSON(out)
	if err != nil || rec.ID() == "" {
		// Nothing usable came back; keep the local copy but mark it synced.
		local, getErr := s.store.Get(ctx, c, localID)
		if getErr != nil {
			return nil
		}
		_, err := s.store.Put(ctx, c, local)
		return err
	}
	_, err = s.store.Replace(ctx, c, localID, rec)
	return err
}
