package app

import (
	"context"
	"time"

	"github.com/taskly-app/taskly/internal/store"
)

// SyncStatus is the snapshot returned by GetSyncStatus.
type SyncStatus struct {
	Online        bool                  `json:"online" yaml:"online"`
	ForcedOffline bool                  `json:"forced_offline" yaml:"forced_offline"`
	Syncing       bool                  `json:"syncing" yaml:"syncing"`
	Degraded      bool                  `json:"degraded_storage" yaml:"degraded_storage"`
	Pending       int                   `json:"pending" yaml:"pending"`
	Items         []store.SyncQueueItem `json:"items" yaml:"items"`
	CalendarSync  time.Time             `json:"calendar_last_sync,omitempty" yaml:"calendar_last_sync,omitempty"`
}

// GetSyncStatus reports connectivity and the queued changes.
func (a *App) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	q, err := a.Store.SyncQueueStatus(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.SetQueueDepth(q.Pending)

	return &SyncStatus{
		Online:        a.Monitor.IsOnline(),
		ForcedOffline: a.Monitor.ForcedOffline(),
		Syncing:       a.Syncer.Running(),
		Degraded:      a.Store.Degraded(),
		Pending:       q.Pending,
		Items:         q.Items,
		CalendarSync:  a.Calendar.LastSync(),
	}, nil
}
