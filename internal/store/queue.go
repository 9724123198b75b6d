package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskly-app/taskly/internal/schema"
)

// Action is a replayable mutation kind.
type Action string

// Queue actions.
const (
	CreateTask Action = "CREATE_TASK"
	UpdateTask Action = "UPDATE_TASK"
	DeleteTask Action = "DELETE_TASK"
	UpdateUser Action = "UPDATE_USER"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case CreateTask, UpdateTask, DeleteTask, UpdateUser:
		return true
	}
	return false
}

// SyncQueueItem is one pending mutation intent.
type SyncQueueItem struct {
	ID        string        `json:"id" yaml:"id"`
	Action    Action        `json:"action" yaml:"action"`
	Data      schema.Record `json:"data" yaml:"data"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Retries   int           `json:"retries" yaml:"retries"`
}

// TargetID returns the id of the record the item mutates.
func (i SyncQueueItem) TargetID() string {
	return i.Data.ID()
}

// QueueStatus summarises the queue for display.
type QueueStatus struct {
	Pending int             `json:"pending" yaml:"pending"`
	Items   []SyncQueueItem `json:"items" yaml:"items"`
}

// AddToSyncQueue appends an item. Items are never deduplicated: two
// updates to the same record produce two items, replayed in order.
func (s *Store) AddToSyncQueue(ctx context.Context, action Action, data schema.Record) (*SyncQueueItem, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid sync action %q", action)
	}

	item := &SyncQueueItem{
		ID:        uuid.NewString(),
		Action:    action,
		Data:      data.Clone(),
		Timestamp: s.clock.Now().UTC(),
	}

	payload, err := json.Marshal(item.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", action, err)
	}

	query := `
	INSERT INTO sync_queue (id, action, data, timestamp, retries, target_id)
	VALUES (?, ?, ?, ?, 0, ?)
	`
	if _, err := s.conn.ExecContext(ctx, query,
		item.ID, string(item.Action), string(payload), formatTime(item.Timestamp), item.TargetID()); err != nil {
		return nil, storageErr("enqueue", fmt.Errorf("failed to enqueue %s: %w", action, err))
	}
	return item, nil
}

// ListSyncQueue returns every item in FIFO order.
func (s *Store) ListSyncQueue(ctx context.Context) ([]SyncQueueItem, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, action, data, timestamp, retries FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, storageErr("queue", fmt.Errorf("failed to list sync queue: %w", err))
	}
	defer rows.Close()

	items := []SyncQueueItem{}
	for rows.Next() {
		var item SyncQueueItem
		var action, data, ts string
		if err := rows.Scan(&item.ID, &action, &data, &ts, &item.Retries); err != nil {
			return nil, storageErr("queue", fmt.Errorf("failed to scan sync queue row: %w", err))
		}
		item.Action = Action(action)
		item.Timestamp = parseTime(ts)
		if item.Data, err = schema.RecordFromJSON([]byte(data)); err != nil {
			return nil, fmt.Errorf("sync queue item %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("queue", fmt.Errorf("error iterating sync queue: %w", err))
	}
	return items, nil
}

// SyncQueueStatus returns the pending count and the items.
func (s *Store) SyncQueueStatus(ctx context.Context) (*QueueStatus, error) {
	items, err := s.ListSyncQueue(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{Pending: len(items), Items: items}, nil
}

// PendingCount returns the number of queued items.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, storageErr("queue", fmt.Errorf("failed to count sync queue: %w", err))
	}
	return n, nil
}

// RemoveFromSyncQueue deletes an item. Returns nil if it doesn't exist.
func (s *Store) RemoveFromSyncQueue(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return storageErr("queue", fmt.Errorf("failed to remove sync item %s: %w", id, err))
	}
	return nil
}

// UpdateSyncItemRetries increments an item's retry counter and returns
// the new value.
func (s *Store) UpdateSyncItemRetries(ctx context.Context, id string) (int, error) {
	var retries int
	err := s.conn.QueryRowContext(ctx,
		`UPDATE sync_queue SET retries = retries + 1 WHERE id = ? RETURNING retries`, id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sync item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, storageErr("queue", fmt.Errorf("failed to update retries for %s: %w", id, err))
	}
	return retries, nil
}

// HasPending reports whether any queued item targets the record id.
func (s *Store) HasPending(ctx context.Context, targetID string) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE target_id = ?`, targetID).Scan(&n); err != nil {
		return false, storageErr("queue", fmt.Errorf("failed to check pending for %s: %w", targetID, err))
	}
	return n > 0, nil
}

// RewriteQueuedID points every queued item targeting oldID at newID. It is
// used once a temporary id has been replaced by the server id. Returns the
// number of rewritten items.
func (s *Store) RewriteQueuedID(ctx context.Context, oldID, newID string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("queue", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM sync_queue WHERE target_id = ? ORDER BY seq ASC`, oldID)
	if err != nil {
		return 0, storageErr("queue", fmt.Errorf("failed to select items for %s: %w", oldID, err))
	}

	type pending struct{ id, data string }
	var matches []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.data); err != nil {
			rows.Close()
			return 0, storageErr("queue", fmt.Errorf("failed to scan sync queue row: %w", err))
		}
		matches = append(matches, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("queue", err)
	}

	for _, p := range matches {
		r, err := schema.RecordFromJSON([]byte(p.data))
		if err != nil {
			return 0, fmt.Errorf("sync queue item %s: %w", p.id, err)
		}
		delete(r, schema.FieldMongoID)
		r.SetID(newID)
		data, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal sync item %s: %w", p.id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET data = ?, target_id = ? WHERE id = ?`, string(data), newID, p.id); err != nil {
			return 0, storageErr("queue", fmt.Errorf("failed to rewrite sync item %s: %w", p.id, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("queue", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return len(matches), nil
}
