package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/store"
)

// TaskFilters narrows GetTasks.
type TaskFilters struct {
	Status   string
	Priority string
}

func (f TaskFilters) empty() bool {
	return f.Status == "" && f.Priority == ""
}

func (f TaskFilters) match(r schema.Record) bool {
	if f.Status != "" && r.String("status") != f.Status {
		return false
	}
	if f.Priority != "" && r.String("priority") != f.Priority {
		return false
	}
	return true
}

func (f TaskFilters) endpoint() string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if len(q) == 0 {
		return TasksEndpoint
	}
	return TasksEndpoint + "?" + q.Encode()
}

// GetTasks returns the task list with local state laid over it: unsynced
// local creates and edits appear, tombstoned tasks do not. Offline with
// no cached list, the Local Store alone answers; with neither, the call
// fails with ErrNotAvailableOffline.
func (c *Client) GetTasks(ctx context.Context, filters TaskFilters) ([]schema.Record, error) {
	data, fresh, err := c.request(ctx, http.MethodGet, filters.endpoint(), nil)

	var base []schema.Record
	switch {
	case err == nil:
		if base, err = schema.RecordsFromJSON(data); err != nil {
			return nil, err
		}
		if fresh {
			c.refreshTasks(ctx, base, filters)
		}
	case errors.Is(err, ErrNotAvailableOffline):
		base = []schema.Record{}
	default:
		return nil, err
	}

	local, lerr := c.store.GetOfflineData(ctx, store.Tasks, nil)
	if lerr != nil {
		c.logger.WithError(lerr).Warn("failed to read local tasks")
		local = []schema.Record{}
	}

	if err != nil && len(local) == 0 {
		return nil, err
	}
	return overlay(base, local, filters, fresh), nil
}

// overlay merges unsynced local records into a server list. When the list
// is not a fresh server response (cached or missing) every live local
// record is kept, since the Local Store may be newer than the cache.
func overlay(base, local []schema.Record, filters TaskFilters, fresh bool) []schema.Record {
	pending := make(map[string]schema.Record)
	for _, r := range local {
		if r.Offline() || r.Deleted() {
			pending[r.ID()] = r
		}
	}

	out := make([]schema.Record, 0, len(base)+len(pending))
	seen := make(map[string]bool, len(base))
	for _, r := range base {
		id := r.ID()
		seen[id] = true
		if p, ok := pending[id]; ok {
			if p.Deleted() || !filters.match(p) {
				continue
			}
			out = append(out, p)
			continue
		}
		out = append(out, r)
	}

	for _, r := range local {
		id := r.ID()
		if seen[id] || r.Deleted() || !filters.match(r) {
			continue
		}
		if !fresh || r.Offline() {
			out = append(out, r)
		}
	}
	return out
}

// refreshTasks stores server copies of tasks that have no pending local
// change. An unfiltered list is authoritative, so confirmed local copies
// missing from it are dropped.
func (c *Client) refreshTasks(ctx context.Context, server []schema.Record, filters TaskFilters) {
	onServer := make(map[string]bool, len(server))
	for _, r := range server {
		id := r.ID()
		onServer[id] = true
		if pending, err := c.store.HasPending(ctx, id); err != nil || pending {
			continue
		}
		if _, err := c.store.Put(ctx, store.Tasks, r); err != nil {
			c.logger.WithError(err).WithField("id", id).Warn("failed to refresh local task")
		}
	}

	if !filters.empty() {
		return
	}
	local, err := c.store.GetOfflineData(ctx, store.Tasks, nil)
	if err != nil {
		return
	}
	for _, r := range local {
		if onServer[r.ID()] || r.Offline() || r.Deleted() {
			continue
		}
		if err := c.store.Delete(ctx, store.Tasks, r.ID()); err != nil {
			c.logger.WithError(err).WithField("id", r.ID()).Warn("failed to drop stale local task")
		}
	}
}

// GetTask returns one task. An unsynced local copy wins over the server.
func (c *Client) GetTask(ctx context.Context, id string) (schema.Record, error) {
	if local, err := c.store.Get(ctx, store.Tasks, id); err == nil && (local.Offline() || local.Deleted()) {
		if local.Deleted() {
			return nil, &APIError{Method: http.MethodGet, Endpoint: TasksEndpoint + "/" + id, StatusCode: http.StatusNotFound, Message: "Task not found"}
		}
		return local, nil
	}

	data, err := c.Request(ctx, http.MethodGet, taskEndpoint(id), nil)
	if err != nil {
		if errors.Is(err, ErrNotAvailableOffline) {
			if local, lerr := c.store.Get(ctx, store.Tasks, id); lerr == nil {
				return local, nil
			}
		}
		return nil, err
	}
	return schema.RecordFromJSON(data)
}

// CreateTask creates a task; offline it returns the optimistic local record
// with a temporary id and _offline=true.
func (c *Client) CreateTask(ctx context.Context, data schema.Record) (schema.Record, error) {
	out, err := c.Request(ctx, http.MethodPost, TasksEndpoint, data)
	if err != nil {
		return nil, err
	}
	rec, err := schema.RecordFromJSON(out)
	if err != nil {
		return nil, err
	}
	if !rec.Offline() && rec.ID() != "" {
		if _, err := c.store.Put(ctx, store.Tasks, rec); err != nil {
			c.logger.WithError(err).Warn("failed to store created task")
		}
	}
	return rec, nil
}

// UpdateTask updates a task. Tasks that only exist locally (temporary ids)
// are updated offline even when the server is reachable, since the server
// does not know them yet.
func (c *Client) UpdateTask(ctx context.Context, id string, data schema.Record) (schema.Record, error) {
	var out json.RawMessage
	var err error
	if schema.IsTempID(id) {
		out, err = c.offline(ctx, http.MethodPut, taskEndpoint(id), data, ErrOffline)
	} else {
		out, err = c.Request(ctx, http.MethodPut, taskEndpoint(id), data)
	}
	if err != nil {
		return nil, err
	}

	rec, err := schema.RecordFromJSON(out)
	if err != nil {
		return nil, err
	}
	if !rec.Offline() {
		if pending, perr := c.store.HasPending(ctx, id); perr == nil && !pending {
			if _, err := c.store.Put(ctx, store.Tasks, rec); err != nil {
				c.logger.WithError(err).Warn("failed to store updated task")
			}
		}
	}
	return rec, nil
}

// DeleteTask deletes a task; offline it leaves a tombstone.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if schema.IsTempID(id) {
		_, err := c.offline(ctx, http.MethodDelete, taskEndpoint(id), nil, ErrOffline)
		return err
	}

	out, err := c.Request(ctx, http.MethodDelete, taskEndpoint(id), nil)
	if err != nil {
		return err
	}
	if ack, err := schema.RecordFromJSON(out); err == nil && ack.Offline() {
		return nil
	}
	if err := c.store.Delete(ctx, store.Tasks, id); err != nil {
		c.logger.WithError(err).WithField("id", id).Warn("failed to remove deleted task locally")
	}
	return nil
}

// GetUserProfile returns the profile, keeping a local copy for offline
// edits.
func (c *Client) GetUserProfile(ctx context.Context) (schema.Record, error) {
	out, fresh, err := c.request(ctx, http.MethodGet, UserProfileEndpoint, nil)
	if err != nil {
		if errors.Is(err, ErrNotAvailableOffline) {
			if profiles, lerr := c.store.GetOfflineData(ctx, store.User, nil); lerr == nil && len(profiles) > 0 {
				return profiles[0], nil
			}
		}
		return nil, err
	}

	rec, err := schema.RecordFromJSON(out)
	if err != nil {
		return nil, err
	}
	if fresh && rec.ID() != "" {
		if pending, perr := c.store.HasPending(ctx, rec.ID()); perr == nil && !pending {
			if _, err := c.store.Put(ctx, store.User, rec); err != nil {
				c.logger.WithError(err).Warn("failed to store user profile")
			}
		}
	}
	if profiles, lerr := c.store.GetOfflineData(ctx, store.User, nil); lerr == nil && len(profiles) > 0 && profiles[0].Offline() {
		return profiles[0], nil
	}
	return rec, nil
}

// UpdateUserProfile updates the profile; offline the change is queued.
func (c *Client) UpdateUserProfile(ctx context.Context, data schema.Record) (schema.Record, error) {
	out, err := c.Request(ctx, http.MethodPut, UserProfileEndpoint, data)
	if err != nil {
		return nil, err
	}
	rec, err := schema.RecordFromJSON(out)
	if err != nil {
		return nil, err
	}
	if !rec.Offline() && rec.ID() != "" {
		if _, err := c.store.Put(ctx, store.User, rec); err != nil {
			c.logger.WithError(err).Warn("failed to store user profile")
		}
	}
	return rec, nil
}

// GetDashboardStats returns the dashboard summary (cached offline).
func (c *Client) GetDashboardStats(ctx context.Context) (schema.Record, error) {
	out, err := c.Request(ctx, http.MethodGet, DashboardStatsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return schema.RecordFromJSON(out)
}

// GetCalendarPreferences returns the calendar preferences (cached offline).
func (c *Client) GetCalendarPreferences(ctx context.Context) (schema.Record, error) {
	out, err := c.Request(ctx, http.MethodGet, CalendarPreferencesEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return schema.RecordFromJSON(out)
}

// UpdateCalendarPreferences saves the calendar preferences. There is no
// replayable action for it, so it fails offline.
func (c *Client) UpdateCalendarPreferences(ctx context.Context, prefs schema.Record) (schema.Record, error) {
	out, err := c.Request(ctx, http.MethodPut, CalendarPreferencesEndpoint, prefs)
	if err != nil {
		return nil, err
	}
	return schema.RecordFromJSON(out)
}

func taskEndpoint(id string) string {
	return fmt.Sprintf("%s/%s", TasksEndpoint, url.PathEscape(id))
}
