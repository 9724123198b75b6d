package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/store"
)

// Endpoints the facade knows how to replay.
const (
	TasksEndpoint               = "/tasks"
	UserProfileEndpoint         = "/user/profile"
	DashboardStatsEndpoint      = "/dashboard/stats"
	CalendarPreferencesEndpoint = "/user/calendar-preferences"
)

type routeKind int

const (
	routeOther routeKind = iota
	routeTasks
	routeTask
	routeProfile
)

type route struct {
	kind routeKind
	id   string
}

// parseRoute classifies an endpoint path; the query string is ignored.
func parseRoute(endpoint string) route {
	path := endpoint
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "tasks":
		return route{kind: routeTasks}
	case len(parts) == 2 && parts[0] == "tasks" && parts[1] != "":
		return route{kind: routeTask, id: parts[1]}
	case len(parts) == 2 && parts[0] == "user" && parts[1] == "profile":
		return route{kind: routeProfile}
	}
	return route{kind: routeOther}
}

// offline dispatches a request that could not reach the server.
func (c *Client) offline(ctx context.Context, method, endpoint string, body schema.Record, cause error) (json.RawMessage, error) {
	c.logger.WithFields(map[string]interface{}{
		"method":   method,
		"endpoint": endpoint,
		"cause":    cause.Error(),
	}).Debug("serving request offline")

	rt := parseRoute(endpoint)
	switch method {
	case http.MethodGet:
		return c.offlineGet(ctx, endpoint)
	case http.MethodPost:
		if rt.kind == routeTasks {
			return c.offlineCreateTask(ctx, body)
		}
	case http.MethodPut, http.MethodPatch:
		switch rt.kind {
		case routeTask:
			return c.offlineUpdate(ctx, store.Tasks, store.UpdateTask, rt.id, body)
		case routeProfile:
			return c.offlineUpdateProfile(ctx, body)
		}
	case http.MethodDelete:
		if rt.kind == routeTask {
			return c.offlineDeleteTask(ctx, rt.id)
		}
	}
	return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrActionNotAvailableOffline)
}

func (c *Client) offlineGet(ctx context.Context, endpoint string) (json.RawMessage, error) {
	entry, err := c.store.CachedResponse(ctx, endpoint, c.cacheTTL)
	if err != nil {
		c.metrics.CacheLookup(false)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrExpired) {
			return nil, fmt.Errorf("GET %s: %w", endpoint, ErrNotAvailableOffline)
		}
		return nil, err
	}
	c.metrics.CacheLookup(true)
	return entry.Payload, nil
}

func (c *Client) offlineCreateTask(ctx context.Context, body schema.Record) (json.RawMessage, error) {
	now := c.clock.Now()
	rec := schema.Record{}
	if body != nil {
		rec = body.Payload()
	}
	rec.SetID(schema.NewTempID(now))
	stamp := now.UTC().Format(time.RFC3339Nano)
	if rec.String(schema.FieldCreatedAt) == "" {
		rec[schema.FieldCreatedAt] = stamp
	}
	rec[schema.FieldUpdatedAt] = stamp

	stored, err := c.store.StoreOffline(ctx, store.Tasks, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store offline task: %w", err)
	}
	if _, err := c.store.AddToSyncQueue(ctx, store.CreateTask, rec); err != nil {
		return nil, fmt.Errorf("failed to queue task create: %w", err)
	}
	c.metrics.OfflineWrite(string(store.CreateTask))
	return json.Marshal(stored)
}

// offlineUpdate writes fields over the local copy of id and queues the
// change. A missing local copy starts from just the id.
func (c *Client) offlineUpdate(ctx context.Context, coll store.Collection, action store.Action, id string, fields schema.Record) (json.RawMessage, error) {
	existing, err := c.store.Get(ctx, coll, id)
	if errors.Is(err, store.ErrNotFound) {
		existing = schema.Record{}
	} else if err != nil {
		return nil, err
	}

	change := schema.Record{}
	if fields != nil {
		change = fields.Payload()
	}
	change.SetID(id)
	change[schema.FieldUpdatedAt] = c.clock.Now().UTC().Format(time.RFC3339Nano)

	stored, err := c.store.StoreOffline(ctx, coll, existing.Merge(change))
	if err != nil {
		return nil, fmt.Errorf("failed to store offline update: %w", err)
	}
	if _, err := c.store.AddToSyncQueue(ctx, action, change); err != nil {
		return nil, fmt.Errorf("failed to queue update: %w", err)
	}
	c.metrics.OfflineWrite(string(action))
	return json.Marshal(stored)
}

// offlineUpdateProfile updates the single profile record of the user
// collection.
func (c *Client) offlineUpdateProfile(ctx context.Context, fields schema.Record) (json.RawMessage, error) {
	id := "me"
	profiles, err := c.store.GetOfflineData(ctx, store.User, nil)
	if err != nil {
		return nil, err
	}
	if len(profiles) > 0 {
		id = profiles[0].ID()
	}
	return c.offlineUpdate(ctx, store.User, store.UpdateUser, id, fields)
}

func (c *Client) offlineDeleteTask(ctx context.Context, id string) (json.RawMessage, error) {
	existing, err := c.store.Get(ctx, store.Tasks, id)
	if errors.Is(err, store.ErrNotFound) {
		existing = schema.Record{schema.FieldID: id}
	} else if err != nil {
		return nil, err
	}

	tombstone := existing.Clone()
	tombstone[schema.FieldDeleted] = true
	if _, err := c.store.StoreOffline(ctx, store.Tasks, tombstone); err != nil {
		return nil, fmt.Errorf("failed to store tombstone: %w", err)
	}
	if _, err := c.store.AddToSyncQueue(ctx, store.DeleteTask, schema.Record{schema.FieldID: id}); err != nil {
		return nil, fmt.Errorf("failed to queue task delete: %w", err)
	}
	c.metrics.OfflineWrite(string(store.DeleteTask))

	return json.Marshal(map[string]any{
		"success":           true,
		"message":           "Task deleted offline",
		"id":                id,
		schema.FieldOffline: true,
	})
}
