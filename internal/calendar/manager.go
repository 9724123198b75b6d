package calendar

import (
	"context"
	"fmt"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/schema"
)

// TaskService is the subset of the API facade the task manager uses.
// *api.Client satisfies it.
type TaskService interface {
	GetTasks(ctx context.Context, filters api.TaskFilters) ([]schema.Record, error)
	CreateTask(ctx context.Context, data schema.Record) (schema.Record, error)
	UpdateTask(ctx context.Context, id string, data schema.Record) (schema.Record, error)
	DeleteTask(ctx context.Context, id string) error
}

// Manager owns the task-manager cache and the mutation functions shared
// with the calendar.
type Manager struct {
	service TaskService
	cache   *Cache
}

// NewManager creates a Manager with an empty cache.
func NewManager(service TaskService) *Manager {
	return &Manager{service: service, cache: NewCache(nil)}
}

// Cache returns the task-manager cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Tasks returns the cached tasks.
func (m *Manager) Tasks() []schema.Task {
	return m.cache.List()
}

// Refresh reloads the cache from the facade.
func (m *Manager) Refresh(ctx context.Context) ([]schema.Task, error) {
	tasks, err := fetchTasks(ctx, m.service)
	if err != nil {
		return nil, err
	}
	m.cache.Set(tasks)
	return tasks, nil
}

// CreateTask creates a task and caches the result.
func (m *Manager) CreateTask(ctx context.Context, data schema.Record) (schema.Task, error) {
	rec, err := m.service.CreateTask(ctx, data)
	if err != nil {
		return schema.Task{}, err
	}
	t, err := schema.TaskFromRecord(rec)
	if err != nil {
		return schema.Task{}, err
	}
	m.cache.Put(t)
	return t, nil
}

// UpdateTask updates a task and caches the result.
func (m *Manager) UpdateTask(ctx context.Context, id string, fields schema.Record) (schema.Task, error) {
	rec, err := m.service.UpdateTask(ctx, id, fields)
	if err != nil {
		return schema.Task{}, err
	}
	t, err := schema.TaskFromRecord(rec)
	if err != nil {
		return schema.Task{}, err
	}
	m.cache.Put(t)
	return t, nil
}

// DeleteTask deletes a task and drops it from the cache.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	if err := m.service.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.cache.Remove(id)
	return nil
}

func fetchTasks(ctx context.Context, service TaskService) ([]schema.Task, error) {
	recs, err := service.GetTasks(ctx, api.TaskFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	return schema.TasksFromRecords(recs)
}
