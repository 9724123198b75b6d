package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskly-app/taskly/internal/schema"
)

// CreateTask creates a task through the manager and shows it in the
// calendar immediately.
func (in *Integration) CreateTask(ctx context.Context, data schema.Record) (schema.Task, error) {
	t, err := in.manager.CreateTask(ctx, data)
	if err != nil {
		return schema.Task{}, err
	}
	in.calendar.Put(t)
	return t, nil
}

// UpdateTask updates a task through the manager and mirrors the result.
func (in *Integration) UpdateTask(ctx context.Context, id string, fields schema.Record) (schema.Task, error) {
	t, err := in.manager.UpdateTask(ctx, id, fields)
	if err != nil {
		return schema.Task{}, err
	}
	in.calendar.Rename(id, t)
	return t, nil
}

// DeleteTask deletes a task through the manager and drops it from the
// calendar.
func (in *Integration) DeleteTask(ctx context.Context, id string) error {
	if err := in.manager.DeleteTask(ctx, id); err != nil {
		return err
	}
	in.calendar.Remove(id)
	return nil
}

// ChangeStatus moves a task to another status column.
func (in *Integration) ChangeStatus(ctx context.Context, id, status string) (schema.Task, error) {
	if !schema.ValidStatus(status) {
		return schema.Task{}, fmt.Errorf("unknown status %q", status)
	}
	return in.UpdateTask(ctx, id, schema.Record{schema.FieldStatus: status})
}

// ChangeDate moves a task to another due date.
func (in *Integration) ChangeDate(ctx context.Context, id string, due time.Time) (schema.Task, error) {
	if due.IsZero() {
		return schema.Task{}, fmt.Errorf("due date is required")
	}
	return in.UpdateTask(ctx, id, schema.Record{"dueDate": due.UTC().Format(time.RFC3339)})
}

// BulkUpdate applies the same fields to several tasks. Every id is
// attempted; failures are joined into the returned error.
func (in *Integration) BulkUpdate(ctx context.Context, ids []string, fields schema.Record) ([]schema.Task, error) {
	var (
		updated []schema.Task
		errs    []error
	)
	for _, id := range ids {
		t, err := in.UpdateTask(ctx, id, fields.Clone())
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
			continue
		}
		updated = append(updated, t)
	}
	return updated, errors.Join(errs...)
}
