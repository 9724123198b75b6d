package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var validStatuses = map[string]bool{
	StatusTodo:       true,
	StatusInProgress: true,
	StatusReview:     true,
	StatusDone:       true,
}

var validPriorities = map[string]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

// ValidPriority reports whether p is a known task priority.
func ValidPriority(p string) bool {
	return validPriorities[p]
}

// Task is the typed view of a task record.
// UpdatedAt drives last-write-wins reconciliation between task caches.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`

	Tags []string `json:"tags,omitempty"`

	DueDate   *time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Local bookkeeping, never sent to the server.
	Offline bool `json:"_offline,omitempty"`
	Deleted bool `json:"_deleted,omitempty"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Status != "" && !validStatuses[t.Status] {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.Priority != "" && !validPriorities[t.Priority] {
		return fmt.Errorf("unknown priority %q", t.Priority)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults(now time.Time) {
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Touch sets UpdatedAt. Call it whenever a field is modified locally.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
}

// Record converts the task to its generic record form.
func (t Task) Record() Record {
	data, err := json.Marshal(t)
	if err != nil {
		return Record{FieldID: t.ID, "title": t.Title}
	}
	r, err := RecordFromJSON(data)
	if err != nil {
		return Record{FieldID: t.ID, "title": t.Title}
	}
	return r
}

// TaskFromRecord converts a record to a Task. Mongo-style "_id" is honoured.
func TaskFromRecord(r Record) (Task, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Task{}, fmt.Errorf("failed to encode task record: %w", err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task record %s: %w", r.ID(), err)
	}
	if t.ID == "" {
		t.ID = r.ID()
	}
	return t, nil
}

// TasksFromRecords converts records, skipping tombstones.
func TasksFromRecords(records []Record) ([]Task, error) {
	tasks := make([]Task, 0, len(records))
	for _, r := range records {
		if r.Deleted() {
			continue
		}
		t, err := TaskFromRecord(r)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SameCriticalFields reports whether two copies of a task agree on the fields
// users see in the calendar: title, status, priority and due date.
func SameCriticalFields(a, b Task) bool {
	if a.Title != b.Title || a.Status != b.Status || a.Priority != b.Priority {
		return false
	}
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return true
	case a.DueDate == nil || b.DueDate == nil:
		return false
	default:
		return a.DueDate.Equal(*b.DueDate)
	}
}
