package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/taskly-app/taskly/internal/api"
	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/schema"
)

var epoch = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

// memService is an in-memory TaskService.
type memService struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	tasks  map[string]schema.Record
	nextID int
}

func newMemService(clock clockwork.Clock) *memService {
	return &memService{clock: clock, tasks: make(map[string]schema.Record)}
}

func (s *memService) GetTasks(ctx context.Context, _ api.TaskFilters) ([]schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]schema.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func (s *memService) CreateTask(ctx context.Context, data schema.Record) (schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := data.Clone()
	r.SetID(fmt.Sprintf("t%d", s.nextID))
	r[schema.FieldUpdatedAt] = s.clock.Now().Format(time.RFC3339Nano)
	s.tasks[r.ID()] = r
	return r.Clone(), nil
}

func (s *memService) UpdateTask(ctx context.Context, id string, data schema.Record) (schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[id]
	if !ok {
		return nil, &api.APIError{Method: "PUT", Endpoint: "/tasks/" + id, StatusCode: 404, Message: "Task not found"}
	}
	r := existing.Merge(data)
	r[schema.FieldUpdatedAt] = s.clock.Now().Format(time.RFC3339Nano)
	s.tasks[id] = r
	return r.Clone(), nil
}

func (s *memService) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return &api.APIError{Method: "DELETE", Endpoint: "/tasks/" + id, StatusCode: 404, Message: "Task not found"}
	}
	delete(s.tasks, id)
	return nil
}

func task(id, title string, updated time.Time) schema.Task {
	return schema.Task{ID: id, Title: title, Status: schema.StatusTodo, UpdatedAt: updated}
}

type testIntegration struct {
	*Integration
	service *memService
	clock   *clockwork.FakeClock
	notes   *notify.Recorder
}

func newTestIntegration(t *testing.T) *testIntegration {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	svc := newMemService(clock)
	notes := &notify.Recorder{}

	in, err := NewIntegration(Config{
		Manager:  NewManager(svc),
		Notifier: notes,
		Logger:   logging.Discard(),
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewIntegration() failed: %v", err)
	}
	return &testIntegration{Integration: in, service: svc, clock: clock, notes: notes}
}

func idSet(tasks []schema.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestNewIntegration_RequiresManager(t *testing.T) {
	if _, err := NewIntegration(Config{}); err == nil {
		t.Error("expected error for missing manager")
	}
}

func TestComputeDiff(t *testing.T) {
	t1 := epoch
	t2 := epoch.Add(time.Minute)

	tests := []struct {
		name    string
		manager []schema.Task
		cal     []schema.Task
		add     []string
		update  []string
		remove  []string
	}{
		{
			name:    "identical",
			manager: []schema.Task{task("a", "A", t1)},
			cal:     []schema.Task{task("a", "A", t1)},
		},
		{
			name:    "missing from calendar",
			manager: []schema.Task{task("a", "A", t1), task("b", "B", t1)},
			cal:     []schema.Task{task("a", "A", t1)},
			add:     []string{"b"},
		},
		{
			name:    "deleted upstream",
			manager: []schema.Task{task("a", "A", t1)},
			cal:     []schema.Task{task("a", "A", t1), task("z", "Z", t1)},
			remove:  []string{"z"},
		},
		{
			name:    "manager newer",
			manager: []schema.Task{task("a", "A2", t2)},
			cal:     []schema.Task{task("a", "A1", t1)},
			update:  []string{"a"},
		},
		{
			name:    "calendar newer is kept",
			manager: []schema.Task{task("a", "A1", t1)},
			cal:     []schema.Task{task("a", "A2", t2)},
		},
		{
			name:    "same timestamp is kept",
			manager: []schema.Task{task("a", "other", t1)},
			cal:     []schema.Task{task("a", "A", t1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeDiff(tt.manager, tt.cal)
			if got := idSet(d.Add); strings.Join(got, ",") != strings.Join(tt.add, ",") {
				t.Errorf("Add = %v, want %v", got, tt.add)
			}
			if got := idSet(d.Update); strings.Join(got, ",") != strings.Join(tt.update, ",") {
				t.Errorf("Update = %v, want %v", got, tt.update)
			}
			if strings.Join(d.Remove, ",") != strings.Join(tt.remove, ",") {
				t.Errorf("Remove = %v, want %v", d.Remove, tt.remove)
			}
		})
	}
}

// TestSynchronize_Membership verifies the calendar ends up with exactly the
// task manager's tasks.
func TestSynchronize_Membership(t *testing.T) {
	ti := newTestIntegration(t)
	ti.Manager().Cache().Set([]schema.Task{task("a", "A", epoch), task("b", "B", epoch), task("c", "C", epoch)})
	ti.Calendar().Set([]schema.Task{task("b", "B", epoch), task("d", "D", epoch)})

	res, err := ti.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	if res.Added != 2 || res.Removed != 1 || res.Updated != 0 {
		t.Errorf("Result = %+v", res)
	}

	got := strings.Join(idSet(ti.Calendar().List()), ",")
	if got != "a,b,c" {
		t.Errorf("calendar ids = %s, want a,b,c", got)
	}

	notes := ti.notes.OfKind(notify.KindCalendar)
	if len(notes) != 1 || notes[0].Message != "Calendar synchronized: 3 tasks updated" {
		t.Errorf("notifications = %+v", notes)
	}
}

// TestSynchronize_NewerWins covers a task edited in the task manager after
// the calendar loaded it.
func TestSynchronize_NewerWins(t *testing.T) {
	ti := newTestIntegration(t)
	t1 := epoch
	t2 := epoch.Add(time.Hour)

	ti.Manager().Cache().Set([]schema.Task{task("t1", "new title", t2)})
	ti.Calendar().Set([]schema.Task{task("t1", "old title", t1)})

	res, err := ti.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("Result = %+v", res)
	}

	got, ok := ti.Calendar().Get("t1")
	if !ok || got.Title != "new title" || !got.UpdatedAt.Equal(t2) {
		t.Errorf("calendar t1 = %+v", got)
	}

	notes := ti.notes.OfKind(notify.KindCalendar)
	if len(notes) != 1 || notes[0].Message != "Calendar synchronized: 1 task updated" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestSynchronize_NoChangesIsQuiet(t *testing.T) {
	ti := newTestIntegration(t)
	ti.Manager().Cache().Set([]schema.Task{task("a", "A", epoch)})
	ti.Calendar().Set([]schema.Task{task("a", "A", epoch)})

	res, err := ti.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	if res.Changes() != 0 {
		t.Errorf("Result = %+v", res)
	}
	if n := len(ti.notes.All()); n != 0 {
		t.Errorf("got %d notifications, want 0", n)
	}
	if !ti.LastSync().Equal(epoch) {
		t.Errorf("LastSync() = %v, want %v", ti.LastSync(), epoch)
	}
}

func TestSynchronize_SkipsWhenRunning(t *testing.T) {
	ti := newTestIntegration(t)
	ti.Manager().Cache().Set([]schema.Task{task("a", "A", epoch)})

	ti.running.Store(true)
	res, err := ti.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	if !res.Skipped || ti.Calendar().Len() != 0 {
		t.Errorf("Result = %+v, calendar len %d", res, ti.Calendar().Len())
	}
	ti.running.Store(false)
}

func TestTick_MinimumGap(t *testing.T) {
	ti := newTestIntegration(t)
	ctx := context.Background()

	if _, err := ti.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	ti.Manager().Cache().Put(task("a", "A", epoch))

	ti.clock.Advance(29 * time.Second)
	res, err := ti.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if !res.Skipped {
		t.Errorf("Tick() 29s after a pass = %+v, want skipped", res)
	}

	ti.clock.Advance(time.Second)
	res, err = ti.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if res.Skipped || res.Added != 1 {
		t.Errorf("Tick() 30s after a pass = %+v, want one add", res)
	}
}

func TestValidateConsistency(t *testing.T) {
	ti := newTestIntegration(t)
	ctx := context.Background()

	ti.Manager().Cache().Set([]schema.Task{task("a", "A", epoch), task("b", "B", epoch.Add(time.Minute))})
	ti.Calendar().Set([]schema.Task{task("a", "A", epoch), task("b", "stale", epoch)})

	mismatched, err := ti.ValidateConsistency(ctx)
	if err != nil {
		t.Fatalf("ValidateConsistency() failed: %v", err)
	}
	if strings.Join(mismatched, ",") != "b" {
		t.Errorf("mismatched = %v, want [b]", mismatched)
	}
	if got, _ := ti.Calendar().Get("b"); got.Title != "B" {
		t.Errorf("calendar b = %+v, want reconciled", got)
	}

	mismatched, err = ti.ValidateConsistency(ctx)
	if err != nil || len(mismatched) != 0 {
		t.Errorf("second check = %v, %v; want none", mismatched, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRun(t *testing.T) {
	ti := newTestIntegration(t)
	ti.Manager().Cache().Set([]schema.Task{task("a", "A", epoch)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ti.Run(ctx) }()

	// Eager pass on start.
	waitFor(t, func() bool { return ti.Calendar().Len() == 1 })

	ti.Manager().Cache().Put(task("b", "B", epoch))
	ti.clock.BlockUntil(2)
	ti.clock.Advance(DefaultSyncInterval)
	waitFor(t, func() bool { return ti.Calendar().Len() == 2 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestLoad(t *testing.T) {
	ti := newTestIntegration(t)
	ctx := context.Background()
	if _, err := ti.service.CreateTask(ctx, schema.Record{"title": "one"}); err != nil {
		t.Fatal(err)
	}

	if err := ti.Load(ctx); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, err := ti.Manager().Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if ti.Calendar().Len() != 1 || ti.Manager().Cache().Len() != 1 {
		t.Errorf("calendar %d, manager %d; want 1 each", ti.Calendar().Len(), ti.Manager().Cache().Len())
	}
}
