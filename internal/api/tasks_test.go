package api

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/taskly-app/taskly/internal/connectivity"
	"github.com/taskly-app/taskly/internal/fakeapi"
	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/store"
)

var tempIDPattern = regexp.MustCompile(`^temp_\d+_[0-9a-z]{9}$`)

// TestCreateTask_Offline covers the optimistic offline create.
func TestCreateTask_Offline(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	env.monitor.SetPlatformState(connectivity.Offline)
	ctx := context.Background()

	task, err := env.client.CreateTask(ctx, schema.Record{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if !tempIDPattern.MatchString(task.ID()) {
		t.Errorf("id = %q, want temp_<ts>_<rand>", task.ID())
	}
	if task.String("title") != "Buy milk" || !task.Offline() {
		t.Errorf("task = %v", task)
	}

	status, err := env.store.SyncQueueStatus(ctx)
	if err != nil {
		t.Fatalf("SyncQueueStatus() failed: %v", err)
	}
	if status.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", status.Pending)
	}
	item := status.Items[0]
	if item.Action != store.CreateTask || item.TargetID() != task.ID() || item.Retries != 0 {
		t.Errorf("queued item = %+v", item)
	}
	if item.Data.Offline() {
		t.Error("queued payload should not carry local bookkeeping")
	}

	tasks, err := env.client.GetTasks(ctx, TaskFilters{})
	if err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID() != task.ID() {
		t.Errorf("GetTasks() = %v, want the offline task", tasks)
	}
}

// TestCreateTask_HostUnreachable verifies a transport failure falls back even while the monitor says online.
func TestCreateTask_HostUnreachable(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	env.server.Close()

	task, err := env.client.CreateTask(context.Background(), schema.Record{"title": "x"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if !task.Offline() {
		t.Error("expected an offline record")
	}
	if n := env.pending(t); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

// TestCreateTask_Online verifies the server record is stored locally.
func TestCreateTask_Online(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()

	task, err := env.client.CreateTask(ctx, schema.Record{"title": "online"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if schema.IsTempID(task.ID()) || task.Offline() {
		t.Errorf("task = %v, want a server record", task)
	}
	if _, err := env.store.Get(ctx, store.Tasks, task.ID()); err != nil {
		t.Errorf("server record not stored locally: %v", err)
	}
	if n := env.pending(t); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

// TestUpdateTask_Offline verifies new fields are written over the local copy.
func TestUpdateTask_Offline(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.fake.SeedTask(schema.Record{"id": "abc", "title": "Write report", "priority": "low"})

	if _, err := env.client.GetTasks(ctx, TaskFilters{}); err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	env.monitor.SetPlatformState(connectivity.Offline)

	updated, err := env.client.UpdateTask(ctx, "abc", schema.Record{"priority": "high"})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.String("title") != "Write report" || updated.String("priority") != "high" || !updated.Offline() {
		t.Errorf("updated = %v", updated)
	}

	items, err := env.store.ListSyncQueue(ctx)
	if err != nil {
		t.Fatalf("ListSyncQueue() failed: %v", err)
	}
	if len(items) != 1 || items[0].Action != store.UpdateTask || items[0].Data.String("priority") != "high" {
		t.Errorf("queue = %+v", items)
	}

	tasks, err := env.client.GetTasks(ctx, TaskFilters{Priority: "high"})
	if err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].String("priority") != "high" {
		t.Errorf("GetTasks(priority=high) = %v", tasks)
	}
}

// TestDeleteTask_OfflineTombstone verifies the tombstone is kept and hidden from reads.
func TestDeleteTask_OfflineTombstone(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.fake.SeedTask(schema.Record{"id": "abc", "title": "Old"})
	env.fake.SeedTask(schema.Record{"id": "def", "title": "Keep"})

	if _, err := env.client.GetTasks(ctx, TaskFilters{}); err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	env.monitor.SetPlatformState(connectivity.Offline)

	if err := env.client.DeleteTask(ctx, "abc"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}

	local, err := env.store.Get(ctx, store.Tasks, "abc")
	if err != nil {
		t.Fatalf("tombstone missing: %v", err)
	}
	if !local.Deleted() {
		t.Errorf("local record = %v, want _deleted", local)
	}

	tasks, err := env.client.GetTasks(ctx, TaskFilters{})
	if err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID() != "def" {
		t.Errorf("GetTasks() = %v, want only def", tasks)
	}
	if _, err := env.client.GetTask(ctx, "abc"); !IsNotFound(err) {
		t.Errorf("GetTask(abc) error = %v, want not found", err)
	}
}

// TestDeleteTask_Online verifies the local copy goes away after the server delete.
func TestDeleteTask_Online(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.fake.SeedTask(schema.Record{"id": "abc", "title": "Old"})

	if _, err := env.client.GetTasks(ctx, TaskFilters{}); err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if err := env.client.DeleteTask(ctx, "abc"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if _, err := env.store.Get(ctx, store.Tasks, "abc"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("local copy still present: %v", err)
	}
	if _, ok := env.fake.Task("abc"); ok {
		t.Error("server copy still present")
	}
}

// TestTempIDMutationsStayLocal verifies temp ids are never sent to the server.
func TestTempIDMutationsStayLocal(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()

	env.monitor.SetPlatformState(connectivity.Offline)
	task, err := env.client.CreateTask(ctx, schema.Record{"title": "draft"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	env.monitor.SetPlatformState(connectivity.Online)

	if _, err := env.client.UpdateTask(ctx, task.ID(), schema.Record{"title": "final"}); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if err := env.client.DeleteTask(ctx, task.ID()); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}

	if n := len(env.fake.Requests()); n != 0 {
		t.Errorf("server saw %d requests for a temp id", n)
	}
	if n := env.pending(t); n != 3 {
		t.Errorf("pending = %d, want 3", n)
	}
}

// TestGetTasks_OfflineWithoutCache verifies the Local Store answers alone, or the read fails.
func TestGetTasks_OfflineWithoutCache(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.monitor.SetPlatformState(connectivity.Offline)

	if _, err := env.client.GetTasks(ctx, TaskFilters{}); !errors.Is(err, ErrNotAvailableOffline) {
		t.Fatalf("GetTasks() on empty store error = %v, want ErrNotAvailableOffline", err)
	}

	if _, err := env.store.Put(ctx, store.Tasks, schema.Record{"id": "known", "title": "from earlier"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	tasks, err := env.client.GetTasks(ctx, TaskFilters{})
	if err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID() != "known" {
		t.Errorf("GetTasks() = %v", tasks)
	}
}

// TestGetTasks_OnlineRefreshesStore verifies server lists refresh local copies without clobbering pending edits.
func TestGetTasks_OnlineRefreshesStore(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.fake.SeedTask(schema.Record{"id": "a", "title": "server a"})

	if _, err := env.store.Put(ctx, store.Tasks, schema.Record{"id": "stale", "title": "deleted upstream"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if _, err := env.store.StoreOffline(ctx, store.Tasks, schema.Record{"id": "a", "title": "local edit"}); err != nil {
		t.Fatalf("StoreOffline() failed: %v", err)
	}
	if _, err := env.store.AddToSyncQueue(ctx, store.UpdateTask, schema.Record{"id": "a", "title": "local edit"}); err != nil {
		t.Fatalf("AddToSyncQueue() failed: %v", err)
	}

	tasks, err := env.client.GetTasks(ctx, TaskFilters{})
	if err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].String("title") != "local edit" {
		t.Errorf("GetTasks() = %v, want the pending local edit", tasks)
	}

	if _, err := env.store.Get(ctx, store.Tasks, "stale"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale confirmed record should be dropped, got %v", err)
	}
	local, err := env.store.Get(ctx, store.Tasks, "a")
	if err != nil {
		t.Fatalf("Get(a) failed: %v", err)
	}
	if local.String("title") != "local edit" {
		t.Errorf("pending local edit was overwritten: %v", local)
	}
}

// TestGetTasks_CachedListKeepsConfirmedTasks verifies a cached list served
// after the server goes away does not drop tasks created online since.
func TestGetTasks_CachedListKeepsConfirmedTasks(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()
	env.fake.SeedTask(schema.Record{"id": "a", "title": "server a"})

	if _, err := env.client.GetTasks(ctx, TaskFilters{}); err != nil {
		t.Fatalf("GetTasks() failed: %v", err)
	}
	created, err := env.client.CreateTask(ctx, schema.Record{"title": "created online"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if created.Offline() {
		t.Fatalf("CreateTask() = %v, want a server record", created)
	}

	env.server.Close()
	if !env.monitor.IsOnline() {
		t.Fatal("monitor should still report ONLINE")
	}

	tasks, err := env.client.GetTasks(ctx, TaskFilters{})
	if err != nil {
		t.Fatalf("GetTasks() with server gone failed: %v", err)
	}
	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		ids[task.ID()] = true
	}
	if len(tasks) != 2 || !ids["a"] || !ids[created.ID()] {
		t.Errorf("GetTasks() = %v, want a and %s", tasks, created.ID())
	}

	if _, err := env.store.Get(ctx, store.Tasks, created.ID()); err != nil {
		t.Errorf("confirmed task dropped from the Local Store: %v", err)
	}
}

// TestUserProfile_Offline verifies offline profile edits are queued as UPDATE_USER.
func TestUserProfile_Offline(t *testing.T) {
	env := newTestEnv(t, fakeapi.Options{}, nil)
	ctx := context.Background()

	profile, err := env.client.GetUserProfile(ctx)
	if err != nil {
		t.Fatalf("GetUserProfile() failed: %v", err)
	}
	env.monitor.SetPlatformState(connectivity.Offline)

	updated, err := env.client.UpdateUserProfile(ctx, schema.Record{"name": "Sam"})
	if err != nil {
		t.Fatalf("UpdateUserProfile() failed: %v", err)
	}
	if updated.ID() != profile.ID() || updated.String("name") != "Sam" || !updated.Offline() {
		t.Errorf("updated = %v", updated)
	}

	items, err := env.store.ListSyncQueue(ctx)
	if err != nil {
		t.Fatalf("ListSyncQueue() failed: %v", err)
	}
	if len(items) != 1 || items[0].Action != store.UpdateUser {
		t.Errorf("queue = %+v", items)
	}

	again, err := env.client.GetUserProfile(ctx)
	if err != nil {
		t.Fatalf("offline GetUserProfile() failed: %v", err)
	}
	if again.String("name") != "Sam" {
		t.Errorf("offline profile = %v, want local edit", again)
	}
}
