package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskly-app/taskly/internal/app"
	"github.com/taskly-app/taskly/internal/config"
	"github.com/taskly-app/taskly/internal/connectivity"
	"github.com/taskly-app/taskly/internal/fakeapi"
	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/schema"
)

// setupApp builds an App talking to an in-process fake API.
func setupApp(t *testing.T) (*app.App, *fakeapi.Server) {
	t.Helper()

	fake := fakeapi.New(fakeapi.Options{Logger: logging.Discard()})
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.API.BaseURL = srv.URL + fake.Prefix()

	a, err := app.New(app.Options{
		Config:  cfg,
		Logger:  logging.Discard(),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("app.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Dispose() })
	return a, fake
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.StatusPollInterval = time.Hour
	cfg.Logger = logging.Discard()
	return cfg
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil app")
	}

	a, _ := setupApp(t)
	d, err := New(a, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.config.StatusPollInterval != 30*time.Second {
		t.Errorf("StatusPollInterval = %v, want 30s", d.config.StatusPollInterval)
	}
	if d.DashboardAddr() != "" {
		t.Error("dashboard should be disabled by default")
	}
}

// TestPoll_DrainsQueueWhenOnline verifies a poll that finds pending work
// while online gets it synced.
func TestPoll_DrainsQueueWhenOnline(t *testing.T) {
	a, fake := setupApp(t)
	ctx := context.Background()

	a.Monitor.SetPlatformState(connectivity.Offline)
	if _, err := a.Client.CreateTask(ctx, schema.Record{"title": "from poll"}); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	d, err := New(a, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Offline: nothing happens.
	if err := d.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if n, _ := a.Store.PendingCount(ctx); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	// The change is applied while no subscriber is listening, so only the
	// poll can trigger the sync.
	a.Monitor.SetPlatformState(connectivity.Online)
	if err := d.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := a.Store.PendingCount(ctx)
		if err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained, pending = %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(fake.Tasks()); got != 1 {
		t.Errorf("server tasks = %d, want 1", got)
	}

	if err := d.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if a.Manager.Cache().Len() != 1 {
		t.Errorf("manager cache = %d tasks, want 1", a.Manager.Cache().Len())
	}
}

// TestStartStop_Dashboard verifies the daemon serves the dashboard and
// shuts down cleanly.
func TestStartStop_Dashboard(t *testing.T) {
	a, _ := setupApp(t)

	cfg := testConfig()
	cfg.Dashboard = true
	cfg.DashboardPort = 0

	d, err := New(a, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get("http://" + d.DashboardAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
	var status app.SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Pending != 0 {
		t.Errorf("pending = %d, want 0", status.Pending)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

// TestRun_StopsOnCancel verifies Run returns once its context is done.
func TestRun_StopsOnCancel(t *testing.T) {
	a, _ := setupApp(t)
	d, err := New(a, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
