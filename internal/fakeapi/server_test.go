package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/schema"
)

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) schema.Record {
	t.Helper()
	r, err := schema.RecordFromJSON(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return r
}

func TestTaskCRUD(t *testing.T) {
	s := New(Options{Logger: logging.Discard()})
	h := s.Handler()

	rec := do(t, h, "POST", "/api/tasks", "", map[string]any{"title": "Buy milk", "id": "temp_1_abc", "_offline": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body)
	}
	created := decode(t, rec)
	id := created.ID()
	if id == "" || schema.IsTempID(id) {
		t.Fatalf("server should assign its own id, got %q", id)
	}
	if created.Offline() {
		t.Error("server copy must not carry _offline")
	}

	rec = do(t, h, "PUT", "/api/tasks/"+id, "", map[string]any{"status": "done"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	updated := decode(t, rec)
	if updated.String("title") != "Buy milk" || updated.String("status") != "done" {
		t.Errorf("PUT should merge fields, got %v", updated)
	}

	rec = do(t, h, "GET", "/api/tasks", "", nil)
	list, err := schema.RecordsFromJSON(rec.Body.Bytes())
	if err != nil || len(list) != 1 {
		t.Fatalf("GET /tasks = %s (%v)", rec.Body, err)
	}

	if rec := do(t, h, "DELETE", "/api/tasks/"+id, "", nil); rec.Code != http.StatusOK {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if rec := do(t, h, "DELETE", "/api/tasks/"+id, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	s := New(Options{Logger: logging.Discard()})

	rec := do(t, s.Handler(), "POST", "/api/tasks", "", map[string]any{"description": "no title"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	s := New(Options{Token: "secret", Logger: logging.Discard()})
	h := s.Handler()

	if rec := do(t, h, "GET", "/api/tasks", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/tasks", "secret", nil); rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health should not require auth, got %d", rec.Code)
	}
}

func TestFailAndRequests(t *testing.T) {
	s := New(Options{Logger: logging.Discard()})
	h := s.Handler()
	s.Fail("POST", "/tasks", http.StatusServiceUnavailable, 2)

	for i, want := range []int{503, 503, 201} {
		rec := do(t, h, "POST", "/api/tasks", "", map[string]any{"title": "x"})
		if rec.Code != want {
			t.Errorf("attempt %d status = %d, want %d", i+1, rec.Code, want)
		}
	}

	posts := s.RequestsMatching("POST", "/tasks")
	if len(posts) != 3 {
		t.Fatalf("recorded %d POSTs, want 3", len(posts))
	}
	if posts[0].Body.String("title") != "x" || posts[2].Status != 201 {
		t.Errorf("recorded requests = %+v", posts)
	}

	s.ResetRequests()
	if len(s.Requests()) != 0 {
		t.Error("ResetRequests() did not clear the log")
	}
}

func TestDashboardStats(t *testing.T) {
	s := New(Options{Logger: logging.Discard()})
	s.SeedTask(schema.Record{"title": "a", "status": "done"})
	s.SeedTask(schema.Record{"title": "b"})

	stats := decode(t, do(t, s.Handler(), "GET", "/api/dashboard/stats", "", nil))
	if stats["totalTasks"] != float64(2) || stats["completedTasks"] != float64(1) || stats["todoTasks"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
}
