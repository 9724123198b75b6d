package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/schema"
)

func TestPrinter_Tasks(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	p.Tasks([]schema.Task{
		{ID: "t1", Title: "Buy milk", Status: schema.StatusTodo, Priority: schema.PriorityHigh, DueDate: &due},
		{ID: "temp_1_abcdefghi", Title: "Draft", Status: schema.StatusDone, Priority: schema.PriorityLow, Offline: true},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "2026-10-20") || !strings.Contains(lines[1], "Buy milk") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "(offline)") {
		t.Errorf("row 2 = %q, want offline marker", lines[2])
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal output should not contain escape codes")
	}
}

func TestPrinter_NoTasks(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Tasks(nil)
	if got := strings.TrimSpace(buf.String()); got != "No tasks" {
		t.Errorf("output = %q", got)
	}
}

func TestPrinter_Task(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Task(schema.Task{
		ID:          "t1",
		Title:       "Write report",
		Status:      schema.StatusInProgress,
		Priority:    schema.PriorityMedium,
		Tags:        []string{"work", "q4"},
		Description: "Quarterly numbers",
		Offline:     true,
	})

	out := buf.String()
	for _, want := range []string{"Write report", "ID:", "t1", "work, q4", "pending", "Quarterly numbers"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_Notify(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	var n notify.Notifier = p

	n.Notify(notify.Notification{Level: notify.Success, Title: "Sync complete", Message: "2 changes synced"})
	if got := strings.TrimSpace(buf.String()); got != "[Sync complete] 2 changes synced" {
		t.Errorf("output = %q", got)
	}
}

func TestPrinter_Connectivity(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	tests := []struct {
		online, forced bool
		want           string
	}{
		{true, false, "online"},
		{false, false, "offline"},
		{false, true, "offline (forced)"},
	}
	for _, tt := range tests {
		if got := p.Connectivity(tt.online, tt.forced); got != tt.want {
			t.Errorf("Connectivity(%v, %v) = %q, want %q", tt.online, tt.forced, got, tt.want)
		}
	}
}

func TestValidateTitle(t *testing.T) {
	if err := ValidateTitle("  "); err == nil {
		t.Error("blank title should be rejected")
	}
	if err := ValidateTitle(strings.Repeat("x", 501)); err == nil {
		t.Error("long title should be rejected")
	}
	if err := ValidateTitle("ok"); err != nil {
		t.Errorf("ValidateTitle(ok) = %v", err)
	}
}

func TestTaskForm_DefaultPriority(t *testing.T) {
	in := &TaskInput{Title: "x"}
	if TaskForm(in) == nil {
		t.Fatal("TaskForm() returned nil")
	}
	if in.Priority != schema.PriorityMedium {
		t.Errorf("Priority = %q, want %q", in.Priority, schema.PriorityMedium)
	}
}
