package main

import (
	"testing"
	"time"

	"github.com/taskly-app/taskly/internal/schema"
	"github.com/taskly-app/taskly/internal/ui"
)

func TestTaskRecord(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      ui.TaskInput
		tags    []string
		wantErr bool
		check   func(t *testing.T, r schema.Record)
	}{
		{
			name: "title only",
			in:   ui.TaskInput{Title: "  Buy milk "},
			check: func(t *testing.T, r schema.Record) {
				if r.String("title") != "Buy milk" || len(r) != 1 {
					t.Errorf("record = %v", r)
				}
			},
		},
		{
			name: "all fields",
			in:   ui.TaskInput{Title: "Report", Description: "Q4", Priority: schema.PriorityHigh, Due: "2026-10-20"},
			tags: []string{"work"},
			check: func(t *testing.T, r schema.Record) {
				if r.String("dueDate") != "2026-10-20T00:00:00Z" {
					t.Errorf("dueDate = %q", r.String("dueDate"))
				}
				if r.String("priority") != schema.PriorityHigh || r.String("description") != "Q4" {
					t.Errorf("record = %v", r)
				}
			},
		},
		{name: "missing title", in: ui.TaskInput{}, wantErr: true},
		{name: "bad priority", in: ui.TaskInput{Title: "x", Priority: "asap"}, wantErr: true},
		{name: "bad due date", in: ui.TaskInput{Title: "x", Due: "qwerty"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := taskRecord(tt.in, tt.tags, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", r)
				}
				return
			}
			if err != nil {
				t.Fatalf("taskRecord() failed: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestValidateFields(t *testing.T) {
	if err := validateFields(schema.Record{"status": "blocked"}); err == nil {
		t.Error("unknown status should be rejected")
	}
	if err := validateFields(schema.Record{"title": ""}); err == nil {
		t.Error("empty title should be rejected")
	}
	if err := validateFields(schema.Record{"status": schema.StatusDone, "priority": schema.PriorityLow}); err != nil {
		t.Errorf("valid fields rejected: %v", err)
	}
}
