package ui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/taskly-app/taskly/internal/schema"
)

// TaskInput holds the answers of the new-task form.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	Due         string
}

// ValidateTitle rejects blank and over-long titles.
func ValidateTitle(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("title is required")
	}
	if len(s) > 500 {
		return errors.New("title must be 500 characters or less")
	}
	return nil
}

// TaskForm builds the interactive new-task form bound to in. Fields already
// set in it are shown as defaults.
func TaskForm(in *TaskInput) *huh.Form {
	if in.Priority == "" {
		in.Priority = schema.PriorityMedium
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&in.Title).
				Validate(ValidateTitle),
			huh.NewText().
				Title("Description").
				Value(&in.Description),
			huh.NewSelect[string]().
				Title("Priority").
				Options(huh.NewOptions(
					schema.PriorityLow,
					schema.PriorityMedium,
					schema.PriorityHigh,
					schema.PriorityUrgent,
				)...).
				Value(&in.Priority),
			huh.NewInput().
				Title("Due").
				Description("e.g. 2026-10-20, tomorrow, next friday at 5pm").
				Value(&in.Due),
		),
	)
}
