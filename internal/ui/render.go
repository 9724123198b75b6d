// Package ui renders Taskly output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/taskly-app/taskly/internal/notify"
	"github.com/taskly-app/taskly/internal/schema"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes styled output to w. Colour is used only when w is a
// terminal that supports it.
type Printer struct {
	w  io.Writer
	mu sync.Mutex

	plain   lipgloss.Style
	header  lipgloss.Style
	muted   lipgloss.Style
	offline lipgloss.Style
	levels  map[notify.Level]lipgloss.Style
	status  map[string]lipgloss.Style
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	if f, ok := w.(*os.File); !ok || !IsTerminal(f) {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:       w,
		plain:   r.NewStyle(),
		header:  r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		offline: r.NewStyle().Foreground(lipgloss.Color("3")),
		levels: map[notify.Level]lipgloss.Style{
			notify.Info:    r.NewStyle().Foreground(lipgloss.Color("4")),
			notify.Success: r.NewStyle().Foreground(lipgloss.Color("2")),
			notify.Warning: r.NewStyle().Foreground(lipgloss.Color("3")),
			notify.Error:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
		status: map[string]lipgloss.Style{
			schema.StatusTodo:       r.NewStyle(),
			schema.StatusInProgress: r.NewStyle().Foreground(lipgloss.Color("4")),
			schema.StatusReview:     r.NewStyle().Foreground(lipgloss.Color("5")),
			schema.StatusDone:       r.NewStyle().Foreground(lipgloss.Color("2")),
		},
	}
}

// Tasks prints one line per task.
func (p *Printer) Tasks(tasks []schema.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(tasks) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No tasks"))
		return
	}

	idWidth := 2
	for _, t := range tasks {
		if len(t.ID) > idWidth {
			idWidth = len(t.ID)
		}
	}

	fmt.Fprintln(p.w, p.header.Render(fmt.Sprintf("%-*s  %-11s  %-8s  %-10s  %s",
		idWidth, "ID", "STATUS", "PRIORITY", "DUE", "TITLE")))
	for _, t := range tasks {
		status := p.statusStyle(t.Status).Render(fmt.Sprintf("%-11s", t.Status))
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
		}
		line := fmt.Sprintf("%-*s  %s  %-8s  %-10s  %s", idWidth, t.ID, status, t.Priority, due, t.Title)
		if t.Offline {
			line += " " + p.offline.Render("(offline)")
		}
		fmt.Fprintln(p.w, line)
	}
}

// Task prints the details of one task.
func (p *Printer) Task(t schema.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.header.Render(t.Title))
	p.field("ID", t.ID)
	p.field("Status", p.statusStyle(t.Status).Render(t.Status))
	p.field("Priority", t.Priority)
	if t.DueDate != nil {
		p.field("Due", t.DueDate.Format(time.RFC1123))
	}
	if len(t.Tags) > 0 {
		p.field("Tags", strings.Join(t.Tags, ", "))
	}
	if !t.UpdatedAt.IsZero() {
		p.field("Updated", t.UpdatedAt.Format(time.RFC3339))
	}
	if t.Offline {
		p.field("Sync", p.offline.Render("pending (created or edited offline)"))
	}
	if t.Description != "" {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, t.Description)
	}
}

func (p *Printer) statusStyle(status string) lipgloss.Style {
	if style, ok := p.status[status]; ok {
		return style
	}
	return p.plain
}

func (p *Printer) field(name, value string) {
	fmt.Fprintf(p.w, "%s %s\n", p.muted.Render(fmt.Sprintf("%-9s", name+":")), value)
}

// Notify prints n as a single line. Printer can be used as a notifier.
func (p *Printer) Notify(n notify.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	style, ok := p.levels[n.Level]
	if !ok {
		style = p.muted
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render("["+n.Title+"]"), n.Message)
}

// Connectivity returns a short label for the online state.
func (p *Printer) Connectivity(online, forced bool) string {
	switch {
	case forced:
		return p.offline.Render("offline (forced)")
	case online:
		return p.levels[notify.Success].Render("online")
	default:
		return p.offline.Render("offline")
	}
}

// Linef prints a formatted line.
func (p *Printer) Linef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Mutedf prints a formatted line in the muted style.
func (p *Printer) Mutedf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}
