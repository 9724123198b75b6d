// Package notify carries user-visible notifications (connectivity
// changes, sync results) from the core to whatever renders them.
// Delivery is fire-and-forget.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the severity of a notification.
type Level string

// Notification levels.
const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Kind identifies what produced the notification.
type Kind string

// Notification kinds.
const (
	KindOnline   Kind = "online"
	KindOffline  Kind = "offline"
	KindSync     Kind = "sync"
	KindSyncDrop Kind = "sync_dropped"
	KindCalendar Kind = "calendar"
	KindStorage  Kind = "storage"
)

// Notification is one user-visible message.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier delivers notifications. Implementations must not block for long
// and must be safe for concurrent use.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) { f(n) }

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(Notification) {}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers n to every non-nil notifier in order.
func (m Multi) Notify(n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Hub is a Multi that sinks can join after construction. The zero value
// is ready to use.
type Hub struct {
	mu    sync.RWMutex
	sinks []Notifier
}

// Add registers n. Nil is ignored.
func (h *Hub) Add(n Notifier) {
	if n == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, n)
}

// Notify delivers n to every registered sink in order.
func (h *Hub) Notify(n Notification) {
	h.mu.RLock()
	sinks := make([]Notifier, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	Multi(sinks).Notify(n)
}

// Log writes notifications to a logger.
type Log struct {
	Logger logrus.FieldLogger
}

// Notify logs n at a level matching its severity.
func (l Log) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"kind":  n.Kind,
		"title": n.Title,
	})
	switch n.Level {
	case Error:
		entry.Error(n.Message)
	case Warning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// Recorder keeps every notification in memory. Useful for tests and for
// the CLI, which prints what a command produced.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.all))
	copy(out, r.all)
	return out
}

// OfKind returns the recorded notifications of one kind.
func (r *Recorder) OfKind(k Kind) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
}
