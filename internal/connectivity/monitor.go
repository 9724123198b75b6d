// Package connectivity tracks whether the remote API is reachable.
//
// The Monitor combines two inputs: the platform state reported by a
// Prober (or by tests), and a forced-offline flag toggled by the user
// through a marker file. The effective state is OFFLINE when either input
// says so. Subscribers and the notifier only hear about changes of the
// effective state.
package connectivity

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
)

// State is the connectivity state.
type State int

const (
	// Online means the remote API is considered reachable.
	Online State = iota
	// Offline means requests should go straight to the offline path.
	Offline
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Event describes one transition of the effective state.
type Event struct {
	From   State
	To     State
	Forced bool
	Time   time.Time
}

// Config holds configuration for the Monitor.
type Config struct {
	// Initial is the platform state before any report arrives.
	Initial State

	Notifier notify.Notifier
	Logger   logrus.FieldLogger
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	platform State
	forced   bool
	subs     map[int]func(Event)
	nextSub  int

	notifier notify.Notifier
	logger   logrus.FieldLogger
	clock    clockwork.Clock
	metrics  *metrics.Metrics
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		platform: cfg.Initial,
		subs:     make(map[int]func(Event)),
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	m.metrics.SetOnline(m.State() == Online)
	return m
}

// State returns the effective state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective()
}

// IsOnline reports whether the effective state is Online.
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// PlatformState returns the last reported platform state.
func (m *Monitor) PlatformState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.platform
}

// ForcedOffline reports whether the user forced offline mode.
func (m *Monitor) ForcedOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced
}

// SetPlatformState records a platform report. Repeated reports of the
// same state are no-ops.
func (m *Monitor) SetPlatformState(s State) {
	m.update(func() { m.platform = s })
}

// SetForcedOffline toggles forced-offline mode.
func (m *Monitor) SetForcedOffline(forced bool) {
	m.update(func() { m.forced = forced })
}

// Subscribe registers fn for transitions of the effective state. fn runs
// on the goroutine that caused the transition, after the notifier.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) effective() State {
	if m.forced {
		return Offline
	}
	return m.platform
}

func (m *Monitor) update(apply func()) {
	m.mu.Lock()
	before := m.effective()
	apply()
	after := m.effective()
	if before == after {
		m.mu.Unlock()
		return
	}
	ev := Event{From: before, To: after, Forced: m.forced, Time: m.clock.Now()}
	subs := m.subscribers()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"from":   ev.From.String(),
		"to":     ev.To.String(),
		"forced": ev.Forced,
	}).Info("connectivity changed")
	m.metrics.SetOnline(after == Online)
	m.notifier.Notify(transitionNotification(ev))

	for _, fn := range subs {
		fn(ev)
	}
}

// subscribers returns callbacks in subscription order. Caller holds mu.
func (m *Monitor) subscribers() []func(Event) {
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = m.subs[id]
	}
	return out
}

func transitionNotification(ev Event) notify.Notification {
	if ev.To == Online {
		return notify.Notification{
			Kind:    notify.KindOnline,
			Level:   notify.Success,
			Title:   "Back Online",
			Message: "Connection restored, syncing your changes",
			Time:    ev.Time,
		}
	}
	msg := "Changes will be saved locally and synced when you reconnect"
	if ev.Forced {
		msg = "Offline mode is on. " + msg
	}
	return notify.Notification{
		Kind:    notify.KindOffline,
		Level:   notify.Warning,
		Title:   "Working Offline",
		Message: msg,
		Time:    ev.Time,
	}
}
