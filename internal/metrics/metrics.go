// Package metrics exposes Prometheus instrumentation for the offline-sync
// core. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskly"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	offlineWrites *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec

	syncRuns      *prometheus.CounterVec
	syncItems     *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	online        prometheus.Gauge
	reconcileRuns *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Remote API requests by method, route and outcome",
		}, []string{"method", "route", "outcome"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of remote API requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 1, 3, 10},
		}, []string{"method", "route"}),
		offlineWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_writes_total",
			Help:      "Mutations applied locally and queued while offline",
		}, []string{"action"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Offline GET fallbacks by result",
		}, []string{"result"}),
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Synchronizer passes by result",
		}, []string{"result"}),
		syncItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Queue items processed by action and result",
		}, []string{"action", "result"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Pending items in the sync queue",
		}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote API is considered reachable",
		}),
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_reconcile_runs_total",
			Help:      "Calendar reconciliation passes by result",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAPI records one remote API call. status 0 means a transport
// failure.
func (m *Metrics) ObserveAPI(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "network_error"
	if status > 0 {
		outcome = strconv.Itoa(status)
	}
	route := NormalizeRoute(path)
	m.apiRequests.WithLabelValues(method, route, outcome).Inc()
	m.apiDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// OfflineWrite counts a locally applied mutation.
func (m *Metrics) OfflineWrite(action string) {
	if m == nil {
		return
	}
	m.offlineWrites.WithLabelValues(action).Inc()
}

// CacheLookup counts an offline read served (hit) or not (miss).
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}

// SyncRun counts a synchronizer pass.
func (m *Metrics) SyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
}

// SyncItem counts one replayed queue item.
func (m *Metrics) SyncItem(action, result string) {
	if m == nil {
		return
	}
	m.syncItems.WithLabelValues(action, result).Inc()
}

// SetQueueDepth records the pending count.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetOnline records connectivity.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.online.Set(v)
}

// ReconcileRun counts a calendar reconciliation pass.
func (m *Metrics) ReconcileRun(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

// NormalizeRoute replaces id-like path segments with {id} so labels stay
// bounded.
func NormalizeRoute(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "temp_") || (part[0] >= '0' && part[0] <= '9') || looksLikeID(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// looksLikeID matches hex object ids and uuids.
func looksLikeID(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
		default:
			return false
		}
	}
	return true
}
