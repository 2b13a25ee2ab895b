// Package metrics holds the Prometheus instrumentation of the rundown engine.
package metrics

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mutation results.
const (
	ResultOK         = "ok"
	ResultRolledBack = "rolled_back"
	ResultRejected   = "rejected"
	ResultFailed     = "failed"
)

// Notification outcomes.
const (
	OutcomeApplied         = "applied"
	OutcomeReplacedPending = "replaced_pending"
	OutcomeDuplicate       = "duplicate"
	OutcomeSuppressedMove  = "suppressed_move"
	OutcomeSuppressedEdit  = "suppressed_edit"
	OutcomeSuppressedDrag  = "suppressed_drag"
	OutcomeOwnDelete       = "own_delete"
	OutcomeStale           = "stale"
	OutcomeNoop            = "noop"
	OutcomeMalformed       = "malformed"
)

// Collector encapsulates the engine's Prometheus collectors on a private
// registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	mutations     *prometheus.CounterVec
	backendCalls  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	reconnects    prometheus.Counter
	degraded      prometheus.Gauge
	clipboard     *prometheus.CounterVec

	rollbackCount   uint64
	appliedCount    uint64
	suppressedCount uint64
	malformedCount  uint64
}

// Stats is a lightweight summary for CLI output.
type Stats struct {
	Rollbacks  uint64 `json:"rollbacks"`
	Applied    uint64 `json:"applied"`
	Suppressed uint64 `json:"suppressed"`
	Malformed  uint64 `json:"malformed"`
}

// New registers the engine collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rundown_mutations_total",
		Help: "Optimistic mutations by operation and result",
	}, []string{"op", "result"})

	backendCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rundown_backend_call_duration_seconds",
		Help:    "Duration of backend calls issued by the optimistic engine",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rundown_notifications_total",
		Help: "Change notifications received, by table, event and outcome",
	}, []string{"table", "event", "outcome"})

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rundown_subscription_reconnects_total",
		Help: "Subscription reconnect attempts",
	})

	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rundown_realtime_degraded",
		Help: "1 when realtime updates gave up and only manual refresh works",
	})

	clipboard := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rundown_clipboard_operations_total",
		Help: "Clipboard operations by operation and result",
	}, []string{"op", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(mutations, backendCalls, notifications, reconnects, degraded, clipboard, goroutines)

	return &Collector{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		mutations:     mutations,
		backendCalls:  backendCalls,
		notifications: notifications,
		reconnects:    reconnects,
		degraded:      degraded,
		clipboard:     clipboard,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return c.handler
}

// Registry returns the private registry, for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// WatchPublishFailures exports a counter maintained elsewhere.
func (c *Collector) WatchPublishFailures(fn func() int64) {
	if c == nil || fn == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "rundown_publish_failures_total",
		Help: "Notifications the backend failed to publish after a successful write",
	}, func() float64 {
		return float64(fn())
	}))
}

// ObserveMutation records one optimistic mutation and its backend latency.
func (c *Collector) ObserveMutation(op, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mutations.WithLabelValues(op, result).Inc()
	if result != ResultRejected {
		c.backendCalls.WithLabelValues(op).Observe(duration.Seconds())
	}
	if result == ResultRolledBack {
		atomic.AddUint64(&c.rollbackCount, 1)
	}
}

// ObserveNotification records how one notification was handled.
func (c *Collector) ObserveNotification(table, event, outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(table, event, outcome).Inc()
	switch outcome {
	case OutcomeApplied, OutcomeReplacedPending:
		atomic.AddUint64(&c.appliedCount, 1)
	case OutcomeMalformed:
		atomic.AddUint64(&c.malformedCount, 1)
	case OutcomeSuppressedMove, OutcomeSuppressedEdit, OutcomeSuppressedDrag, OutcomeOwnDelete, OutcomeStale:
		atomic.AddUint64(&c.suppressedCount, 1)
	}
}

// IncReconnect counts one subscription retry.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// SetDegraded flips the degraded gauge.
func (c *Collector) SetDegraded(on bool) {
	if c == nil {
		return
	}
	if on {
		c.degraded.Set(1)
		return
	}
	c.degraded.Set(0)
}

// ObserveClipboard records one clipboard operation.
func (c *Collector) ObserveClipboard(op, result string) {
	if c == nil {
		return
	}
	c.clipboard.WithLabelValues(op, result).Inc()
}

// Snapshot returns aggregated counters.
func (c *Collector) Snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Rollbacks:  atomic.LoadUint64(&c.rollbackCount),
		Applied:    atomic.LoadUint64(&c.appliedCount),
		Suppressed: atomic.LoadUint64(&c.suppressedCount),
		Malformed:  atomic.LoadUint64(&c.malformedCount),
	}
}
