package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveMutation("add_item", ResultOK, 10*time.Millisecond)
	c.ObserveMutation("add_item", ResultRolledBack, 20*time.Millisecond)
	c.ObserveMutation("add_item", ResultRejected, 0)
	c.ObserveNotification("items", "insert", OutcomeApplied)
	c.ObserveNotification("items", "update", OutcomeSuppressedEdit)
	c.ObserveNotification("items", "update", OutcomeMalformed)
	c.SetDegraded(true)
	c.IncReconnect()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.mutations.WithLabelValues("add_item", ResultRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, Stats{Rollbacks: 1, Applied: 1, Suppressed: 1, Malformed: 1}, c.Snapshot())

	c.SetDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.degraded))
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.WatchPublishFailures(func() int64 { return 3 })
	c.ObserveClipboard("copy_item", ResultOK)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "rundown_publish_failures_total 3")
	assert.Contains(t, body, `rundown_clipboard_operations_total{op="copy_item",result="ok"} 1`)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveMutation("x", ResultOK, 0)
	c.ObserveNotification("items", "insert", OutcomeApplied)
	c.SetDegraded(true)
	c.IncReconnect()
	c.ObserveClipboard("x", ResultOK)
	c.WatchPublishFailures(func() int64 { return 1 })
	assert.Equal(t, Stats{}, c.Snapshot())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
