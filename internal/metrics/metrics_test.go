package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.registry == nil {
		t.Error("registry should not be nil")
	}
}

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.RecordFallbackActivation()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rentstream_stream_fallback_activations_total 1") {
		t.Errorf("default namespace not applied:\n%s", rec.Body.String())
	}
}

func TestCollector_StreamMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordConnectionState(2)
	c.RecordDegraded(true)
	c.RecordReconnectAttempt()
	c.RecordReconnectAttempt()
	c.RecordMissedEvents()
	c.RecordPoll(120*time.Millisecond, nil)
	c.RecordPoll(3*time.Second, errors.New("rpc down"))

	if got := testutil.ToFloat64(c.connectionState); got != 2 {
		t.Errorf("connection_state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.degraded); got != 1 {
		t.Errorf("degraded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reconnectAttempts); got != 2 {
		t.Errorf("reconnect_attempts_total = %v, want 2", got)
	}

	c.RecordDegraded(false)
	if got := testutil.ToFloat64(c.degraded); got != 0 {
		t.Errorf("degraded = %v, want 0", got)
	}
}

func TestCollector_EventMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordEventReceived("RentalCreated", "stream")
	c.RecordEventReceived("RentalCreated", "poll")
	c.RecordEventMalformed("RentalCreated")
	c.RecordEventPublished("rental_created")
	c.RecordSubscriberFault("rental_created")
	c.RecordNotification("rental_created")
	c.RecordChannelDispatch("email", "sent")
	c.RecordAnalytics("redis", nil)
	c.RecordAnalytics("redis", errors.New("timeout"))
	c.RecordAnalyticsDropped()
	c.RecordRateLimited()

	if got := testutil.ToFloat64(c.eventsReceived.WithLabelValues("RentalCreated", "poll")); got != 1 {
		t.Errorf("events received (poll) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.analyticsRecords.WithLabelValues("redis", "error")); got != 1 {
		t.Errorf("analytics errors = %v, want 1", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// Should not panic
	c.RecordConnectionState(1)
	c.RecordDegraded(true)
	c.RecordReconnectAttempt()
	c.RecordFallbackActivation()
	c.RecordMissedEvents()
	c.RecordPoll(time.Second, nil)
	c.RecordEventReceived("x", "stream")
	c.RecordEventMalformed("x")
	c.RecordEventPublished("x")
	c.RecordSubscriberFault("x")
	c.RecordNotification("x")
	c.RecordChannelDispatch("sms", "error")
	c.RecordAnalytics("http", nil)
	c.RecordAnalyticsDropped()
	c.RecordRateLimited()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}
