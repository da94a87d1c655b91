// Package metrics provides Prometheus telemetry for the rental event
// pipeline: stream health, event throughput, notification fan-out and
// analytics forwarding. Every Record method is safe on a nil *Collector so
// components can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides pipeline metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Stream metrics
	connectionState    prometheus.Gauge
	degraded           prometheus.Gauge
	reconnectAttempts  prometheus.Counter
	fallbackActivation prometheus.Counter
	missedEvents       prometheus.Counter
	pollDuration       *prometheus.HistogramVec

	// Event metrics
	eventsReceived   *prometheus.CounterVec
	eventsMalformed  *prometheus.CounterVec
	eventsDuplicate  *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	subscriberFaults *prometheus.CounterVec

	// Notification metrics
	notificationsCreated *prometheus.CounterVec
	channelDispatch      *prometheus.CounterVec

	// Analytics metrics
	analyticsRecords *prometheus.CounterVec
	analyticsDropped prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter

	uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewCollector creates a new collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "rentstream"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "connection_state",
		Help:      "Chain stream connection state (0=disconnected, 1=connecting, 2=connected, 3=error)",
	})

	c.degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "degraded",
		Help:      "1 while the pipeline runs in degraded polling mode",
	})

	c.reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnect_attempts_total",
		Help:      "Total number of failed connection attempts that scheduled or exhausted a retry",
	})

	c.fallbackActivation = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "fallback_activations_total",
		Help:      "Total number of switches to degraded polling mode",
	})

	c.missedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "missed_events_total",
		Help:      "Total number of event_missed notifications from the node",
	})

	c.pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "poll_duration_seconds",
			Help:      "Time taken by one degraded-mode poll",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"result"},
	)

	c.eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total number of contract events received",
		},
		[]string{"event", "source"},
	)

	c.eventsMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "malformed_total",
			Help:      "Total number of contract events dropped by the mapper",
		},
		[]string{"event"},
	)

	c.eventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "duplicate_total",
			Help:      "Total number of contract events skipped because they were already handled",
		},
		[]string{"source"},
	)

	c.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of domain events published to subscribers",
		},
		[]string{"topic"},
	)

	c.subscriberFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscriber_faults_total",
			Help:      "Total number of subscriber handler panics",
		},
		[]string{"topic"},
	)

	c.notificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notifications stored",
		},
		[]string{"type"},
	)

	c.channelDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "channel_dispatch_total",
			Help:      "Total number of channel deliveries by result",
		},
		[]string{"channel", "result"},
	)

	c.analyticsRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "records_total",
			Help:      "Total number of analytics records sent by result",
		},
		[]string{"backend", "result"},
	)

	c.analyticsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analytics",
		Name:      "dropped_total",
		Help:      "Total number of analytics records dropped because the queue was full",
	})

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total number of API requests rejected by the rate limiter",
	})

	c.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	c.registry.MustRegister(
		c.connectionState,
		c.degraded,
		c.reconnectAttempts,
		c.fallbackActivation,
		c.missedEvents,
		c.pollDuration,
		c.eventsReceived,
		c.eventsMalformed,
		c.eventsDuplicate,
		c.eventsPublished,
		c.subscriberFaults,
		c.notificationsCreated,
		c.channelDispatch,
		c.analyticsRecords,
		c.analyticsDropped,
		c.httpRequests,
		c.httpDuration,
		c.rateLimited,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordConnectionState records the stream state as its numeric value.
func (c *Collector) RecordConnectionState(state int) {
	if c == nil {
		return
	}
	c.connectionState.Set(float64(state))
}

// RecordDegraded toggles the degraded-mode gauge.
func (c *Collector) RecordDegraded(degraded bool) {
	if c == nil {
		return
	}
	if degraded {
		c.degraded.Set(1)
		return
	}
	c.degraded.Set(0)
}

// RecordReconnectAttempt records a failed connection attempt.
func (c *Collector) RecordReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

// RecordFallbackActivation records a switch to degraded polling.
func (c *Collector) RecordFallbackActivation() {
	if c == nil {
		return
	}
	c.fallbackActivation.Inc()
}

// RecordMissedEvents records an event_missed notification.
func (c *Collector) RecordMissedEvents() {
	if c == nil {
		return
	}
	c.missedEvents.Inc()
}

// RecordPoll records a degraded-mode poll.
func (c *Collector) RecordPoll(duration time.Duration, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.pollDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordEventReceived records a raw contract event from source.
func (c *Collector) RecordEventReceived(event, source string) {
	if c == nil {
		return
	}
	c.eventsReceived.WithLabelValues(event, source).Inc()
}

// RecordEventMalformed records an event dropped by the mapper.
func (c *Collector) RecordEventMalformed(event string) {
	if c == nil {
		return
	}
	c.eventsMalformed.WithLabelValues(event).Inc()
}

// RecordEventDuplicate records an event skipped as already handled.
func (c *Collector) RecordEventDuplicate(source string) {
	if c == nil {
		return
	}
	c.eventsDuplicate.WithLabelValues(source).Inc()
}

// RecordEventPublished records a domain event published to subscribers.
func (c *Collector) RecordEventPublished(topic string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(topic).Inc()
}

// RecordSubscriberFault records a subscriber handler panic.
func (c *Collector) RecordSubscriberFault(topic string) {
	if c == nil {
		return
	}
	c.subscriberFaults.WithLabelValues(topic).Inc()
}

// RecordNotification records a stored notification.
func (c *Collector) RecordNotification(kind string) {
	if c == nil {
		return
	}
	c.notificationsCreated.WithLabelValues(kind).Inc()
}

// RecordChannelDispatch records a channel delivery result.
func (c *Collector) RecordChannelDispatch(channel, result string) {
	if c == nil {
		return
	}
	c.channelDispatch.WithLabelValues(channel, result).Inc()
}

// RecordAnalytics records an analytics send result.
func (c *Collector) RecordAnalytics(backend string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.analyticsRecords.WithLabelValues(backend, result).Inc()
}

// RecordAnalyticsDropped records a record dropped on a full queue.
func (c *Collector) RecordAnalyticsDropped() {
	if c == nil {
		return
	}
	c.analyticsDropped.Inc()
}

// RecordHTTPRequest records a served API request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited records a rejected API request.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}
