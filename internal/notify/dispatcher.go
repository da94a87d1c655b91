package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/metrics"
)

// Session exposes the identity of the locally active user.
type Session interface {
	ActiveUser() string
}

// Display shows a transient message to the active user.
type Display interface {
	Show(recipient, title, body string, severity Severity)
}

// DispatcherConfig configures channel delivery.
type DispatcherConfig struct {
	// SendTimeout bounds each channel delivery.
	SendTimeout time.Duration

	// RatePerSecond and Burst throttle each channel independently. A zero
	// rate disables throttling.
	RatePerSecond float64
	Burst         int
}

// DefaultDispatcherConfig returns the default delivery settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		SendTimeout:   10 * time.Second,
		RatePerSecond: 20,
		Burst:         40,
	}
}

// Dispatcher writes notifications to the store, shows them to the active
// user and fans them out to the eligible channels.
type Dispatcher struct {
	store   *Store
	session Session
	display Display
	cfg     DispatcherConfig
	log     *logrus.Entry
	metrics *metrics.Collector

	mu       sync.RWMutex
	senders  map[Channel]Sender
	limiters map[Channel]*rate.Limiter
	closed   bool

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSession sets the active-user accessor.
func WithSession(s Session) DispatcherOption {
	return func(d *Dispatcher) { d.session = s }
}

// WithDisplay sets the display surface.
func WithDisplay(disp Display) DispatcherOption {
	return func(d *Dispatcher) { d.display = disp }
}

// WithSender registers the sender for a channel.
func WithSender(ch Channel, s Sender) DispatcherOption {
	return func(d *Dispatcher) { d.senders[ch] = s }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(log *logrus.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store *Store, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}
	d := &Dispatcher{
		store:    store,
		cfg:      cfg,
		log:      logrus.NewEntry(logrus.StandardLogger()).WithField("component", "notify"),
		senders:  make(map[Channel]Sender),
		limiters: make(map[Channel]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		for _, ch := range Channels() {
			d.limiters[ch] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		}
	}
	return d
}

// Store returns the underlying store.
func (d *Dispatcher) Store() *Store {
	return d.store
}

// HandleEvent renders ev into per-recipient notifications and notifies
// each recipient. It returns the number of notifications stored.
func (d *Dispatcher) HandleEvent(ev rental.Event) int {
	addressed := BuildNotifications(ev)
	for _, a := range addressed {
		d.Notify(a.Recipient, a.Notification)
	}
	return len(addressed)
}

// Notify stores n under recipient, shows it if recipient is the active user
// and starts delivery on every channel the recipient's preferences make
// eligible. Channel failures are logged and never returned.
func (d *Dispatcher) Notify(recipient string, n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	d.store.Append(recipient, n)
	d.metrics.RecordNotification(string(n.Type))

	if d.isActive(recipient) {
		d.show(recipient, n)
	}

	prefs := d.store.Preferences(recipient)
	for _, ch := range EligibleChannels(n.Type, prefs) {
		d.dispatch(ch, recipient, n)
	}
	return n
}

func (d *Dispatcher) isActive(recipient string) bool {
	if d.session == nil || d.display == nil || recipient == "" {
		return false
	}
	return d.session.ActiveUser() == recipient
}

func (d *Dispatcher) show(recipient string, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithFields(logrus.Fields{
				"recipient": recipient,
				"panic":     fmt.Sprint(rec),
			}).Error("display failed")
		}
	}()
	d.display.Show(recipient, n.Title, n.Message, n.Severity())
}

func (d *Dispatcher) dispatch(ch Channel, recipient string, n Notification) {
	d.mu.RLock()
	sender, ok := d.senders[ch]
	limiter := d.limiters[ch]
	closed := d.closed
	if ok && !closed {
		d.wg.Add(1)
	}
	d.mu.RUnlock()
	if !ok || closed {
		return
	}

	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.metrics.RecordChannelDispatch(string(ch), "panic")
				d.log.WithFields(logrus.Fields{
					"channel":   ch,
					"recipient": recipient,
					"panic":     fmt.Sprint(rec),
				}).Error("channel sender failed")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		defer cancel()

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				d.metrics.RecordChannelDispatch(string(ch), "throttled")
				d.log.WithError(err).WithField("channel", ch).Warn("channel delivery throttled")
				return
			}
		}

		if err := sender.Send(ctx, recipient, n); err != nil {
			d.metrics.RecordChannelDispatch(string(ch), "error")
			d.log.WithError(err).WithFields(logrus.Fields{
				"channel":         ch,
				"recipient":       recipient,
				"notification_id": n.ID,
			}).Error("channel delivery failed")
			return
		}
		d.metrics.RecordChannelDispatch(string(ch), "sent")
	}()
}

// Wait blocks until every in-flight channel delivery has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting channel deliveries and waits for in-flight ones.
// Notifications are still stored after Close.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
