package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/metrics"
	"github.com/R3E-Network/rentstream/internal/pubsub"
)

// ForwarderConfig holds forwarder configuration.
type ForwarderConfig struct {
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultForwarderConfig returns the default forwarder configuration.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		QueueSize:   1024,
		SendTimeout: 5 * time.Second,
	}
}

// Forwarder subscribes to registry topics and ships records to a Sink from
// a single worker. Enqueueing never blocks: when the queue is full the
// record is dropped and counted.
type Forwarder struct {
	sink    Sink
	cfg     ForwarderConfig
	log     *logrus.Entry
	metrics *metrics.Collector
	queue   chan Record

	mu      sync.RWMutex
	closed  bool
	started bool
	unsubs  []func()
	wg      sync.WaitGroup
}

// NewForwarder creates a forwarder. Call Start to begin delivery.
func NewForwarder(sink Sink, cfg ForwarderConfig, log *logrus.Entry, m *metrics.Collector) *Forwarder {
	def := DefaultForwarderConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Forwarder{
		sink:    sink,
		cfg:     cfg,
		log:     log.WithField("backend", sink.Name()),
		metrics: m,
		queue:   make(chan Record, cfg.QueueSize),
	}
}

// Attach subscribes the forwarder to the topic of every kind, or of every
// known kind when none are given.
func (f *Forwarder) Attach(reg *pubsub.Registry, kinds ...rental.Kind) {
	if len(kinds) == 0 {
		kinds = rental.Kinds()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, kind := range kinds {
		f.unsubs = append(f.unsubs, reg.Subscribe(string(kind), f.handle))
	}
}

func (f *Forwarder) handle(payload any) {
	ev, ok := payload.(rental.Event)
	if !ok {
		return
	}
	f.Enqueue(ev)
}

// Enqueue queues ev for delivery and reports whether it was accepted.
func (f *Forwarder) Enqueue(ev rental.Event) bool {
	record, err := NewRecord(ev)
	if err != nil {
		f.log.WithError(err).Warn("skipping analytics record")
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- record:
		return true
	default:
		f.metrics.RecordAnalyticsDropped()
		f.log.WithField("type", record.EventType).Warn("analytics queue full, record dropped")
		return false
	}
}

// Start launches the delivery worker. Calling it again is a no-op.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	f.wg.Add(1)
	go f.run()
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for record := range f.queue {
		f.send(record)
	}
}

func (f *Forwarder) send(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
	defer cancel()

	err := f.sink.Send(ctx, r)
	f.metrics.RecordAnalytics(f.sink.Name(), err)
	if err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"type": r.EventType,
			"id":   r.ID.String(),
		}).Warn("analytics delivery failed")
	}
}

// Close unsubscribes, drains queued records until ctx expires and closes
// the sink. It is safe to call multiple times.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	unsubs := f.unsubs
	f.unsubs = nil
	close(f.queue)
	f.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		f.log.Warn("analytics drain interrupted")
	}
	return f.sink.Close()
}
