// Package subscription owns the live connection to the chain event source.
// It binds one listener per watched contract event, maps raw notifications
// to domain events, hands them to the notification dispatcher and republishes
// them on the subscriber registry. Connection loss is delegated to the
// reconnect controller; retry exhaustion switches to block polling. Every
// successful connection first replays the blocks missed since the last one
// handled.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/metrics"
	"github.com/R3E-Network/rentstream/internal/pubsub"
	"github.com/R3E-Network/rentstream/internal/reconnect"
)

// Event sources, used as a log field and metric label.
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// Modes reported by Info.
const (
	ModeIdle    = "idle"
	ModeStream  = "stream"
	ModePolling = "polling"
)

// Stream is a live chain event subscription. *chain.WSClient implements it.
type Stream interface {
	Listen(eventName string, handler chain.EventHandler)
	RemoveListeners()
	OnClose(fn func(error))
	OnBlock(fn func(index uint32))
	OnMissed(fn func())
	SubscribeContract(ctx context.Context, contract string) (string, error)
	SubscribeBlocks(ctx context.Context) (string, error)
	GetVersion(ctx context.Context) (*result.Version, error)
	Close() error
	Done() <-chan struct{}
}

// Dialer opens a new Stream. ctx carries the handshake timeout.
type Dialer func(ctx context.Context) (Stream, error)

// WSDialer returns a Dialer backed by chain.DialWS.
func WSDialer(cfg chain.WSConfig, log *logrus.Entry) Dialer {
	return func(ctx context.Context) (Stream, error) {
		c, err := chain.DialWS(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// EventSink receives every validated domain event before it is republished.
// *notify.Dispatcher implements it.
type EventSink interface {
	HandleEvent(ev rental.Event) int
}

// Config holds manager configuration.
type Config struct {
	Contract string

	// NetworkMagic, when set, must match the network reported by the node.
	NetworkMagic uint32

	HandshakeTimeout time.Duration
	Reconnect        reconnect.Config
	Fallback         PollerConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithFetcher sets the query interface used by the polling fallback.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

// WithSink sets the business consumer of mapped events.
func WithSink(s EventSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithReconnectOptions passes options to the reconnect controller.
func WithReconnectOptions(opts ...reconnect.Option) Option {
	return func(m *Manager) { m.ctrlOpts = append(m.ctrlOpts, opts...) }
}

// Manager is the event subscription manager.
type Manager struct {
	cfg      Config
	dial     Dialer
	registry *pubsub.Registry
	sink     EventSink
	fetcher  Fetcher
	log      *logrus.Entry
	metrics  *metrics.Collector
	ctrl     *reconnect.Controller
	ctrlOpts []reconnect.Option

	// mu guards the fields below. Never acquire connMu while holding it.
	mu     sync.Mutex
	stream Stream
	poller *Poller
	ctx    context.Context
	cancel context.CancelFunc

	// connMu serializes connection attempts and drop handling.
	connMu sync.Mutex

	// handleMu serializes event handling so one event's fan-out completes
	// before the next one starts.
	handleMu sync.Mutex

	lastBlock atomic.Uint32
	seen      *eventWindow
}

// New creates a manager in the Disconnected state.
func New(cfg Config, dial Dialer, registry *pubsub.Registry, opts ...Option) (*Manager, error) {
	if dial == nil {
		return nil, fmt.Errorf("dialer required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	contract, err := chain.NormalizeHash160(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract hash: %w", err)
	}
	cfg.Contract = contract
	cfg.Fallback.Contract = contract
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect = reconnect.DefaultConfig()
	}

	m := &Manager{
		cfg:      cfg,
		dial:     dial,
		registry: registry,
		seen:     newEventWindow(defaultWindowSize),
		log:      logrus.NewEntry(logrus.StandardLogger()).WithField("component", "subscription"),
	}
	for _, opt := range opts {
		opt(m)
	}

	ctrlOpts := append([]reconnect.Option{reconnect.WithLogger(m.log)}, m.ctrlOpts...)
	m.ctrl = reconnect.New(cfg.Reconnect, ctrlOpts...)
	m.ctrl.SetHooks(reconnect.Hooks{
		Retry: m.connect,
		StateChanged: func(_, to reconnect.State) {
			m.metrics.RecordConnectionState(int(to))
			m.metrics.RecordDegraded(to.IsDegraded())
		},
		RetryScheduled: func(int, time.Duration) {
			m.metrics.RecordReconnectAttempt()
		},
		Exhausted: func(int, error) {
			m.enterFallback()
		},
	})
	m.metrics.RecordConnectionState(int(reconnect.StateDisconnected))
	return m, nil
}

// Start begins a connection cycle. It is a no-op while connected or while
// a cycle is already in progress. Connection failures are handled in the
// background and never returned. A start from the Error state resets the
// attempt counter; the polling fallback keeps running until the stream is
// back.
func (m *Manager) Start(ctx context.Context) {
	if !m.ctrl.Begin() {
		return
	}

	// A restart from Error keeps the running context so the fallback
	// poller stays usable if the new cycle fails as well.
	m.mu.Lock()
	if m.ctx == nil || m.ctx.Err() != nil {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}
	m.mu.Unlock()

	m.log.WithField("contract", m.cfg.Contract).Info("starting chain event subscription")
	m.connect()
}

// Stop removes all listeners, releases the connection, cancels any pending
// retry, stops the polling fallback and clears the registry. It is safe to
// call multiple times.
func (m *Manager) Stop() {
	m.ctrl.Stop()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	s := m.stream
	m.stream = nil
	p := m.poller
	m.poller = nil
	m.mu.Unlock()

	if s != nil {
		s.RemoveListeners()
		if err := s.Close(); err != nil {
			m.log.WithError(err).Debug("close chain stream")
		}
	}
	if p != nil {
		p.Stop()
	}
	m.registry.Clear()
	m.metrics.RecordDegraded(false)
}

// Status returns the current connection state.
func (m *Manager) Status() reconnect.State {
	return m.ctrl.State()
}

// Info is a status snapshot.
type Info struct {
	reconnect.Info
	Mode      string `json:"mode"`
	LastBlock uint32 `json:"last_block"`
	Contract  string `json:"contract"`
}

// Info returns a status snapshot for observability.
func (m *Manager) Info() Info {
	info := Info{
		Info:      m.ctrl.Info(),
		LastBlock: m.lastBlock.Load(),
		Contract:  m.cfg.Contract,
		Mode:      ModeIdle,
	}
	m.mu.Lock()
	polling := m.poller != nil
	m.mu.Unlock()
	switch {
	case info.State == reconnect.StateConnected:
		info.Mode = ModeStream
	case polling:
		info.Mode = ModePolling
	}
	return info
}

// LastBlock returns the highest block index observed.
func (m *Manager) LastBlock() uint32 {
	return m.lastBlock.Load()
}

func (m *Manager) connect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if m.ctrl.State() != reconnect.StateConnecting {
		return
	}
	resumeFrom := m.lastBlock.Load()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	s, err := m.dial(dialCtx)
	if err != nil {
		m.ctrl.Failed(err)
		return
	}
	if err := m.bind(dialCtx, s); err != nil {
		s.RemoveListeners()
		_ = s.Close()
		m.ctrl.Failed(err)
		return
	}

	m.mu.Lock()
	if m.ctx != ctx || ctx.Err() != nil {
		m.mu.Unlock()
		s.RemoveListeners()
		_ = s.Close()
		return
	}
	m.stream = s
	m.mu.Unlock()

	if !m.ctrl.Succeeded() {
		m.release(s)
		return
	}
	if cursor, ok := m.stopPoller(); ok {
		resumeFrom = cursor
	}
	if resumeFrom > 0 {
		m.catchUp(ctx, resumeFrom)
	}

	// The connection may have died between binding and publishing it.
	select {
	case <-s.Done():
		m.dropLocked(s, chain.ErrClosed)
	default:
	}
}

func (m *Manager) bind(ctx context.Context, s Stream) error {
	if m.cfg.NetworkMagic != 0 {
		v, err := s.GetVersion(ctx)
		if err != nil {
			return fmt.Errorf("getversion: %w", err)
		}
		if err := chain.CheckNetwork(v, m.cfg.NetworkMagic); err != nil {
			return err
		}
	}

	s.OnClose(func(err error) { m.handleDrop(s, err) })
	s.OnBlock(m.observeBlock)
	s.OnMissed(func() {
		m.metrics.RecordMissedEvents()
		m.log.Warn("chain node reported missed events")
	})
	for name := range chain.WatchedEvents {
		s.Listen(name, func(ev *chain.ContractEvent) { m.handle(ev, SourceStream) })
	}

	if _, err := s.SubscribeBlocks(ctx); err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	if _, err := s.SubscribeContract(ctx, m.cfg.Contract); err != nil {
		return fmt.Errorf("subscribe contract: %w", err)
	}
	return nil
}

func (m *Manager) handleDrop(s Stream, err error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.dropLocked(s, err)
}

// dropLocked must be called with connMu held.
func (m *Manager) dropLocked(s Stream, err error) {
	m.mu.Lock()
	if m.stream != s {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	m.mu.Unlock()

	s.RemoveListeners()
	_ = s.Close()
	m.ctrl.Dropped(err)
}

func (m *Manager) release(s Stream) {
	m.mu.Lock()
	if m.stream == s {
		m.stream = nil
	}
	m.mu.Unlock()
	s.RemoveListeners()
	_ = s.Close()
}

func (m *Manager) observeBlock(index uint32) {
	for {
		cur := m.lastBlock.Load()
		if index <= cur || m.lastBlock.CompareAndSwap(cur, index) {
			return
		}
	}
}

func (m *Manager) enterFallback() {
	m.metrics.RecordFallbackActivation()
	if m.fetcher == nil {
		m.log.Error("no fallback query endpoint configured, chain events are not being received")
		return
	}

	m.mu.Lock()
	ctx := m.ctx
	if m.poller != nil || ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	p := NewPoller(m.fetcher, m.cfg.Fallback, func(ev *chain.ContractEvent) {
		m.handle(ev, SourcePoll)
	}, m.log, m.metrics)
	if last := m.lastBlock.Load(); last > 0 {
		p.SetCursor(last)
	}
	m.poller = p
	m.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		m.log.WithError(err).Error("start fallback poller")
	}
}

// stopPoller stops the fallback poller and returns its cursor, if any.
func (m *Manager) stopPoller() (uint32, bool) {
	m.mu.Lock()
	p := m.poller
	m.poller = nil
	m.mu.Unlock()
	if p == nil {
		return 0, false
	}
	p.Stop()
	m.metrics.RecordDegraded(false)
	return p.Cursor()
}

// catchUp replays the blocks after from that were produced while the stream
// was down. Events the resumed stream also delivers are skipped by handle.
func (m *Manager) catchUp(ctx context.Context, from uint32) {
	if m.fetcher == nil {
		return
	}
	p := NewPoller(m.fetcher, m.cfg.Fallback, func(ev *chain.ContractEvent) {
		m.handle(ev, SourcePoll)
	}, m.log, m.metrics)
	p.SetCursor(from)

	n, err := p.CatchUp(ctx)
	to, _ := p.Cursor()
	log := m.log.WithFields(logrus.Fields{"from": from + 1, "to": to, "events": n})
	if err != nil {
		log.WithError(err).Warn("catch-up after reconnect incomplete")
		return
	}
	if to > from {
		log.Info("replayed blocks missed while disconnected")
	}
}

// handle maps a raw notification and fans it out. Malformed payloads are
// logged and dropped here; they never reach the sink or the registry.
func (m *Manager) handle(ev *chain.ContractEvent, source string) {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()

	m.metrics.RecordEventReceived(ev.EventName, source)
	if ev.BlockIndex > 0 {
		m.observeBlock(ev.BlockIndex)
	}
	if key := eventKey(ev); key != "" && !m.seen.add(key) {
		m.log.WithFields(logrus.Fields{
			"event":  ev.EventName,
			"source": source,
			"tx":     ev.TxHash,
		}).Debug("skipping chain event already handled")
		m.metrics.RecordEventDuplicate(source)
		return
	}

	event, err := chain.MapEvent(ev)
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"event":  ev.EventName,
			"source": source,
			"tx":     ev.TxHash,
			"raw":    string(ev.Raw),
		}).Warn("dropping malformed chain event")
		m.metrics.RecordEventMalformed(ev.EventName)
		return
	}

	if m.sink != nil {
		m.sink.HandleEvent(event)
	}
	topic := string(event.Kind())
	m.registry.Publish(topic, event)
	m.metrics.RecordEventPublished(topic)
}
