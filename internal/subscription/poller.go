package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/internal/metrics"
)

// Fetcher is the request/response query interface used in degraded mode.
// *chain.Client implements it.
type Fetcher interface {
	GetBlockCount(ctx context.Context) (uint32, error)
	ContractEvents(ctx context.Context, index uint32, contract string, names map[string]bool) ([]*chain.ContractEvent, error)
}

// networkVerifier is implemented by fetchers that can confirm the node
// serves the configured network.
type networkVerifier interface {
	VerifyNetwork(ctx context.Context) error
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Contract       string
	Interval       time.Duration
	PageSize       int
	RequestTimeout time.Duration
}

func (c *PollerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Poller periodically walks new blocks over JSON-RPC and feeds the
// watched contract's notifications to a handler. It is the fallback used
// after the live stream exhausted its reconnect attempts.
type Poller struct {
	fetcher Fetcher
	cfg     PollerConfig
	handler chain.EventHandler
	names   map[string]bool
	log     *logrus.Entry
	metrics *metrics.Collector

	mu        sync.Mutex
	cron      *cron.Cron
	running   bool
	cursor    uint32
	hasCursor bool

	// pollMu serializes polls and guards verified.
	pollMu   sync.Mutex
	verified bool
}

// NewPoller creates a poller. cursor is the last block already processed;
// when hasCursor is false the first poll starts from the current height.
func NewPoller(fetcher Fetcher, cfg PollerConfig, handler chain.EventHandler, log *logrus.Entry, m *metrics.Collector) *Poller {
	cfg.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		handler: handler,
		names:   chain.WatchedEventNames(),
		log:     log.WithField("mode", "polling"),
		metrics: m,
	}
}

// SetCursor sets the last processed block.
func (p *Poller) SetCursor(block uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = block
	p.hasCursor = true
}

// Cursor returns the last processed block and whether one is set.
func (p *Poller) Cursor() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor, p.hasCursor
}

// Start schedules PollOnce every cfg.Interval. Overlapping runs are skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(p.log))))
	if _, err := c.AddFunc("@every "+p.cfg.Interval.String(), func() {
		if _, err := p.PollOnce(ctx); err != nil {
			p.log.WithError(err).Warn("fallback poll failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}
	c.Start()

	p.cron = c
	p.running = true
	p.log.WithField("interval", p.cfg.Interval.String()).Info("degraded polling started")
	return nil
}

// Stop stops the schedule and waits for a running poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	c := p.cron
	p.cron = nil
	p.running = false
	p.mu.Unlock()

	<-c.Stop().Done()
	p.log.Info("degraded polling stopped")
}

// IsRunning returns true if the poller is scheduled.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PollOnce processes up to PageSize blocks after the cursor and returns the
// number of events handed to the handler. The cursor only advances past
// fully processed blocks, so a failed block is retried on the next run.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	start := time.Now()
	n, err := p.poll(ctx)
	p.metrics.RecordPoll(time.Since(start), err)
	return n, err
}

// CatchUp polls page after page until the cursor stops advancing, which
// means it reached the head seen by the last page.
func (p *Poller) CatchUp(ctx context.Context) (int, error) {
	total := 0
	for {
		before, _ := p.Cursor()
		n, err := p.PollOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if after, _ := p.Cursor(); after == before {
			return total, nil
		}
	}
}

func (p *Poller) poll(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	if !p.verified {
		if v, ok := p.fetcher.(networkVerifier); ok {
			if err := v.VerifyNetwork(ctx); err != nil {
				return 0, err
			}
		}
		p.verified = true
	}

	count, err := p.fetcher.GetBlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	head := count - 1

	cursor, ok := p.Cursor()
	if !ok {
		p.SetCursor(head)
		return 0, nil
	}
	if cursor >= head {
		return 0, nil
	}

	last := head
	if limit := cursor + uint32(p.cfg.PageSize); limit < last {
		last = limit
	}

	delivered := 0
	for index := cursor + 1; index <= last; index++ {
		events, err := p.fetcher.ContractEvents(ctx, index, p.cfg.Contract, p.names)
		if err != nil {
			return delivered, fmt.Errorf("block %d: %w", index, err)
		}
		for _, ev := range events {
			p.handler(ev)
			delivered++
		}
		p.SetCursor(index)
	}

	if delivered > 0 {
		p.log.WithFields(logrus.Fields{
			"from":   cursor + 1,
			"to":     last,
			"events": delivered,
		}).Info("fallback poll delivered events")
	}
	return delivered, nil
}
