package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/analytics"
	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/internal/config"
	"github.com/R3E-Network/rentstream/internal/httpapi"
	"github.com/R3E-Network/rentstream/internal/logging"
	"github.com/R3E-Network/rentstream/internal/metrics"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/internal/pubsub"
	"github.com/R3E-Network/rentstream/internal/reconnect"
	"github.com/R3E-Network/rentstream/internal/session"
	"github.com/R3E-Network/rentstream/internal/subscription"
)

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	dialer  subscription.Dialer
	sink    analytics.Sink
	senders map[notify.Channel]notify.Sender
}

// WithDialer replaces the websocket dialer.
func WithDialer(d subscription.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithAnalyticsSink replaces the configured analytics backend.
func WithAnalyticsSink(s analytics.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithSender replaces the sender for one delivery channel.
func WithSender(ch notify.Channel, s notify.Sender) Option {
	return func(o *options) {
		if o.senders == nil {
			o.senders = make(map[notify.Channel]notify.Sender)
		}
		o.senders[ch] = s
	}
}

// Application owns one instance of every service and their lifecycle.
type Application struct {
	cfg *config.Config
	log *logrus.Entry

	Metrics    *metrics.Collector
	Registry   *pubsub.Registry
	Session    *session.Tracker
	Store      *notify.Store
	Dispatcher *notify.Dispatcher
	Hub        *httpapi.Hub
	Chain      *chain.Client
	Manager    *subscription.Manager
	Forwarder  *analytics.Forwarder
	Server     *httpapi.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the application from a validated configuration.
func New(cfg *config.Config, log *logrus.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{
		cfg:     cfg,
		log:     logging.Component(log, "app"),
		Metrics: metrics.NewCollector(cfg.Metrics.Namespace),
		Session: session.NewTracker(cfg.Session.ActiveUser),
		Store: notify.NewStore(
			notify.WithMaxInbox(cfg.Notify.MaxInbox),
			notify.WithMaxHistory(cfg.Notify.MaxHistory),
		),
	}

	a.Registry = pubsub.New(
		pubsub.WithLogger(logging.Component(log, "pubsub")),
		pubsub.WithFaultHook(func(topic string, _ any) {
			a.Metrics.RecordSubscriberFault(topic)
		}),
	)

	a.Hub = httpapi.NewHub(httpapi.HubConfig{AllowedOrigins: cfg.HTTP.AllowedOrigins}, logging.Component(log, "ws"))
	a.Hub.Attach(a.Registry)

	dispatcherOpts := []notify.DispatcherOption{
		notify.WithSession(a.Session),
		notify.WithDisplay(a.Hub),
		notify.WithDispatcherLogger(logging.Component(log, "notify")),
		notify.WithMetrics(a.Metrics),
	}
	for _, ch := range notify.Channels() {
		sender, ok := o.senders[ch]
		if !ok {
			sender = a.defaultSender(ch, log)
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithSender(ch, sender))
	}
	a.Dispatcher = notify.NewDispatcher(a.Store, notify.DispatcherConfig{
		SendTimeout:   cfg.Notify.SendTimeout,
		RatePerSecond: cfg.Notify.RatePerSecond,
		Burst:         cfg.Notify.Burst,
	}, dispatcherOpts...)

	var err error
	a.Chain, err = chain.NewClient(chain.Config{
		RPCURL:    cfg.Chain.RPCURL,
		NetworkID: cfg.Chain.NetworkMagic,
		Timeout:   cfg.Chain.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}

	dial := o.dialer
	if dial == nil {
		dial = subscription.WSDialer(chain.WSConfig{
			URL:              cfg.Chain.WSURL,
			HandshakeTimeout: cfg.Chain.HandshakeTimeout,
			RequestTimeout:   cfg.Chain.RequestTimeout,
		}, logging.Component(log, "chain"))
	}
	a.Manager, err = subscription.New(subscription.Config{
		Contract:         cfg.Chain.ContractHash,
		NetworkMagic:     a.Chain.NetworkID(),
		HandshakeTimeout: cfg.Chain.HandshakeTimeout,
		Reconnect: reconnect.Config{
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		Fallback: subscription.PollerConfig{
			Interval:       cfg.Fallback.PollInterval,
			PageSize:       cfg.Fallback.PageSize,
			RequestTimeout: cfg.Fallback.RequestTimeout,
		},
	}, dial, a.Registry,
		subscription.WithSink(a.Dispatcher),
		subscription.WithFetcher(a.Chain),
		subscription.WithLogger(logging.Component(log, "subscription")),
		subscription.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("subscription manager: %w", err)
	}

	sink := o.sink
	if sink == nil {
		sink, err = analytics.New(analytics.Config{
			Backend:      cfg.Analytics.Backend,
			Endpoint:     cfg.Analytics.Endpoint,
			RedisURL:     cfg.Analytics.RedisURL,
			StreamMaxLen: cfg.Analytics.StreamMaxLen,
			KafkaBrokers: cfg.Analytics.KafkaBrokers,
			KafkaTopic:   cfg.Analytics.KafkaTopic,
			Timeout:      cfg.Analytics.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("analytics sink: %w", err)
		}
	}
	a.Forwarder = analytics.NewForwarder(sink, analytics.ForwarderConfig{
		QueueSize:   cfg.Analytics.QueueSize,
		SendTimeout: cfg.Analytics.Timeout,
	}, logging.Component(log, "analytics"), a.Metrics)
	a.Forwarder.Attach(a.Registry)

	a.Server, err = httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, httpapi.Deps{
		Status:  a.Manager,
		Store:   a.Store,
		Session: a.Session,
		Hub:     a.Hub,
		Metrics: a.Metrics,
		Stream:  a.Manager,
	}, logging.Component(log, "http"))
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("http api: %w", err)
	}

	return a, nil
}

func (a *Application) defaultSender(ch notify.Channel, log *logrus.Logger) notify.Sender {
	var url string
	switch ch {
	case notify.ChannelEmail:
		url = a.cfg.Notify.EmailWebhook
	case notify.ChannelPush:
		url = a.cfg.Notify.PushWebhook
	case notify.ChannelSMS:
		url = a.cfg.Notify.SMSWebhook
	}
	if url == "" {
		return notify.NewLogSender(ch, logging.Component(log, "notify"))
	}
	return notify.NewWebhookSender(ch, url, a.cfg.Notify.SendTimeout)
}

// Run starts the analytics forwarder, the HTTP API and the subscription.
// It returns once everything is started; the subscription keeps retrying in
// the background if the first connection fails.
func (a *Application) Run(ctx context.Context) error {
	a.Forwarder.Start()
	if err := a.Server.Start(ctx); err != nil {
		return err
	}
	a.Manager.Start(ctx)

	info := a.Manager.Info()
	a.log.WithFields(logrus.Fields{
		"contract": info.Contract,
		"state":    info.State.String(),
		"http":     a.Server.Addr().String(),
	}).Info("rentstream running")
	return nil
}

// Shutdown stops the subscription (listeners, connection, timers, registry
// and poller), drains channel deliveries and the analytics queue, then
// stops the HTTP API. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.Manager.Stop()
		a.Dispatcher.Close()

		var errs []error
		if err := a.Forwarder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close analytics: %w", err))
		}
		if err := a.Server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
		a.log.Info("rentstream stopped")
	})
	return a.shutdownErr
}
