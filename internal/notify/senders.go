package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/httputil"
)

// Sender delivers a notification over one channel. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, recipient string, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient string, n Notification) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, recipient string, n Notification) error {
	return f(ctx, recipient, n)
}

// LogSender writes deliveries to the log. It is the default when no
// provider is configured for a channel.
type LogSender struct {
	channel Channel
	log     *logrus.Entry
}

// NewLogSender creates a log-only sender for ch.
func NewLogSender(ch Channel, log *logrus.Entry) *LogSender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSender{channel: ch, log: log}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, recipient string, n Notification) error {
	s.log.WithFields(logrus.Fields{
		"channel":         s.channel,
		"recipient":       recipient,
		"notification_id": n.ID,
		"type":            n.Type,
	}).Info(n.Title)
	return nil
}

// webhookPayload is the body POSTed by WebhookSender.
type webhookPayload struct {
	Channel      Channel      `json:"channel"`
	Recipient    string       `json:"recipient"`
	Notification Notification `json:"notification"`
}

// WebhookSender POSTs deliveries as JSON to a provider endpoint.
type WebhookSender struct {
	channel Channel
	client  *httputil.Client
}

// NewWebhookSender creates a webhook sender for ch.
func NewWebhookSender(ch Channel, url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		channel: ch,
		client:  httputil.NewClient(httputil.ClientConfig{BaseURL: url, Timeout: timeout, MaxRetries: 1}),
	}
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, recipient string, n Notification) error {
	payload := webhookPayload{Channel: s.channel, Recipient: recipient, Notification: n}
	if err := s.client.PostJSON(ctx, "", payload); err != nil {
		return fmt.Errorf("%s webhook: %w", s.channel, err)
	}
	return nil
}
