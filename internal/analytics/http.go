package analytics

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/R3E-Network/rentstream/internal/httputil"
)

// HTTPSink POSTs each record to <endpoint>/events/<type>.
type HTTPSink struct {
	client *httputil.Client
}

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(endpoint string, timeout time.Duration) (*HTTPSink, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("analytics endpoint required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("analytics endpoint: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: endpoint, Timeout: timeout}),
	}, nil
}

func (s *HTTPSink) Name() string { return BackendHTTP }

// Send posts the record. Any non-2xx status is an error.
func (s *HTTPSink) Send(ctx context.Context, r Record) error {
	if err := s.client.PostJSON(ctx, "/events/"+url.PathEscape(r.EventType), r); err != nil {
		return fmt.Errorf("post %s record: %w", r.EventType, err)
	}
	return nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
