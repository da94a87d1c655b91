// Package analytics forwards mapped chain events to an aggregate reporting
// backend. Delivery is best-effort: the event path never waits on a sink.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
)

// Backend names.
const (
	BackendNone  = "none"
	BackendHTTP  = "http"
	BackendRedis = "redis"
	BackendKafka = "kafka"
)

// Record is one structured analytics event keyed by its type.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Properties json.RawMessage `json:"properties"`
}

// NewRecord builds a record from a domain event.
func NewRecord(ev rental.Event) (Record, error) {
	props, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	occurred := ev.Metadata().ObservedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return Record{
		ID:         uuid.New(),
		EventType:  string(ev.Kind()),
		OccurredAt: occurred,
		Properties: props,
	}, nil
}

// Sink accepts analytics records.
type Sink interface {
	Name() string
	Send(ctx context.Context, r Record) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend      string
	Endpoint     string
	RedisURL     string
	StreamMaxLen int64
	KafkaBrokers []string
	KafkaTopic   string
	Timeout      time.Duration
}

// New creates the sink named by cfg.Backend.
func New(cfg Config) (Sink, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return NopSink{}, nil
	case BackendHTTP:
		return NewHTTPSink(cfg.Endpoint, cfg.Timeout)
	case BackendRedis:
		return NewRedisSink(cfg.RedisURL, cfg.StreamMaxLen)
	case BackendKafka:
		return NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("unknown analytics backend %q", cfg.Backend)
	}
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Name() string                       { return BackendNone }
func (NopSink) Send(context.Context, Record) error { return nil }
func (NopSink) Close() error                       { return nil }
