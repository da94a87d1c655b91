// Package config loads the rentstream configuration: an optional YAML file,
// then a .env file, then RENTSTREAM_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/rentstream/internal/chain"
)

// Validation errors. Validate joins every one that applies.
var (
	ErrMissingWSURL        = errors.New("chain.ws_url is required")
	ErrMissingRPCURL       = errors.New("chain.rpc_url is required")
	ErrMissingNetworkMagic = errors.New("chain.network_magic is required")
	ErrMissingContract     = errors.New("chain.contract_hash is required")
)

// Config is the full service configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Chain     ChainConfig     `yaml:"chain"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Notify    NotifyConfig    `yaml:"notify"`
	Session   SessionConfig   `yaml:"session"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"RENTSTREAM_LOG_LEVEL"`
	Format string `yaml:"format" env:"RENTSTREAM_LOG_FORMAT"`
}

// ChainConfig locates the Neo node and the watched contract.
type ChainConfig struct {
	WSURL            string        `yaml:"ws_url" env:"RENTSTREAM_CHAIN_WS_URL"`
	RPCURL           string        `yaml:"rpc_url" env:"RENTSTREAM_CHAIN_RPC_URL"`
	NetworkMagic     uint32        `yaml:"network_magic" env:"RENTSTREAM_CHAIN_NETWORK_MAGIC"`
	ContractHash     string        `yaml:"contract_hash" env:"RENTSTREAM_CHAIN_CONTRACT_HASH"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"RENTSTREAM_CHAIN_HANDSHAKE_TIMEOUT"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"RENTSTREAM_CHAIN_REQUEST_TIMEOUT"`
}

// ReconnectConfig is the backoff policy for the live stream.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay" env:"RENTSTREAM_RECONNECT_BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"RENTSTREAM_RECONNECT_MAX_DELAY"`
	MaxAttempts int           `yaml:"max_attempts" env:"RENTSTREAM_RECONNECT_MAX_ATTEMPTS"`
}

// FallbackConfig drives polling once reconnection is exhausted.
type FallbackConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" env:"RENTSTREAM_FALLBACK_POLL_INTERVAL"`
	PageSize       int           `yaml:"page_size" env:"RENTSTREAM_FALLBACK_PAGE_SIZE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"RENTSTREAM_FALLBACK_REQUEST_TIMEOUT"`
}

// NotifyConfig sizes the inbox and configures channel delivery. A channel
// without a webhook URL is delivered to the log.
type NotifyConfig struct {
	MaxInbox      int           `yaml:"max_inbox" env:"RENTSTREAM_NOTIFY_MAX_INBOX"`
	MaxHistory    int           `yaml:"max_history" env:"RENTSTREAM_NOTIFY_MAX_HISTORY"`
	SendTimeout   time.Duration `yaml:"send_timeout" env:"RENTSTREAM_NOTIFY_SEND_TIMEOUT"`
	RatePerSecond float64       `yaml:"rate_per_second" env:"RENTSTREAM_NOTIFY_RATE_PER_SECOND"`
	Burst         int           `yaml:"burst" env:"RENTSTREAM_NOTIFY_BURST"`
	EmailWebhook  string        `yaml:"email_webhook" env:"RENTSTREAM_NOTIFY_EMAIL_WEBHOOK"`
	PushWebhook   string        `yaml:"push_webhook" env:"RENTSTREAM_NOTIFY_PUSH_WEBHOOK"`
	SMSWebhook    string        `yaml:"sms_webhook" env:"RENTSTREAM_NOTIFY_SMS_WEBHOOK"`
}

type SessionConfig struct {
	ActiveUser string `yaml:"active_user" env:"RENTSTREAM_SESSION_ACTIVE_USER"`
}

// AnalyticsConfig selects the analytics backend.
type AnalyticsConfig struct {
	Backend      string        `yaml:"backend" env:"RENTSTREAM_ANALYTICS_BACKEND"`
	Endpoint     string        `yaml:"endpoint" env:"RENTSTREAM_ANALYTICS_ENDPOINT"`
	RedisURL     string        `yaml:"redis_url" env:"RENTSTREAM_ANALYTICS_REDIS_URL"`
	StreamMaxLen int64         `yaml:"stream_max_len" env:"RENTSTREAM_ANALYTICS_STREAM_MAX_LEN"`
	KafkaBrokers []string      `yaml:"kafka_brokers" env:"RENTSTREAM_ANALYTICS_KAFKA_BROKERS"`
	KafkaTopic   string        `yaml:"kafka_topic" env:"RENTSTREAM_ANALYTICS_KAFKA_TOPIC"`
	Timeout      time.Duration `yaml:"timeout" env:"RENTSTREAM_ANALYTICS_TIMEOUT"`
	QueueSize    int           `yaml:"queue_size" env:"RENTSTREAM_ANALYTICS_QUEUE_SIZE"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"RENTSTREAM_HTTP_ADDR"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"RENTSTREAM_HTTP_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"RENTSTREAM_HTTP_WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"RENTSTREAM_HTTP_IDLE_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"RENTSTREAM_HTTP_RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"RENTSTREAM_HTTP_RATE_BURST"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"RENTSTREAM_HTTP_ALLOWED_ORIGINS"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"RENTSTREAM_METRICS_NAMESPACE"`
}

// Default returns the configuration before any file or environment is
// applied. The chain section has no defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Chain: ChainConfig{
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 10,
		},
		Fallback: FallbackConfig{
			PollInterval:   15 * time.Second,
			PageSize:       50,
			RequestTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			MaxInbox:      500,
			MaxHistory:    100,
			SendTimeout:   10 * time.Second,
			RatePerSecond: 20,
			Burst:         20,
		},
		Analytics: AnalyticsConfig{
			Backend:    "none",
			KafkaTopic: "rental-analytics",
			Timeout:    5 * time.Second,
			QueueSize:  1024,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		Metrics: MetricsConfig{Namespace: "rentstream"},
	}
}

// Load builds the configuration from path (optional), envFile (optional,
// a missing file is ignored) and the process environment, then validates
// it.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.Chain.WSURL == "":
		errs = append(errs, ErrMissingWSURL)
	default:
		if err := checkURL(c.Chain.WSURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("chain.ws_url: %w", err))
		}
	}
	switch {
	case c.Chain.RPCURL == "":
		errs = append(errs, ErrMissingRPCURL)
	default:
		if err := checkURL(c.Chain.RPCURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("chain.rpc_url: %w", err))
		}
	}
	if c.Chain.NetworkMagic == 0 {
		errs = append(errs, ErrMissingNetworkMagic)
	}
	if c.Chain.ContractHash == "" {
		errs = append(errs, ErrMissingContract)
	} else if _, err := chain.NormalizeHash160(c.Chain.ContractHash); err != nil {
		errs = append(errs, fmt.Errorf("chain.contract_hash: %w", err))
	}

	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect.max_delay must not be below reconnect.base_delay"))
	}
	if c.Reconnect.MaxAttempts <= 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must be positive"))
	}
	if c.Fallback.PollInterval <= 0 {
		errs = append(errs, errors.New("fallback.poll_interval must be positive"))
	}

	switch strings.ToLower(c.Analytics.Backend) {
	case "", "none":
	case "http":
		if c.Analytics.Endpoint == "" {
			errs = append(errs, errors.New("analytics.endpoint is required for the http backend"))
		}
	case "redis":
		if c.Analytics.RedisURL == "" {
			errs = append(errs, errors.New("analytics.redis_url is required for the redis backend"))
		}
	case "kafka":
		if len(c.Analytics.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("analytics.kafka_brokers is required for the kafka backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("analytics.backend %q is not one of none, http, redis, kafka", c.Analytics.Backend))
	}

	if c.Session.ActiveUser != "" {
		if err := chain.ValidateAddress(c.Session.ActiveUser); err != nil {
			errs = append(errs, fmt.Errorf("session.active_user: %w", err))
		}
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}
