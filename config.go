package tinker

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/North-Shore-AI/tinker-go/internal/retry"
	"github.com/North-Shore-AI/tinker-go/internal/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL    = "https://api.tinker.dev/services/default"
	defaultSDKVersion = "0.1.0"
	defaultPlatform   = "go"

	defaultHeartbeatInterval  = 30 * time.Second
	defaultHeartbeatLostAfter = 120 * time.Second
	defaultDrainTimeout       = 10 * time.Second
)

// Config is a client's immutable connection configuration, built once
// via NewConfig and passed by value into every Client/Session/TrainingRun
// constructor.
//
// Config is safe to copy; it carries no mutable state of its own (the
// shared rate limiter and sampling registry are process-wide singletons,
// not part of Config — see client.go).
type Config struct {
	BaseURL string
	APIKey  string

	// HTTPClient backs every pool unless Doers is set explicitly. A
	// caller wanting HTTP/2 or a custom transport builds their own
	// *http.Client; the core stays agnostic to the transport library.
	HTTPClient *http.Client
	// Doers overrides individual pools (session/training/sampling/
	// futures/telemetry) with distinct Doers, e.g. to size connection
	// pools differently per traffic class.
	Doers transport.Doers

	Retry          retry.Config
	MaxConnections int64

	PollDefaultDelay     time.Duration
	PollReminderInterval time.Duration

	HeartbeatInterval  time.Duration
	HeartbeatLostAfter time.Duration

	// ProxyURL and ProxyHeaders are stored on Config only: no transport
	// in this module reads them, and this module never dials a proxy.
	ProxyURL     string
	ProxyHeaders map[string]string

	// AccessClientID/AccessClientSecret are optional access-tunnel
	// headers forwarded when present. AccessClientSecret must never
	// appear in a log line or a Dump() call.
	AccessClientID     string
	AccessClientSecret string

	Logger *logrus.Entry

	TelemetryEnabled bool
	SDKVersion       string
	Platform         string

	SessionTags  map[string]string
	FeatureGates map[string]bool

	DebugDumpHeaders bool
}

// Option customizes a Config during construction. An Option that
// returns an error aborts NewConfig.
type Option func(*Config) error

// WithBaseURL overrides the default service base URL.
func WithBaseURL(u string) Option {
	return func(c *Config) error {
		u = strings.TrimSpace(u)
		if u == "" {
			return errors.New("base URL cannot be empty")
		}
		c.BaseURL = strings.TrimRight(u, "/")
		return nil
	}
}

// WithHTTPClient replaces the *http.Client backing every pool that
// Doers does not override.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.HTTPClient = hc
		return nil
	}
}

// WithDoers overrides the per-pool Doer map wholesale. Pools not
// present in d fall back to PoolSession's Doer (transport.Doers.For).
func WithDoers(d transport.Doers) Option {
	return func(c *Config) error {
		c.Doers = d
		return nil
	}
}

// WithRetryConfig overrides the default retry/backoff/progress-timeout
// policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Config) error {
		c.Retry = cfg
		return nil
	}
}

// WithMaxConnections sets the admission semaphore width per
// destination (default 100).
func WithMaxConnections(n int64) Option {
	return func(c *Config) error {
		if n < 0 {
			return errors.New("max connections cannot be negative")
		}
		c.MaxConnections = n
		return nil
	}
}

// WithPollDefaults overrides the future-polling engine's default
// inter-poll delay and debounce reminder interval.
func WithPollDefaults(delay, reminderInterval time.Duration) Option {
	return func(c *Config) error {
		if delay <= 0 || reminderInterval <= 0 {
			return errors.New("poll defaults must be positive")
		}
		c.PollDefaultDelay = delay
		c.PollReminderInterval = reminderInterval
		return nil
	}
}

// WithHeartbeat overrides the session heartbeat cadence and the
// consecutive-failure window after which a session is treated as lost.
func WithHeartbeat(interval, lostAfter time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 || lostAfter <= 0 {
			return errors.New("heartbeat durations must be positive")
		}
		c.HeartbeatInterval = interval
		c.HeartbeatLostAfter = lostAfter
		return nil
	}
}

// WithProxy sets Config.ProxyURL and Config.ProxyHeaders. The values
// are stored only; no HTTP client built by this module applies them.
func WithProxy(url string, headers map[string]string) Option {
	return func(c *Config) error {
		c.ProxyURL = url
		c.ProxyHeaders = headers
		return nil
	}
}

// WithAccessTunnel sets the optional access-tunnel client id/secret
// headers forwarded on every request when present. The
// secret is redacted by Config.Dump and never logged.
func WithAccessTunnel(clientID, secret string) Option {
	return func(c *Config) error {
		c.AccessClientID = clientID
		c.AccessClientSecret = secret
		return nil
	}
}

// WithLogger overrides the logrus entry every internal component logs
// through (dtype warnings, retry events, heartbeat-lost warnings).
func WithLogger(log *logrus.Entry) Option {
	return func(c *Config) error {
		if log == nil {
			return errors.New("logger cannot be nil")
		}
		c.Logger = log
		return nil
	}
}

// WithTelemetry toggles whether a Session starts a telemetry reporter
// (default on).
func WithTelemetry(enabled bool) Option {
	return func(c *Config) error {
		c.TelemetryEnabled = enabled
		return nil
	}
}

// WithSessionTags attaches caller-defined tags forwarded as telemetry
// event metadata.
func WithSessionTags(tags map[string]string) Option {
	return func(c *Config) error {
		c.SessionTags = tags
		return nil
	}
}

// WithFeatureGates sets caller-defined feature gate flags.
func WithFeatureGates(gates map[string]bool) Option {
	return func(c *Config) error {
		c.FeatureGates = gates
		return nil
	}
}

// WithDebugDumpHeaders sets Config.DebugDumpHeaders. No component in
// this module reads the flag, so no headers are dumped either way.
func WithDebugDumpHeaders(enabled bool) Option {
	return func(c *Config) error {
		c.DebugDumpHeaders = enabled
		return nil
	}
}

// NewConfig builds a Config with built-in defaults, then applies opts
// in order, explicit options beating the defaults. This module never
// reads the environment itself; env-derived overrides are the caller's
// responsibility before calling NewConfig.
func NewConfig(apiKey string, opts ...Option) (Config, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Config{}, errors.New("API key is required")
	}

	c := Config{
		BaseURL:              defaultBaseURL,
		APIKey:               apiKey,
		HTTPClient:           transport.NewDefaultHTTPClient(),
		Retry:                retry.DefaultConfig(),
		MaxConnections:       100,
		PollDefaultDelay:     500 * time.Millisecond,
		PollReminderInterval: 30 * time.Second,
		HeartbeatInterval:    defaultHeartbeatInterval,
		HeartbeatLostAfter:   defaultHeartbeatLostAfter,
		Logger:               logrus.NewEntry(logrus.StandardLogger()),
		TelemetryEnabled:     true,
		SDKVersion:           defaultSDKVersion,
		Platform:             defaultPlatform,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}

	if c.Doers == nil {
		c.Doers = transport.NewDoers(c.HTTPClient)
	}

	return c, nil
}

// yamlConfig is the subset of Config exposed to ConfigFromYAML: a
// convenience preset loader for session tags and a handful of other
// caller-facing knobs, NOT a replacement for environment loading.
type yamlConfig struct {
	BaseURL          string            `yaml:"base_url"`
	APIKey           string            `yaml:"api_key"`
	TelemetryEnabled *bool             `yaml:"telemetry_enabled"`
	SessionTags      map[string]string `yaml:"session_tags"`
	FeatureGates     map[string]bool   `yaml:"feature_gates"`
}

// ConfigFromYAML loads session-tag/feature-gate presets (and,
// optionally, base_url/api_key) from a YAML file and layers additional
// opts on top, in order: file values first, then opts.
func ConfigFromYAML(path string, opts ...Option) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config yaml %q: %w", path, err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config yaml %q: %w", path, err)
	}

	fileOpts := []Option{}
	if yc.BaseURL != "" {
		fileOpts = append(fileOpts, WithBaseURL(yc.BaseURL))
	}
	if yc.SessionTags != nil {
		fileOpts = append(fileOpts, WithSessionTags(yc.SessionTags))
	}
	if yc.FeatureGates != nil {
		fileOpts = append(fileOpts, WithFeatureGates(yc.FeatureGates))
	}
	if yc.TelemetryEnabled != nil {
		fileOpts = append(fileOpts, WithTelemetry(*yc.TelemetryEnabled))
	}
	fileOpts = append(fileOpts, opts...)

	return NewConfig(yc.APIKey, fileOpts...)
}

// Dump returns a redacted snapshot of c suitable for logging: the base
// URL, connection, poll, heartbeat, telemetry, tag, feature-gate and
// access-tunnel fields listed below. Other fields (APIKey and the proxy
// settings among them) are left out. AccessClientSecret is masked to
// "REDACTED" regardless of its length.
func (c Config) Dump() map[string]any {
	secret := ""
	if c.AccessClientSecret != "" {
		secret = "REDACTED"
	}
	return map[string]any{
		"base_url":              c.BaseURL,
		"max_connections":       c.MaxConnections,
		"poll_default_delay_ms": c.PollDefaultDelay.Milliseconds(),
		"heartbeat_interval_ms": c.HeartbeatInterval.Milliseconds(),
		"telemetry_enabled":     c.TelemetryEnabled,
		"session_tags":          c.SessionTags,
		"feature_gates":         c.FeatureGates,
		"access_client_id":      c.AccessClientID,
		"access_client_secret":  secret,
	}
}
