// Package config holds the connection and sensor configuration consumed by
// the client, with a fluent builder, field validation and TOML file loading.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sensocto/sensocto-go/errors"
)

// Config describes how the client connects to a server.
type Config struct {
	// ServerURL is the http(s) base URL of the server; it is mapped to the
	// ws(s) socket endpoint by WebSocketURL.
	ServerURL string

	// ConnectorID uniquely identifies this connector instance.
	ConnectorID string

	// ConnectorName is the human-readable name for this connector.
	ConnectorName string

	// ConnectorType labels the kind of connector (e.g. "go", "iot", "mobile").
	ConnectorType string

	// BearerToken authenticates channel joins. Empty means unauthenticated.
	BearerToken string

	// AutoJoinConnector joins the connector channel right after connecting.
	AutoJoinConnector bool

	// HeartbeatInterval is the cadence of the heartbeat pump. Minimum 1s.
	HeartbeatInterval time.Duration

	// ConnectionTimeout bounds the WebSocket handshake.
	ConnectionTimeout time.Duration

	// AutoReconnect enables the background reconnection monitor.
	AutoReconnect bool

	// MaxReconnectAttempts bounds each reconnection sequence.
	MaxReconnectAttempts int

	// Features declares capabilities advertised on the connector join.
	Features []string
}

// Default returns a configuration with a fresh connector id and the standard
// intervals filled in.
func Default() Config {
	return Config{
		ServerURL:            "http://localhost:4000",
		ConnectorID:          uuid.NewString(),
		ConnectorName:        "Go Connector",
		ConnectorType:        "go",
		AutoJoinConnector:    true,
		HeartbeatInterval:    30 * time.Second,
		ConnectionTimeout:    10 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
	}
}

// Validate checks the configuration for field-level errors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.InvalidConfig("server URL is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return errors.URL(err)
	}
	if c.HeartbeatInterval < time.Second {
		return errors.InvalidConfig("heartbeat interval must be at least 1 second")
	}
	if c.MaxReconnectAttempts < 1 {
		return errors.InvalidConfig("max reconnect attempts must be at least 1")
	}
	return nil
}

// WebSocketURL maps the server base URL to the socket endpoint, translating
// http to ws and https to wss.
func (c Config) WebSocketURL() (string, error) {
	base, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", errors.URL(err)
	}
	scheme := "ws"
	if base.Scheme == "https" || base.Scheme == "wss" {
		scheme = "wss"
	}
	if base.Host == "" {
		return "", errors.InvalidConfig("server URL must have a host")
	}
	return scheme + "://" + base.Host + "/socket/websocket", nil
}

// Builder assembles a Config fluently.
type Builder struct {
	cfg Config
}

// NewBuilder starts a builder from the defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

func (b *Builder) ServerURL(u string) *Builder {
	b.cfg.ServerURL = u
	return b
}

func (b *Builder) ConnectorID(id string) *Builder {
	b.cfg.ConnectorID = id
	return b
}

func (b *Builder) ConnectorName(name string) *Builder {
	b.cfg.ConnectorName = name
	return b
}

func (b *Builder) ConnectorType(typ string) *Builder {
	b.cfg.ConnectorType = typ
	return b
}

func (b *Builder) BearerToken(token string) *Builder {
	b.cfg.BearerToken = token
	return b
}

func (b *Builder) AutoJoinConnector(autoJoin bool) *Builder {
	b.cfg.AutoJoinConnector = autoJoin
	return b
}

func (b *Builder) HeartbeatInterval(d time.Duration) *Builder {
	b.cfg.HeartbeatInterval = d
	return b
}

func (b *Builder) ConnectionTimeout(d time.Duration) *Builder {
	b.cfg.ConnectionTimeout = d
	return b
}

func (b *Builder) AutoReconnect(enabled bool) *Builder {
	b.cfg.AutoReconnect = enabled
	return b
}

func (b *Builder) MaxReconnectAttempts(n int) *Builder {
	b.cfg.MaxReconnectAttempts = n
	return b
}

func (b *Builder) Features(features []string) *Builder {
	b.cfg.Features = features
	return b
}

// Build validates and returns the configuration.
func (b *Builder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// SensorConfig describes one sensor to register.
type SensorConfig struct {
	SensorID       string
	SensorName     string
	SensorType     string
	Attributes     []string
	SamplingRateHz int
	BatchSize      int
}

// NewSensorConfig returns a sensor configuration with a fresh id and
// generic defaults.
func NewSensorConfig(name string) SensorConfig {
	return SensorConfig{
		SensorID:       uuid.NewString(),
		SensorName:     name,
		SensorType:     "generic",
		SamplingRateHz: 10,
		BatchSize:      5,
	}
}

func (c SensorConfig) WithSensorID(id string) SensorConfig {
	c.SensorID = id
	return c
}

func (c SensorConfig) WithSensorType(sensorType string) SensorConfig {
	c.SensorType = sensorType
	return c
}

func (c SensorConfig) WithAttributes(attributes ...string) SensorConfig {
	c.Attributes = attributes
	return c
}

func (c SensorConfig) WithSamplingRate(hz int) SensorConfig {
	c.SamplingRateHz = hz
	return c
}

func (c SensorConfig) WithBatchSize(size int) SensorConfig {
	c.BatchSize = size
	return c
}
