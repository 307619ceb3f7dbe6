package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/sensocto/sensocto-go/errors"
)

// fileConfig is the TOML shape of a connector configuration file. Durations
// are expressed in milliseconds; booleans are pointers so that absent keys
// keep their defaults.
type fileConfig struct {
	ServerURL            string   `toml:"server_url"`
	ConnectorID          string   `toml:"connector_id"`
	ConnectorName        string   `toml:"connector_name"`
	ConnectorType        string   `toml:"connector_type"`
	BearerToken          string   `toml:"bearer_token"`
	AutoJoinConnector    *bool    `toml:"auto_join_connector"`
	HeartbeatIntervalMS  int64    `toml:"heartbeat_interval_ms"`
	ConnectionTimeoutMS  int64    `toml:"connection_timeout_ms"`
	AutoReconnect        *bool    `toml:"auto_reconnect"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	Features             []string `toml:"features"`
}

// Load reads a connector configuration from a TOML file, fills in defaults
// for absent keys and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.InvalidConfig(fmt.Sprintf("config load failed (%s): %v", path, err))
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, errors.InvalidConfig(fmt.Sprintf("config parse failed (%s): %v", path, err))
	}

	cfg := Default()
	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.ConnectorID != "" {
		cfg.ConnectorID = fc.ConnectorID
	}
	if fc.ConnectorName != "" {
		cfg.ConnectorName = fc.ConnectorName
	}
	if fc.ConnectorType != "" {
		cfg.ConnectorType = fc.ConnectorType
	}
	cfg.BearerToken = fc.BearerToken
	if fc.AutoJoinConnector != nil {
		cfg.AutoJoinConnector = *fc.AutoJoinConnector
	}
	if fc.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalMS) * time.Millisecond
	}
	if fc.ConnectionTimeoutMS > 0 {
		cfg.ConnectionTimeout = time.Duration(fc.ConnectionTimeoutMS) * time.Millisecond
	}
	if fc.AutoReconnect != nil {
		cfg.AutoReconnect = *fc.AutoReconnect
	}
	if fc.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = fc.MaxReconnectAttempts
	}
	if fc.Features != nil {
		cfg.Features = fc.Features
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
