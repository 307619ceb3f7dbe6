// Package client implements the connection supervisor: it owns the socket,
// drives connect/disconnect with retry and backoff, monitors transport
// liveness in the background, and hands out sensor streams and call sessions.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sensocto/sensocto-go/call"
	"github.com/sensocto/sensocto-go/channel"
	"github.com/sensocto/sensocto-go/config"
	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/proto"
	"github.com/sensocto/sensocto-go/sensor"
	"github.com/sensocto/sensocto-go/socket"
)

const (
	eventBufferSize        = 32
	defaultMonitorInterval = 5 * time.Second
)

// Client is the supervisor over one socket and the channels built on it.
type Client struct {
	cfg  config.Config
	sock *socket.Socket

	mu               sync.RWMutex
	state            ConnectionState
	connectorChannel *channel.Channel
	stopCancel       context.CancelFunc

	events chan ConnectionEvent // nil unless NewWithEvents was used

	monitorInterval time.Duration
	backoff         func(attempt int) time.Duration
}

// New creates a client from a validated configuration.
func New(cfg config.Config) (*Client, error) {
	return newClient(cfg, false)
}

// NewWithEvents creates a client and a channel delivering connection state
// events, so the application can react without polling.
func NewWithEvents(cfg config.Config) (*Client, <-chan ConnectionEvent, error) {
	c, err := newClient(cfg, true)
	if err != nil {
		return nil, nil, err
	}
	return c, c.events, nil
}

func newClient(cfg config.Config, withEvents bool) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:             cfg,
		sock:            socket.New(wsURL, cfg.HeartbeatInterval, cfg.ConnectionTimeout),
		state:           StateDisconnected,
		monitorInterval: defaultMonitorInterval,
		backoff:         Backoff,
	}
	if withEvents {
		c.events = make(chan ConnectionEvent, eventBufferSize)
	}
	return c, nil
}

// ConnectorID returns the connector identifier.
func (c *Client) ConnectorID() string {
	return c.cfg.ConnectorID
}

// ConnectorName returns the connector name.
func (c *Client) ConnectorName() string {
	return c.cfg.ConnectorName
}

// ConnectionState returns the current supervisor state.
func (c *Client) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the supervisor considers the session live.
func (c *Client) IsConnected() bool {
	return c.ConnectionState() == StateConnected
}

// Connect establishes the session. On success the connector channel is
// auto-joined (best effort) and the background monitor starts when
// auto-reconnect is configured. Calling Connect on an already connected
// client is a no-op.
func (c *Client) Connect() error {
	if c.ConnectionState() == StateConnected {
		return nil
	}
	return c.connect(c.resetStop())
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.sock.Connect(); err != nil {
		c.setState(StateError)
		c.emit(ErrorEvent{Message: err.Error()})
		return err
	}

	c.setState(StateConnected)
	c.emit(Connected{})
	slog.Info("Connected to server", "connector_id", c.cfg.ConnectorID)

	if c.cfg.AutoJoinConnector {
		if err := c.joinConnectorChannel(); err != nil {
			slog.Warn("Connector channel join failed", "error", err)
		}
	}
	if c.cfg.AutoReconnect {
		go c.monitor(ctx)
	}
	return nil
}

// ConnectWithRetry calls Connect up to the configured maximum attempt count
// with exponential backoff between failures. Disconnect halts an in-progress
// backoff wait. A no-op while already connected.
func (c *Client) ConnectWithRetry() error {
	if c.ConnectionState() == StateConnected {
		return nil
	}
	ctx := c.resetStop()
	max := c.cfg.MaxReconnectAttempts

	err := retry.Do(
		func() error {
			return c.connect(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(max)),
		retry.LastErrorOnly(true),
		retry.DelayType(c.delayType),
		retry.OnRetry(func(n uint, err error) {
			attempt := int(n) + 1
			if attempt >= max {
				return
			}
			slog.Warn("Connection attempt failed", "attempt", attempt, "max_attempts", max, "error", err)
			c.emit(Reconnecting{Attempt: attempt, MaxAttempts: max})
		}),
	)
	if err != nil {
		c.emit(ReconnectionFailed{Attempts: max, LastError: err.Error()})
		return err
	}
	return nil
}

// Disconnect stops the monitor and any in-progress backoff, leaves the
// connector channel best-effort, and tears the socket down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.stopCancel
	c.stopCancel = nil
	connector := c.connectorChannel
	c.connectorChannel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if connector != nil {
		_ = connector.Leave()
	}

	c.sock.Disconnect()
	c.setState(StateDisconnected)
	c.emit(Disconnected{Reason: "user requested disconnect"})
	slog.Info("Disconnected from server", "connector_id", c.cfg.ConnectorID)
}

// RegisterSensor joins a sensor topic and returns a stream for sending
// measurements. Backpressure handling is wired before the join so a config
// pushed during the join is not missed.
func (c *Client) RegisterSensor(sensorCfg config.SensorConfig) (*sensor.Stream, error) {
	if !c.IsConnected() {
		return nil, errors.Disconnected()
	}

	topic := "sensocto:sensor:" + sensorCfg.SensorID
	params := proto.SensorJoin{
		ConnectorID:   c.cfg.ConnectorID,
		ConnectorName: c.cfg.ConnectorName,
		SensorID:      sensorCfg.SensorID,
		SensorName:    sensorCfg.SensorName,
		SensorType:    sensorCfg.SensorType,
		Attributes:    sensorCfg.Attributes,
		SamplingRate:  sensorCfg.SamplingRateHz,
		BatchSize:     sensorCfg.BatchSize,
		BearerToken:   c.cfg.BearerToken,
	}

	ch := channel.New(c.sock, topic, params)
	stream := sensor.NewStream(ch, sensorCfg)
	if _, err := ch.Join(); err != nil {
		return nil, err
	}

	slog.Info("Registered sensor", "sensor_id", sensorCfg.SensorID, "topic", topic)
	return stream, nil
}

// JoinCall joins a voice/video room and returns its signaling session.
func (c *Client) JoinCall(roomID, userID string, userInfo map[string]any) (*call.Session, error) {
	if !c.IsConnected() {
		return nil, errors.Disconnected()
	}
	if userInfo == nil {
		userInfo = map[string]any{}
	}

	topic := "call:" + roomID
	ch := channel.New(c.sock, topic, proto.CallJoin{UserID: userID, UserInfo: userInfo})

	session := call.NewSession(ch, roomID, userID)
	if err := session.JoinChannel(); err != nil {
		return nil, err
	}
	return session, nil
}

// monitor polls transport liveness and re-establishes the session after a
// loss, re-joining the connector channel when auto-join is configured. It
// terminates when every reconnection attempt is exhausted or ctx is
// cancelled by Disconnect.
func (c *Client) monitor(ctx context.Context) {
	ticker := time.NewTicker(c.monitorInterval)
	defer ticker.Stop()

	max := c.cfg.MaxReconnectAttempts

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Connection monitor stopped")
			return
		case <-ticker.C:
		}

		if c.sock.IsConnected() || c.ConnectionState() != StateConnected {
			continue
		}

		slog.Warn("Connection lost, attempting reconnect", "max_attempts", max)
		c.setState(StateReconnecting)
		c.emit(Disconnected{Reason: "connection lost"})

		attempt := 0
		err := retry.Do(
			func() error {
				attempt++
				c.emit(Reconnecting{Attempt: attempt, MaxAttempts: max})
				slog.Info("Reconnection attempt", "attempt", attempt, "max_attempts", max)
				return c.sock.Connect()
			},
			retry.Context(ctx),
			retry.Attempts(uint(max)),
			retry.LastErrorOnly(true),
			retry.DelayType(c.delayType),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setState(StateError)
			slog.Error("Reconnection failed", "attempts", max, "error", err)
			c.emit(ReconnectionFailed{Attempts: max, LastError: err.Error()})
			return
		}

		c.setState(StateConnected)
		if c.cfg.AutoJoinConnector {
			if err := c.joinConnectorChannel(); err != nil {
				slog.Warn("Connector channel re-join failed", "error", err)
			}
		}
		c.emit(Reconnected{Attempt: attempt})
		slog.Info("Reconnected", "attempt", attempt)
	}
}

// delayType adapts the backoff schedule to the retry helper; n is the
// zero-based index of the attempt that just failed.
func (c *Client) delayType(n uint, _ error, _ *retry.Config) time.Duration {
	return c.backoff(int(n) + 1)
}

func (c *Client) joinConnectorChannel() error {
	topic := "sensocto:connector:" + c.cfg.ConnectorID
	params := proto.ConnectorJoin{
		ConnectorID:   c.cfg.ConnectorID,
		ConnectorName: c.cfg.ConnectorName,
		ConnectorType: c.cfg.ConnectorType,
		Features:      c.cfg.Features,
		BearerToken:   c.cfg.BearerToken,
	}

	ch := channel.New(c.sock, topic, params)
	if _, err := ch.Join(); err != nil {
		return err
	}

	c.mu.Lock()
	c.connectorChannel = ch
	c.mu.Unlock()
	slog.Info("Joined connector channel", "topic", topic)
	return nil
}

// resetStop replaces the stop context used by the monitor and backoff loops.
func (c *Client) resetStop() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCancel != nil {
		c.stopCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopCancel = cancel
	return ctx
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit forwards a connection event to the observer channel, dropping it if
// no observer keeps up.
func (c *Client) emit(event ConnectionEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- event:
	default:
		slog.Warn("Connection event channel full, dropping event")
	}
}
