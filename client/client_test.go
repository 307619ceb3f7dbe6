package client_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensocto/sensocto-go/client"
	"github.com/sensocto/sensocto-go/config"
	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/phoenixtest"
	"github.com/sensocto/sensocto-go/proto"
)

func testConfig(serverURL string) config.Config {
	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.ConnectorID = "conn-1"
	cfg.ConnectorName = "test connector"
	cfg.ConnectionTimeout = time.Second
	cfg.HeartbeatInterval = time.Minute
	cfg.AutoReconnect = false
	cfg.MaxReconnectAttempts = 3
	return cfg
}

// waitFor drains the event channel until an event of type E arrives,
// failing the test if none does within two seconds.
func waitFor[E client.ConnectionEvent](t *testing.T, events <-chan client.ConnectionEvent) E {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if typed, ok := event.(E); ok {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("no %T event delivered", zero)
			return zero
		}
	}
}

func TestConnectEmitsConnectedAndJoinsConnector(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.ConnectorType = "go"
	cfg.Features = []string{"sensors"}
	cfg.BearerToken = "secret"

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)

	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	waitFor[client.Connected](t, events)
	assert.Equal(t, client.StateConnected, c.ConnectionState())
	assert.True(t, c.IsConnected())

	join, ok := srv.Expect(proto.EventJoin, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "sensocto:connector:conn-1", join.Topic)

	var payload proto.ConnectorJoin
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	assert.Equal(t, "conn-1", payload.ConnectorID)
	assert.Equal(t, "test connector", payload.ConnectorName)
	assert.Equal(t, "go", payload.ConnectorType)
	assert.Equal(t, []string{"sensors"}, payload.Features)
	assert.Equal(t, "secret", payload.BearerToken)
}

func TestConnectSkipsConnectorJoinWhenDisabled(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.AutoJoinConnector = false

	c, err := client.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	assert.True(t, srv.ExpectNone(proto.EventJoin, 100*time.Millisecond))
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)
	waitFor[client.Connected](t, events)

	_, ok := srv.Expect(proto.EventJoin, 2*time.Second)
	require.True(t, ok)

	require.NoError(t, c.Connect())
	require.NoError(t, c.ConnectWithRetry())
	assert.Equal(t, client.StateConnected, c.ConnectionState())

	// No duplicate connector join and no duplicate Connected event.
	assert.True(t, srv.ExpectNone(proto.EventJoin, 100*time.Millisecond))
	select {
	case event := <-events:
		t.Fatalf("unexpected event %T", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectFailure(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)

	err = c.Connect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnectionFailed))
	assert.Equal(t, client.StateError, c.ConnectionState())

	event := waitFor[client.ErrorEvent](t, events)
	assert.NotEmpty(t, event.Message)
}

func TestConnectWithRetryExhaustion(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MaxReconnectAttempts = 3

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	client.SetBackoff(c, func(int) time.Duration { return time.Millisecond })

	err = c.ConnectWithRetry()
	require.Error(t, err)
	assert.Equal(t, client.StateError, c.ConnectionState())

	var reconnecting []client.Reconnecting
	var failed *client.ReconnectionFailed
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case event := <-events:
			switch e := event.(type) {
			case client.Reconnecting:
				reconnecting = append(reconnecting, e)
			case client.ReconnectionFailed:
				failed = &e
				break collect
			}
		case <-deadline:
			break collect
		}
	}

	// A retry notice goes out after every failure except the last.
	require.Len(t, reconnecting, 2)
	assert.Equal(t, client.Reconnecting{Attempt: 1, MaxAttempts: 3}, reconnecting[0])
	assert.Equal(t, client.Reconnecting{Attempt: 2, MaxAttempts: 3}, reconnecting[1])
	require.NotNil(t, failed)
	assert.Equal(t, 3, failed.Attempts)
	assert.NotEmpty(t, failed.LastError)
}

func TestConnectWithRetrySucceedsFirstAttempt(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	require.NoError(t, c.ConnectWithRetry())
	t.Cleanup(c.Disconnect)

	waitFor[client.Connected](t, events)
	assert.True(t, c.IsConnected())
}

func TestMonitorReconnects(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.AutoReconnect = true
	cfg.AutoJoinConnector = false

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	client.SetMonitorInterval(c, 50*time.Millisecond)
	client.SetBackoff(c, func(int) time.Duration { return time.Millisecond })

	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)
	waitFor[client.Connected](t, events)

	srv.CloseClients()

	disconnected := waitFor[client.Disconnected](t, events)
	assert.Equal(t, "connection lost", disconnected.Reason)

	reconnecting := waitFor[client.Reconnecting](t, events)
	assert.Equal(t, 1, reconnecting.Attempt)

	reconnected := waitFor[client.Reconnected](t, events)
	assert.GreaterOrEqual(t, reconnected.Attempt, 1)
	assert.Equal(t, client.StateConnected, c.ConnectionState())
}

func TestMonitorGivesUpAfterExhaustion(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.AutoReconnect = true
	cfg.AutoJoinConnector = false
	cfg.MaxReconnectAttempts = 2

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	client.SetMonitorInterval(c, 50*time.Millisecond)
	client.SetBackoff(c, func(int) time.Duration { return time.Millisecond })

	require.NoError(t, c.Connect())
	waitFor[client.Connected](t, events)

	// Take the server away entirely so reconnection cannot succeed.
	srv.Close()

	failed := waitFor[client.ReconnectionFailed](t, events)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, client.StateError, c.ConnectionState())
}

func TestDisconnect(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())

	c, events, err := client.NewWithEvents(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	waitFor[client.Connected](t, events)

	c.Disconnect()
	assert.Equal(t, client.StateDisconnected, c.ConnectionState())
	assert.False(t, c.IsConnected())

	disconnected := waitFor[client.Disconnected](t, events)
	assert.Equal(t, "user requested disconnect", disconnected.Reason)

	// The connector channel leave goes out before the transport closes.
	_, ok := srv.Expect(proto.EventLeave, 2*time.Second)
	assert.True(t, ok)
}

func TestRegisterSensorRequiresConnection(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	c, err := client.New(cfg)
	require.NoError(t, err)

	_, err = c.RegisterSensor(config.NewSensorConfig("temp"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindDisconnected))
}

func TestRegisterSensor(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.AutoJoinConnector = false

	c, err := client.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	sensorCfg := config.NewSensorConfig("thermometer").
		WithSensorID("temp-1").
		WithSensorType("temperature").
		WithAttributes("celsius").
		WithSamplingRate(2).
		WithBatchSize(10)

	stream, err := c.RegisterSensor(sensorCfg)
	require.NoError(t, err)
	assert.True(t, stream.IsActive())
	assert.Equal(t, "temp-1", stream.SensorID())

	join, ok := srv.Expect(proto.EventJoin, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "sensocto:sensor:temp-1", join.Topic)

	var payload proto.SensorJoin
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	assert.Equal(t, "conn-1", payload.ConnectorID)
	assert.Equal(t, "temp-1", payload.SensorID)
	assert.Equal(t, "thermometer", payload.SensorName)
	assert.Equal(t, "temperature", payload.SensorType)
	assert.Equal(t, []string{"celsius"}, payload.Attributes)
	assert.Equal(t, 2, payload.SamplingRate)
	assert.Equal(t, 10, payload.BatchSize)
}

func TestRegisterSensorJoinRejected(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus(proto.EventJoin, "error", map[string]any{"reason": "unauthorized"})
	cfg := testConfig(srv.BaseURL())
	cfg.AutoJoinConnector = false

	c, err := client.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	_, err = c.RegisterSensor(config.NewSensorConfig("temp"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindChannelJoinFailed))
}

func TestJoinCall(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	cfg := testConfig(srv.BaseURL())
	cfg.AutoJoinConnector = false

	c, err := client.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	session, err := c.JoinCall("room-1", "user-1", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "room-1", session.RoomID())
	assert.Equal(t, "user-1", session.UserID())

	join, ok := srv.Expect(proto.EventJoin, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "call:room-1", join.Topic)

	var payload proto.CallJoin
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, map[string]any{"name": "Ada"}, payload.UserInfo)
}

func TestJoinCallRequiresConnection(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	c, err := client.New(cfg)
	require.NoError(t, err)

	_, err = c.JoinCall("room-1", "user-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindDisconnected))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://localhost:4000")
	cfg.ServerURL = ""

	_, err := client.New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindInvalidConfig))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", client.StateDisconnected.String())
	assert.Equal(t, "connecting", client.StateConnecting.String())
	assert.Equal(t, "connected", client.StateConnected.String())
	assert.Equal(t, "reconnecting", client.StateReconnecting.String())
	assert.Equal(t, "error", client.StateError.String())
}
