// Package channel implements the per-topic membership state machine layered
// on a socket.
package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/proto"
	"github.com/sensocto/sensocto-go/socket"
)

// State is the membership state of one channel instance.
type State int

const (
	StateClosed State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateErrored:
		return "errored"
	default:
		return "closed"
	}
}

// Channel is a membership on one topic, multiplexed over a shared socket.
// Its state field is independently locked; channels never lock each other.
type Channel struct {
	sock       *socket.Socket
	topic      string
	joinParams any

	mu    sync.RWMutex
	state State
}

// New creates a channel for the topic with the join parameters captured for
// later Join calls.
func New(sock *socket.Socket, topic string, joinParams any) *Channel {
	return &Channel{sock: sock, topic: topic, joinParams: joinParams}
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

// State returns the current membership state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsJoined reports whether pushes are currently valid.
func (c *Channel) IsJoined() bool {
	return c.State() == StateJoined
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// On registers a handler for an event on this channel's topic.
func (c *Channel) On(event string, h socket.Handler) {
	c.sock.On(c.topic, event, h)
}

// Join issues phx_join with the captured parameters and returns the server's
// response payload on success. A failed join clears the topic's handlers;
// registrations belonging to a membership that never materialized must not
// stay live on the shared socket.
func (c *Channel) Join() (json.RawMessage, error) {
	c.setState(StateJoining)

	reply, err := c.sock.Send(c.topic, proto.EventJoin, c.joinParams)
	if err != nil {
		c.abortJoin()
		return nil, err
	}
	if !reply.IsOK() {
		c.abortJoin()
		return nil, errors.ChannelJoinFailed(c.topic, string(reply.Response))
	}

	c.setState(StateJoined)
	slog.Info("Joined channel", "topic", c.topic)
	return reply.Response, nil
}

func (c *Channel) abortJoin() {
	c.sock.ClearTopic(c.topic)
	c.setState(StateErrored)
}

// Leave sends a best-effort phx_leave when joined and closes the channel. It
// never fails the caller; leaving must not block shutdown or reconnection.
// Handlers registered for the topic are cleared in every state so a later
// re-registration starts from an empty list.
func (c *Channel) Leave() error {
	if c.State() == StateJoined {
		c.setState(StateLeaving)
		if _, err := c.sock.Send(c.topic, proto.EventLeave, map[string]any{}); err != nil {
			slog.Debug("Leave push failed", "topic", c.topic, "error", err)
		}
		slog.Info("Left channel", "topic", c.topic)
	}

	c.sock.ClearTopic(c.topic)
	c.setState(StateClosed)
	return nil
}

// Push sends an event and waits for the reply, mapping a non-ok status to a
// server error carrying the response body.
func (c *Channel) Push(event string, payload any) (json.RawMessage, error) {
	if c.State() != StateJoined {
		return nil, errors.ChannelNotJoined(c.topic)
	}

	reply, err := c.sock.Send(c.topic, event, payload)
	if err != nil {
		return nil, err
	}
	if !reply.IsOK() {
		return nil, errors.Server(string(reply.Response))
	}
	return reply.Response, nil
}

// PushNoReply sends an event without waiting for a reply.
func (c *Channel) PushNoReply(event string, payload any) error {
	if c.State() != StateJoined {
		return errors.ChannelNotJoined(c.topic)
	}
	return c.sock.SendNoReply(c.topic, event, payload)
}
