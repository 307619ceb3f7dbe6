// Package socket owns the physical WebSocket connection. It serializes
// outbound frames through a single write pump, demultiplexes inbound frames
// by correlation ref or by topic+event, and runs the heartbeat.
package socket

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/proto"
)

// Handler receives the payload of an inbound event frame. Handlers are
// invoked on their own goroutine so a slow handler cannot stall the read pump
// or delivery to other handlers.
type Handler func(payload json.RawMessage)

type handlerKey struct {
	topic string
	event string
}

const (
	defaultReplyTimeout = 10 * time.Second
	writeQueueSize      = 100
)

// Socket is a multiplexed Phoenix session shared by every channel derived
// from it. It survives reconnects: pending replies are failed on teardown but
// registered handlers and the ref counter carry over to the next session.
type Socket struct {
	url               string
	heartbeatInterval time.Duration
	dialer            *websocket.Dialer
	replyTimeout      time.Duration

	mu        sync.RWMutex // guards conn, writeCh, quit, connected
	conn      *websocket.Conn
	writeCh   chan []byte
	quit      chan struct{}
	connected bool

	pendingMu sync.RWMutex
	pending   map[string]chan proto.Reply

	handlerMu sync.RWMutex
	handlers  map[handlerKey][]Handler

	refCounter atomic.Uint64
}

// New creates a socket for the given ws(s) URL. The socket is not connected
// until Connect is called.
func New(url string, heartbeatInterval, handshakeTimeout time.Duration) *Socket {
	return &Socket{
		url:               url,
		heartbeatInterval: heartbeatInterval,
		dialer:            &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		replyTimeout:      defaultReplyTimeout,
		pending:           make(map[string]chan proto.Reply),
		handlers:          make(map[handlerKey][]Handler),
	}
}

// Connect establishes the WebSocket and starts the write, read and heartbeat
// pumps. Calling Connect on an already connected socket is a no-op.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}

	conn, _, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		s.mu.Unlock()
		return errors.ConnectionFailed(err)
	}

	s.conn = conn
	s.writeCh = make(chan []byte, writeQueueSize)
	s.quit = make(chan struct{})
	s.connected = true
	writeCh, quit := s.writeCh, s.quit
	s.mu.Unlock()

	go s.writePump(conn, writeCh, quit)
	go s.readPump(conn)
	go s.heartbeatPump(quit)

	slog.Info("Socket connected", "url", s.url)
	return nil
}

// IsConnected reports whether a live transport is attached.
func (s *Socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Disconnect clears the connected flag, stops the pumps and closes the
// transport. Pending replies are failed.
func (s *Socket) Disconnect() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(500*time.Millisecond))

	s.teardown(conn)
	slog.Info("Socket disconnected", "url", s.url)
}

// teardown shuts the session down if conn is still the active transport.
// Pumps from a previous session call this after a reconnect; the identity
// check keeps them from killing the new session.
func (s *Socket) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.connected = false
	close(s.quit)
	s.conn = nil
	s.writeCh = nil
	s.mu.Unlock()

	_ = conn.Close()
	s.failPending()
}

// Send allocates a fresh ref, registers a reply slot and enqueues the frame,
// then blocks until the matching reply arrives, the session is torn down, or
// the reply timeout elapses.
func (s *Socket) Send(topic, event string, payload any) (proto.Reply, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return proto.Reply{}, errors.Serialization(err)
	}

	ref := s.nextRef()
	data, err := json.Marshal(proto.Message{Topic: topic, Event: event, Payload: raw, Ref: &ref})
	if err != nil {
		return proto.Reply{}, errors.Serialization(err)
	}

	replyCh := make(chan proto.Reply, 1)
	s.pendingMu.Lock()
	s.pending[ref] = replyCh
	s.pendingMu.Unlock()

	if err := s.enqueue(data); err != nil {
		s.evict(ref)
		return proto.Reply{}, err
	}
	slog.Debug("Sent frame", "topic", topic, "event", event, "ref", ref)

	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return proto.Reply{}, errors.Disconnected()
		}
		return reply, nil
	case <-timer.C:
		s.evict(ref)
		return proto.Reply{}, errors.Timeout(s.replyTimeout.Milliseconds())
	}
}

// SendNoReply enqueues a frame without registering a reply slot.
func (s *Socket) SendNoReply(topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Serialization(err)
	}

	ref := s.nextRef()
	data, err := json.Marshal(proto.Message{Topic: topic, Event: event, Payload: raw, Ref: &ref})
	if err != nil {
		return errors.Serialization(err)
	}

	if err := s.enqueue(data); err != nil {
		return err
	}
	slog.Debug("Sent frame", "topic", topic, "event", event, "ref", ref)
	return nil
}

// On appends a handler for the (topic, event) key. Handlers for the same key
// are started in registration order.
func (s *Socket) On(topic, event string, h Handler) {
	key := handlerKey{topic: topic, event: event}
	s.handlerMu.Lock()
	s.handlers[key] = append(s.handlers[key], h)
	s.handlerMu.Unlock()
}

// ClearTopic removes every handler registered for the topic. Channels call
// this when their membership ends so a re-registration starts clean.
func (s *Socket) ClearTopic(topic string) {
	s.handlerMu.Lock()
	for key := range s.handlers {
		if key.topic == topic {
			delete(s.handlers, key)
		}
	}
	s.handlerMu.Unlock()
}

func (s *Socket) nextRef() string {
	return strconv.FormatUint(s.refCounter.Add(1), 10)
}

// enqueue hands a serialized frame to the write pump.
func (s *Socket) enqueue(data []byte) error {
	s.mu.RLock()
	connected, writeCh, quit := s.connected, s.writeCh, s.quit
	s.mu.RUnlock()

	if !connected || writeCh == nil {
		return errors.Disconnected()
	}

	select {
	case writeCh <- data:
		return nil
	case <-quit:
		return errors.Send("write queue closed")
	}
}

func (s *Socket) evict(ref string) {
	s.pendingMu.Lock()
	delete(s.pending, ref)
	s.pendingMu.Unlock()
}

// failPending drops every reply slot; blocked senders observe the closed
// channel and fail with a disconnected error.
func (s *Socket) failPending() {
	s.pendingMu.Lock()
	for ref, ch := range s.pending {
		delete(s.pending, ref)
		close(ch)
	}
	s.pendingMu.Unlock()
}

// writePump is the single serialized write path for one session.
func (s *Socket) writePump(conn *websocket.Conn, writeCh chan []byte, quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case data := <-writeCh:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Error("Write pump error", "error", err)
				s.teardown(conn)
				return
			}
		}
	}
}

// readPump decodes every inbound frame and routes it: replies resolve the
// pending table by ref, everything else fans out to registered handlers.
func (s *Socket) readPump(conn *websocket.Conn) {
	defer s.teardown(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Read pump error", "error", err)
			} else {
				slog.Debug("Read pump closed", "error", err)
			}
			return
		}

		var msg proto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid frame received", "error", err, "data", string(data))
			continue
		}

		if msg.Event == proto.EventReply {
			s.resolveReply(msg)
			continue
		}
		s.dispatch(msg)
	}
}

// resolveReply fulfills the reply slot for the frame's ref. A ref with no
// slot (timed out or never registered) is dropped silently.
func (s *Socket) resolveReply(msg proto.Message) {
	if msg.Ref == nil {
		slog.Warn("Reply frame without ref", "topic", msg.Topic)
		return
	}

	s.pendingMu.Lock()
	replyCh, ok := s.pending[*msg.Ref]
	delete(s.pending, *msg.Ref)
	s.pendingMu.Unlock()

	if !ok {
		slog.Debug("Dropping late reply", "ref", *msg.Ref, "topic", msg.Topic)
		return
	}

	var reply proto.Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		// Resolve rather than leave the caller to time out.
		reply = proto.Reply{Status: "error", Response: msg.Payload}
	}
	replyCh <- reply
	close(replyCh)
}

// dispatch starts every handler registered for (topic, event) on its own
// goroutine, in registration order.
func (s *Socket) dispatch(msg proto.Message) {
	key := handlerKey{topic: msg.Topic, event: msg.Event}
	s.handlerMu.RLock()
	handlers := make([]Handler, len(s.handlers[key]))
	copy(handlers, s.handlers[key])
	s.handlerMu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("No handlers for event", "topic", msg.Topic, "event", msg.Event)
		return
	}
	for _, h := range handlers {
		go h(msg.Payload)
	}
}

// heartbeatPump sends a no-reply heartbeat on the reserved topic at the
// configured interval while connected.
func (s *Socket) heartbeatPump(quit chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if !s.IsConnected() {
				return
			}
			ref := s.nextRef()
			data, err := json.Marshal(proto.Message{
				Topic:   proto.TopicPhoenix,
				Event:   proto.EventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     &ref,
			})
			if err != nil {
				return
			}
			if err := s.enqueue(data); err != nil {
				slog.Warn("Heartbeat enqueue failed", "error", err)
				return
			}
			slog.Debug("Sent heartbeat", "ref", ref)
		}
	}
}
