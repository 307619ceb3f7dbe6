// Package phoenixtest provides an in-process Phoenix-style WebSocket server
// for exercising the client against real sockets in tests.
package phoenixtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sensocto/sensocto-go/proto"
)

// ReplyFunc computes the reply status and response for one correlated frame.
type ReplyFunc func(msg proto.Message) (status string, response any)

// Server is a test double for the real-time endpoint. Every frame carrying a
// ref is answered with phx_reply (status "ok", empty response) unless a rule
// or a silence marker overrides it. All received frames are recorded.
type Server struct {
	t   *testing.T
	srv *httptest.Server

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]*sync.Mutex
	rules  map[string]ReplyFunc
	silent map[string]bool

	frames chan proto.Message
}

// NewServer starts a server with a /socket/websocket endpoint. It is shut
// down automatically when the test finishes.
func NewServer(t *testing.T) *Server {
	s := &Server{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[*websocket.Conn]*sync.Mutex),
		rules:    make(map[string]ReplyFunc),
		silent:   make(map[string]bool),
		frames:   make(chan proto.Message, 256),
	}

	r := chi.NewRouter()
	r.Get("/socket/websocket", s.handleSocket)
	s.srv = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// URL of the socket endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/socket/websocket"
}

// BaseURL returns the http:// base URL, for configuration mapping.
func (s *Server) BaseURL() string {
	return s.srv.URL
}

// Reply installs a reply rule for an event.
func (s *Server) Reply(event string, fn ReplyFunc) {
	s.mu.Lock()
	s.rules[event] = fn
	s.mu.Unlock()
}

// ReplyStatus installs a fixed-status reply rule for an event.
func (s *Server) ReplyStatus(event, status string, response any) {
	s.Reply(event, func(proto.Message) (string, any) {
		return status, response
	})
}

// Silence suppresses replies for an event, so correlated requests time out.
func (s *Server) Silence(event string) {
	s.mu.Lock()
	s.silent[event] = true
	s.mu.Unlock()
}

// PushEvent sends a server-initiated event (nil ref) to every connection.
func (s *Server) PushEvent(topic, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.t.Fatalf("marshal push payload: %v", err)
	}
	msg := proto.Message{Topic: topic, Event: event, Payload: raw}

	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, wmu := range s.conns {
		conns[conn] = wmu
	}
	s.mu.Unlock()

	for conn, wmu := range conns {
		s.write(conn, wmu, msg)
	}
}

// CloseClients force-closes every live connection, simulating transport loss.
func (s *Server) CloseClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.CloseClients()
	s.srv.Close()
}

// Expect waits for a received frame with the given event, discarding others.
func (s *Server) Expect(event string, timeout time.Duration) (proto.Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-s.frames:
			if msg.Event == event {
				return msg, true
			}
		case <-deadline:
			return proto.Message{}, false
		}
	}
}

// ExpectNone asserts that no frame with the given event arrives within the
// window.
func (s *Server) ExpectNone(event string, window time.Duration) bool {
	deadline := time.After(window)
	for {
		select {
		case msg := <-s.frames:
			if msg.Event == event {
				return false
			}
		case <-deadline:
			return true
		}
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wmu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = wmu
	s.mu.Unlock()

	go s.readLoop(conn, wmu)
}

func (s *Server) readLoop(conn *websocket.Conn, wmu *sync.Mutex) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg proto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		select {
		case s.frames <- msg:
		default:
		}

		if msg.Ref == nil {
			continue
		}

		s.mu.Lock()
		silent := s.silent[msg.Event]
		rule := s.rules[msg.Event]
		s.mu.Unlock()
		if silent {
			continue
		}

		status, response := "ok", any(map[string]any{})
		if rule != nil {
			status, response = rule(msg)
		}
		rawResponse, err := json.Marshal(response)
		if err != nil {
			continue
		}
		replyPayload, err := json.Marshal(proto.Reply{Status: status, Response: rawResponse})
		if err != nil {
			continue
		}

		reply := proto.Message{
			Topic:   msg.Topic,
			Event:   proto.EventReply,
			Payload: replyPayload,
			Ref:     msg.Ref,
		}
		s.write(conn, wmu, reply)
	}
}

func (s *Server) write(conn *websocket.Conn, wmu *sync.Mutex, msg proto.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wmu.Lock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
	wmu.Unlock()
}
