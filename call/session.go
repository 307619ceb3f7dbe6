// Package call implements the signaling session for a voice/video room. It
// carries no media; it turns generic channel events into a typed call event
// stream and exposes call-control pushes.
package call

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sensocto/sensocto-go/channel"
	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/proto"
)

const eventBufferSize = 100

// wireEvents are the inbound events translated into typed call events.
// Anything else is dropped silently.
var wireEvents = []string{
	"participant_joined",
	"participant_left",
	"media_event",
	"participant_audio_changed",
	"participant_video_changed",
	"quality_changed",
	"call_ended",
}

// Session wraps a call-topic channel.
type Session struct {
	ch     *channel.Channel
	roomID string
	userID string

	mu         sync.RWMutex
	inCall     bool
	endpointID string
	iceServers []proto.IceServer

	events chan Event
}

// NewSession wraps a channel for a call topic and registers the event
// translation handlers. The caller joins the channel via JoinChannel.
func NewSession(ch *channel.Channel, roomID, userID string) *Session {
	s := &Session{
		ch:     ch,
		roomID: roomID,
		userID: userID,
		events: make(chan Event, eventBufferSize),
	}
	for _, event := range wireEvents {
		name := event
		ch.On(name, func(payload json.RawMessage) {
			s.handleEvent(name, payload)
		})
	}
	return s
}

// RoomID returns the room identifier.
func (s *Session) RoomID() string {
	return s.roomID
}

// UserID returns the local user identifier.
func (s *Session) UserID() string {
	return s.userID
}

// Events returns the session's typed event channel.
func (s *Session) Events() <-chan Event {
	return s.events
}

// InCall reports whether the local user has joined the call.
func (s *Session) InCall() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inCall
}

// EndpointID returns the endpoint id assigned on join_call, or empty.
func (s *Session) EndpointID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointID
}

// IceServers returns the ICE servers from the channel join response.
func (s *Session) IceServers() []proto.IceServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iceServers
}

// JoinChannel joins the call topic and captures the ICE servers from the
// join response.
func (s *Session) JoinChannel() error {
	response, err := s.ch.Join()
	if err != nil {
		return err
	}

	var joined struct {
		IceServers []proto.IceServer `json:"ice_servers"`
	}
	if err := json.Unmarshal(response, &joined); err != nil {
		slog.Debug("Call join response without ice_servers", "room_id", s.roomID, "error", err)
	}
	s.mu.Lock()
	s.iceServers = joined.IceServers
	s.mu.Unlock()

	slog.Info("Joined call channel", "room_id", s.roomID)
	return nil
}

// JoinCall enters the call and captures the endpoint id if the server
// assigned one.
func (s *Session) JoinCall() (json.RawMessage, error) {
	response, err := s.ch.Push("join_call", map[string]any{})
	if err != nil {
		return nil, err
	}

	var joined struct {
		EndpointID string `json:"endpoint_id"`
	}
	_ = json.Unmarshal(response, &joined)

	s.mu.Lock()
	s.inCall = true
	s.endpointID = joined.EndpointID
	s.mu.Unlock()

	slog.Info("Joined call", "room_id", s.roomID, "endpoint_id", joined.EndpointID)
	return response, nil
}

// LeaveCall exits the call. No-op when not in the call.
func (s *Session) LeaveCall() error {
	if !s.InCall() {
		return nil
	}

	if _, err := s.ch.Push("leave_call", map[string]any{}); err != nil {
		return err
	}

	s.mu.Lock()
	s.inCall = false
	s.endpointID = ""
	s.mu.Unlock()
	return nil
}

// SendMediaEvent pushes a WebRTC signaling payload (SDP offer/answer, ICE
// candidate) to the room.
func (s *Session) SendMediaEvent(data any) error {
	if !s.InCall() {
		return errors.Other("not in call")
	}
	return s.ch.PushNoReply("media_event", map[string]any{"data": data})
}

// ToggleAudio enables or disables the local audio flag.
func (s *Session) ToggleAudio(enabled bool) error {
	if !s.InCall() {
		return errors.Other("not in call")
	}
	_, err := s.ch.Push("toggle_audio", map[string]any{"enabled": enabled})
	return err
}

// ToggleVideo enables or disables the local video flag.
func (s *Session) ToggleVideo(enabled bool) error {
	if !s.InCall() {
		return errors.Other("not in call")
	}
	_, err := s.ch.Push("toggle_video", map[string]any{"enabled": enabled})
	return err
}

// SetQuality requests a video quality level.
func (s *Session) SetQuality(quality string) error {
	if !s.InCall() {
		return errors.Other("not in call")
	}
	_, err := s.ch.Push("set_quality", map[string]any{"quality": quality})
	return err
}

// GetParticipants fetches the current participants keyed by user id. An
// absent or malformed participants map decodes to an empty map.
func (s *Session) GetParticipants() (map[string]proto.CallParticipant, error) {
	if !s.InCall() {
		return nil, errors.Other("not in call")
	}

	response, err := s.ch.Push("get_participants", map[string]any{})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Participants map[string]proto.CallParticipant `json:"participants"`
	}
	if err := json.Unmarshal(response, &decoded); err != nil || decoded.Participants == nil {
		return map[string]proto.CallParticipant{}, nil
	}
	return decoded.Participants, nil
}

// Close leaves the call if joined, then leaves the channel.
func (s *Session) Close() error {
	if err := s.LeaveCall(); err != nil {
		slog.Debug("Leave call failed", "room_id", s.roomID, "error", err)
	}
	return s.ch.Leave()
}

// handleEvent translates one inbound wire event into a typed call event.
// Fields are decoded defensively: missing or invalid fields fall back to
// zero values rather than erroring.
func (s *Session) handleEvent(event string, payload json.RawMessage) {
	var translated Event

	switch event {
	case "participant_joined":
		var p proto.CallParticipant
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		translated = ParticipantJoined{Participant: p}

	case "participant_left":
		var left struct {
			UserID  string `json:"user_id"`
			Crashed bool   `json:"crashed"`
		}
		_ = json.Unmarshal(payload, &left)
		translated = ParticipantLeft{UserID: left.UserID, Crashed: left.Crashed}

	case "media_event":
		var media struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &media); err != nil || media.Data == nil {
			return
		}
		translated = MediaEvent{Data: media.Data}

	case "participant_audio_changed":
		var changed struct {
			UserID  string `json:"user_id"`
			Enabled bool   `json:"audio_enabled"`
		}
		_ = json.Unmarshal(payload, &changed)
		translated = ParticipantAudioChanged{UserID: changed.UserID, Enabled: changed.Enabled}

	case "participant_video_changed":
		var changed struct {
			UserID  string `json:"user_id"`
			Enabled bool   `json:"video_enabled"`
		}
		_ = json.Unmarshal(payload, &changed)
		translated = ParticipantVideoChanged{UserID: changed.UserID, Enabled: changed.Enabled}

	case "quality_changed":
		var changed struct {
			Quality *string `json:"quality"`
		}
		if err := json.Unmarshal(payload, &changed); err != nil || changed.Quality == nil {
			return
		}
		translated = QualityChanged{Quality: *changed.Quality}

	case "call_ended":
		translated = CallEnded{}

	default:
		return
	}

	select {
	case s.events <- translated:
	default:
		slog.Warn("Call event channel full, dropping event", "room_id", s.roomID, "event", event)
	}
}
