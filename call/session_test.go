package call_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensocto/sensocto-go/call"
	"github.com/sensocto/sensocto-go/channel"
	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/phoenixtest"
	"github.com/sensocto/sensocto-go/proto"
	"github.com/sensocto/sensocto-go/socket"
)

func newSession(t *testing.T, srv *phoenixtest.Server) *call.Session {
	t.Helper()
	sock := socket.New(srv.URL(), time.Minute, 2*time.Second)
	require.NoError(t, sock.Connect())
	t.Cleanup(sock.Disconnect)

	ch := channel.New(sock, "call:room-1", proto.CallJoin{UserID: "user-1", UserInfo: map[string]any{}})
	s := call.NewSession(ch, "room-1", "user-1")
	require.NoError(t, s.JoinChannel())
	return s
}

func expectEvent(t *testing.T, s *call.Session) call.Event {
	t.Helper()
	select {
	case event := <-s.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no call event delivered")
		return nil
	}
}

func TestJoinChannelCapturesIceServers(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus(proto.EventJoin, "ok", map[string]any{
		"ice_servers": []map[string]any{
			{"urls": []string{"stun:stun.example.com:3478"}},
			{"urls": []string{"turn:turn.example.com:3478"}, "username": "u", "credential": "c"},
		},
	})
	s := newSession(t, srv)

	servers := s.IceServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "c", servers[1].Credential)
}

func TestRejectedJoinDropsEventHandlers(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus(proto.EventJoin, "error", map[string]any{"reason": "unauthorized"})
	sock := socket.New(srv.URL(), time.Minute, 2*time.Second)
	require.NoError(t, sock.Connect())
	t.Cleanup(sock.Disconnect)

	ch := channel.New(sock, "call:room-1", proto.CallJoin{UserID: "user-1"})
	s := call.NewSession(ch, "room-1", "user-1")
	require.Error(t, s.JoinChannel())

	// The discarded session must not see events pushed to its former topic.
	srv.PushEvent("call:room-1", "call_ended", map[string]any{})
	select {
	case event := <-s.Events():
		t.Fatalf("unexpected event %T after rejected join", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOperationsBeforeJoinCall(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	require.False(t, s.InCall())

	assert.Error(t, s.SendMediaEvent(map[string]any{"sdp": "offer"}))
	assert.Error(t, s.ToggleAudio(true))
	assert.Error(t, s.ToggleVideo(true))
	assert.Error(t, s.SetQuality("high"))
	_, err := s.GetParticipants()
	assert.Error(t, err)

	// None of the failed calls may have reached the wire.
	assert.True(t, srv.ExpectNone("media_event", 100*time.Millisecond))
}

func TestJoinCall(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus("join_call", "ok", map[string]any{"endpoint_id": "ep-42"})
	s := newSession(t, srv)

	response, err := s.JoinCall()
	require.NoError(t, err)
	assert.Contains(t, string(response), "ep-42")
	assert.True(t, s.InCall())
	assert.Equal(t, "ep-42", s.EndpointID())
}

func TestJoinCallRejected(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus("join_call", "error", map[string]any{"reason": "room full"})
	s := newSession(t, srv)

	_, err := s.JoinCall()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindServer))
	assert.False(t, s.InCall())
}

func TestLeaveCall(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	// No-op before joining the call.
	require.NoError(t, s.LeaveCall())
	assert.True(t, srv.ExpectNone("leave_call", 100*time.Millisecond))

	_, err := s.JoinCall()
	require.NoError(t, err)
	require.NoError(t, s.LeaveCall())
	assert.False(t, s.InCall())
	assert.Empty(t, s.EndpointID())

	_, ok := srv.Expect("leave_call", 2*time.Second)
	assert.True(t, ok)
}

func TestCallControlPushes(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)
	_, err := s.JoinCall()
	require.NoError(t, err)

	require.NoError(t, s.ToggleAudio(false))
	msg, ok := srv.Expect("toggle_audio", 2*time.Second)
	require.True(t, ok)
	assert.JSONEq(t, `{"enabled":false}`, string(msg.Payload))

	require.NoError(t, s.ToggleVideo(true))
	msg, ok = srv.Expect("toggle_video", 2*time.Second)
	require.True(t, ok)
	assert.JSONEq(t, `{"enabled":true}`, string(msg.Payload))

	require.NoError(t, s.SetQuality("high"))
	msg, ok = srv.Expect("set_quality", 2*time.Second)
	require.True(t, ok)
	assert.JSONEq(t, `{"quality":"high"}`, string(msg.Payload))

	require.NoError(t, s.SendMediaEvent(map[string]any{"sdp": "offer"}))
	msg, ok = srv.Expect("media_event", 2*time.Second)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":{"sdp":"offer"}}`, string(msg.Payload))
}

func TestGetParticipants(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	srv.ReplyStatus("get_participants", "ok", map[string]any{
		"participants": map[string]any{
			"user-2": map[string]any{
				"user_id":       "user-2",
				"endpoint_id":   "ep-2",
				"audio_enabled": true,
				"video_enabled": false,
			},
		},
	})
	s := newSession(t, srv)
	_, err := s.JoinCall()
	require.NoError(t, err)

	participants, err := s.GetParticipants()
	require.NoError(t, err)
	require.Len(t, participants, 1)
	p := participants["user-2"]
	assert.Equal(t, "ep-2", p.EndpointID)
	assert.True(t, p.AudioEnabled)
	assert.False(t, p.VideoEnabled)
}

func TestGetParticipantsAbsentMap(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)
	_, err := s.JoinCall()
	require.NoError(t, err)

	participants, err := s.GetParticipants()
	require.NoError(t, err)
	assert.NotNil(t, participants)
	assert.Empty(t, participants)
}

func TestParticipantJoinedEvent(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "participant_joined", map[string]any{
		"user_id":       "user-2",
		"endpoint_id":   "ep-2",
		"audio_enabled": true,
	})

	event := expectEvent(t, s)
	joined, ok := event.(call.ParticipantJoined)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "user-2", joined.Participant.UserID)
	assert.True(t, joined.Participant.AudioEnabled)
}

func TestParticipantLeftEvent(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "participant_left", map[string]any{
		"user_id": "user-2",
		"crashed": true,
	})

	event := expectEvent(t, s)
	left, ok := event.(call.ParticipantLeft)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "user-2", left.UserID)
	assert.True(t, left.Crashed)
}

func TestParticipantLeftMissingFields(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "participant_left", map[string]any{})

	event := expectEvent(t, s)
	left, ok := event.(call.ParticipantLeft)
	require.True(t, ok, "got %T", event)
	assert.Empty(t, left.UserID)
	assert.False(t, left.Crashed)
}

func TestMediaEvent(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "media_event", map[string]any{
		"data": map[string]any{"candidate": "c1"},
	})

	event := expectEvent(t, s)
	media, ok := event.(call.MediaEvent)
	require.True(t, ok, "got %T", event)
	assert.JSONEq(t, `{"candidate":"c1"}`, string(media.Data))
}

func TestMediaEventWithoutDataDropped(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "media_event", map[string]any{})
	srv.PushEvent("call:room-1", "call_ended", map[string]any{})

	// Only the call_ended event comes through.
	event := expectEvent(t, s)
	_, ok := event.(call.CallEnded)
	assert.True(t, ok, "got %T", event)
}

func TestAudioAndVideoChangedEvents(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "participant_audio_changed", map[string]any{
		"user_id":       "user-2",
		"audio_enabled": true,
	})
	event := expectEvent(t, s)
	audio, ok := event.(call.ParticipantAudioChanged)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "user-2", audio.UserID)
	assert.True(t, audio.Enabled)

	srv.PushEvent("call:room-1", "participant_video_changed", map[string]any{
		"user_id":       "user-2",
		"video_enabled": false,
	})
	event = expectEvent(t, s)
	video, ok := event.(call.ParticipantVideoChanged)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "user-2", video.UserID)
	assert.False(t, video.Enabled)
}

func TestQualityChangedEvent(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "quality_changed", map[string]any{"quality": "low"})

	event := expectEvent(t, s)
	changed, ok := event.(call.QualityChanged)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "low", changed.Quality)
}

func TestQualityChangedWithoutQualityDropped(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "quality_changed", map[string]any{})
	srv.PushEvent("call:room-1", "call_ended", map[string]any{})

	event := expectEvent(t, s)
	_, ok := event.(call.CallEnded)
	assert.True(t, ok, "got %T", event)
}

func TestUnknownWireEventDropped(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)

	srv.PushEvent("call:room-1", "presence_diff", map[string]any{})

	select {
	case event := <-s.Events():
		t.Fatalf("unexpected event %T", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	srv := phoenixtest.NewServer(t)
	s := newSession(t, srv)
	_, err := s.JoinCall()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.False(t, s.InCall())

	_, ok := srv.Expect("leave_call", 2*time.Second)
	assert.True(t, ok)
	_, ok = srv.Expect(proto.EventLeave, 2*time.Second)
	assert.True(t, ok)
}
