package call

import (
	"encoding/json"

	"github.com/sensocto/sensocto-go/proto"
)

// Event is a typed call event delivered on the session's event channel.
type Event interface {
	callEvent()
}

// ParticipantJoined reports a new call member.
type ParticipantJoined struct {
	Participant proto.CallParticipant
}

// ParticipantLeft reports a member leaving, with whether it crashed.
type ParticipantLeft struct {
	UserID  string
	Crashed bool
}

// MediaEvent carries an opaque WebRTC signaling payload.
type MediaEvent struct {
	Data json.RawMessage
}

// ParticipantAudioChanged reports a member's audio flag change.
type ParticipantAudioChanged struct {
	UserID  string
	Enabled bool
}

// ParticipantVideoChanged reports a member's video flag change.
type ParticipantVideoChanged struct {
	UserID  string
	Enabled bool
}

// QualityChanged reports a room quality change.
type QualityChanged struct {
	Quality string
}

// CallEnded reports the call ending.
type CallEnded struct{}

func (ParticipantJoined) callEvent()       {}
func (ParticipantLeft) callEvent()         {}
func (MediaEvent) callEvent()              {}
func (ParticipantAudioChanged) callEvent() {}
func (ParticipantVideoChanged) callEvent() {}
func (QualityChanged) callEvent()          {}
func (CallEnded) callEvent()               {}
