package proto

import (
	"time"
)

// Measurement is a single sensor reading.
type Measurement struct {
	AttributeID string `json:"attribute_id"`
	Payload     any    `json:"payload"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
}

// NewMeasurement creates a measurement stamped with the current time.
func NewMeasurement(attributeID string, payload any) Measurement {
	return Measurement{
		AttributeID: attributeID,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// NewMeasurementAt creates a measurement with an explicit timestamp.
func NewMeasurementAt(attributeID string, payload any, timestamp int64) Measurement {
	return Measurement{
		AttributeID: attributeID,
		Payload:     payload,
		Timestamp:   timestamp,
	}
}

// AttentionLevel is the server's estimate of how closely a sensor's data is
// currently being observed.
type AttentionLevel string

const (
	AttentionNone   AttentionLevel = "none"
	AttentionLow    AttentionLevel = "low"
	AttentionMedium AttentionLevel = "medium"
	AttentionHigh   AttentionLevel = "high"
)

// RecommendedBatchWindow returns the batch window in milliseconds suggested
// for this attention level.
func (a AttentionLevel) RecommendedBatchWindow() int {
	switch a {
	case AttentionHigh:
		return 100
	case AttentionMedium:
		return 500
	case AttentionLow:
		return 2000
	default:
		return 5000
	}
}

// RecommendedBatchSize returns the batch size suggested for this attention level.
func (a AttentionLevel) RecommendedBatchSize() int {
	switch a {
	case AttentionHigh:
		return 1
	case AttentionMedium:
		return 5
	case AttentionLow:
		return 10
	default:
		return 20
	}
}

// SystemLoadLevel is the server's reported load state.
type SystemLoadLevel string

const (
	LoadNormal   SystemLoadLevel = "normal"
	LoadElevated SystemLoadLevel = "elevated"
	LoadHigh     SystemLoadLevel = "high"
	LoadCritical SystemLoadLevel = "critical"
)

// BackpressureConfig is the server-issued directive telling a sensor client
// how aggressively to batch or pause. Paused is server-authoritative; the
// client never infers it from attention or load.
type BackpressureConfig struct {
	AttentionLevel         AttentionLevel  `json:"attention_level"`
	SystemLoad             SystemLoadLevel `json:"system_load"`
	Paused                 bool            `json:"paused"`
	RecommendedBatchWindow int             `json:"recommended_batch_window"` // milliseconds
	RecommendedBatchSize   int             `json:"recommended_batch_size"`
	LoadMultiplier         float64         `json:"load_multiplier"`
	Timestamp              int64           `json:"timestamp"`
}

// DefaultBackpressureConfig returns the configuration used before the server
// has pushed one. Unmarshal server payloads over this value so that omitted
// fields keep their defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		AttentionLevel:         AttentionNone,
		SystemLoad:             LoadNormal,
		Paused:                 false,
		RecommendedBatchWindow: 500,
		RecommendedBatchSize:   5,
		LoadMultiplier:         1.0,
		Timestamp:              0,
	}
}

// EffectiveBatchWindow returns the batch window scaled by the load multiplier.
func (c BackpressureConfig) EffectiveBatchWindow() int {
	return int(float64(c.RecommendedBatchWindow) * c.LoadMultiplier)
}

// CallParticipant reflects the last-known server state of one call member.
type CallParticipant struct {
	UserID       string         `json:"user_id"`
	EndpointID   string         `json:"endpoint_id"`
	UserInfo     map[string]any `json:"user_info,omitempty"`
	JoinedAt     string         `json:"joined_at,omitempty"`
	AudioEnabled bool           `json:"audio_enabled"`
	VideoEnabled bool           `json:"video_enabled"`
}

// IceServer is a WebRTC ICE server entry from a call join response.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// RoomRole is a room membership role.
type RoomRole string

const (
	RoleOwner  RoomRole = "owner"
	RoleAdmin  RoomRole = "admin"
	RoleMember RoomRole = "member"
)

// Room describes a named space sensors and calls are grouped under.
type Room struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	JoinCode      string         `json:"join_code,omitempty"`
	IsPublic      bool           `json:"is_public"`
	CallsEnabled  bool           `json:"calls_enabled"`
	OwnerID       string         `json:"owner_id"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// User is a platform account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
