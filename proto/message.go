package proto

import (
	"encoding/json"
)

// Reserved Phoenix protocol events and topics.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
	TopicPhoenix   = "phoenix"
)

// Message is the wire envelope for every frame exchanged with the server.
type Message struct {
	Topic   string          `json:"topic"`   // channel identity (e.g. "sensocto:sensor:temp-1")
	Event   string          `json:"event"`   // protocol or application event name
	Payload json.RawMessage `json:"payload"` // raw JSON; schema depends on the event
	Ref     *string         `json:"ref"`     // correlation id, nil for server-initiated events
}

// Reply is the payload of a "phx_reply" frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// IsOK reports whether the server accepted the correlated request.
func (r Reply) IsOK() bool {
	return r.Status == "ok"
}

// SensorJoin is the join payload for a sensor topic.
type SensorJoin struct {
	ConnectorID   string   `json:"connector_id"`
	ConnectorName string   `json:"connector_name"`
	SensorID      string   `json:"sensor_id"`
	SensorName    string   `json:"sensor_name"`
	SensorType    string   `json:"sensor_type"`
	Attributes    []string `json:"attributes"`
	SamplingRate  int      `json:"sampling_rate"`
	BatchSize     int      `json:"batch_size"`
	BearerToken   string   `json:"bearer_token"`
}

// ConnectorJoin is the join payload for the connector topic.
type ConnectorJoin struct {
	ConnectorID   string   `json:"connector_id"`
	ConnectorName string   `json:"connector_name"`
	ConnectorType string   `json:"connector_type"`
	Features      []string `json:"features"`
	BearerToken   string   `json:"bearer_token"`
}

// CallJoin is the join payload for a call topic.
type CallJoin struct {
	UserID   string         `json:"user_id"`
	UserInfo map[string]any `json:"user_info"`
}

// AttributeUpdate is the payload of an "update_attributes" push.
type AttributeUpdate struct {
	Action      string         `json:"action"`
	AttributeID string         `json:"attribute_id"`
	Metadata    map[string]any `json:"metadata"`
}
