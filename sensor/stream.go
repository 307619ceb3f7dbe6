// Package sensor implements the backpressure-aware batching measurement
// stream built on a channel.
package sensor

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/sensocto/sensocto-go/channel"
	"github.com/sensocto/sensocto-go/config"
	"github.com/sensocto/sensocto-go/errors"
	"github.com/sensocto/sensocto-go/proto"
)

var attributeIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// ValidateAttributeID checks an attribute identifier: 1-64 characters, first
// alphabetic, remainder alphanumeric, underscore or hyphen.
func ValidateAttributeID(id string) error {
	if id == "" {
		return errors.InvalidAttributeID(id, "must not be empty")
	}
	if len(id) > 64 {
		return errors.InvalidAttributeID(id, "must not exceed 64 characters")
	}
	if !attributeIDPattern.MatchString(id) {
		return errors.InvalidAttributeID(id, "must start with a letter and contain only alphanumeric characters, underscores, or hyphens")
	}
	return nil
}

// Event is a message delivered on the stream's event channel.
type Event interface {
	sensorEvent()
}

// BackpressureUpdated reports a replaced backpressure configuration.
type BackpressureUpdated struct {
	Config proto.BackpressureConfig
}

func (BackpressureUpdated) sensorEvent() {}

const eventBufferSize = 100

// Stream sends measurements for one sensor topic, buffering and batching
// under the server-pushed backpressure configuration.
type Stream struct {
	ch       *channel.Channel
	sensorID string
	cfg      config.SensorConfig

	// mu guards the buffer and the cached backpressure config together, so a
	// send/flush decision never races a config update.
	mu           sync.Mutex
	buffer       []proto.Measurement
	backpressure proto.BackpressureConfig

	events chan Event
}

// NewStream wraps a channel for a sensor topic. The backpressure handler is
// registered immediately so a config pushed during the join is not missed;
// the caller joins the channel afterwards.
func NewStream(ch *channel.Channel, cfg config.SensorConfig) *Stream {
	s := &Stream{
		ch:           ch,
		sensorID:     cfg.SensorID,
		cfg:          cfg,
		backpressure: proto.DefaultBackpressureConfig(),
		events:       make(chan Event, eventBufferSize),
	}
	ch.On("backpressure_config", s.handleBackpressure)
	return s
}

// SensorID returns the sensor identifier.
func (s *Stream) SensorID() string {
	return s.sensorID
}

// Events returns the stream's event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// IsActive reports whether the underlying channel is joined.
func (s *Stream) IsActive() bool {
	return s.ch.IsJoined()
}

// IsPaused reports whether the server has paused sending.
func (s *Stream) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backpressure.Paused
}

// Backpressure returns the cached backpressure configuration.
func (s *Stream) Backpressure() proto.BackpressureConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backpressure
}

// SendMeasurement sends a single measurement stamped with the current time.
// It returns false without sending when the server has paused the stream.
func (s *Stream) SendMeasurement(attributeID string, payload any) (bool, error) {
	return s.SendMeasurementAt(attributeID, payload, time.Now().UnixMilli())
}

// SendMeasurementAt sends a single measurement with an explicit timestamp.
func (s *Stream) SendMeasurementAt(attributeID string, payload any, timestamp int64) (bool, error) {
	if err := ValidateAttributeID(attributeID); err != nil {
		return false, err
	}

	s.mu.Lock()
	paused := s.backpressure.Paused
	s.mu.Unlock()
	if paused {
		return false, nil
	}

	m := proto.NewMeasurementAt(attributeID, payload, timestamp)
	if err := s.ch.PushNoReply("measurement", m); err != nil {
		return false, err
	}
	return true, nil
}

// AddToBatch buffers a measurement stamped with the current time. Buffering
// continues while paused so no data is lost; the buffer auto-flushes when it
// reaches the recommended batch size and the stream is not paused.
func (s *Stream) AddToBatch(attributeID string, payload any) error {
	return s.AddToBatchAt(attributeID, payload, time.Now().UnixMilli())
}

// AddToBatchAt buffers a measurement with an explicit timestamp.
func (s *Stream) AddToBatchAt(attributeID string, payload any, timestamp int64) error {
	if err := ValidateAttributeID(attributeID); err != nil {
		return err
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, proto.NewMeasurementAt(attributeID, payload, timestamp))
	var batch []proto.Measurement
	if !s.backpressure.Paused && len(s.buffer) >= s.backpressure.RecommendedBatchSize {
		batch = s.drainLocked()
	}
	s.mu.Unlock()

	if batch != nil {
		// Auto-flush failures do not interrupt the measurement producer.
		if err := s.ch.PushNoReply("measurements_batch", batch); err != nil {
			slog.Warn("Batch auto-flush failed", "sensor_id", s.sensorID, "count", len(batch), "error", err)
			s.restore(batch)
		}
	}
	return nil
}

// FlushBatch drains the buffer into one measurements_batch push. It returns
// false with no wire traffic when the buffer is empty or the stream paused.
// When the push fails, the drained measurements go back into the buffer.
func (s *Stream) FlushBatch() (bool, error) {
	return s.flush(false)
}

// ForceFlushBatch flushes regardless of the paused flag. Used on close so
// buffered measurements are not lost on shutdown.
func (s *Stream) ForceFlushBatch() (bool, error) {
	return s.flush(true)
}

func (s *Stream) flush(force bool) (bool, error) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	if s.backpressure.Paused && !force {
		s.mu.Unlock()
		return false, nil
	}
	batch := s.drainLocked()
	s.mu.Unlock()

	slog.Debug("Flushing measurement batch", "sensor_id", s.sensorID, "count", len(batch))
	if err := s.ch.PushNoReply("measurements_batch", batch); err != nil {
		s.restore(batch)
		return false, err
	}
	return true, nil
}

// drainLocked empties the buffer and returns its contents in insertion order.
func (s *Stream) drainLocked() []proto.Measurement {
	batch := s.buffer
	s.buffer = nil
	return batch
}

// restore puts a drained batch back at the front of the buffer after a failed
// push, ahead of anything added in the meantime.
func (s *Stream) restore(batch []proto.Measurement) {
	s.mu.Lock()
	s.buffer = append(batch, s.buffer...)
	s.mu.Unlock()
}

// UpdateAttribute pushes an attribute registry update.
func (s *Stream) UpdateAttribute(action, attributeID string, metadata map[string]any) error {
	if err := ValidateAttributeID(attributeID); err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return s.ch.PushNoReply("update_attributes", proto.AttributeUpdate{
		Action:      action,
		AttributeID: attributeID,
		Metadata:    metadata,
	})
}

// Close force-flushes any buffered measurements and leaves the channel. The
// flush error, if any, is surfaced after the leave completes.
func (s *Stream) Close() error {
	_, flushErr := s.ForceFlushBatch()
	if err := s.ch.Leave(); err != nil {
		return err
	}
	return flushErr
}

// handleBackpressure replaces the cached configuration synchronously under
// the stream lock and forwards the update on the event channel.
func (s *Stream) handleBackpressure(payload json.RawMessage) {
	cfg := proto.DefaultBackpressureConfig()
	if err := json.Unmarshal(payload, &cfg); err != nil {
		slog.Warn("Invalid backpressure config payload", "sensor_id", s.sensorID, "error", err)
		return
	}

	s.mu.Lock()
	s.backpressure = cfg
	s.mu.Unlock()
	slog.Debug("Backpressure config updated", "sensor_id", s.sensorID,
		"attention", cfg.AttentionLevel, "paused", cfg.Paused, "batch_size", cfg.RecommendedBatchSize)

	select {
	case s.events <- BackpressureUpdated{Config: cfg}:
	default:
		slog.Warn("Sensor event channel full, dropping update", "sensor_id", s.sensorID)
	}
}
