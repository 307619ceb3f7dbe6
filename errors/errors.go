// Package errors defines the error kinds surfaced by the client and the
// classification predicates callers use to decide how to react to them.
package errors

import (
	"errors"
	"fmt"
)

// Kind discriminates the failure categories the client can report.
type Kind int

const (
	KindOther Kind = iota
	KindConnectionFailed
	KindTransport
	KindChannelJoinFailed
	KindChannelNotJoined
	KindAuthenticationFailed
	KindServer
	KindTimeout
	KindInvalidConfig
	KindSerialization
	KindURL
	KindSend
	KindDisconnected
	KindInvalidAttributeID
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection_failed"
	case KindTransport:
		return "transport_error"
	case KindChannelJoinFailed:
		return "channel_join_failed"
	case KindChannelNotJoined:
		return "channel_not_joined"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindServer:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindInvalidConfig:
		return "invalid_config"
	case KindSerialization:
		return "serialization_error"
	case KindURL:
		return "url_error"
	case KindSend:
		return "send_error"
	case KindDisconnected:
		return "disconnected"
	case KindInvalidAttributeID:
		return "invalid_attribute_id"
	default:
		return "other"
	}
}

// Error is the concrete error type returned by every package in this module.
type Error struct {
	Kind      Kind
	Message   string
	Topic     string // set for channel errors
	TimeoutMS int64  // set for timeout errors
	Err       error  // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindConnectionFailed:
		return fmt.Sprintf("connection failed: %s", e.Message)
	case KindTransport:
		return fmt.Sprintf("transport error: %s", e.Message)
	case KindChannelJoinFailed:
		return fmt.Sprintf("failed to join channel %q: %s", e.Topic, e.Message)
	case KindChannelNotJoined:
		return fmt.Sprintf("channel %q is not joined", e.Topic)
	case KindAuthenticationFailed:
		return fmt.Sprintf("authentication failed: %s", e.Message)
	case KindServer:
		return fmt.Sprintf("server error: %s", e.Message)
	case KindTimeout:
		return fmt.Sprintf("request timed out after %dms", e.TimeoutMS)
	case KindInvalidConfig:
		return fmt.Sprintf("invalid configuration: %s", e.Message)
	case KindSerialization:
		return fmt.Sprintf("serialization error: %s", e.Message)
	case KindURL:
		return fmt.Sprintf("invalid url: %s", e.Message)
	case KindSend:
		return fmt.Sprintf("send error: %s", e.Message)
	case KindDisconnected:
		return "client is disconnected"
	case KindInvalidAttributeID:
		return fmt.Sprintf("invalid attribute id: %s", e.Message)
	default:
		return e.Message
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionFailed reports a failed connection attempt.
func ConnectionFailed(err error) *Error {
	return &Error{Kind: KindConnectionFailed, Message: err.Error(), Err: err}
}

// Transport reports a low-level socket fault.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

// ChannelJoinFailed reports a rejected phx_join.
func ChannelJoinFailed(topic, reason string) *Error {
	return &Error{Kind: KindChannelJoinFailed, Topic: topic, Message: reason}
}

// ChannelNotJoined reports a push on a channel that is not in the joined state.
func ChannelNotJoined(topic string) *Error {
	return &Error{Kind: KindChannelNotJoined, Topic: topic}
}

// AuthenticationFailed reports a credential rejection.
func AuthenticationFailed(reason string) *Error {
	return &Error{Kind: KindAuthenticationFailed, Message: reason}
}

// Server reports a non-ok reply, carrying the response body.
func Server(body string) *Error {
	return &Error{Kind: KindServer, Message: body}
}

// Timeout reports a request that received no reply within the bound.
func Timeout(ms int64) *Error {
	return &Error{Kind: KindTimeout, TimeoutMS: ms}
}

// InvalidConfig reports a configuration validation failure.
func InvalidConfig(reason string) *Error {
	return &Error{Kind: KindInvalidConfig, Message: reason}
}

// Serialization reports a payload encode/decode failure.
func Serialization(err error) *Error {
	return &Error{Kind: KindSerialization, Message: err.Error(), Err: err}
}

// URL reports an unparseable server URL.
func URL(err error) *Error {
	return &Error{Kind: KindURL, Message: err.Error(), Err: err}
}

// Send reports a failure to hand a frame to the write path.
func Send(reason string) *Error {
	return &Error{Kind: KindSend, Message: reason}
}

// Disconnected reports an operation attempted without a live session.
func Disconnected() *Error {
	return &Error{Kind: KindDisconnected}
}

// InvalidAttributeID reports a malformed attribute identifier.
func InvalidAttributeID(id, reason string) *Error {
	return &Error{Kind: KindInvalidAttributeID, Message: fmt.Sprintf("%q: %s", id, reason)}
}

// Other reports an uncategorized failure.
func Other(message string) *Error {
	return &Error{Kind: KindOther, Message: message}
}

// KindOf returns the kind of err, or KindOther for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsConnectionError reports whether err indicates a connection problem.
func IsConnectionError(err error) bool {
	switch KindOf(err) {
	case KindConnectionFailed, KindTransport, KindDisconnected:
		return true
	}
	return false
}

// IsAuthError reports whether err indicates an authentication problem.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuthenticationFailed
}

// IsRecoverable reports whether retrying the operation may succeed.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConnectionFailed, KindTransport:
		return true
	}
	return false
}
