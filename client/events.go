package client

// ConnectionState is the supervisor's view of the session. Exactly one state
// is active at a time; StateConnected requires a live transport.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// ConnectionEvent is a typed connection state change delivered to observers.
type ConnectionEvent interface {
	connectionEvent()
}

// Connected reports a successful connection.
type Connected struct{}

// Disconnected reports a lost or closed connection with its reason.
type Disconnected struct {
	Reason string
}

// Reconnecting reports an upcoming reconnection attempt.
type Reconnecting struct {
	Attempt     int
	MaxAttempts int
}

// Reconnected reports a successful reconnection and which attempt succeeded.
type Reconnected struct {
	Attempt int
}

// ReconnectionFailed reports exhaustion of every reconnection attempt.
type ReconnectionFailed struct {
	Attempts  int
	LastError string
}

// ErrorEvent reports a connection error.
type ErrorEvent struct {
	Message string
}

func (Connected) connectionEvent()          {}
func (Disconnected) connectionEvent()       {}
func (Reconnecting) connectionEvent()       {}
func (Reconnected) connectionEvent()        {}
func (ReconnectionFailed) connectionEvent() {}
func (ErrorEvent) connectionEvent()         {}
