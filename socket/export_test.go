package socket

import "time"

// SetReplyTimeout shortens the reply timeout so timeout paths are testable.
func SetReplyTimeout(s *Socket, d time.Duration) {
	s.replyTimeout = d
}
