package client

import "time"

// SetMonitorInterval shortens the liveness poll so reconnect paths are
// testable without multi-second waits.
func SetMonitorInterval(c *Client, d time.Duration) {
	c.monitorInterval = d
}

// SetBackoff replaces the backoff schedule.
func SetBackoff(c *Client, f func(attempt int) time.Duration) {
	c.backoff = f
}
