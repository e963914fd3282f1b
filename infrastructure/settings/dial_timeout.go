package settings

import "time"

// DialTimeoutMs is a JSON-friendly millisecond duration for dial/handshake deadlines.
type DialTimeoutMs int

func (d DialTimeoutMs) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}
