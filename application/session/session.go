// Package session defines the Session port driven by the supervisor (§4.6, §4.8).
package session

import "context"

// State is one node of the session state machine (§4.6).
type State int

const (
	Created State = iota
	Handshaking
	Negotiated
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Handshaking:
		return "HANDSHAKING"
	case Negotiated:
		return "NEGOTIATED"
	case Established:
		return "ESTABLISHED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the state machine that binds one tun device to one transport
// link for the session's lifetime. The supervisor owns Setup/Cleanup; all
// other state transitions are internal, driven by the link's callbacks.
type Session interface {
	// Setup constructs addons, registers message callbacks, and drives the
	// CREATED -> HANDSHAKING transition. onClose fires exactly once, after
	// teardown (§4.7) has fully run.
	Setup(ctx context.Context, onClose func()) error
	State() State
	// Cleanup tears the session down out of band (used by the supervisor's
	// global cleanup on interrupt); idempotent (§4.8).
	Cleanup()
}
