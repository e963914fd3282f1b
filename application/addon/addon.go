// Package addon defines the Addon port: a lifecycle hook bundle a session
// drives through setup, on-session-established, and cleanup (§4.5).
package addon

import (
	"tunnelcore/application/link"
	"tunnelcore/application/rewriter"
)

// Host is the subset of Session surface an Addon is allowed to touch: it may
// register message-type callbacks and append a rewriter, but cannot reach
// into session state directly (§4.5 a, b).
type Host interface {
	OnMessage(msgType string, cb func(msg link.Message))
	AppendRewriter(r rewriter.Rewriter)
}

// Addon is constructed with (config, session) and exposes the three
// lifecycle hooks. All three phases are called inside a recover/log wrapper
// by the session; a failing Addon never aborts the session (§4.5, §7).
type Addon interface {
	Setup(host Host) error
	OnSessionEstablished() error
	Cleanup() error
}

// Constructor builds an Addon from its raw JSON params, looked up in the
// registry by class name (§9).
type Constructor func(params []byte) (Addon, error)
