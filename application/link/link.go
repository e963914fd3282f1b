// Package link defines the Link port: one transport association with the peer.
package link

import "context"

// Link is a handle to one transport association with the peer (§3). Exactly
// one close callback fires, exactly once, for the lifetime of a Link that
// ever completed Setup.
type Link interface {
	// Setup arms the handshake/liveness machinery and starts the reader
	// goroutine(s). It blocks until the magic-word handshake completes or
	// the context's deadline expires (§4.1, §4.2, §5).
	Setup(ctx context.Context) error

	// SendPacket writes a PACKET frame (§4.1, §4.2).
	SendPacket(payload []byte) error
	// SendControl writes a CONTROL frame carrying msg (§4.2, §6).
	SendControl(msg Message) error

	// OnPacket registers the callback invoked for each inbound PACKET frame.
	OnPacket(cb func(payload []byte))
	// OnMessage registers the callback invoked for each inbound CONTROL frame.
	OnMessage(cb func(msg Message))
	// OnClose registers the callback invoked exactly once when the link dies
	// (RESET, silence timeout, handshake timeout, or stream EOF) (§4.3, §4.7).
	OnClose(cb func())

	// PeerEndpoint is the peer's transport-level address, used as
	// peer_public_ip in configure_network (§4.6).
	PeerEndpoint() string

	// Cleanup closes the socket/stream and cancels any timers (§4.7 step 5).
	// Safe to call multiple times.
	Cleanup() error
}

// Manager creates (client) or accepts (server) Links (§3 LinkManager, §4.8).
type Manager interface {
	Setup() error
	// Create dials the peer and returns a ready-to-Setup Link, or nil if no
	// attempt could be made right now (the supervisor then backs off) (§4.8).
	Create(ctx context.Context) (Link, error)
	// Accept blocks until one peer connects/registers and returns its Link.
	Accept(ctx context.Context) (Link, error)
	Cleanup() error
}
