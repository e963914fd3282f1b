package settings

import "time"

// MagicWord is the 4-byte handshake constant both transports use to identify
// a peer speaking this protocol (§4.1, §4.2).
const MagicWord uint32 = 0x01306A15

const (
	DefaultEthernetMTU = 1500
	SafeMTU            = 1200
	MinimumIPv4MTU     = 576

	// MaxFrameLength is the protocol ceiling on a single framed unit (§4.1).
	MaxFrameLength = 65535
	// ReaderFrameCeiling is the MTU-derived ceiling a stream reader SHOULD enforce (§4.1).
	ReaderFrameCeiling = 2048
)

const (
	// HandshakeTimeout bounds the wait for the magic word after connect (§4.1, §5).
	HandshakeTimeout = 5 * time.Second
	// KeepaliveInterval is how often a UDP link emits a KEEPALIVE datagram (§4.3).
	KeepaliveInterval = 30 * time.Second
	// CheckAliveInterval is how often a UDP link checks for silence (§4.3).
	CheckAliveInterval = 30 * time.Second
	// SilenceTimeout is the maximum time since last_recorded before a UDP link
	// resets itself and the peer (§4.3).
	SilenceTimeout = 90 * time.Second
	// RespawnBackoff is the delay between failed link-creation attempts (§4.8).
	RespawnBackoff = 1 * time.Second
)

const (
	// ClientCapacity is the number of concurrently live sessions a client supervises (§4.8).
	ClientCapacity = 1
	// ServerCapacity is the number of concurrently live sessions a server supervises (§4.8).
	ServerCapacity = 10
)
