// Package packet defines the unit of data the session pumps between the tun
// device and the transport link.
package packet

// Source identifies which component produced a Packet.
type Source int

const (
	// SourceDevice marks a packet read from the local tun interface.
	SourceDevice Source = iota
	// SourceLink marks a packet received from the peer over the transport link.
	SourceLink
)

// Direction describes which way a Packet is travelling through the rewriter chain.
type Direction int

const (
	// Outbound packets travel from the tun device to the link (egress).
	Outbound Direction = iota
	// Inbound packets travel from the link to the tun device (ingress).
	Inbound
)

// Routing carries optional addressing metadata attached to a Packet by the
// component that produced it. Rewriters may inspect it but must not rely on
// it being present.
type Routing struct {
	PeerAddress string
	Direction   Direction
}

// Packet is a raw IP payload in flight through one session. Payload may be
// replaced in place by the rewriter chain (§4.4); Source and Routing describe
// where it came from and are never mutated after construction.
type Packet struct {
	Payload []byte
	Source  Source
	Routing Routing
}

// New wraps a raw IP payload with its originating source.
func New(payload []byte, source Source) Packet {
	return Packet{Payload: payload, Source: source}
}

// WithRouting attaches routing metadata and returns the updated Packet.
func (p Packet) WithRouting(r Routing) Packet {
	p.Routing = r
	return p
}
