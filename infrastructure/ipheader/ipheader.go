// Package ipheader parses raw IP packets far enough to support route
// bookkeeping and the DNS rewriter addon (§11.2, §12.1), grounded on the
// teacher's ipv4/ipv6 header parser.
package ipheader

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ProtoUDP is the IPv4/IPv6 next-header value for UDP.
const ProtoUDP = 17

// Header is the subset of an IP packet's metadata the tunnel needs:
// addresses, protocol, and (when the payload is UDP) port numbers.
type Header struct {
	Version     int
	Protocol    uint8
	Source      netip.Addr
	Destination netip.Addr
	// PayloadOffset is the byte index where the IP payload (UDP/TCP/etc.)
	// begins.
	PayloadOffset int
}

// Parse reads version, protocol, and addresses from raw. It does not
// validate checksums; malformed input yields an error rather than a panic
// (§7 Packet processing error).
func Parse(raw []byte) (Header, error) {
	if len(raw) < 1 {
		return Header{}, fmt.Errorf("ipheader: empty packet")
	}
	switch raw[0] >> 4 {
	case 4:
		return parseV4(raw)
	case 6:
		return parseV6(raw)
	default:
		return Header{}, fmt.Errorf("ipheader: unknown IP version %d", raw[0]>>4)
	}
}

func parseV4(raw []byte) (Header, error) {
	if len(raw) < ipv4.HeaderLen {
		return Header{}, fmt.Errorf("ipheader: ipv4 header too short")
	}
	ihl := int(raw[0]&0x0F) * 4
	if ihl < ipv4.HeaderLen || len(raw) < ihl {
		return Header{}, fmt.Errorf("ipheader: ipv4 header truncated")
	}
	return Header{
		Version:       4,
		Protocol:      raw[9],
		Source:        netip.AddrFrom4([4]byte{raw[12], raw[13], raw[14], raw[15]}),
		Destination:   netip.AddrFrom4([4]byte{raw[16], raw[17], raw[18], raw[19]}),
		PayloadOffset: ihl,
	}, nil
}

func parseV6(raw []byte) (Header, error) {
	if len(raw) < ipv6.HeaderLen {
		return Header{}, fmt.Errorf("ipheader: ipv6 header too short")
	}
	var src, dst [16]byte
	copy(src[:], raw[8:24])
	copy(dst[:], raw[24:40])
	return Header{
		Version:       6,
		Protocol:      raw[6],
		Source:        netip.AddrFrom16(src),
		Destination:   netip.AddrFrom16(dst),
		PayloadOffset: ipv6.HeaderLen,
	}, nil
}

// UDPPorts returns the source and destination port of a UDP payload that
// starts at h.PayloadOffset within raw.
func (h Header) UDPPorts(raw []byte) (src, dst uint16, err error) {
	if h.Protocol != ProtoUDP {
		return 0, 0, fmt.Errorf("ipheader: not a UDP packet (protocol %d)", h.Protocol)
	}
	if len(raw) < h.PayloadOffset+4 {
		return 0, 0, fmt.Errorf("ipheader: truncated UDP header")
	}
	body := raw[h.PayloadOffset:]
	return binary.BigEndian.Uint16(body[0:2]), binary.BigEndian.Uint16(body[2:4]), nil
}
