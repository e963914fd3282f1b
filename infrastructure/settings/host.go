package settings

import (
	"fmt"
	"net/netip"
)

// Host is a resolved peer address: a required IPv4 address and an optional IPv6 one.
type Host struct {
	IPv4 netip.Addr
	IPv6 netip.Addr
}

// NewHost parses a dotted-quad or hostname-resolved-already IPv4 string.
func NewHost(raw string) (Host, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return Host{}, fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return Host{IPv4: addr}, nil
}

func (h Host) IsZero() bool {
	return !h.IPv4.IsValid()
}

func (h Host) WithIPv6(addr netip.Addr) Host {
	h.IPv6 = addr
	return h
}

func (h Host) String() string {
	return h.IPv4.String()
}
