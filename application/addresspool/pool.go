// Package addresspool defines the server-side pool of overlay host addresses.
package addresspool

import "net/netip"

// Pool hands out and reclaims overlay host addresses from a CIDR network in
// insertion order (§3 AddressSpaceManager). Implementations are safe for
// concurrent use since, unlike the single-threaded reference event loop, the
// Go server runs one goroutine tree per session (§5).
type Pool interface {
	Network() netip.Prefix
	// Allocate pops the next free host address, or ok=false if the pool is
	// exhausted.
	Allocate() (addr netip.Addr, ok bool)
	// Release returns addr to the pool. Releasing an address not currently
	// allocated is a no-op.
	Release(addr netip.Addr)
}
