// Package addresspool implements the server-side AddressSpaceManager (§3).
package addresspool

import (
	"net/netip"
	"sync"

	"tunnelcore/application/addresspool"
)

// Pool hands out host addresses from network in ascending order, same as the
// reference manager's pop(0)/append list. Guarded by a mutex since the Go
// server runs one goroutine tree per session, unlike the single-threaded
// reference event loop (§5).
type Pool struct {
	mu      sync.Mutex
	network netip.Prefix
	hosts   []netip.Addr
}

// New builds a pool over every host address in network, in iteration order.
func New(network netip.Prefix) *Pool {
	p := &Pool{network: network}
	network = network.Masked()
	for addr := network.Addr(); network.Contains(addr); addr = addr.Next() {
		if isNetworkOrBroadcast(network, addr) {
			continue
		}
		p.hosts = append(p.hosts, addr)
	}
	return p
}

func isNetworkOrBroadcast(network netip.Prefix, addr netip.Addr) bool {
	if addr == network.Addr() {
		return true
	}
	if !addr.Is4() || network.Bits() >= 31 {
		return false
	}
	bcast := broadcast(network)
	return addr == bcast
}

func broadcast(network netip.Prefix) netip.Addr {
	a4 := network.Addr().As4()
	bits := network.Bits()
	hostBits := 32 - bits
	mask := uint32(1)<<hostBits - 1
	v := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	v |= mask
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func (p *Pool) Network() netip.Prefix { return p.network }

func (p *Pool) Allocate() (netip.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hosts) == 0 {
		return netip.Addr{}, false
	}
	addr := p.hosts[0]
	p.hosts = p.hosts[1:]
	return addr, true
}

func (p *Pool) Release(addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.hosts {
		if existing == addr {
			return
		}
	}
	p.hosts = append(p.hosts, addr)
}

var _ addresspool.Pool = (*Pool)(nil)
