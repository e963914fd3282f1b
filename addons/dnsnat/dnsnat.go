// Package dnsnat implements the DNS destination-NAT rewriter/addon pair
// described in §6's Addon surface and §12.1, grounded on the original
// source's core/rewriters/dns.py and core/addons/resolve_rewriter.py
// (NameserverRewriter): a UDP/53 query bound for a configured "fake"
// resolver is redirected to the real upstream resolver, and the matching
// reply is rewritten back so the tun's peer never sees the redirection.
package dnsnat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"tunnelcore/application/addon"
	"tunnelcore/infrastructure/ipheader"
)

// Class is this addon's registry tag (§9, §6 Configuration addons[].class).
const Class = "dnsnat"

// params is the JSON shape of an addons[] entry with class "dnsnat".
type params struct {
	Fake string `json:"fake"`
	Real string `json:"real"`
}

// Construct is the registry.Registry[addon.Addon] constructor for Class.
func Construct(raw []byte) (addon.Addon, error) {
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("dnsnat: invalid params: %w", err)
	}
	fake, err := netip.ParseAddr(p.Fake)
	if err != nil {
		return nil, fmt.Errorf("dnsnat: invalid fake address %q: %w", p.Fake, err)
	}
	real, err := netip.ParseAddr(p.Real)
	if err != nil {
		return nil, fmt.Errorf("dnsnat: invalid real address %q: %w", p.Real, err)
	}
	return New(fake, real), nil
}

var _ addon.Addon = (*Addon)(nil)

const (
	dnsPort = 53
	// recordTTL is how long a query's source port is remembered while
	// waiting for the matching answer (§9 clock-direction fix: the source's
	// comparison ran backwards; this implementation compares
	// now.Sub(record.time), not record.time.Sub(now)).
	recordTTL  = 60 * time.Second
	sweepEvery = 10 * time.Second
)

type record struct {
	originalDst netip.Addr
	at          time.Time
}

// Addon is both the application/addon.Addon lifecycle hook and the holder
// of the pure Rewriter it installs. One instance is constructed per
// session, as the original's NameserverRewriter was one instance per
// session.
type Addon struct {
	fake netip.Addr
	real netip.Addr

	mu      sync.Mutex
	records map[uint16]record

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds the addon for one session: fake is the resolver address the
// tun's peer believes it's talking to; real is where queries are actually
// forwarded.
func New(fake, real netip.Addr) *Addon {
	return &Addon{fake: fake, real: real, records: make(map[uint16]record)}
}

// Setup starts the periodic record sweep and installs the rewrite callback,
// mirroring NameserverRewriter.setup() starting its periodic_callback
// (§4.5, §12.1).
func (a *Addon) Setup(host addon.Host) error {
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.sweepLoop()
	host.AppendRewriter(a.Rewrite)
	return nil
}

func (a *Addon) OnSessionEstablished() error { return nil }

// Cleanup stops the sweep goroutine, mirroring periodic_callback.stop().
func (a *Addon) Cleanup() error {
	if a.stop != nil {
		close(a.stop)
		a.wg.Wait()
	}
	return nil
}

func (a *Addon) sweepLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

// sweep drops records older than recordTTL. now.Sub(record.time) is the
// fixed direction from §9; the source compared record.time - now, which is
// always negative and so never expired anything.
func (a *Addon) sweep() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, rec := range a.records {
		if now.Sub(rec.at) > recordTTL {
			delete(a.records, id)
		}
	}
}

// Rewrite is the pure Rewriter (§4.4): a non-DNS packet, or one this
// instance doesn't recognize as query/answer traffic to track, passes
// through unchanged (nil, nil).
func (a *Addon) Rewrite(raw []byte) ([]byte, error) {
	hdr, err := ipheader.Parse(raw)
	if err != nil || hdr.Version != 4 || hdr.Protocol != ipheader.ProtoUDP {
		return nil, nil
	}
	srcPort, dstPort, err := hdr.UDPPorts(raw)
	if err != nil {
		return nil, nil
	}

	switch {
	case dstPort == dnsPort && hdr.Destination == a.fake:
		return a.rewriteQuery(raw, hdr, srcPort)
	case srcPort == dnsPort:
		return a.rewriteAnswer(raw, hdr, dstPort)
	default:
		return nil, nil
	}
}

// rewriteQuery redirects a query's destination to the real resolver and
// remembers the fake address so the answer can be rewritten back.
func (a *Addon) rewriteQuery(raw []byte, hdr ipheader.Header, srcPort uint16) ([]byte, error) {
	a.mu.Lock()
	a.records[srcPort] = record{originalDst: hdr.Destination, at: time.Now()}
	a.mu.Unlock()

	out := append([]byte(nil), raw...)
	setIPv4Dest(out, a.real)
	fixIPv4Checksum(out)
	zeroUDPChecksum(out, hdr.PayloadOffset)
	return out, nil
}

// rewriteAnswer restores the fake resolver as the answer's source address,
// so the tun's peer sees the reply as having come from the address it
// originally queried.
func (a *Addon) rewriteAnswer(raw []byte, hdr ipheader.Header, dstPort uint16) ([]byte, error) {
	a.mu.Lock()
	rec, ok := a.records[dstPort]
	if ok {
		delete(a.records, dstPort)
	}
	a.mu.Unlock()
	if !ok || rec.originalDst != a.fake {
		return nil, nil
	}

	out := append([]byte(nil), raw...)
	setIPv4Source(out, a.fake)
	fixIPv4Checksum(out)
	zeroUDPChecksum(out, hdr.PayloadOffset)
	return out, nil
}

func setIPv4Dest(raw []byte, addr netip.Addr) {
	a4 := addr.As4()
	copy(raw[16:20], a4[:])
}

func setIPv4Source(raw []byte, addr netip.Addr) {
	a4 := addr.As4()
	copy(raw[12:16], a4[:])
}

// fixIPv4Checksum recomputes the IPv4 header checksum after an address edit
// (the source deleted scapy's cached checksum to force a recompute; this is
// the manual equivalent).
func fixIPv4Checksum(raw []byte) {
	ihl := int(raw[0]&0x0F) * 4
	if len(raw) < ihl {
		return
	}
	raw[10], raw[11] = 0, 0
	var sum uint32
	for i := 0; i+1 < ihl; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(raw[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	binary.BigEndian.PutUint16(raw[10:12], ^uint16(sum))
}

// zeroUDPChecksum disables UDP checksum verification rather than
// recomputing it over the new pseudo-header, which RFC 768 permits for
// IPv4.
func zeroUDPChecksum(raw []byte, payloadOffset int) {
	if len(raw) < payloadOffset+8 {
		return
	}
	raw[payloadOffset+6], raw[payloadOffset+7] = 0, 0
}
