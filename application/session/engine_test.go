package session

import (
	"context"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"

	"tunnelcore/application/addresspool"
	"tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/application/tun"
	"tunnelcore/domain/mode"
)

// fakeLink is an in-memory Link pair: sends on one side are delivered
// asynchronously to the other side's registered callbacks, mirroring a real
// socket's reader goroutine.
type fakeLink struct {
	endpoint string
	peer     *fakeLink

	mu        sync.Mutex
	onPacket  func([]byte)
	onMessage func(link.Message)
	onClose   func()
	closeOnce sync.Once
	closed    bool

	sentMu       sync.Mutex
	sentPackets  [][]byte
	sentMessages []link.Message
}

func newFakeLinkPair(aEndpoint, bEndpoint string) (*fakeLink, *fakeLink) {
	a := &fakeLink{endpoint: aEndpoint}
	b := &fakeLink{endpoint: bEndpoint}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeLink) Setup(context.Context) error { return nil }

func (f *fakeLink) SendPacket(payload []byte) error {
	cp := append([]byte(nil), payload...)
	f.sentMu.Lock()
	f.sentPackets = append(f.sentPackets, cp)
	f.sentMu.Unlock()
	go f.peer.deliverPacket(cp)
	return nil
}

func (f *fakeLink) SendControl(msg link.Message) error {
	f.sentMu.Lock()
	f.sentMessages = append(f.sentMessages, msg)
	f.sentMu.Unlock()
	go f.peer.deliverMessage(msg)
	return nil
}

func (f *fakeLink) deliverPacket(p []byte) {
	f.mu.Lock()
	cb := f.onPacket
	f.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (f *fakeLink) deliverMessage(m link.Message) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		cb(m)
	}
}

func (f *fakeLink) OnPacket(cb func([]byte))     { f.mu.Lock(); f.onPacket = cb; f.mu.Unlock() }
func (f *fakeLink) OnMessage(cb func(link.Message)) { f.mu.Lock(); f.onMessage = cb; f.mu.Unlock() }
func (f *fakeLink) OnClose(cb func())            { f.mu.Lock(); f.onClose = cb; f.mu.Unlock() }
func (f *fakeLink) PeerEndpoint() string         { return f.endpoint }

func (f *fakeLink) Cleanup() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fireClose simulates the link dying (RESET, silence timeout, EOF): it must
// invoke the registered close callback at most once (§8 property 4).
func (f *fakeLink) fireClose() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		cb := f.onClose
		f.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

var _ link.Link = (*fakeLink)(nil)

type fakeDevice struct {
	name   string
	readCh chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{name: name, readCh: make(chan []byte, 8), closed: make(chan struct{})}
}

func (d *fakeDevice) Read(buf []byte) (int, error) {
	select {
	case p, ok := <-d.readCh:
		if !ok {
			return 0, io.EOF
		}
		return copy(buf, p), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *fakeDevice) Write(buf []byte) (int, error) {
	d.mu.Lock()
	d.writes = append(d.writes, append([]byte(nil), buf...))
	d.mu.Unlock()
	return len(buf), nil
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

var _ tun.Device = (*fakeDevice)(nil)

// fakeNet records ConfigureNetwork/RestoreNetwork/DisposeDevice calls so
// tests can assert §8 property 3 (matching restore args) directly.
type fakeNet struct {
	mu         sync.Mutex
	configured []tun.NetworkConfig
	restored   []tun.NetworkConfig
	disposed   int
}

func (n *fakeNet) ConfigureNetwork(_ tun.Device, cfg tun.NetworkConfig) error {
	n.mu.Lock()
	n.configured = append(n.configured, cfg)
	n.mu.Unlock()
	return nil
}

func (n *fakeNet) RestoreNetwork(_ tun.Device, cfg tun.NetworkConfig) error {
	n.mu.Lock()
	n.restored = append(n.restored, cfg)
	n.mu.Unlock()
	return nil
}

func (n *fakeNet) DisposeDevice(dev tun.Device) error {
	n.mu.Lock()
	n.disposed++
	n.mu.Unlock()
	return dev.Close()
}

var _ NetworkConfigurator = (*fakeNet)(nil)

// fakePool is a minimal addresspool.Pool tracking allocate/release calls for
// §8 property 2.
type fakePool struct {
	mu       sync.Mutex
	hosts    []netip.Addr
	released map[netip.Addr]int
}

func newFakePool(addrs ...string) *fakePool {
	p := &fakePool{released: make(map[netip.Addr]int)}
	for _, a := range addrs {
		p.hosts = append(p.hosts, netip.MustParseAddr(a))
	}
	return p
}

func (p *fakePool) Network() netip.Prefix { return netip.Prefix{} }

func (p *fakePool) Allocate() (netip.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hosts) == 0 {
		return netip.Addr{}, false
	}
	a := p.hosts[0]
	p.hosts = p.hosts[1:]
	return a, true
}

func (p *fakePool) Release(a netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released[a]++
}

var _ addresspool.Pool = (*fakePool)(nil)

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, e.State())
}

// newEstablishedPair builds a client/server Engine pair wired over a fakeLink
// pair and drives them to ESTABLISHED, mirroring seed test #1.
func newEstablishedPair(t *testing.T) (client, server *Engine, clientNet, serverNet *fakeNet, pool *fakePool) {
	t.Helper()
	clientLink, serverLink := newFakeLinkPair("198.51.100.7:9090", "203.0.113.5:51820")
	clientDevice := newFakeDevice("tun-client")
	serverDevice := newFakeDevice("tun-server")
	clientNet = &fakeNet{}
	serverNet = &fakeNet{}
	pool = newFakePool("10.48.0.1", "10.48.0.2")

	server = New(Config{
		Mode:    mode.Server,
		Device:  serverDevice,
		Net:     serverNet,
		Link:    serverLink,
		Logger:  logging.Nop{},
		Network: netip.MustParsePrefix("10.48.0.0/24"),
		NewPool: func(netip.Prefix) addresspool.Pool { return pool },
	})
	if err := server.Setup(context.Background(), func() {}); err != nil {
		t.Fatalf("server setup: %v", err)
	}

	client = New(Config{
		Mode:              mode.Client,
		Device:            clientDevice,
		Net:               clientNet,
		Link:              clientLink,
		Logger:            logging.Nop{},
		SetDefaultGateway: true,
	})
	if err := client.Setup(context.Background(), func() {}); err != nil {
		t.Fatalf("client setup: %v", err)
	}

	waitForState(t, client, Established)
	waitForState(t, server, Established)
	return client, server, clientNet, serverNet, pool
}

// TestHandshakeNegotiatesMatchingAddresses covers §8 property 1 and seed
// test #1: the client's adopted addresses equal the server's one ip_reply.
func TestHandshakeNegotiatesMatchingAddresses(t *testing.T) {
	client, server, _, _, _ := newEstablishedPair(t)

	if len(server.cfg.Link.(*fakeLink).sentMessages) != 1 {
		t.Fatalf("expected server to send exactly one control message before ip_reply, got %d",
			len(server.cfg.Link.(*fakeLink).sentMessages))
	}

	clientCfg := client.networkConfig()
	if clientCfg.PeerOverlayIP.String() != "10.48.0.1" {
		t.Fatalf("client server_ip = %s, want 10.48.0.1", clientCfg.PeerOverlayIP)
	}
	if clientCfg.MyOverlayIP.String() != "10.48.0.2" {
		t.Fatalf("client client_ip = %s, want 10.48.0.2", clientCfg.MyOverlayIP)
	}

	serverCfg := server.networkConfig()
	if serverCfg.MyOverlayIP.String() != clientCfg.PeerOverlayIP.String() {
		t.Fatalf("server's own overlay ip %s != client's server_ip %s", serverCfg.MyOverlayIP, clientCfg.PeerOverlayIP)
	}
	if serverCfg.PeerOverlayIP.String() != clientCfg.MyOverlayIP.String() {
		t.Fatalf("server's view of client ip %s != client's own ip %s", serverCfg.PeerOverlayIP, clientCfg.MyOverlayIP)
	}
}

// TestPacketRoundTrip covers seed test #2: a packet written to the client's
// tun arrives byte-identical at the server's tun.
func TestPacketRoundTrip(t *testing.T) {
	client, server, _, _, _ := newEstablishedPair(t)

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	clientDevice := client.cfg.Device.(*fakeDevice)
	serverDevice := server.cfg.Device.(*fakeDevice)

	clientDevice.readCh <- payload

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && serverDevice.writeCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if serverDevice.writeCount() != 1 {
		t.Fatalf("server device write count = %d, want 1", serverDevice.writeCount())
	}
	got := serverDevice.writes[0]
	if string(got) != string(payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

// TestAddressReleaseOnTeardown covers §8 property 2: every allocated address
// is released exactly once when the session tears down.
func TestAddressReleaseOnTeardown(t *testing.T) {
	_, server, _, _, pool := newEstablishedPair(t)

	server.cfg.Link.(*fakeLink).fireClose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && server.State() != Closed {
		time.Sleep(time.Millisecond)
	}
	if server.State() != Closed {
		t.Fatalf("server did not reach CLOSED")
	}

	serverIP := netip.MustParseAddr("10.48.0.1")
	clientIP := netip.MustParseAddr("10.48.0.2")
	if pool.released[serverIP] != 1 {
		t.Fatalf("server_ip released %d times, want 1", pool.released[serverIP])
	}
	if pool.released[clientIP] != 1 {
		t.Fatalf("client_ip released %d times, want 1", pool.released[clientIP])
	}
}

// TestConfigureRestoreSymmetry covers §8 property 3.
func TestConfigureRestoreSymmetry(t *testing.T) {
	client, _, clientNet, _, _ := newEstablishedPair(t)

	client.cfg.Link.(*fakeLink).fireClose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && client.State() != Closed {
		time.Sleep(time.Millisecond)
	}

	clientNet.mu.Lock()
	defer clientNet.mu.Unlock()
	if len(clientNet.configured) != 1 || len(clientNet.restored) != 1 {
		t.Fatalf("configured=%d restored=%d, want 1 and 1", len(clientNet.configured), len(clientNet.restored))
	}
	if clientNet.configured[0] != clientNet.restored[0] {
		t.Fatalf("restore args %+v != configure args %+v", clientNet.restored[0], clientNet.configured[0])
	}
	if clientNet.disposed != 1 {
		t.Fatalf("disposed = %d, want 1", clientNet.disposed)
	}
}

// TestCloseCallbackFiresAtMostOnce covers §8 property 4.
func TestCloseCallbackFiresAtMostOnce(t *testing.T) {
	client, _, clientNet, _, _ := newEstablishedPair(t)

	fl := client.cfg.Link.(*fakeLink)
	fl.fireClose()
	fl.fireClose()
	fl.fireClose()

	time.Sleep(20 * time.Millisecond)
	clientNet.mu.Lock()
	defer clientNet.mu.Unlock()
	if clientNet.disposed != 1 {
		t.Fatalf("disposed = %d, want exactly 1 despite repeated close", clientNet.disposed)
	}
}
