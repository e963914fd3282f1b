// Package session also holds the concrete state machine (§4.6, §4.7) that
// drives one Device+Link pair for the lifetime of one tunnel instance. The
// supervisor constructs a Device and a Link via their managers, resolves
// rewriters/addons from the registry, and hands all of it to New.
package session

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"tunnelcore/application/addon"
	"tunnelcore/application/addresspool"
	"tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/application/rewriter"
	"tunnelcore/application/tun"
	"tunnelcore/domain/mode"
)

// NetworkConfigurator is the subset of tun.ClientManager / tun.ServerManager
// a Session needs: both satisfy this structurally, so the caller can hand
// either one in without an adapter.
type NetworkConfigurator interface {
	ConfigureNetwork(dev tun.Device, cfg tun.NetworkConfig) error
	RestoreNetwork(dev tun.Device, cfg tun.NetworkConfig) error
	DisposeDevice(dev tun.Device) error
}

// Config bundles everything one session instance owns for its lifetime
// (§3 Session, §4.8). Device and Link are already constructed (and, for
// Link, already past the magic-word handshake) by the caller.
type Config struct {
	Mode   mode.Mode
	Device tun.Device
	Net    NetworkConfigurator
	Link   link.Link
	Logger logging.Logger

	// Rewriters seeds the chain; addons may append more during Setup().
	Rewriters []rewriter.Rewriter
	// AddonFactories builds each configured addon; constructed in order
	// during Setup, before the handshake's ip_request/ip_reply (§4.5).
	AddonFactories []func() (addon.Addon, error)

	// SetDefaultGateway is client-only: whether configure_network should
	// divert the host default route through the tunnel (§4.6, §6).
	SetDefaultGateway bool

	// Network and NewPool are server-only: the overlay CIDR and the
	// AddressSpaceManager constructor instantiated on entering HANDSHAKING
	// (§4.6 table).
	Network netip.Prefix
	NewPool func(netip.Prefix) addresspool.Pool
}

// Engine is the concrete Session (§4.6). All mutable state is touched only
// from the Link's single reader goroutine (message/packet callbacks) plus
// Setup/Cleanup, so a mutex guards just the fields the supervisor's own
// goroutine can observe concurrently (state, teardown bookkeeping).
type Engine struct {
	cfg     Config
	logger  logging.Logger
	chain   *rewriter.Chain
	addons  []addon.Addon
	msgCbs  map[string]func(link.Message)

	mu               sync.Mutex
	state            State
	networkConfigured bool
	appliedCfg       tun.NetworkConfig
	serverIP         netip.Addr
	clientIP         netip.Addr
	hasAllocation    bool
	pool             addresspool.Pool

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	closeOnce sync.Once
	onClose   func()
}

// New builds an Engine in the CREATED state. Setup drives it forward.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		chain:  rewriter.NewChain(logger, cfg.Rewriters...),
		msgCbs: make(map[string]func(link.Message)),
		state:  Created,
	}
}

var _ Session = (*Engine)(nil)

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// addonHost implements addon.Host, the narrow surface addons may use during
// Setup (§4.5 a, b).
type addonHost struct{ e *Engine }

func (h addonHost) OnMessage(msgType string, cb func(msg link.Message)) {
	h.e.msgCbs[msgType] = cb
}

func (h addonHost) AppendRewriter(r rewriter.Rewriter) {
	h.e.chain.Append(r)
}

// Setup constructs addons, registers the handshake message callbacks, wires
// the Link's callbacks, and sends the client's ip_request / arms the
// server's address pool (§4.6 CREATED -> HANDSHAKING). It returns once the
// handshake messages are dispatched to; onClose fires exactly once, after
// teardown has fully run, however the link eventually dies.
func (e *Engine) Setup(_ context.Context, onClose func()) error {
	e.onClose = onClose

	for _, factory := range e.cfg.AddonFactories {
		a, err := factory()
		if err != nil {
			e.logger.Printf("session: addon construction failed: %v", err)
			continue
		}
		if err := a.Setup(addonHost{e}); err != nil {
			e.logger.Printf("session: addon setup failed: %v", err)
		}
		e.addons = append(e.addons, a)
	}

	switch e.cfg.Mode {
	case mode.Client:
		e.msgCbs[link.TypeIPReply] = e.handleIPReply
	case mode.Server:
		e.msgCbs[link.TypeIPRequest] = e.handleIPRequest
		e.msgCbs[link.TypeIPConfirm] = e.handleIPConfirm
		// Instantiated before the Link's callbacks are wired, so an
		// ip_request racing in on the link's own reader goroutine never
		// observes a nil pool (§4.6 table).
		e.pool = e.cfg.NewPool(e.cfg.Network)
	}

	e.cfg.Link.OnClose(e.onLinkClose)
	e.cfg.Link.OnMessage(e.dispatchMessage)
	e.cfg.Link.OnPacket(e.onLinkPacket)

	e.setState(Handshaking)

	if e.cfg.Mode == mode.Client {
		if err := e.cfg.Link.SendControl(link.Message{Type: link.TypeIPRequest}); err != nil {
			e.logger.Printf("session: send ip_request failed: %v", err)
		}
	}
	return nil
}

func (e *Engine) dispatchMessage(msg link.Message) {
	cb, ok := e.msgCbs[msg.Type]
	if !ok {
		return // unknown type: dropped silently (§4.6)
	}
	cb(msg)
}

// handleIPRequest is the server's HANDSHAKING -> NEGOTIATED transition
// (§4.6 table): allocate both overlay addresses and reply.
func (e *Engine) handleIPRequest(link.Message) {
	if e.State() != Handshaking {
		return
	}
	serverIP, ok := e.pool.Allocate()
	if !ok {
		e.logger.Printf("session: address pool exhausted, dropping ip_request")
		return
	}
	clientIP, ok := e.pool.Allocate()
	if !ok {
		e.pool.Release(serverIP)
		e.logger.Printf("session: address pool exhausted (second host), dropping ip_request")
		return
	}
	e.mu.Lock()
	e.serverIP, e.clientIP, e.hasAllocation = serverIP, clientIP, true
	e.mu.Unlock()

	reply := link.Message{
		Type:     link.TypeIPReply,
		ServerIP: serverIP.String(),
		ClientIP: clientIP.String(),
		Network:  e.cfg.Network.String(),
	}
	if err := e.cfg.Link.SendControl(reply); err != nil {
		e.logger.Printf("session: send ip_reply failed: %v", err)
	}
	e.setState(Negotiated)
}

// handleIPReply is the client's HANDSHAKING -> (NEGOTIATED ->) ESTABLISHED
// path: adopt the reply's addresses, confirm, and establish immediately
// (§4.6 table).
func (e *Engine) handleIPReply(msg link.Message) {
	if e.State() != Handshaking {
		return
	}
	serverIP, err := netip.ParseAddr(msg.ServerIP)
	if err != nil {
		e.logger.Printf("session: ip_reply has invalid server_ip %q: %v", msg.ServerIP, err)
		return
	}
	clientIP, err := netip.ParseAddr(msg.ClientIP)
	if err != nil {
		e.logger.Printf("session: ip_reply has invalid client_ip %q: %v", msg.ClientIP, err)
		return
	}
	e.mu.Lock()
	e.serverIP, e.clientIP = serverIP, clientIP
	e.mu.Unlock()
	e.setState(Negotiated)

	if err := e.cfg.Link.SendControl(link.Message{Type: link.TypeIPConfirm}); err != nil {
		e.logger.Printf("session: send ip_confirm failed: %v", err)
	}
	e.establish()
}

// handleIPConfirm is the server's NEGOTIATED -> ESTABLISHED transition.
func (e *Engine) handleIPConfirm(link.Message) {
	if e.State() != Negotiated {
		return
	}
	e.establish()
}

// establish runs the ESTABLISHED entry action (§4.6 table): configure the
// network, notify addons, and start the device<->link pump. A host
// configuration error is logged but never aborts the session (§7); teardown
// still restores whatever was (partially) applied, so network_configured is
// set regardless of ConfigureNetwork's outcome.
func (e *Engine) establish() {
	cfg := e.networkConfig()
	if err := e.cfg.Net.ConfigureNetwork(e.cfg.Device, cfg); err != nil {
		e.logger.Printf("session: configure_network failed (proceeding anyway): %v", err)
	}
	e.mu.Lock()
	e.networkConfigured = true
	e.appliedCfg = cfg
	e.mu.Unlock()

	for _, a := range e.addons {
		if err := a.OnSessionEstablished(); err != nil {
			e.logger.Printf("session: addon on-established failed: %v", err)
		}
	}

	e.setState(Established)

	ctx, cancel := context.WithCancel(context.Background())
	e.pumpCancel = cancel
	e.pumpWG.Add(1)
	go e.devicePump(ctx)
}

// networkConfig builds the configure_network arguments for the current
// mode (§4.6 "Configuration parameters supplied to configure_network").
func (e *Engine) networkConfig() tun.NetworkConfig {
	e.mu.Lock()
	serverIP, clientIP := e.serverIP, e.clientIP
	e.mu.Unlock()

	if e.cfg.Mode == mode.Server {
		return tun.NetworkConfig{
			PeerPublicIP:     netip.IPv4Unspecified(),
			PeerOverlayIP:    clientIP,
			MyOverlayIP:      serverIP,
			AddDefaultRoutes: false,
		}
	}
	return tun.NetworkConfig{
		PeerPublicIP:     e.peerPublicIP(),
		PeerOverlayIP:    serverIP,
		MyOverlayIP:      clientIP,
		AddDefaultRoutes: e.cfg.SetDefaultGateway,
	}
}

func (e *Engine) peerPublicIP() netip.Addr {
	endpoint := e.cfg.Link.PeerEndpoint()
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		e.logger.Printf("session: could not parse peer endpoint %q: %v", endpoint, err)
		return netip.Addr{}
	}
	return addr
}

// devicePump reads packets off the tun device, runs them through the
// rewriter chain, and forwards them to the link (§4.4 egress direction).
// Exactly one goroutine runs this, preserving this direction's packet
// ordering (§5).
func (e *Engine) devicePump(ctx context.Context) {
	defer e.pumpWG.Done()
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := e.cfg.Device.Read(buf)
		if err != nil {
			// Tear down from a separate goroutine: teardown() waits on
			// pumpWG, and this goroutine is the one pumpWG is waiting for.
			go e.onLinkClose()
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		out := e.chain.Apply(payload)
		if sendErr := e.cfg.Link.SendPacket(out); sendErr != nil {
			e.logger.Printf("session: send packet failed: %v", sendErr)
		}
	}
}

// onLinkPacket is the link's inbound callback: rewrite and write to the
// device (§4.4 ingress direction). Packets that arrive before ESTABLISHED
// are dropped; the peer only starts sending PACKET frames once it, too, is
// established.
func (e *Engine) onLinkPacket(payload []byte) {
	if e.State() != Established {
		return
	}
	out := e.chain.Apply(payload)
	if _, err := e.cfg.Device.Write(out); err != nil {
		e.logger.Printf("session: write to device failed: %v", err)
	}
}

// onLinkClose is the link's close callback (§4.3, §4.7): it fires teardown
// then the supervisor's onClose, both guarded so repeated or concurrent
// firing (link close racing Cleanup) only runs once.
func (e *Engine) onLinkClose() {
	e.closeOnce.Do(func() {
		e.teardown()
		if e.onClose != nil {
			e.onClose()
		}
	})
}

// Cleanup tears the session down out of band, e.g. on process interrupt
// (§4.8 global cleanup). Idempotent: a link close racing this call still
// only tears down once.
func (e *Engine) Cleanup() {
	e.onLinkClose()
}

// teardown runs the six ordered, independently-guarded steps of §4.7. Each
// step's failure is logged and never prevents the remaining steps from
// running.
func (e *Engine) teardown() {
	for _, a := range e.addons {
		if err := a.Cleanup(); err != nil {
			e.logger.Printf("session: addon cleanup failed: %v", err)
		}
	}

	e.mu.Lock()
	configured, appliedCfg := e.networkConfigured, e.appliedCfg
	hasAllocation, serverIP, clientIP := e.hasAllocation, e.serverIP, e.clientIP
	pool := e.pool
	e.mu.Unlock()

	if configured {
		if err := e.cfg.Net.RestoreNetwork(e.cfg.Device, appliedCfg); err != nil {
			e.logger.Printf("session: restore_network failed: %v", err)
		}
	}

	if e.cfg.Mode == mode.Server && hasAllocation && pool != nil {
		pool.Release(serverIP)
		pool.Release(clientIP)
	}

	if e.pumpCancel != nil {
		e.pumpCancel() // signals devicePump; it only unblocks once the device is closed below
	}
	e.cfg.Link.OnPacket(func([]byte) {})
	e.cfg.Link.OnMessage(func(link.Message) {})

	if err := e.cfg.Link.Cleanup(); err != nil {
		e.logger.Printf("session: link cleanup failed: %v", err)
	}
	if err := e.cfg.Net.DisposeDevice(e.cfg.Device); err != nil {
		e.logger.Printf("session: device cleanup failed: %v", err)
	}
	// Closing the device above unblocks devicePump's in-flight Read, if any;
	// only now is it safe to wait for it to exit.
	e.pumpWG.Wait()

	e.setState(Closed)
}
