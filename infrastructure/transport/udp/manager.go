package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	applink "tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/infrastructure/framing"
	"tunnelcore/infrastructure/settings"
)

// Manager is the datagram transport's Link factory. In client mode it dials
// one dedicated socket per Create call. In server mode it owns one shared
// listening socket and demuxes incoming datagrams by remote address,
// surfacing new peers through Accept.
type Manager struct {
	mode   string // "client" or "server"
	host   string
	port   int
	logger logging.Logger

	conn *net.UDPConn

	mu    sync.Mutex
	peers map[netip.AddrPort]*Link

	pending chan *Link
}

func NewClientManager(host string, port int, logger logging.Logger) *Manager {
	return &Manager{mode: "client", host: host, port: port, logger: logger}
}

func NewServerManager(port int, logger logging.Logger) *Manager {
	return &Manager{
		mode:    "server",
		port:    port,
		logger:  logger,
		peers:   make(map[netip.AddrPort]*Link),
		pending: make(chan *Link, settings.ServerCapacity),
	}
}

// Setup binds the shared listening socket in server mode and starts the
// demux loop. It is a no-op in client mode, where Create dials its own
// socket per call.
func (m *Manager) Setup() error {
	if m.mode != "server" {
		return nil
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: m.port})
	if err != nil {
		return fmt.Errorf("udp manager: listen: %w", err)
	}
	m.conn = conn
	go m.demuxLoop()
	return nil
}

func (m *Manager) demuxLoop() {
	buf := make([]byte, settings.MaxFrameLength)
	for {
		n, remote, err := m.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return // conn closed, Cleanup in progress
		}
		datagram := append([]byte(nil), buf[:n]...)

		m.mu.Lock()
		link, known := m.peers[remote]
		m.mu.Unlock()

		if known {
			link.handleDatagram(datagram)
			continue
		}
		if !framing.IsHandshakeDatagram(datagram) {
			continue // unsolicited, non-handshake datagram from an unknown peer: drop
		}
		if _, err := m.conn.WriteToUDPAddrPort(framing.EncodeHandshakeDatagram(), remote); err != nil {
			m.logger.Printf("udp manager: handshake reply to %s failed: %v", remote, err)
			continue
		}
		link = newLink(m.conn, remote, false, m.logger)
		link.onCleanup = func() {
			m.mu.Lock()
			delete(m.peers, remote)
			m.mu.Unlock()
		}
		m.mu.Lock()
		m.peers[remote] = link
		m.mu.Unlock()

		select {
		case m.pending <- link:
		default:
			m.logger.Printf("udp manager: pending queue full, dropping new peer %s", remote)
			m.mu.Lock()
			delete(m.peers, remote)
			m.mu.Unlock()
		}
	}
}

// Create dials a new client-side link and performs the magic-word handshake
// (§4.2). ctx bounds dial and handshake together.
func (m *Manager) Create(ctx context.Context) (applink.Link, error) {
	if m.mode != "client" {
		return nil, fmt.Errorf("udp manager: Create is client-only")
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", m.host, m.port))
	if err != nil {
		return nil, fmt.Errorf("udp manager: resolve %s:%d: %w", m.host, m.port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp manager: dial: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(settings.HandshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(framing.EncodeHandshakeDatagram()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udp manager: send handshake: %w", err)
	}
	reply := make([]byte, 4)
	if _, err := conn.Read(reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udp manager: handshake reply: %w", err)
	}
	if !framing.IsHandshakeDatagram(reply) {
		conn.Close()
		return nil, framing.ErrBadMagic
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	remote := addr.AddrPort()
	link := newLink(conn, remote, true, m.logger)
	if err := link.Setup(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// Accept blocks until a new peer completes the handshake or ctx is done.
func (m *Manager) Accept(ctx context.Context) (applink.Link, error) {
	if m.mode != "server" {
		return nil, fmt.Errorf("udp manager: Accept is server-only")
	}
	select {
	case link := <-m.pending:
		if err := link.Setup(ctx); err != nil {
			return nil, err
		}
		return link, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) Cleanup() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

var _ applink.Manager = (*Manager)(nil)
