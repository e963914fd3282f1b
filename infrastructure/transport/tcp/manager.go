package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	applink "tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/infrastructure/framing"
	"tunnelcore/infrastructure/settings"
)

// Manager is the stream transport's Link factory: Create dials and performs
// the client side of the magic-word handshake, Accept listens and performs
// the server side.
type Manager struct {
	mode     string // "client" or "server"
	host     string
	port     int
	logger   logging.Logger
	listener net.Listener
}

func NewClientManager(host string, port int, logger logging.Logger) *Manager {
	return &Manager{mode: "client", host: host, port: port, logger: logger}
}

func NewServerManager(port int, logger logging.Logger) *Manager {
	return &Manager{mode: "server", port: port, logger: logger}
}

func (m *Manager) Setup() error {
	if m.mode != "server" {
		return nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.port))
	if err != nil {
		return fmt.Errorf("tcp manager: listen: %w", err)
	}
	m.listener = listener
	return nil
}

func (m *Manager) Create(ctx context.Context) (applink.Link, error) {
	if m.mode != "client" {
		return nil, fmt.Errorf("tcp manager: Create is client-only")
	}
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", m.host, m.port))
	if err != nil {
		return nil, fmt.Errorf("tcp manager: dial: %w", err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(settings.HandshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	if err := framing.WriteMagic(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp manager: send magic: %w", err)
	}
	if err := framing.ReadMagic(conn, deadline); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	link, err := newStreamLink(conn, m.logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := link.Setup(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// Accept blocks on the listener for one connection and runs the server side
// of the handshake (§4.1: a 5-second absence of the magic word closes the
// link without surfacing data).
func (m *Manager) Accept(ctx context.Context) (applink.Link, error) {
	if m.mode != "server" {
		return nil, fmt.Errorf("tcp manager: Accept is server-only")
	}
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := m.listener.Accept()
		ch <- result{conn, err}
	}()

	var res result
	select {
	case res = <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("tcp manager: accept: %w", res.err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	deadline := time.Now().Add(settings.HandshakeTimeout)
	if err := framing.ReadMagic(res.conn, deadline); err != nil {
		res.conn.Close()
		return nil, err
	}
	if err := res.conn.SetWriteDeadline(deadline); err != nil {
		res.conn.Close()
		return nil, err
	}
	if err := framing.WriteMagic(res.conn); err != nil {
		res.conn.Close()
		return nil, fmt.Errorf("tcp manager: send magic: %w", err)
	}
	if err := res.conn.SetDeadline(time.Time{}); err != nil {
		res.conn.Close()
		return nil, err
	}

	link, err := newStreamLink(res.conn, m.logger)
	if err != nil {
		res.conn.Close()
		return nil, err
	}
	if err := link.Setup(ctx); err != nil {
		res.conn.Close()
		return nil, err
	}
	return link, nil
}

func (m *Manager) Cleanup() error {
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

var _ applink.Manager = (*Manager)(nil)
