// Package udp implements the datagram Link and Manager (§4.2, §4.3),
// grounded on the teacher's UDP adapters which also wrap one shared
// *net.UDPConn with a per-peer remote address.
package udp

import (
	"context"
	"encoding/json"
	"errors"
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

// Link is one peer's datagram session. A server-side Link shares its conn
// with every other peer's Link and writes via WriteToUDPAddrPort; a
// client-side Link owns a connected socket and writes via Write.
type Link struct {
	conn      *net.UDPConn
	remote    netip.AddrPort
	connected bool // true for the client's dedicated dialed socket
	logger    logging.Logger

	mu           sync.Mutex
	onPacket     func([]byte)
	onPacketSet  bool
	onMessage    func(applink.Message)
	onMessageSet bool
	onClose      func()
	closeOnce    sync.Once
	lastMu       sync.Mutex
	lastRecord   time.Time

	// buffered holds frames that arrived before the corresponding On*
	// callback was wired: a server-side link is handed to Accept's caller
	// (and so starts receiving demuxed datagrams) before session.Engine.Setup
	// has a chance to call OnMessage/OnPacket, and the peer's next frame
	// (e.g. ip_request, §4.6) can race that wiring. Frames are held here and
	// replayed, in arrival order, once their callback is set.
	buffered []bufferedFrame

	stop      chan struct{}
	onCleanup func() // removes this Link from the Manager's peer table
}

type bufferedFrame struct {
	isControl bool
	msg       applink.Message
	packet    []byte
}

func newLink(conn *net.UDPConn, remote netip.AddrPort, connected bool, logger logging.Logger) *Link {
	return &Link{
		conn:      conn,
		remote:    remote,
		connected: connected,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Setup arms the keepalive/check-alive timers (§4.3). The magic-word
// handshake already ran inside the Manager, which for the datagram
// transport must own it in order to learn the peer's address in the first
// place (§9). For a client link, Setup also starts the link's own read
// loop, since a client link owns its socket outright instead of sharing the
// Manager's demux.
func (l *Link) Setup(_ context.Context) error {
	l.touch()
	go l.keepaliveLoop()
	go l.checkAliveLoop()
	if l.connected {
		go l.readLoop()
	}
	return nil
}

func (l *Link) readLoop() {
	buf := make([]byte, settings.MaxFrameLength)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		n, err := l.conn.Read(buf)
		if err != nil {
			l.fireClose()
			return
		}
		l.handleDatagram(buf[:n])
	}
}

// handleDatagram dispatches one already-read datagram (§4.2). The Manager
// calls this directly for server-side links that share its read loop.
func (l *Link) handleDatagram(datagram []byte) {
	typ, body, err := framing.DecodeDatagram(datagram)
	if err != nil {
		if errors.Is(err, framing.ErrUnknownType) {
			l.logger.Printf("udp link %s: %v, sending RESET", l.remote, err)
			l.sendReset()
		} else {
			l.logger.Printf("udp link %s: malformed datagram, dropping: %v", l.remote, err)
		}
		return
	}
	l.touch()
	switch typ {
	case framing.TypeReset:
		l.fireClose()
	case framing.TypeKeepalive:
		// touch() above already recorded liveness.
	case framing.TypePacket:
		l.dispatchPacket(append([]byte(nil), body...))
	case framing.TypeControl:
		var msg applink.Message
		if jsonErr := json.Unmarshal(body, &msg); jsonErr != nil {
			l.logger.Printf("udp link %s: malformed control body: %v", l.remote, jsonErr)
			return
		}
		l.dispatchMessage(msg)
	}
}

// dispatchPacket delivers payload to onPacket, or buffers it if OnPacket
// hasn't been wired yet.
func (l *Link) dispatchPacket(payload []byte) {
	l.mu.Lock()
	if !l.onPacketSet {
		l.buffered = append(l.buffered, bufferedFrame{packet: payload})
		l.mu.Unlock()
		return
	}
	cb := l.onPacket
	l.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
}

// dispatchMessage delivers msg to onMessage, or buffers it if OnMessage
// hasn't been wired yet.
func (l *Link) dispatchMessage(msg applink.Message) {
	l.mu.Lock()
	if !l.onMessageSet {
		l.buffered = append(l.buffered, bufferedFrame{isControl: true, msg: msg})
		l.mu.Unlock()
		return
	}
	cb := l.onMessage
	l.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// drainReadyLocked removes and returns, in arrival order, every buffered
// frame whose callback is now set. l.mu must be held.
func (l *Link) drainReadyLocked() []bufferedFrame {
	if len(l.buffered) == 0 {
		return nil
	}
	var ready, remaining []bufferedFrame
	for _, f := range l.buffered {
		if (f.isControl && l.onMessageSet) || (!f.isControl && l.onPacketSet) {
			ready = append(ready, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	l.buffered = remaining
	return ready
}

// replay delivers previously-buffered frames now that their callback exists.
func (l *Link) replay(frames []bufferedFrame) {
	for _, f := range frames {
		if f.isControl {
			l.mu.Lock()
			cb := l.onMessage
			l.mu.Unlock()
			if cb != nil {
				cb(f.msg)
			}
			continue
		}
		l.mu.Lock()
		cb := l.onPacket
		l.mu.Unlock()
		if cb != nil {
			cb(f.packet)
		}
	}
}

func (l *Link) touch() {
	l.lastMu.Lock()
	l.lastRecord = time.Now()
	l.lastMu.Unlock()
}

func (l *Link) silentFor() time.Duration {
	l.lastMu.Lock()
	defer l.lastMu.Unlock()
	return time.Since(l.lastRecord)
}

func (l *Link) keepaliveLoop() {
	ticker := time.NewTicker(settings.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.write(framing.TypeKeepalive, nil); err != nil {
				l.logger.Printf("udp link %s: keepalive write failed: %v", l.remote, err)
			}
		}
	}
}

func (l *Link) checkAliveLoop() {
	ticker := time.NewTicker(settings.CheckAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if l.silentFor() > settings.SilenceTimeout {
				l.sendReset()
				l.fireClose()
				return
			}
		}
	}
}

func (l *Link) sendReset() {
	if err := l.write(framing.TypeReset, nil); err != nil {
		l.logger.Printf("udp link %s: reset write failed: %v", l.remote, err)
	}
}

func (l *Link) write(typ framing.Type, body []byte) error {
	datagram, err := framing.EncodeDatagram(typ, body)
	if err != nil {
		return err
	}
	if l.connected {
		_, err = l.conn.Write(datagram)
	} else {
		_, err = l.conn.WriteToUDPAddrPort(datagram, l.remote)
	}
	return err
}

func (l *Link) SendPacket(payload []byte) error {
	return l.write(framing.TypePacket, payload)
}

func (l *Link) SendControl(msg applink.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("udp link: marshal control message: %w", err)
	}
	return l.write(framing.TypeControl, body)
}

func (l *Link) OnPacket(cb func([]byte)) {
	l.mu.Lock()
	l.onPacket = cb
	l.onPacketSet = true
	ready := l.drainReadyLocked()
	l.mu.Unlock()
	l.replay(ready)
}

func (l *Link) OnMessage(cb func(applink.Message)) {
	l.mu.Lock()
	l.onMessage = cb
	l.onMessageSet = true
	ready := l.drainReadyLocked()
	l.mu.Unlock()
	l.replay(ready)
}

func (l *Link) OnClose(cb func()) {
	l.mu.Lock()
	l.onClose = cb
	l.mu.Unlock()
}

func (l *Link) fireClose() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		cb := l.onClose
		l.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (l *Link) PeerEndpoint() string {
	return l.remote.String()
}

// Cleanup stops this link's timers/read loop and, for a client link, closes
// its dedicated socket. A server-side link's shared socket outlives it.
// Best-effort notifies the peer with a RESET first.
func (l *Link) Cleanup() error {
	l.sendReset()
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	if l.onCleanup != nil {
		l.onCleanup()
	}
	if l.connected {
		return l.conn.Close()
	}
	return nil
}

var _ applink.Link = (*Link)(nil)
