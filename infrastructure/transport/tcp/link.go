// Package tcp implements the stream Link and Manager (§4.1), grounded on the
// teacher's length-prefix framing adapter generalized to carry the typed
// frame byte the datagram transport uses (§9).
package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	applink "tunnelcore/application/link"
	"tunnelcore/application/logging"
	"tunnelcore/infrastructure/framing"
	"tunnelcore/infrastructure/settings"
)

// Link is one TCP connection's Link. Unlike the datagram transport, a
// stream connection always belongs to exactly one peer, so no demux is
// needed.
type Link struct {
	conn   net.Conn
	codec  *framing.StreamCodec
	logger logging.Logger

	mu        sync.Mutex
	onPacket  func([]byte)
	onMessage func(applink.Message)
	onClose   func()
	closeOnce sync.Once
}

func newLink(conn net.Conn, codec *framing.StreamCodec, logger logging.Logger) *Link {
	return &Link{conn: conn, codec: codec, logger: logger}
}

// Setup starts the read loop; framing and the magic-word handshake already
// ran during Create/Accept. ctx is accepted to satisfy applink.Link and is
// not otherwise used: a stream Link has no liveness timers to bind it to.
func (l *Link) Setup(_ context.Context) error {
	go l.readLoop()
	return nil
}

func (l *Link) readLoop() {
	for {
		typ, body, err := l.codec.ReadFrame()
		if err != nil {
			l.fireClose()
			return
		}
		switch typ {
		case framing.TypeReset:
			l.fireClose()
			return
		case framing.TypePacket:
			l.mu.Lock()
			cb := l.onPacket
			l.mu.Unlock()
			if cb != nil {
				cb(append([]byte(nil), body...))
			}
		case framing.TypeControl:
			var msg applink.Message
			if jsonErr := json.Unmarshal(body, &msg); jsonErr != nil {
				l.logger.Printf("tcp link %s: malformed control body: %v", l.PeerEndpoint(), jsonErr)
				continue
			}
			l.mu.Lock()
			cb := l.onMessage
			l.mu.Unlock()
			if cb != nil {
				cb(msg)
			}
		default:
			l.logger.Printf("tcp link %s: unknown frame type %v", l.PeerEndpoint(), typ)
		}
	}
}

func (l *Link) SendPacket(payload []byte) error {
	return l.codec.WriteFrame(framing.TypePacket, payload)
}

func (l *Link) SendControl(msg applink.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("tcp link: marshal control message: %w", err)
	}
	return l.codec.WriteFrame(framing.TypeControl, body)
}

func (l *Link) OnPacket(cb func([]byte)) {
	l.mu.Lock()
	l.onPacket = cb
	l.mu.Unlock()
}

func (l *Link) OnMessage(cb func(applink.Message)) {
	l.mu.Lock()
	l.onMessage = cb
	l.mu.Unlock()
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
	return l.conn.RemoteAddr().String()
}

func (l *Link) Cleanup() error {
	_ = l.codec.WriteFrame(framing.TypeReset, nil)
	return l.conn.Close()
}

var _ applink.Link = (*Link)(nil)

func newStreamLink(conn net.Conn, logger logging.Logger) (*Link, error) {
	codec, err := framing.NewStreamCodec(conn, settings.ReaderFrameCeiling)
	if err != nil {
		return nil, err
	}
	return newLink(conn, codec, logger), nil
}
