package framing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"time"
)

// StreamCodec frames one typed payload per write/read as a 2-byte big-endian
// length L followed by L bytes, where byte 0 of the payload is the Type and
// the remainder is the body (§4.1). Not safe for concurrent Read and Write
// from multiple goroutines each; one reader and one writer goroutine is the
// supported shape.
type StreamCodec struct {
	conn     net.Conn
	reader   *bufio.Reader
	cap      int
	hdrBuf   [2]byte
	writeBuf []byte
}

// NewStreamCodec wraps conn. frameCap bounds the accepted frame length and
// must not exceed math.MaxUint16 (the length prefix is 16 bits).
func NewStreamCodec(conn net.Conn, frameCap int) (*StreamCodec, error) {
	if frameCap <= 0 || frameCap > math.MaxUint16 {
		return nil, fmt.Errorf("framing: invalid frame cap %d", frameCap)
	}
	return &StreamCodec{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		cap:      frameCap,
		writeBuf: make([]byte, 2+1+frameCap),
	}, nil
}

// WriteFrame sends one length-prefixed frame: typ as its first body byte,
// body following.
func (c *StreamCodec) WriteFrame(typ Type, body []byte) error {
	total := 1 + len(body)
	if total > c.cap {
		return ErrFrameTooLarge
	}
	if cap(c.writeBuf) < 2+total {
		c.writeBuf = make([]byte, 2+total)
	}
	buf := c.writeBuf[:2+total]
	binary.BigEndian.PutUint16(buf[:2], uint16(total))
	buf[2] = byte(typ)
	copy(buf[3:], body)
	return writeFull(c.conn, buf)
}

// ReadFrame blocks for the next frame and returns its type and body. The
// returned body aliases an internal buffer valid only until the next call.
func (c *StreamCodec) ReadFrame() (Type, []byte, error) {
	if _, err := io.ReadFull(c.reader, c.hdrBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("framing: read length prefix: %w", err)
	}
	length := int(binary.BigEndian.Uint16(c.hdrBuf[:]))
	if length == 0 {
		return 0, nil, ErrZeroLengthFrame
	}
	if length > c.cap {
		return 0, nil, ErrFrameTooLarge
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(c.reader, frame); err != nil {
		return 0, nil, fmt.Errorf("framing: read frame body: %w", err)
	}
	return Type(frame[0]), frame[1:], nil
}

// WriteMagic sends the bare 4-byte handshake word, no type byte or length
// prefix (§4.1).
func WriteMagic(conn net.Conn) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], MagicWord)
	return writeFull(conn, buf[:])
}

// ReadMagic blocks until deadline for the bare 4-byte handshake word and
// verifies it.
func ReadMagic(conn net.Conn, deadline time.Time) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return fmt.Errorf("framing: read magic: %w", err)
	}
	if binary.BigEndian.Uint32(buf[:]) != MagicWord {
		return ErrBadMagic
	}
	return nil
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if n > 0 {
			p = p[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
