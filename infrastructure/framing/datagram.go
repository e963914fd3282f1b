package framing

import (
	"encoding/binary"
	"math"
)

// EncodeDatagram builds one UDP record per §4.2: a type byte, then for
// CONTROL/PACKET a 2-byte big-endian length and that many body bytes; RESET
// and KEEPALIVE carry no body.
func EncodeDatagram(typ Type, body []byte) ([]byte, error) {
	switch typ {
	case TypeReset, TypeKeepalive:
		return []byte{byte(typ)}, nil
	case TypeControl, TypePacket:
		if len(body) > math.MaxUint16 {
			return nil, ErrFrameTooLarge
		}
		out := make([]byte, 3+len(body))
		out[0] = byte(typ)
		binary.BigEndian.PutUint16(out[1:3], uint16(len(body)))
		copy(out[3:], body)
		return out, nil
	default:
		return nil, ErrUnknownType
	}
}

// DecodeDatagram parses one UDP record. The returned body aliases datagram.
func DecodeDatagram(datagram []byte) (Type, []byte, error) {
	if len(datagram) == 0 {
		return 0, nil, ErrZeroLengthFrame
	}
	typ := Type(datagram[0])
	switch typ {
	case TypeReset, TypeKeepalive:
		return typ, nil, nil
	case TypeControl, TypePacket:
		if len(datagram) < 3 {
			return 0, nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint16(datagram[1:3]))
		if len(datagram) < 3+length {
			return 0, nil, ErrTruncated
		}
		return typ, datagram[3 : 3+length], nil
	default:
		return 0, nil, ErrUnknownType
	}
}

// IsHandshakeDatagram reports whether datagram is the bare 4-byte magic word
// used only before a link exists (§4.2's sole exception to typed framing).
func IsHandshakeDatagram(datagram []byte) bool {
	return len(datagram) == 4 && binary.BigEndian.Uint32(datagram) == MagicWord
}

// EncodeHandshakeDatagram returns the bare 4-byte magic-word datagram.
func EncodeHandshakeDatagram() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, MagicWord)
	return buf
}
