package framing

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeDatagramRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		body []byte
	}{
		{"control empty", TypeControl, []byte(`{}`)},
		{"packet", TypePacket, bytes.Repeat([]byte{0xAB}, 40)},
		{"reset", TypeReset, nil},
		{"keepalive", TypeKeepalive, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := EncodeDatagram(tc.typ, tc.body)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			typ, body, err := DecodeDatagram(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if typ != tc.typ {
				t.Fatalf("type = %v, want %v", typ, tc.typ)
			}
			if !bytes.Equal(body, tc.body) {
				t.Fatalf("body = %v, want %v", body, tc.body)
			}
		})
	}
}

func TestDecodeDatagramUnknownType(t *testing.T) {
	if _, _, err := DecodeDatagram([]byte{0x7F}); err != ErrUnknownType {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeDatagramTruncated(t *testing.T) {
	if _, _, err := DecodeDatagram([]byte{byte(TypeControl), 0x00}); err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestHandshakeDatagram(t *testing.T) {
	d := EncodeHandshakeDatagram()
	if !IsHandshakeDatagram(d) {
		t.Fatal("expected handshake datagram to be recognized")
	}
	if IsHandshakeDatagram([]byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatal("unexpected handshake recognition of non-magic bytes")
	}
}
