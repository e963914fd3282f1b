package framing

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestStreamCodecFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer, err := NewStreamCodec(client, 2048)
	if err != nil {
		t.Fatalf("new writer codec: %v", err)
	}
	reader, err := NewStreamCodec(server, 2048)
	if err != nil {
		t.Fatalf("new reader codec: %v", err)
	}

	payload := bytes.Repeat([]byte{0x42}, 64)
	done := make(chan error, 1)
	go func() { done <- writer.WriteFrame(TypePacket, payload) }()

	typ, body, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if typ != TypePacket {
		t.Fatalf("type = %v, want PACKET", typ)
	}
	if !bytes.Equal(body, payload) {
		t.Fatal("body mismatch")
	}
}

func TestStreamMagicHandshakeRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- WriteMagic(client) }()

	if err := ReadMagic(server, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write magic: %v", err)
	}
}

func TestStreamMagicHandshakeTimeout(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()

	err := ReadMagic(server, time.Now().Add(10*time.Millisecond))
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStreamCodecFrameTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer, err := NewStreamCodec(client, 16)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if err := writer.WriteFrame(TypePacket, bytes.Repeat([]byte{0x01}, 32)); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}
