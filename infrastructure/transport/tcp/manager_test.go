package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	applink "tunnelcore/application/link"
	"tunnelcore/infrastructure/logging"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestTCPHandshakeAndPacketRoundTrip(t *testing.T) {
	port := freePort(t)
	logger := logging.NewNopLogger()

	server := NewServerManager(port, logger)
	if err := server.Setup(); err != nil {
		t.Fatalf("server setup: %v", err)
	}
	defer server.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientCh := make(chan applink.Link, 1)
	errCh := make(chan error, 1)
	client := NewClientManager("127.0.0.1", port, logger)
	go func() {
		link, err := client.Create(ctx)
		if err != nil {
			errCh <- err
			return
		}
		clientCh <- link
	}()

	serverLink, err := server.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer serverLink.Cleanup()

	var clientLink applink.Link
	select {
	case clientLink = <-clientCh:
	case err := <-errCh:
		t.Fatalf("create: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out")
	}
	defer clientLink.Cleanup()

	received := make(chan []byte, 1)
	serverLink.OnPacket(func(p []byte) { received <- p })

	payload := []byte("hello over tcp")
	if err := clientLink.SendPacket(payload); err != nil {
		t.Fatalf("send packet: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("got %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

// TestTCPHandshakeTimeout mirrors seed scenario 5: a peer that never sends
// the magic word must be dropped within the 5-second handshake timeout,
// not left hanging.
func TestTCPHandshakeTimeout(t *testing.T) {
	port := freePort(t)
	logger := logging.NewNopLogger()

	server := NewServerManager(port, logger)
	if err := server.Setup(); err != nil {
		t.Fatalf("server setup: %v", err)
	}
	defer server.Cleanup()

	silentConn, err := net.Dial("tcp", server.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer silentConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
	defer cancel()

	_, err = server.Accept(ctx)
	if err == nil {
		t.Fatal("expected accept to fail for a silent peer")
	}
}
