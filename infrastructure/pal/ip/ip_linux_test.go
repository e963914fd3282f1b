//go:build linux

package ip

import (
	"errors"
	"strings"
	"testing"
)

type fakeCommander struct {
	output []byte
	err    error
}

func (f *fakeCommander) Run(string, ...string) error { panic("not implemented") }

func (f *fakeCommander) Output(string, ...string) ([]byte, error) {
	return f.output, f.err
}

func (f *fakeCommander) CombinedOutput(string, ...string) ([]byte, error) {
	return f.output, f.err
}

func TestLinkSetUp(t *testing.T) {
	if err := NewWrapper(&fakeCommander{}).LinkSetUp("tun0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := NewWrapper(&fakeCommander{output: []byte("boom"), err: errors.New("fail")}).LinkSetUp("tun0")
	if err == nil || !strings.Contains(err.Error(), "tun0") {
		t.Fatalf("expected wrapped error mentioning interface, got %v", err)
	}
}

func TestAddrAddPeer(t *testing.T) {
	if err := NewWrapper(&fakeCommander{}).AddrAddPeer("tun0", "10.48.0.2", "10.48.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRouteDefault(t *testing.T) {
	w := NewWrapper(&fakeCommander{output: []byte("default via 192.168.1.1 dev eth0\n")})
	gw, dev, err := w.RouteDefault()
	if err != nil || gw != "192.168.1.1" || dev != "eth0" {
		t.Fatalf("got gw=%q dev=%q err=%v, want 192.168.1.1/eth0", gw, dev, err)
	}
}

func TestRouteDefaultMissing(t *testing.T) {
	w := NewWrapper(&fakeCommander{output: []byte("")})
	if _, _, err := w.RouteDefault(); err == nil {
		t.Fatal("expected error for missing default route")
	}
}

func TestRouteAddSplitDefault(t *testing.T) {
	if err := NewWrapper(&fakeCommander{}).RouteAddSplitDefault("tun0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
