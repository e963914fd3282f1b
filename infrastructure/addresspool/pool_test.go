package addresspool

import (
	"net/netip"
	"testing"
)

func TestPoolAllocateInOrder(t *testing.T) {
	p := New(netip.MustParsePrefix("10.48.0.0/24"))

	first, ok := p.Allocate()
	if !ok {
		t.Fatal("expected an address")
	}
	if first.String() != "10.48.0.1" {
		t.Fatalf("first = %s, want 10.48.0.1", first)
	}

	second, ok := p.Allocate()
	if !ok {
		t.Fatal("expected a second address")
	}
	if second.String() != "10.48.0.2" {
		t.Fatalf("second = %s, want 10.48.0.2", second)
	}
}

func TestPoolExcludesNetworkAndBroadcast(t *testing.T) {
	p := New(netip.MustParsePrefix("192.0.2.0/30"))
	var got []string
	for {
		addr, ok := p.Allocate()
		if !ok {
			break
		}
		got = append(got, addr.String())
	}
	want := []string{"192.0.2.1", "192.0.2.2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPoolReleaseReturnsAddressToRotation(t *testing.T) {
	p := New(netip.MustParsePrefix("10.48.0.0/24"))
	addr, _ := p.Allocate()
	p.Release(addr)

	for i := 0; i < 253; i++ {
		if _, ok := p.Allocate(); !ok {
			t.Fatalf("pool exhausted early at index %d", i)
		}
	}
	if _, ok := p.Allocate(); ok {
		t.Fatal("expected pool to be exhausted")
	}
}

func TestPoolReleaseOfFreeAddressIsNoop(t *testing.T) {
	p := New(netip.MustParsePrefix("10.48.0.0/30"))
	allocated, _ := p.Allocate()
	p.Release(allocated) // returns it to the pool
	p.Release(allocated) // already free: must not be inserted twice

	count := 0
	for {
		if _, ok := p.Allocate(); !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 (duplicate release must not double-insert)", count)
	}
}
