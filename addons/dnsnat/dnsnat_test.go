package dnsnat

import (
	"net/netip"
	"testing"
)

func buildUDPPacket(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	const ihl = 20
	total := ihl + 8 + len(payload)
	raw := make([]byte, total)
	raw[0] = 0x45
	raw[9] = ipv4ProtoUDP
	s4, d4 := src.As4(), dst.As4()
	copy(raw[12:16], s4[:])
	copy(raw[16:20], d4[:])
	raw[ihl+0] = byte(srcPort >> 8)
	raw[ihl+1] = byte(srcPort)
	raw[ihl+2] = byte(dstPort >> 8)
	raw[ihl+3] = byte(dstPort)
	copy(raw[ihl+8:], payload)
	return raw
}

const ipv4ProtoUDP = 17

func TestRewriteQueryThenAnswerRoundTrips(t *testing.T) {
	fake := netip.MustParseAddr("10.0.0.53")
	real := netip.MustParseAddr("8.8.8.8")
	client := netip.MustParseAddr("10.48.0.2")

	a := New(fake, real)

	query := buildUDPPacket(client, fake, 40000, 53, []byte("query"))
	out, err := a.Rewrite(query)
	if err != nil {
		t.Fatalf("rewrite query: %v", err)
	}
	if out == nil {
		t.Fatal("expected rewritten query, got pass-through")
	}
	gotDst := netip.AddrFrom4([4]byte{out[16], out[17], out[18], out[19]})
	if gotDst != real {
		t.Fatalf("query dest = %s, want %s", gotDst, real)
	}

	answer := buildUDPPacket(real, client, 53, 40000, []byte("answer"))
	out2, err := a.Rewrite(answer)
	if err != nil {
		t.Fatalf("rewrite answer: %v", err)
	}
	if out2 == nil {
		t.Fatal("expected rewritten answer, got pass-through")
	}
	gotSrc := netip.AddrFrom4([4]byte{out2[12], out2[13], out2[14], out2[15]})
	if gotSrc != fake {
		t.Fatalf("answer src = %s, want %s (should look like it came from the fake resolver)", gotSrc, fake)
	}

	if len(a.records) != 0 {
		t.Fatalf("record for port 40000 should be consumed, got %d records left", len(a.records))
	}
}

func TestRewritePassesThroughNonDNSTraffic(t *testing.T) {
	a := New(netip.MustParseAddr("10.0.0.53"), netip.MustParseAddr("8.8.8.8"))
	pkt := buildUDPPacket(netip.MustParseAddr("10.48.0.2"), netip.MustParseAddr("1.2.3.4"), 12345, 443, []byte("x"))
	out, err := a.Rewrite(pkt)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if out != nil {
		t.Fatalf("expected pass-through (nil) for non-DNS traffic, got rewritten packet")
	}
}

func TestRewriteUnmatchedAnswerPassesThrough(t *testing.T) {
	a := New(netip.MustParseAddr("10.0.0.53"), netip.MustParseAddr("8.8.8.8"))
	answer := buildUDPPacket(netip.MustParseAddr("8.8.8.8"), netip.MustParseAddr("10.48.0.2"), 53, 9999, []byte("answer"))
	out, err := a.Rewrite(answer)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if out != nil {
		t.Fatal("expected pass-through for an answer with no matching query record")
	}
}
