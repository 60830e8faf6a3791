package ipam

import (
	"net/netip"
	"testing"
)

func TestPoolRecordAndNext(t *testing.T) {
	p := NewPool(netip.MustParsePrefix("10.0.0.1/24"))
	if p.Block.String() != "10.0.0.0/24" {
		t.Fatalf("expected masked block, got %s", p.Block)
	}

	p.Record("server", netip.MustParseAddr("10.0.0.1"))
	p.Record("peer-a", netip.MustParseAddr("10.0.0.2"))
	p.Record("peer-far", netip.MustParseAddr("192.168.9.9"))

	ip, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip.String() != "10.0.0.3" {
		t.Errorf("expected 10.0.0.3, got %s", ip)
	}

	// Next does not record.
	if _, ok := p.Get(ip.String()); ok {
		t.Error("Next should not record the returned address")
	}
	if len(p.Allocated) != 3 {
		t.Errorf("expected 3 allocations, got %d", len(p.Allocated))
	}

	got, ok := p.Get("peer-a")
	if !ok || got.String() != "10.0.0.2" {
		t.Errorf("Get peer-a: expected 10.0.0.2, got %s", got)
	}
}

func TestPoolInBlock(t *testing.T) {
	p := NewPool(netip.MustParsePrefix("10.0.0.0/24"))
	p.Record("b", netip.MustParseAddr("10.0.0.7"))
	p.Record("a", netip.MustParseAddr("10.0.0.2"))
	p.Record("dup", netip.MustParseAddr("10.0.0.2"))
	p.Record("far", netip.MustParseAddr("10.1.0.2"))

	in := p.InBlock()
	if len(in) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(in))
	}
	if in[0].String() != "10.0.0.2" || in[1].String() != "10.0.0.7" {
		t.Errorf("expected [10.0.0.2 10.0.0.7], got %v", in)
	}
}

func TestPoolExcludedIsStable(t *testing.T) {
	p := NewPool(netip.MustParsePrefix("10.0.0.0/24"))
	p.Record("x", netip.MustParseAddr("10.0.0.5"))

	a := p.Excluded()
	b := p.Excluded()
	if len(a) != len(b) || !a.Has(netip.MustParseAddr("10.0.0.5")) || !b.Has(netip.MustParseAddr("10.0.0.5")) {
		t.Errorf("expected identical exclusion sets, got %v and %v", a, b)
	}
}
