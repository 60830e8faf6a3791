package ipam

import (
	"net/netip"
	"sort"
)

// Pool tracks which addresses of a single block are already taken and by
// whom. Addresses recorded outside the block are kept but have no effect on
// allocation.
type Pool struct {
	Block     netip.Prefix
	Allocated map[string]netip.Addr // owner key (server or peer uuid) -> address
}

// NewPool returns an empty Pool for block.
func NewPool(block netip.Prefix) *Pool {
	return &Pool{
		Block:     block.Masked(),
		Allocated: make(map[string]netip.Addr),
	}
}

// Record marks addr as in use by key.
func (p *Pool) Record(key string, addr netip.Addr) {
	p.Allocated[key] = addr.Unmap()
}

// Get returns the address recorded for key.
func (p *Pool) Get(key string) (netip.Addr, bool) {
	addr, ok := p.Allocated[key]
	return addr, ok
}

// Excluded returns every recorded address as a Set.
func (p *Pool) Excluded() Set {
	s := make(Set, len(p.Allocated))
	for _, addr := range p.Allocated {
		s.Add(addr)
	}
	return s
}

// Next returns the lowest free host address without recording it.
func (p *Pool) Next() (netip.Addr, error) {
	return Allocate(p.Block, p.Excluded())
}

// InBlock returns the recorded addresses that fall inside the block, sorted.
func (p *Pool) InBlock() []netip.Addr {
	var out []netip.Addr
	seen := make(Set)
	for _, addr := range p.Allocated {
		if !p.Block.Contains(addr) || seen.Has(addr) {
			continue
		}
		seen.Add(addr)
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
