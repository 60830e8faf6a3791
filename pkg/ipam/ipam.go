// Package ipam picks tunnel addresses for new peers out of a server's
// tunnel block.
package ipam

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrNoAddressAvailable is returned when every host address in a block is
// excluded.
var ErrNoAddressAvailable = errors.New("no address available")

// Set is a collection of addresses that must not be handed out.
type Set map[netip.Addr]struct{}

// NewSet returns a Set holding addrs.
func NewSet(addrs ...netip.Addr) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts addr into the set.
func (s Set) Add(addr netip.Addr) {
	s[addr.Unmap()] = struct{}{}
}

// Has reports whether addr is in the set.
func (s Set) Has(addr netip.Addr) bool {
	_, ok := s[addr.Unmap()]
	return ok
}

// Allocate returns the lowest host address of block that is not in excluded.
// Network and broadcast addresses are never returned for IPv4 blocks shorter
// than /31; for IPv6 the subnet-router anycast address (the network address)
// is skipped for blocks shorter than /127.
func Allocate(block netip.Prefix, excluded Set) (netip.Addr, error) {
	first, last, ok := HostRange(block)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s has no host addresses", ErrNoAddressAvailable, block)
	}

	// Each step either returns or skips one excluded address, so the loop
	// runs at most len(excluded)+1 times even for very large blocks.
	for candidate := first; ; candidate = candidate.Next() {
		if !excluded.Has(candidate) {
			return candidate, nil
		}
		if candidate == last {
			break
		}
	}

	return netip.Addr{}, fmt.Errorf("%w: all host addresses in %s are in use", ErrNoAddressAvailable, block)
}

// HostRange returns the first and last host address of block. ok is false
// for an invalid prefix.
func HostRange(block netip.Prefix) (first, last netip.Addr, ok bool) {
	if !block.IsValid() {
		return netip.Addr{}, netip.Addr{}, false
	}
	block = block.Masked()
	bits := block.Addr().BitLen()
	ones := block.Bits()

	first = block.Addr()
	last = lastAddr(block)

	switch {
	case ones == bits:
		return first, first, true
	case ones == bits-1:
		// RFC 3021 point-to-point links: both addresses are usable.
		return first, last, true
	}

	first = first.Next()
	if block.Addr().Is4() {
		last = last.Prev()
	}
	return first, last, true
}

// lastAddr returns the highest address inside block (the IPv4 broadcast).
func lastAddr(block netip.Prefix) netip.Addr {
	raw := block.Addr().AsSlice()
	ones := block.Bits()
	for i := range raw {
		bitStart := i * 8
		switch {
		case bitStart >= ones:
			raw[i] = 0xff
		case bitStart+8 > ones:
			raw[i] |= byte(0xff >> (ones - bitStart))
		}
	}
	addr, _ := netip.AddrFromSlice(raw)
	return addr
}

// ParseInterfaceAddress parses an interface-style address such as
// "10.0.0.1/24" into the host address and the masked block it lives in. A
// bare address is treated as a single-host prefix.
func ParseInterfaceAddress(s string) (netip.Addr, netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap(), p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, fmt.Errorf("parsing address %q: %w", s, err)
	}
	addr = addr.Unmap()
	return addr, netip.PrefixFrom(addr, addr.BitLen()), nil
}
