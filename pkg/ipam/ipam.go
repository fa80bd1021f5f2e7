// Package ipam implements the IPv4 CIDR algebra behind address assignment:
// containment, subtraction, RFC1918 constants, public-range synthesis, and
// offset-based host addressing.
package ipam

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// Parse4 parses s as an IPv4 CIDR and returns its canonical (masked) form.
func Parse4(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", s, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("cidr %q is not ipv4", s)
	}
	return p.Masked(), nil
}

// Contains reports whether a covers all of b: a is at least as wide and
// includes b's base address.
func Contains(a, b netip.Prefix) bool {
	return a.Bits() <= b.Bits() && a.Contains(b.Masked().Addr())
}

// Subtract returns the minimal set of disjoint CIDRs whose union is
// base \ exclude. The pieces come back in address order.
func Subtract(base, exclude netip.Prefix) []netip.Prefix {
	base = base.Masked()
	exclude = exclude.Masked()

	if !base.Overlaps(exclude) {
		return []netip.Prefix{base}
	}
	if Contains(exclude, base) {
		return nil
	}
	if base.Bits() >= 32 {
		// A single host cannot be split further.
		return nil
	}

	start, _, err := PrefixRange4(base)
	if err != nil {
		return nil
	}
	halfBits := base.Bits() + 1
	lo := netip.PrefixFrom(base.Addr(), halfBits)
	hi := netip.PrefixFrom(Uint32ToAddr(start+uint32(1)<<(32-halfBits)), halfBits)

	return append(Subtract(lo, exclude), Subtract(hi, exclude)...)
}

// SubtractMany folds Subtract over all excludes, left to right.
func SubtractMany(base netip.Prefix, excludes []netip.Prefix) []netip.Prefix {
	out := []netip.Prefix{base.Masked()}
	for _, exclude := range excludes {
		next := make([]netip.Prefix, 0, len(out))
		for _, p := range out {
			next = append(next, Subtract(p, exclude)...)
		}
		out = next
	}
	return out
}

// RFC1918 returns the three private IPv4 ranges.
func RFC1918() []netip.Prefix {
	return []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
}

// PublicRanges returns all of IPv4 space minus the RFC1918 ranges.
func PublicRanges() []netip.Prefix {
	return SubtractMany(netip.MustParsePrefix("0.0.0.0/0"), RFC1918())
}

// IsPrivate reports whether p sits entirely inside one RFC1918 range.
func IsPrivate(p netip.Prefix) bool {
	for _, r := range RFC1918() {
		if Contains(r, p) {
			return true
		}
	}
	return false
}

// HostAt returns the address at base+offset within the network.
func HostAt(network netip.Prefix, offset uint32) netip.Addr {
	start, _, err := PrefixRange4(network)
	if err != nil {
		return netip.Addr{}
	}
	return Uint32ToAddr(start + offset)
}

// MaxOffset returns the highest offset inside a network of the given prefix
// length (the broadcast address). Usable host offsets are 1..MaxOffset-1.
func MaxOffset(bits int) uint32 {
	hostBits := 32 - bits
	if hostBits <= 0 {
		return 0
	}
	if hostBits >= 32 {
		return math.MaxUint32
	}
	return uint32(1)<<hostBits - 1
}

// PrefixRange4 returns the first and last address of p as big-endian uint32s.
func PrefixRange4(p netip.Prefix) (uint32, uint32, error) {
	p = p.Masked()
	if !p.Addr().Is4() {
		return 0, 0, fmt.Errorf("prefix %s is not ipv4", p)
	}
	b := p.Addr().As4()
	start := binary.BigEndian.Uint32(b[:])
	hostBits := 32 - p.Bits()
	if hostBits <= 0 {
		return start, start, nil
	}
	if hostBits >= 32 {
		return 0, math.MaxUint32, nil
	}
	size := uint32(1) << hostBits
	return start, start + size - 1, nil
}

// Uint32ToAddr converts a big-endian uint32 to an IPv4 address.
func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
