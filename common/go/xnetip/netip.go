package xnetip

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
)

// Uint32 returns the IPv4 address as a big-endian integer.
//
// Non-IPv4 addresses map to zero.
func Uint32(addr netip.Addr) uint32 {
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// AddrFromUint32 builds an IPv4 address from its big-endian integer form.
func AddrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// MaskFromBits returns the IPv4 netmask with the given number of leading
// ones.
func MaskFromBits(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << (32 - n)
}

// PrefixMask returns the netmask of an IPv4 prefix.
func PrefixMask(prefix netip.Prefix) uint32 {
	return MaskFromBits(prefix.Bits())
}

// PrefixFromMask builds a masked prefix from an address and a netmask.
//
// The mask must be contiguous.
func PrefixFromMask(addr netip.Addr, mask uint32) (netip.Prefix, error) {
	if !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("address %s is not IPv4", addr)
	}

	ones := bits.LeadingZeros32(^mask)
	if MaskFromBits(ones) != mask {
		return netip.Prefix{}, fmt.Errorf("netmask %s is not contiguous", AddrFromUint32(mask))
	}

	return netip.PrefixFrom(addr, ones).Masked(), nil
}

// IsZero reports whether the address is absent or 0.0.0.0.
func IsZero(addr netip.Addr) bool {
	return !addr.IsValid() || addr.IsUnspecified()
}
