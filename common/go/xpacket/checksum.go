package xpacket

import (
	"encoding/binary"
	"fmt"

	"github.com/google/netstack/tcpip/header"
)

const (
	ipv4ChecksumOffset = 10
	ipv4TTLOffset      = 8
)

// IPv4Header returns the IPv4 header slice of a packet that starts with an
// IPv4 header, honouring the IHL field.
func IPv4Header(packet []byte) ([]byte, error) {
	if len(packet) < header.IPv4MinimumSize {
		return nil, fmt.Errorf("packet too short for IPv4 header: %d bytes", len(packet))
	}

	ihl := int(packet[0]&0x0f) * 4
	if ihl < header.IPv4MinimumSize || ihl > len(packet) {
		return nil, fmt.Errorf("invalid IPv4 header length %d", ihl)
	}

	return packet[:ihl], nil
}

// IPv4Checksum computes the header checksum as if the checksum field were
// zero.
func IPv4Checksum(hdr []byte) uint16 {
	stored := binary.BigEndian.Uint16(hdr[ipv4ChecksumOffset:])
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOffset:], 0)
	sum := ^header.Checksum(hdr, 0)
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOffset:], stored)

	return sum
}

// ValidIPv4Checksum reports whether the stored header checksum matches the
// recomputed one.
func ValidIPv4Checksum(hdr []byte) bool {
	return binary.BigEndian.Uint16(hdr[ipv4ChecksumOffset:]) == IPv4Checksum(hdr)
}

// DecrementTTL decrements the TTL of the header in place, refreshes the
// checksum and returns the new TTL.
//
// A TTL that is already zero stays zero.
func DecrementTTL(hdr []byte) uint8 {
	if hdr[ipv4TTLOffset] > 0 {
		hdr[ipv4TTLOffset]--
	}
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOffset:], IPv4Checksum(hdr))

	return hdr[ipv4TTLOffset]
}
