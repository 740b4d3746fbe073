package xpacket

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// EthernetHeaderLen is the size of an untagged Ethernet header.
const EthernetHeaderLen = 14

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Serialize encodes the given layers into a single frame, fixing lengths and
// computing checksums on the way.
func Serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOptions, lyrs...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseEtherPacket decodes an Ethernet frame.
//
// Decoding is lazy and does not copy the frame, so the caller must not modify
// data while the packet is in use.
func ParseEtherPacket(data []byte) gopacket.Packet {
	return gopacket.NewPacket(
		data,
		layers.LayerTypeEthernet,
		gopacket.DecodeOptions{Lazy: true, NoCopy: true},
	)
}

// Clone returns a copy of a frame that can be mutated independently.
func Clone(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
