// Package pkttest provides gopacket-based helpers for building and
// inspecting frames in tests.
package pkttest

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
)

// LayersToPacket serializes layers and decodes them back as an Ethernet
// frame.
func LayersToPacket(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()

	data, err := xpacket.Serialize(lyrs...)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}

// Decode parses an emitted frame eagerly.
func Decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer(), "failed to decode frame: %x", frame)
	return pkt
}

// IPv4 returns the IPv4 layer of a packet, failing the test if absent.
func IPv4(t *testing.T, pkt gopacket.Packet) *layers.IPv4 {
	t.Helper()

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok, "no IPv4 layer in %s", pkt)
	return ip
}

// ICMPv4 returns the ICMPv4 layer of a packet, failing the test if absent.
func ICMPv4(t *testing.T, pkt gopacket.Packet) *layers.ICMPv4 {
	t.Helper()

	icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok, "no ICMPv4 layer in %s", pkt)
	return icmp
}

// Ethernet returns the Ethernet layer of a packet.
func Ethernet(t *testing.T, pkt gopacket.Packet) *layers.Ethernet {
	t.Helper()

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok, "no Ethernet layer in %s", pkt)
	return eth
}

// UDPFrame builds an Ethernet/IPv4/UDP frame with a valid checksum.
func UDPFrame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, ttl uint8, dstPort uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	return LayersToPacket(t, eth, ip, udp, gopacket.Payload(payload)).Data()
}

// EchoRequestFrame builds an Ethernet/IPv4/ICMP echo request frame.
func EchoRequestFrame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, ttl uint8, id, seq uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}

	return LayersToPacket(t, eth, ip, icmp, gopacket.Payload(payload)).Data()
}
