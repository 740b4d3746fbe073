package router

import (
	"encoding/binary"
	"net/netip"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/internal/icmp"
)

const (
	ipv4ProtocolOffset = 9
	ipv4DstOffset      = 16
)

// forward routes an IPv4 frame received on the in interface.
func (m *Router) forward(frame []byte, in *iface.Interface) {
	if len(frame) <= xpacket.EthernetHeaderLen {
		return
	}

	hdr, err := xpacket.IPv4Header(frame[xpacket.EthernetHeaderLen:])
	if err != nil || hdr[0]>>4 != 4 {
		m.log.Debugw("dropped malformed IPv4 packet", zap.String("iface", in.Name), zap.Error(err))
		return
	}
	if !xpacket.ValidIPv4Checksum(hdr) {
		m.log.Debugw("dropped IPv4 packet with invalid checksum", zap.String("iface", in.Name))
		return
	}

	// The frame is queued or transmitted after this call returns, so it
	// must not alias the receive buffer. Ethernet padding is cut off.
	totalLen := int(binary.BigEndian.Uint16(hdr[2:4]))
	frameLen := min(xpacket.EthernetHeaderLen+max(totalLen, len(hdr)), len(frame))
	frame = xpacket.Clone(frame[:frameLen])

	packet := frame[xpacket.EthernetHeaderLen:]
	hdr = packet[:len(hdr)]

	if ttl := xpacket.DecrementTTL(hdr); ttl == 0 {
		m.log.Debugw("TTL exceeded", zap.String("iface", in.Name))
		m.icmp.Error(icmp.TimeExceeded, packet, in)
		return
	}

	dst := netip.AddrFrom4([4]byte(hdr[ipv4DstOffset : ipv4DstOffset+4]))
	if m.ifaces.IsLocal(dst) {
		m.deliverLocal(packet, len(hdr), in)
		return
	}

	route, ok := m.routes.LongestMatch(dst)
	if !ok {
		m.log.Debugw("no route to destination", zap.Stringer("dst", dst), zap.String("iface", in.Name))
		m.icmp.Error(icmp.NetUnreachable, packet, in)
		return
	}

	out, ok := m.ifaces.ByName(route.Iface)
	if !ok {
		m.log.Warnw("route points to unknown interface",
			zap.Stringer("prefix", route.Prefix),
			zap.String("iface", route.Iface),
		)
		return
	}
	if out == in {
		m.log.Debugw("dropped packet routed back to its inbound interface",
			zap.Stringer("dst", dst),
			zap.String("iface", in.Name),
		)
		return
	}

	copy(frame[6:12], out.HardwareAddr)
	m.resolver.Resolve(frame, route.NextHop(dst), out, in)
}

// deliverLocal consumes a packet addressed to one of the router interfaces.
func (m *Router) deliverLocal(packet []byte, hdrLen int, in *iface.Interface) {
	switch layers.IPProtocol(packet[ipv4ProtocolOffset]) {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		m.icmp.Error(icmp.PortUnreachable, packet, in)
	case layers.IPProtocolICMPv4:
		if len(packet) > hdrLen && packet[hdrLen] == layers.ICMPv4TypeEchoRequest {
			m.icmp.EchoReply(packet)
		}
	}
}
