package neigh

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/modules/router/iface"
)

var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// requestFrame builds a broadcast ARP request asking for the link address of
// target, sent on behalf of the given interface.
func requestFrame(out *iface.Interface, target netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       out.HardwareAddr,
		DstMAC:       iface.BroadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   out.HardwareAddr,
		SourceProtAddress: out.Addr().AsSlice(),
		DstHwAddress:      zeroMAC,
		DstProtAddress:    target.AsSlice(),
	}

	return xpacket.Serialize(eth, arp)
}

// replyFrame builds a unicast ARP reply to the given request, announcing that
// the requested address lives behind the receiving interface.
func replyFrame(in *iface.Interface, request *layers.ARP) ([]byte, error) {
	requesterMAC := net.HardwareAddr(request.SourceHwAddress)

	eth := &layers.Ethernet{
		SrcMAC:       in.HardwareAddr,
		DstMAC:       requesterMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   in.HardwareAddr,
		SourceProtAddress: request.DstProtAddress,
		DstHwAddress:      requesterMAC,
		DstProtAddress:    request.SourceProtAddress,
	}

	return xpacket.Serialize(eth, arp)
}

// setDstMAC rewrites the destination link address of an Ethernet frame in
// place.
func setDstMAC(frame []byte, mac net.HardwareAddr) {
	copy(frame[0:6], mac)
}

func protAddr(b []byte) (netip.Addr, bool) {
	if len(b) != 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(b)), true
}
