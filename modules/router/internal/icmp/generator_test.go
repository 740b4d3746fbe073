package icmp

import (
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/common/go/xpacket/pkttest"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/iface/ifacetest"
	"github.com/yanet-platform/vrouter/modules/router/internal/rib"
)

var (
	eth0 = ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")
	eth1 = ifacetest.Interface("eth1", "10.0.2.1/24", "02:00:00:00:02:01")

	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, 0x63}
	client    = netip.MustParseAddr("10.0.1.99")
	remote    = netip.MustParseAddr("10.0.3.5")
)

type resolveCall struct {
	frame   []byte
	nextHop netip.Addr
	out     *iface.Interface
	in      *iface.Interface
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []resolveCall
}

func (m *fakeForwarder) Resolve(frame []byte, nextHop netip.Addr, out *iface.Interface, in *iface.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, resolveCall{frame: frame, nextHop: nextHop, out: out, in: in})
}

func newTestGenerator(t *testing.T) (*Generator, *fakeForwarder) {
	routes := rib.NewTable()
	routes.Insert(rib.Route{Prefix: eth0.Network(), Iface: "eth0", Source: rib.RouteSourceConnected})
	routes.Insert(rib.Route{Prefix: eth1.Network(), Iface: "eth1", Source: rib.RouteSourceConnected})
	routes.Insert(rib.Route{
		Prefix:  netip.MustParsePrefix("10.0.3.0/24"),
		Gateway: netip.MustParseAddr("10.0.2.2"),
		Iface:   "eth1",
		Metric:  1,
		Source:  rib.RouteSourceRIP,
	})

	forwarder := &fakeForwarder{}
	generator := NewGenerator(
		iface.MustNewSet(eth0, eth1),
		routes,
		forwarder,
		WithLog(zaptest.NewLogger(t).Sugar()),
	)
	return generator, forwarder
}

func TestEchoReply(t *testing.T) {
	generator, forwarder := newTestGenerator(t)

	payload := []byte("ping payload 0123456789")
	frame := pkttest.EchoRequestFrame(t, clientMAC, eth0.HardwareAddr, client, eth1.Addr(), 63, 0x1234, 7, payload)

	generator.EchoReply(frame[xpacket.EthernetHeaderLen:])

	require.Len(t, forwarder.calls, 1)
	call := forwarder.calls[0]
	assert.Equal(t, client, call.nextHop)
	assert.Equal(t, "eth0", call.out.Name)
	assert.Nil(t, call.in)

	pkt := pkttest.Decode(t, call.frame)
	assert.Equal(t, eth0.HardwareAddr, pkttest.Ethernet(t, pkt).SrcMAC)

	ip := pkttest.IPv4(t, pkt)
	assert.Equal(t, eth1.Addr().AsSlice(), []byte(ip.SrcIP.To4()), "echo replies are sourced from the pinged address")
	assert.Equal(t, client.AsSlice(), []byte(ip.DstIP.To4()))
	assert.Equal(t, uint8(DefaultTTL), ip.TTL)

	hdr, err := xpacket.IPv4Header(call.frame[xpacket.EthernetHeaderLen:])
	require.NoError(t, err)
	assert.True(t, xpacket.ValidIPv4Checksum(hdr))

	msg := pkttest.ICMPv4(t, pkt)
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoReply), msg.TypeCode.Type())
	assert.Equal(t, uint8(0), msg.TypeCode.Code())
	assert.Equal(t, uint16(0x1234), msg.Id)
	assert.Equal(t, uint16(7), msg.Seq)
	assert.Equal(t, payload, msg.Payload)
}

func TestEchoReplyIgnoresOtherMessages(t *testing.T) {
	generator, forwarder := newTestGenerator(t)

	frame := pkttest.UDPFrame(t, clientMAC, eth0.HardwareAddr, client, eth0.Addr(), 63, 9000, []byte("data"))
	generator.EchoReply(frame[xpacket.EthernetHeaderLen:])

	assert.Empty(t, forwarder.calls)
}

func TestErrorMessages(t *testing.T) {
	payload := []byte("0123456789abcdef")

	tests := []struct {
		name    string
		kind    Kind
		src     netip.Addr
		in      *iface.Interface
		nextHop netip.Addr
		out     string
	}{
		{
			name:    "TimeExceeded",
			kind:    TimeExceeded,
			src:     client,
			in:      eth0,
			nextHop: client,
			out:     "eth0",
		},
		{
			name:    "NetUnreachableViaGateway",
			kind:    NetUnreachable,
			src:     remote,
			in:      eth1,
			nextHop: netip.MustParseAddr("10.0.2.2"),
			out:     "eth1",
		},
		{
			name:    "PortUnreachable",
			kind:    PortUnreachable,
			src:     client,
			in:      eth0,
			nextHop: client,
			out:     "eth0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, forwarder := newTestGenerator(t)

			frame := pkttest.UDPFrame(t, clientMAC, tt.in.HardwareAddr, tt.src, netip.MustParseAddr("10.0.9.9"), 1, 9000, payload)
			packet := frame[xpacket.EthernetHeaderLen:]
			generator.Error(tt.kind, packet, tt.in)

			require.Len(t, forwarder.calls, 1)
			call := forwarder.calls[0]
			assert.Equal(t, tt.nextHop, call.nextHop)
			assert.Equal(t, tt.out, call.out.Name)
			assert.Nil(t, call.in)

			pkt := pkttest.Decode(t, call.frame)
			ip := pkttest.IPv4(t, pkt)
			assert.Equal(t, tt.in.Addr().AsSlice(), []byte(ip.SrcIP.To4()))
			assert.Equal(t, tt.src.AsSlice(), []byte(ip.DstIP.To4()))
			assert.Equal(t, layers.IPProtocolICMPv4, ip.Protocol)

			msg := pkttest.ICMPv4(t, pkt)
			assert.Equal(t, tt.kind.Type, msg.TypeCode.Type())
			assert.Equal(t, tt.kind.Code, msg.TypeCode.Code())
			assert.Zero(t, msg.Id)
			assert.Zero(t, msg.Seq)
			// Original header plus the first 8 bytes of its payload.
			assert.Equal(t, packet[:20+8], msg.Payload)
		})
	}
}

func TestHostUnreachable(t *testing.T) {
	generator, forwarder := newTestGenerator(t)

	frame := pkttest.UDPFrame(t, eth1.HardwareAddr, clientMAC, client, netip.MustParseAddr("10.0.2.77"), 63, 9000, []byte("0123456789"))
	generator.HostUnreachable(frame, eth0)

	require.Len(t, forwarder.calls, 1)
	msg := pkttest.ICMPv4(t, pkttest.Decode(t, forwarder.calls[0].frame))
	assert.Equal(t, HostUnreachable.Type, msg.TypeCode.Type())
	assert.Equal(t, HostUnreachable.Code, msg.TypeCode.Code())
	assert.Equal(t, frame[xpacket.EthernetHeaderLen:xpacket.EthernetHeaderLen+28], msg.Payload)
}

func TestAbandonedMessages(t *testing.T) {
	t.Run("NoRouteToSource", func(t *testing.T) {
		generator, forwarder := newTestGenerator(t)

		frame := pkttest.UDPFrame(t, clientMAC, eth0.HardwareAddr, netip.MustParseAddr("192.168.1.1"), client, 1, 9000, nil)
		generator.Error(TimeExceeded, frame[xpacket.EthernetHeaderLen:], eth0)
		assert.Empty(t, forwarder.calls)
	})

	t.Run("SelfTargeted", func(t *testing.T) {
		generator, forwarder := newTestGenerator(t)

		frame := pkttest.UDPFrame(t, clientMAC, eth0.HardwareAddr, eth1.Addr(), client, 1, 9000, nil)
		generator.Error(NetUnreachable, frame[xpacket.EthernetHeaderLen:], eth0)
		assert.Empty(t, forwarder.calls)
	})

	t.Run("ErrorAboutError", func(t *testing.T) {
		generator, forwarder := newTestGenerator(t)

		original := pkttest.UDPFrame(t, clientMAC, eth0.HardwareAddr, client, remote, 1, 9000, []byte("0123456789"))
		generator.Error(TimeExceeded, original[xpacket.EthernetHeaderLen:], eth0)
		require.Len(t, forwarder.calls, 1)

		// Feed the generated error back as if it expired on the way.
		generated := forwarder.calls[0].frame
		generator.Error(TimeExceeded, generated[xpacket.EthernetHeaderLen:], eth1)
		assert.Len(t, forwarder.calls, 1)
	})

	t.Run("Truncated", func(t *testing.T) {
		generator, forwarder := newTestGenerator(t)

		generator.Error(TimeExceeded, []byte{0x45, 0x00}, eth0)
		generator.HostUnreachable([]byte{0x01}, eth0)
		assert.Empty(t, forwarder.calls)
	})
}
