package icmp

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/internal/rib"
)

// DefaultTTL is the TTL of generated messages.
const DefaultTTL = 64

// quotedPayloadLen is how many bytes after the offending IP header are
// quoted in error messages.
const quotedPayloadLen = 8

// Kind is an ICMP (type, code) pair the router is able to generate.
type Kind struct {
	Type uint8
	Code uint8
}

var (
	EchoReply       = Kind{Type: layers.ICMPv4TypeEchoReply, Code: 0}
	TimeExceeded    = Kind{Type: layers.ICMPv4TypeTimeExceeded, Code: layers.ICMPv4CodeTTLExceeded}
	NetUnreachable  = Kind{Type: layers.ICMPv4TypeDestinationUnreachable, Code: layers.ICMPv4CodeNet}
	HostUnreachable = Kind{Type: layers.ICMPv4TypeDestinationUnreachable, Code: layers.ICMPv4CodeHost}
	PortUnreachable = Kind{Type: layers.ICMPv4TypeDestinationUnreachable, Code: layers.ICMPv4CodePort}
)

func (m Kind) String() string {
	return layers.CreateICMPv4TypeCode(m.Type, m.Code).String()
}

// Forwarder transmits a frame towards a next hop, resolving its link address
// first.
type Forwarder interface {
	Resolve(frame []byte, nextHop netip.Addr, out *iface.Interface, in *iface.Interface)
}

// Option is a function that configures the generator.
type Option func(*options)

// WithLog configures the generator with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Generator synthesizes ICMP replies and errors and routes them back to the
// source of the offending packet.
type Generator struct {
	ifaces    *iface.Set
	routes    *rib.Table
	forwarder Forwarder
	log       *zap.SugaredLogger
}

// NewGenerator creates a new ICMP generator.
func NewGenerator(ifaces *iface.Set, routes *rib.Table, forwarder Forwarder, options ...Option) *Generator {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Generator{
		ifaces:    ifaces,
		routes:    routes,
		forwarder: forwarder,
		log:       opts.Log,
	}
}

// Error sends an error message of the given kind about the IPv4 packet
// received on the in interface.
//
// The packet must start at the IPv4 header. The message quotes that header
// followed by the first 8 bytes of its payload.
func (m *Generator) Error(kind Kind, packet []byte, in *iface.Interface) {
	hdr, err := xpacket.IPv4Header(packet)
	if err != nil {
		m.log.Debugw("skipped ICMP error for malformed packet", zap.Error(err))
		return
	}
	if isError(packet, len(hdr)) {
		// Never report errors about errors.
		return
	}

	quoted := packet[:min(len(hdr)+quotedPayloadLen, len(packet))]
	msg := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(kind.Type, kind.Code),
	}

	m.send(kind, msg, gopacket.Payload(xpacket.Clone(quoted)), in.Addr(), srcAddr(hdr))
}

// HostUnreachable sends a host unreachable error about an Ethernet frame that
// could not be delivered.
func (m *Generator) HostUnreachable(frame []byte, in *iface.Interface) {
	if len(frame) <= xpacket.EthernetHeaderLen {
		return
	}
	m.Error(HostUnreachable, frame[xpacket.EthernetHeaderLen:], in)
}

// EchoReply answers an echo request addressed to one of the router
// interfaces.
//
// The reply is sourced from the address the request was sent to and carries
// the request identifier, sequence number and payload unchanged.
func (m *Generator) EchoReply(packet []byte) {
	pkt := gopacket.NewPacket(packet, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return
	}
	request, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok || request.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return
	}

	dst, ok := netip.AddrFromSlice(ip.DstIP)
	if !ok {
		return
	}
	src, ok := netip.AddrFromSlice(ip.SrcIP)
	if !ok {
		return
	}

	msg := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(EchoReply.Type, EchoReply.Code),
		Id:       request.Id,
		Seq:      request.Seq,
	}
	m.send(EchoReply, msg, gopacket.Payload(xpacket.Clone(request.Payload)), dst, src)
}

func (m *Generator) send(kind Kind, msg *layers.ICMPv4, payload gopacket.Payload, src netip.Addr, dst netip.Addr) {
	if m.ifaces.IsLocal(dst) {
		m.log.Debugw("abandoned self-targeted ICMP message", zap.Stringer("kind", kind), zap.Stringer("dst", dst))
		return
	}

	route, ok := m.routes.LongestMatch(dst)
	if !ok {
		m.log.Debugw("abandoned unroutable ICMP message", zap.Stringer("kind", kind), zap.Stringer("dst", dst))
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

	frame, err := buildFrame(msg, payload, src, dst, out)
	if err != nil {
		m.log.Warnw("failed to build ICMP message", zap.Stringer("kind", kind), zap.Error(err))
		return
	}

	m.log.Debugw("sending ICMP message",
		zap.Stringer("kind", kind),
		zap.Stringer("src", src),
		zap.Stringer("dst", dst),
		zap.String("iface", out.Name),
	)
	m.forwarder.Resolve(frame, route.NextHop(dst), out, nil)
}

func buildFrame(msg *layers.ICMPv4, payload gopacket.Payload, src netip.Addr, dst netip.Addr, out *iface.Interface) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       out.HardwareAddr,
		DstMAC:       iface.BroadcastMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}

	frame, err := xpacket.Serialize(eth, ip, msg, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", msg.TypeCode, err)
	}
	return frame, nil
}

func srcAddr(hdr []byte) netip.Addr {
	return netip.AddrFrom4([4]byte(hdr[12:16]))
}

// isError reports whether the packet carries an ICMP error message.
func isError(packet []byte, hdrLen int) bool {
	if layers.IPProtocol(packet[9]) != layers.IPProtocolICMPv4 || len(packet) <= hdrLen {
		return false
	}

	switch packet[hdrLen] {
	case layers.ICMPv4TypeDestinationUnreachable,
		layers.ICMPv4TypeTimeExceeded,
		layers.ICMPv4TypeParameterProblem,
		layers.ICMPv4TypeSourceQuench,
		layers.ICMPv4TypeRedirect:
		return true
	default:
		return false
	}
}
