package rip

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/internal/rib"
)

// MulticastAddr is the group unsolicited messages are sent to.
var MulticastAddr = netip.MustParseAddr("224.0.0.9")

// TTL of every emitted message.
const TTL = 15

// Option is a function that configures the engine.
type Option func(*options)

// WithLog configures the engine with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithAdvertiseInterval sets the period of unsolicited responses.
func WithAdvertiseInterval(interval time.Duration) Option {
	return func(o *options) {
		o.AdvertiseInterval = interval
	}
}

// WithRouteTimeout sets how long a learned route lives without refresh.
func WithRouteTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.RouteTimeout = timeout
	}
}

// WithSweepInterval sets how often stale routes are looked for.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		o.SweepInterval = interval
	}
}

type options struct {
	Log               *zap.SugaredLogger
	AdvertiseInterval time.Duration
	RouteTimeout      time.Duration
	SweepInterval     time.Duration
}

func newOptions() *options {
	return &options{
		Log:               zap.NewNop().Sugar(),
		AdvertiseInterval: 10 * time.Second,
		RouteTimeout:      30 * time.Second,
		SweepInterval:     time.Second,
	}
}

// Engine is the distance-vector route advertisement engine.
type Engine struct {
	ifaces            *iface.Set
	routes            *rib.Table
	sender            iface.Sender
	advertiseInterval time.Duration
	routeTimeout      time.Duration
	sweepInterval     time.Duration
	log               *zap.SugaredLogger
}

// NewEngine creates a new route advertisement engine.
func NewEngine(ifaces *iface.Set, routes *rib.Table, sender iface.Sender, options ...Option) *Engine {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Engine{
		ifaces:            ifaces,
		routes:            routes,
		sender:            sender,
		advertiseInterval: opts.AdvertiseInterval,
		routeTimeout:      opts.RouteTimeout,
		sweepInterval:     opts.SweepInterval,
		log:               opts.Log,
	}
}

// InstallConnected adds one directly connected route per interface.
func (m *Engine) InstallConnected() {
	for _, ifc := range m.ifaces.All() {
		m.routes.Insert(rib.Route{
			Prefix: ifc.Network(),
			Iface:  ifc.Name,
			Source: rib.RouteSourceConnected,
		})
	}
}

// Run solicits the neighbours and then advertises the table and ages learned
// routes until the context is canceled.
//
// Connected routes are expected to be installed beforehand.
func (m *Engine) Run(ctx context.Context) error {
	m.log.Infow("starting RIP engine",
		zap.Duration("advertise_interval", m.advertiseInterval),
		zap.Duration("route_timeout", m.routeTimeout),
	)
	defer m.log.Infow("stopped RIP engine")

	m.Solicit()

	advertise := time.NewTicker(m.advertiseInterval)
	defer advertise.Stop()
	sweep := time.NewTicker(m.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-advertise.C:
			m.Advertise()
		case <-sweep.C:
			m.routes.Expire(m.routeTimeout)
		}
	}
}

// Solicit broadcasts a whole-table request on every interface.
func (m *Engine) Solicit() {
	for _, out := range m.ifaces.All() {
		m.send(NewRequest(), out, iface.BroadcastMAC, MulticastAddr)
	}
}

// Advertise broadcasts the whole table on every interface.
func (m *Engine) Advertise() {
	entries := m.entries()
	for _, out := range m.ifaces.All() {
		m.sendResponse(entries, out, iface.BroadcastMAC, MulticastAddr)
	}
}

// HandlePacket processes a RIP message received on the in interface.
func (m *Engine) HandlePacket(pkt gopacket.Packet, in *iface.Interface) {
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return
	}
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || udp.DstPort != Port {
		return
	}

	hdr, err := xpacket.IPv4Header(ip.Contents)
	if err != nil || !xpacket.ValidIPv4Checksum(hdr) {
		m.log.Debugw("dropped RIP message with invalid IPv4 header", zap.String("iface", in.Name))
		return
	}

	sender, ok := netip.AddrFromSlice(ip.SrcIP)
	if !ok || m.ifaces.IsLocal(sender) {
		return
	}

	msg := &RIP{}
	if err := msg.DecodeFromBytes(udp.Payload, gopacket.NilDecodeFeedback); err != nil {
		m.log.Debugw("dropped RIP message",
			zap.Stringer("sender", sender),
			zap.String("iface", in.Name),
			zap.Error(err),
		)
		return
	}

	switch msg.Command {
	case CommandRequest:
		m.log.Debugw("answering RIP request", zap.Stringer("sender", sender), zap.String("iface", in.Name))
		m.sendResponse(m.entries(), in, eth.SrcMAC, sender)
	case CommandResponse:
		m.apply(msg.Entries, sender, in)
	default:
		m.log.Debugw("ignored RIP message", zap.Stringer("command", msg.Command), zap.Stringer("sender", sender))
	}
}

// apply merges advertised entries into the routing table.
//
// An absent destination is learned through the sender. A present one is
// replaced when the advertised path is strictly shorter or when the sender
// is the current gateway. Connected and static routes are never touched.
// The incremented metric saturates instead of wrapping.
func (m *Engine) apply(entries []Entry, sender netip.Addr, in *iface.Interface) {
	now := m.routes.Now()

	for _, entry := range entries {
		if entry.Family != familyIPv4 || !entry.Prefix.IsValid() {
			continue
		}
		metric := entry.Metric
		if metric < math.MaxUint32 {
			metric++
		}

		route, changed := m.routes.Upsert(entry.Prefix, func(current rib.Route, exists bool) (rib.Route, bool) {
			if exists {
				if !current.Expirable() {
					return current, false
				}
				if current.Metric <= metric && current.Gateway != sender {
					return current, false
				}
			}

			return rib.Route{
				Gateway:   sender,
				Iface:     in.Name,
				Metric:    metric,
				UpdatedAt: now,
				Source:    rib.RouteSourceRIP,
			}, true
		})
		if changed {
			m.log.Debugw("learned route",
				zap.Stringer("prefix", route.Prefix),
				zap.Stringer("gateway", route.Gateway),
				zap.String("iface", route.Iface),
				zap.Uint32("metric", route.Metric),
			)
		}
	}
}

func (m *Engine) entries() []Entry {
	routes := m.routes.Dump()

	entries := make([]Entry, 0, len(routes))
	for _, route := range routes {
		entries = append(entries, Entry{
			Family: familyIPv4,
			Prefix: route.Prefix,
			Metric: route.Metric,
		})
	}
	return entries
}

func (m *Engine) sendResponse(entries []Entry, out *iface.Interface, dstMAC net.HardwareAddr, dst netip.Addr) {
	for len(entries) > 0 {
		chunk := entries[:min(len(entries), MaxEntries)]
		entries = entries[len(chunk):]

		m.send(NewResponse(chunk), out, dstMAC, dst)
	}
}

func (m *Engine) send(msg *RIP, out *iface.Interface, dstMAC net.HardwareAddr, dst netip.Addr) {
	frame, err := buildFrame(msg, out, dstMAC, dst)
	if err != nil {
		m.log.Warnw("failed to build RIP message", zap.Stringer("command", msg.Command), zap.Error(err))
		return
	}

	if err := m.sender.Send(frame, out); err != nil {
		m.log.Warnw("failed to send RIP message",
			zap.Stringer("command", msg.Command),
			zap.String("iface", out.Name),
			zap.Error(err),
		)
	}
}

func buildFrame(msg *RIP, out *iface.Interface, dstMAC net.HardwareAddr, dst netip.Addr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       out.HardwareAddr,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      TTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    out.Addr().AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: Port,
		DstPort: Port,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set network layer for checksum: %w", err)
	}

	return xpacket.Serialize(eth, ip, udp, msg)
}
