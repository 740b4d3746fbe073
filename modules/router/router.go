package router

import (
	"context"
	"fmt"
	"net"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/common/go/xpacket"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/internal/icmp"
	"github.com/yanet-platform/vrouter/modules/router/internal/neigh"
	"github.com/yanet-platform/vrouter/modules/router/internal/rib"
	"github.com/yanet-platform/vrouter/modules/router/internal/rip"
)

// Route is a routing table entry.
type Route = rib.Route

// Route origins.
const (
	RouteSourceConnected = rib.RouteSourceConnected
	RouteSourceStatic    = rib.RouteSourceStatic
	RouteSourceRIP       = rib.RouteSourceRIP
)

// Neighbour is an ARP cache entry.
type Neighbour = neigh.NeighbourEntry

// Option is a function that configures the router.
type Option func(*options)

// WithLog configures the router with a logger.
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

// Router is a software IPv4 router.
//
// Frames enter through HandleFrame, which is safe to call concurrently from
// any number of receive loops, and leave through the sender passed at
// construction.
type Router struct {
	cfg      *Config
	ifaces   *iface.Set
	routes   *rib.Table
	resolver *neigh.Resolver
	icmp     *icmp.Generator
	rip      *rip.Engine
	log      *zap.SugaredLogger
}

// NewRouter creates a new router over the given interfaces.
//
// Connected routes, static routes and static ARP entries are installed
// immediately.
func NewRouter(cfg *Config, ifaces *iface.Set, sender iface.Sender, options ...Option) (*Router, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	log := opts.Log

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router configuration: %w", err)
	}

	routes := rib.NewTable(rib.WithLog(log.Named("rib")))

	m := &Router{
		cfg:    cfg,
		ifaces: ifaces,
		routes: routes,
		log:    log,
	}

	// Frames of failed resolutions are reported through the ICMP
	// generator, which in turn transmits through the resolver.
	m.resolver = neigh.NewResolver(ifaces, sender,
		neigh.WithLog(log.Named("neigh")),
		neigh.WithRetryInterval(cfg.ARPRetryInterval),
		neigh.WithMaxAttempts(cfg.ARPAttempts),
		neigh.WithUnreachableHandler(func(frame []byte, in *iface.Interface) {
			m.icmp.HostUnreachable(frame, in)
		}),
	)
	m.icmp = icmp.NewGenerator(ifaces, routes, m.resolver, icmp.WithLog(log.Named("icmp")))
	m.rip = rip.NewEngine(ifaces, routes, sender,
		rip.WithLog(log.Named("rip")),
		rip.WithAdvertiseInterval(cfg.AdvertiseInterval),
		rip.WithRouteTimeout(cfg.RouteTimeout),
		rip.WithSweepInterval(cfg.SweepInterval),
	)

	m.rip.InstallConnected()
	if err := m.bootstrap(); err != nil {
		m.resolver.Close()
		return nil, fmt.Errorf("failed to load static configuration: %w", err)
	}

	return m, nil
}

func (m *Router) bootstrap() error {
	for _, route := range m.cfg.StaticRoutes {
		if !route.Prefix.IsValid() || !route.Prefix.Addr().Is4() {
			return fmt.Errorf("static route %q: invalid IPv4 prefix", route.Prefix)
		}
		if _, ok := m.ifaces.ByName(route.Iface); !ok {
			return fmt.Errorf("static route %s: %w %q", route.Prefix, iface.ErrUnknownInterface, route.Iface)
		}

		m.routes.Insert(rib.Route{
			Prefix:  route.Prefix,
			Gateway: route.Gateway,
			Iface:   route.Iface,
			Metric:  route.Metric,
			Source:  rib.RouteSourceStatic,
		})
	}

	for _, neighbour := range m.cfg.StaticARP {
		if !neighbour.Addr.Is4() {
			return fmt.Errorf("static ARP entry %q: address is not IPv4", neighbour.Addr)
		}
		hardwareAddr, err := net.ParseMAC(neighbour.HardwareAddr)
		if err != nil {
			return fmt.Errorf("static ARP entry %s: %w", neighbour.Addr, err)
		}

		m.resolver.InsertStatic(neighbour.Addr, hardwareAddr)
	}

	m.log.Infow("loaded static configuration",
		zap.Int("routes", len(m.cfg.StaticRoutes)),
		zap.Int("neighbours", m.resolver.Cache().Len()),
	)
	return nil
}

// Run runs the route advertisement engine until the specified context is
// canceled.
//
// Pending resolutions are abandoned on return.
func (m *Router) Run(ctx context.Context) error {
	defer m.resolver.Close()

	if !m.cfg.RIP {
		m.log.Infow("route advertisement is disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	return m.rip.Run(ctx)
}

// Close abandons pending resolutions and waits for their goroutines.
func (m *Router) Close() {
	m.resolver.Close()
}

// HandleFrame dispatches a frame received on the in interface.
//
// The frame is not retained after the call returns.
func (m *Router) HandleFrame(frame []byte, in *iface.Interface) {
	pkt := xpacket.ParseEtherPacket(frame)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return
	}

	switch eth.EthernetType {
	case layers.EthernetTypeARP:
		if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
			m.resolver.HandleARP(arp, in)
		}
	case layers.EthernetTypeIPv4:
		if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok && udp.DstPort == rip.Port {
			if !m.cfg.RIP {
				m.log.Debugw("dropped RIP message: route advertisement is disabled", zap.String("iface", in.Name))
				return
			}
			m.rip.HandlePacket(pkt, in)
			return
		}
		m.forward(frame, in)
	default:
		m.log.Debugw("dropped frame of unsupported type",
			zap.Stringer("type", eth.EthernetType),
			zap.String("iface", in.Name),
		)
	}
}

// Interfaces returns the router interfaces.
func (m *Router) Interfaces() []*iface.Interface {
	return m.ifaces.All()
}

// Routes returns a snapshot of the routing table.
func (m *Router) Routes() []Route {
	return m.routes.Dump()
}

// Neighbours returns a snapshot of the ARP cache.
func (m *Router) Neighbours() []Neighbour {
	return m.resolver.Neighbours()
}

// PendingResolutions returns the number of next hops being resolved.
func (m *Router) PendingResolutions() int {
	return m.resolver.PendingNextHops()
}
