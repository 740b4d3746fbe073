package rib

import (
	"cmp"
	"fmt"
	"net/netip"
	"time"

	"github.com/yanet-platform/vrouter/common/go/xnetip"
)

// RouteSourceID identifies how a route got into the table.
type RouteSourceID uint8

const (
	RouteSourceUnknown RouteSourceID = iota
	// RouteSourceConnected marks the network attached to one of the router
	// interfaces.
	RouteSourceConnected
	// RouteSourceStatic marks a route loaded from the bootstrap
	// configuration.
	RouteSourceStatic
	// RouteSourceRIP marks a route learned from a neighbour advertisement.
	RouteSourceRIP
)

func (m RouteSourceID) String() string {
	switch m {
	case RouteSourceConnected:
		return "connected"
	case RouteSourceStatic:
		return "static"
	case RouteSourceRIP:
		return "rip"
	default:
		return "unknown"
	}
}

// Route is a single routing table entry.
type Route struct {
	// Prefix is the destination network, always masked.
	Prefix netip.Prefix
	// Gateway is the next-hop router address.
	//
	// The zero address means that the destination is reachable directly
	// through Iface.
	Gateway netip.Addr
	// Iface is the name of the egress interface.
	Iface string
	// Metric is the hop count to the destination.
	Metric uint32
	// UpdatedAt is the last time the entry was installed or refreshed.
	UpdatedAt time.Time
	// Source identifies the origin of this route.
	Source RouteSourceID
}

// DirectlyConnected reports whether the route describes a network attached to
// one of the router interfaces.
func (m Route) DirectlyConnected() bool {
	return m.Source == RouteSourceConnected
}

// Expirable reports whether the route is subject to aging.
func (m Route) Expirable() bool {
	return m.Source == RouteSourceRIP
}

// NextHop returns the address the packet must be delivered to at the link
// layer: the gateway when set, the destination itself otherwise.
func (m Route) NextHop(dst netip.Addr) netip.Addr {
	if xnetip.IsZero(m.Gateway) {
		return dst
	}
	return m.Gateway
}

func (m Route) String() string {
	gateway := "0.0.0.0"
	if !xnetip.IsZero(m.Gateway) {
		gateway = m.Gateway.String()
	}

	return fmt.Sprintf("%s \t%s \t%s \t%s \t%d \t%d \t%t",
		m.Prefix.Addr(),
		gateway,
		xnetip.AddrFromUint32(xnetip.PrefixMask(m.Prefix)),
		m.Iface,
		m.Metric,
		m.UpdatedAt.UnixMilli(),
		m.DirectlyConnected(),
	)
}

// routeCompare orders routes from the most to the least specific prefix, then
// by network address.
func routeCompare(a Route, b Route) int {
	if bitsDiff := b.Prefix.Bits() - a.Prefix.Bits(); bitsDiff != 0 {
		return bitsDiff
	}
	return cmp.Compare(xnetip.Uint32(a.Prefix.Addr()), xnetip.Uint32(b.Prefix.Addr()))
}
