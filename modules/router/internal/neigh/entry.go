package neigh

import (
	"net"
	"net/netip"
	"time"

	"github.com/yanet-platform/vrouter/modules/router/internal/discovery"
)

// NeighbourEntry maps a next-hop address to its link address.
type NeighbourEntry struct {
	// NextHop is the IP address of the neighbour.
	NextHop netip.Addr
	// HardwareAddr is the MAC address of the neighbour.
	HardwareAddr net.HardwareAddr
	// Static marks entries loaded at startup. They are never replaced by
	// resolution replies.
	Static bool
	// UpdatedAt is the timestamp when this entry was last updated.
	UpdatedAt time.Time
}

func (m NeighbourEntry) String() string {
	kind := "dynamic"
	if m.Static {
		kind = "static"
	}
	return m.NextHop.String() + " \t" + m.HardwareAddr.String() + " \t" + kind
}

// NexthopCache is a cache of nexthops populated via address resolution.
type NexthopCache = discovery.Cache[netip.Addr, NeighbourEntry]
