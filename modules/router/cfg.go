package router

import (
	"fmt"
	"net/netip"
	"time"
)

// Config is the router configuration.
type Config struct {
	// RIP enables the route advertisement engine.
	//
	// When disabled, the routing table holds only connected and static
	// routes, and RIP messages are dropped.
	RIP bool `yaml:"rip"`
	// AdvertiseInterval is the period of unsolicited route advertisements.
	AdvertiseInterval time.Duration `yaml:"advertise_interval"`
	// RouteTimeout is how long a learned route lives without being
	// refreshed.
	RouteTimeout time.Duration `yaml:"route_timeout"`
	// SweepInterval is how often stale learned routes are looked for.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ARPRetryInterval is the delay between two ARP requests for the same
	// next hop.
	ARPRetryInterval time.Duration `yaml:"arp_retry_interval"`
	// ARPAttempts is the number of unanswered ARP requests after which a
	// next hop is considered unreachable.
	ARPAttempts int `yaml:"arp_attempts"`
	// StaticRoutes are installed at startup and never aged.
	StaticRoutes []StaticRoute `yaml:"static_routes"`
	// StaticARP entries are installed at startup and never replaced.
	StaticARP []StaticNeighbour `yaml:"static_arp"`
}

// StaticRoute is a bootstrap routing table entry.
type StaticRoute struct {
	Prefix netip.Prefix `yaml:"prefix"`
	// Gateway is the next hop, empty for directly reachable destinations.
	Gateway netip.Addr `yaml:"gateway"`
	Iface   string     `yaml:"iface"`
	Metric  uint32     `yaml:"metric"`
}

// StaticNeighbour is a bootstrap ARP cache entry.
type StaticNeighbour struct {
	Addr netip.Addr `yaml:"addr"`
	// HardwareAddr is the MAC address in any form accepted by
	// net.ParseMAC.
	HardwareAddr string `yaml:"hardware_addr"`
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() *Config {
	return &Config{
		RIP:               true,
		AdvertiseInterval: 10 * time.Second,
		RouteTimeout:      30 * time.Second,
		SweepInterval:     time.Second,
		ARPRetryInterval:  time.Second,
		ARPAttempts:       3,
	}
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	timers := []struct {
		name  string
		value time.Duration
	}{
		{"advertise_interval", m.AdvertiseInterval},
		{"route_timeout", m.RouteTimeout},
		{"sweep_interval", m.SweepInterval},
		{"arp_retry_interval", m.ARPRetryInterval},
	}
	for _, timer := range timers {
		if timer.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", timer.name, timer.value)
		}
	}
	if m.ARPAttempts < 1 {
		return fmt.Errorf("arp_attempts must be at least 1, got %d", m.ARPAttempts)
	}
	return nil
}
