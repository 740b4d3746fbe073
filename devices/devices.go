// Package devices attaches router interfaces to the outside world.
package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/vrouter/devices/afpacket"
	"github.com/yanet-platform/vrouter/devices/udp"
	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// ErrUnknownKind is returned for a device kind that has no driver.
var ErrUnknownKind = errors.New("unknown device kind")

// Kind names a device driver.
type Kind string

const (
	// KindUDP tunnels Ethernet frames through UDP datagrams.
	KindUDP Kind = "udp"
	// KindAFPacket drives a host link through a raw packet socket.
	KindAFPacket Kind = "afpacket"
)

// Device is a link a router interface is attached to.
type Device interface {
	// Interface returns the router interface the device backs.
	Interface() *iface.Interface
	// Send transmits a complete Ethernet frame.
	Send(frame []byte) error
	// Run passes received frames to the handler until the context is
	// canceled or the device is closed.
	Run(ctx context.Context, handler iface.Handler) error
	Close() error
}

// Config describes a single router interface and the device behind it.
type Config struct {
	// Name is the router interface name.
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
	// Addr is the interface address and mask.
	//
	// Required for UDP links. For AF_PACKET links it defaults to the
	// address of the host link.
	Addr netip.Prefix `yaml:"addr"`
	// HardwareAddr is the interface MAC address.
	//
	// Required for UDP links. AF_PACKET links always use the MAC of the
	// host link.
	HardwareAddr string `yaml:"hardware_addr"`

	UDP      *udp.Config      `yaml:"udp"`
	AFPacket *afpacket.Config `yaml:"afpacket"`
}

// UnmarshalYAML fills driver sections with their defaults before decoding.
func (m *Config) UnmarshalYAML(node *yaml.Node) error {
	type configProxy Config

	proxy := configProxy{
		UDP:      udp.DefaultConfig(),
		AFPacket: afpacket.DefaultConfig(),
	}
	if err := node.Decode(&proxy); err != nil {
		return err
	}

	*m = Config(proxy)
	return nil
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("interface name is required")
	}

	switch m.Kind {
	case KindUDP:
		if !m.Addr.IsValid() {
			return fmt.Errorf("interface %q: address is required", m.Name)
		}
		if _, err := net.ParseMAC(m.HardwareAddr); err != nil {
			return fmt.Errorf("interface %q: invalid hardware address: %w", m.Name, err)
		}
		if m.UDP == nil {
			return fmt.Errorf("interface %q: udp section is required", m.Name)
		}
		return m.UDP.Validate()
	case KindAFPacket:
		if m.AFPacket == nil {
			return fmt.Errorf("interface %q: afpacket section is required", m.Name)
		}
		return m.AFPacket.Validate()
	default:
		return fmt.Errorf("interface %q: %w: %q", m.Name, ErrUnknownKind, m.Kind)
	}
}

// Open creates the device described by the configuration.
func Open(cfg *Config, log *zap.SugaredLogger) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindUDP:
		hardwareAddr, err := net.ParseMAC(cfg.HardwareAddr)
		if err != nil {
			return nil, err
		}
		ifc := &iface.Interface{
			Name:         cfg.Name,
			Prefix:       cfg.Addr,
			HardwareAddr: hardwareAddr,
		}
		return udp.NewDevice(cfg.UDP, ifc, log)
	case KindAFPacket:
		afCfg := *cfg.AFPacket
		if cfg.Addr.IsValid() {
			afCfg.Addr = cfg.Addr
		}
		return afpacket.NewDevice(&afCfg, cfg.Name, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Devices is the set of opened devices, addressed by interface name.
type Devices struct {
	list   []Device
	byName map[string]Device
	ifaces *iface.Set
	log    *zap.SugaredLogger
}

// OpenAll opens every configured device.
//
// On failure already opened devices are closed.
func OpenAll(configs []*Config, log *zap.SugaredLogger) (*Devices, error) {
	devices := make([]Device, 0, len(configs))
	for _, cfg := range configs {
		device, err := Open(cfg, log)
		if err != nil {
			for _, device := range devices {
				device.Close()
			}
			return nil, fmt.Errorf("failed to open interface %q: %w", cfg.Name, err)
		}
		devices = append(devices, device)
	}

	m, err := New(devices, log)
	if err != nil {
		for _, device := range devices {
			device.Close()
		}
		return nil, err
	}
	return m, nil
}

// New wraps already opened devices.
func New(devices []Device, log *zap.SugaredLogger) (*Devices, error) {
	ifcs := make([]*iface.Interface, 0, len(devices))
	byName := make(map[string]Device, len(devices))
	for _, device := range devices {
		ifcs = append(ifcs, device.Interface())
		byName[device.Interface().Name] = device
	}

	set, err := iface.NewSet(ifcs...)
	if err != nil {
		return nil, fmt.Errorf("invalid interfaces: %w", err)
	}

	return &Devices{
		list:   devices,
		byName: byName,
		ifaces: set,
		log:    log,
	}, nil
}

// Interfaces returns the router interfaces backed by the devices.
func (m *Devices) Interfaces() *iface.Set {
	return m.ifaces
}

// Send transmits a frame through the device backing the interface.
func (m *Devices) Send(frame []byte, out *iface.Interface) error {
	device, ok := m.byName[out.Name]
	if !ok {
		return fmt.Errorf("%w: %q", iface.ErrUnknownInterface, out.Name)
	}
	return device.Send(frame)
}

// Run runs the receive loops of all devices.
func (m *Devices) Run(ctx context.Context, handler iface.Handler) error {
	wg, ctx := errgroup.WithContext(ctx)
	for _, device := range m.list {
		wg.Go(func() error {
			name := device.Interface().Name
			m.log.Debugw("starting receive loop", zap.String("iface", name))
			if err := device.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("interface %q: %w", name, err)
			}
			return nil
		})
	}
	return wg.Wait()
}

// Close closes all devices.
func (m *Devices) Close() error {
	var errs []error
	for _, device := range m.list {
		if err := device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
