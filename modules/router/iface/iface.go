// Package iface describes the router's configured interfaces and the frame
// transmission primitive they are driven through.
package iface

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrUnknownInterface is returned when a frame is addressed to an interface
// the router does not own.
var ErrUnknownInterface = errors.New("unknown interface")

// BroadcastMAC is the Ethernet broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Interface is a configured router port. It is immutable after startup.
type Interface struct {
	// Name identifies the interface, e.g. "eth0".
	Name string
	// Prefix is the assigned address together with its mask, e.g.
	// 10.0.1.1/24.
	Prefix netip.Prefix
	// HardwareAddr is the link address of the interface.
	HardwareAddr net.HardwareAddr
}

// Addr returns the interface address.
func (m *Interface) Addr() netip.Addr {
	return m.Prefix.Addr()
}

// Network returns the directly attached network, that is the interface
// address AND its mask.
func (m *Interface) Network() netip.Prefix {
	return m.Prefix.Masked()
}

func (m *Interface) String() string {
	return fmt.Sprintf("%s(%s %s)", m.Name, m.Prefix, m.HardwareAddr)
}

// Sender transmits a complete Ethernet frame out of an interface.
type Sender interface {
	Send(frame []byte, out *Interface) error
}

// SenderFunc is an adapter to allow the use of ordinary functions as a
// Sender.
type SenderFunc func(frame []byte, out *Interface) error

// Send calls f(frame, out).
func (f SenderFunc) Send(frame []byte, out *Interface) error {
	return f(frame, out)
}

// Handler processes a frame received on an interface.
//
// The frame is only valid for the duration of the call.
type Handler func(frame []byte, in *Interface)

// Set is an ordered, read-only collection of interfaces.
type Set struct {
	list   []*Interface
	byName map[string]*Interface
	byAddr map[netip.Addr]*Interface
}

// NewSet validates the given interfaces and builds a set from them.
func NewSet(ifaces ...*Interface) (*Set, error) {
	set := &Set{
		list:   make([]*Interface, 0, len(ifaces)),
		byName: make(map[string]*Interface, len(ifaces)),
		byAddr: make(map[netip.Addr]*Interface, len(ifaces)),
	}

	for _, ifc := range ifaces {
		if ifc.Name == "" {
			return nil, fmt.Errorf("interface with address %s has no name", ifc.Prefix)
		}
		if !ifc.Prefix.IsValid() || !ifc.Prefix.Addr().Is4() {
			return nil, fmt.Errorf("interface %q: invalid IPv4 prefix %q", ifc.Name, ifc.Prefix)
		}
		if len(ifc.HardwareAddr) != 6 {
			return nil, fmt.Errorf("interface %q: unsupported hardware address %q: must be EUI-48", ifc.Name, ifc.HardwareAddr)
		}
		if _, ok := set.byName[ifc.Name]; ok {
			return nil, fmt.Errorf("duplicate interface %q", ifc.Name)
		}
		if other, ok := set.byAddr[ifc.Addr()]; ok {
			return nil, fmt.Errorf("interfaces %q and %q share address %s", other.Name, ifc.Name, ifc.Addr())
		}

		set.list = append(set.list, ifc)
		set.byName[ifc.Name] = ifc
		set.byAddr[ifc.Addr()] = ifc
	}

	return set, nil
}

// MustNewSet is like NewSet but panics on error.
func MustNewSet(ifaces ...*Interface) *Set {
	set, err := NewSet(ifaces...)
	if err != nil {
		panic(err)
	}
	return set
}

// All returns the interfaces in configuration order.
func (m *Set) All() []*Interface {
	return m.list
}

// Len returns the number of interfaces.
func (m *Set) Len() int {
	return len(m.list)
}

// ByName looks up an interface by its name.
func (m *Set) ByName(name string) (*Interface, bool) {
	ifc, ok := m.byName[name]
	return ifc, ok
}

// ByAddr looks up the interface owning the given address.
func (m *Set) ByAddr(addr netip.Addr) (*Interface, bool) {
	ifc, ok := m.byAddr[addr]
	return ifc, ok
}

// IsLocal reports whether the address belongs to one of the interfaces.
func (m *Set) IsLocal(addr netip.Addr) bool {
	_, ok := m.byAddr[addr]
	return ok
}
