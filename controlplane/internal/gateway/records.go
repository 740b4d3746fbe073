package gateway

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/vrouter/modules/router"
	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// RouteRecord is a routing table entry as exposed by the gateway.
type RouteRecord struct {
	Prefix    netip.Prefix
	Gateway   netip.Addr
	Iface     string
	Metric    uint32
	UpdatedAt time.Time
	Source    string
}

// NeighbourRecord is an ARP cache entry as exposed by the gateway.
type NeighbourRecord struct {
	Addr         netip.Addr
	HardwareAddr net.HardwareAddr
	Static       bool
	UpdatedAt    time.Time
}

// InterfaceRecord is a router interface as exposed by the gateway.
type InterfaceRecord struct {
	Name         string
	Prefix       netip.Prefix
	HardwareAddr net.HardwareAddr
}

func newRouteRecord(route router.Route) RouteRecord {
	return RouteRecord{
		Prefix:    route.Prefix,
		Gateway:   route.Gateway,
		Iface:     route.Iface,
		Metric:    route.Metric,
		UpdatedAt: route.UpdatedAt,
		Source:    route.Source.String(),
	}
}

func (m RouteRecord) asMap() map[string]any {
	gateway := ""
	if m.Gateway.IsValid() {
		gateway = m.Gateway.String()
	}
	return map[string]any{
		"prefix":     m.Prefix.String(),
		"gateway":    gateway,
		"iface":      m.Iface,
		"metric":     m.Metric,
		"updated_at": m.UpdatedAt.Format(time.RFC3339Nano),
		"source":     m.Source,
	}
}

func newNeighbourRecord(entry router.Neighbour) NeighbourRecord {
	return NeighbourRecord{
		Addr:         entry.NextHop,
		HardwareAddr: entry.HardwareAddr,
		Static:       entry.Static,
		UpdatedAt:    entry.UpdatedAt,
	}
}

func (m NeighbourRecord) asMap() map[string]any {
	return map[string]any{
		"addr":          m.Addr.String(),
		"hardware_addr": m.HardwareAddr.String(),
		"static":        m.Static,
		"updated_at":    m.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func newInterfaceRecord(ifc *iface.Interface) InterfaceRecord {
	return InterfaceRecord{
		Name:         ifc.Name,
		Prefix:       ifc.Prefix,
		HardwareAddr: ifc.HardwareAddr,
	}
}

func (m InterfaceRecord) asMap() map[string]any {
	return map[string]any{
		"name":          m.Name,
		"prefix":        m.Prefix.String(),
		"hardware_addr": m.HardwareAddr.String(),
	}
}

// listStruct packs records under the given key.
func listStruct[T interface{ asMap() map[string]any }](key string, records []T) (*structpb.Struct, error) {
	items := make([]any, 0, len(records))
	for _, record := range records {
		items = append(items, record.asMap())
	}
	return structpb.NewStruct(map[string]any{key: items})
}

// recordFields is a typed view over the fields of a decoded record.
type recordFields struct {
	fields map[string]*structpb.Value
	err    error
}

func (m *recordFields) string(key string) string {
	v, ok := m.fields[key]
	if !ok {
		m.fail(fmt.Errorf("missing field %q", key))
		return ""
	}
	return v.GetStringValue()
}

func (m *recordFields) number(key string) float64 {
	v, ok := m.fields[key]
	if !ok {
		m.fail(fmt.Errorf("missing field %q", key))
		return 0
	}
	return v.GetNumberValue()
}

func (m *recordFields) bool(key string) bool {
	return m.fields[key].GetBoolValue()
}

func (m *recordFields) prefix(key string) netip.Prefix {
	prefix, err := netip.ParsePrefix(m.string(key))
	m.fail(err)
	return prefix
}

func (m *recordFields) addr(key string) netip.Addr {
	s := m.string(key)
	if s == "" {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(s)
	m.fail(err)
	return addr
}

func (m *recordFields) hardwareAddr(key string) net.HardwareAddr {
	hardwareAddr, err := net.ParseMAC(m.string(key))
	m.fail(err)
	return hardwareAddr
}

func (m *recordFields) time(key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.string(key))
	m.fail(err)
	return t
}

func (m *recordFields) fail(err error) {
	if m.err == nil && err != nil {
		m.err = err
	}
}

// decodeList unpacks records stored under the given key.
func decodeList[T any](s *structpb.Struct, key string, decode func(*recordFields) T) ([]T, error) {
	value, ok := s.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", key)
	}

	values := value.GetListValue().GetValues()
	out := make([]T, 0, len(values))
	for idx, v := range values {
		fields := &recordFields{fields: v.GetStructValue().GetFields()}
		record := decode(fields)
		if fields.err != nil {
			return nil, fmt.Errorf("malformed %s record #%d: %w", key, idx, fields.err)
		}
		out = append(out, record)
	}
	return out, nil
}

func decodeRoute(f *recordFields) RouteRecord {
	return RouteRecord{
		Prefix:    f.prefix("prefix"),
		Gateway:   f.addr("gateway"),
		Iface:     f.string("iface"),
		Metric:    uint32(f.number("metric")),
		UpdatedAt: f.time("updated_at"),
		Source:    f.string("source"),
	}
}

func decodeNeighbour(f *recordFields) NeighbourRecord {
	return NeighbourRecord{
		Addr:         f.addr("addr"),
		HardwareAddr: f.hardwareAddr("hardware_addr"),
		Static:       f.bool("static"),
		UpdatedAt:    f.time("updated_at"),
	}
}

func decodeInterface(f *recordFields) InterfaceRecord {
	return InterfaceRecord{
		Name:         f.string("name"),
		Prefix:       f.prefix("prefix"),
		HardwareAddr: f.hardwareAddr("hardware_addr"),
	}
}
