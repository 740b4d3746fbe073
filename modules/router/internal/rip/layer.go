package rip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/vrouter/common/go/xnetip"
)

// Port is the UDP port RIP speakers listen and send on.
const Port = 520

// Version is the protocol version written into every message.
const Version = 2

const (
	headerLen = 4
	entryLen  = 20
	// MaxEntries is the maximum number of entries in a single message.
	MaxEntries = 25
	// familyIPv4 is the address family identifier of IPv4 entries.
	familyIPv4 = 2
	// MetricInfinity marks a whole-table request entry.
	MetricInfinity = 16
)

// ErrMalformed is returned when a message cannot be decoded.
var ErrMalformed = errors.New("malformed RIP message")

// Command is the RIP message command.
type Command uint8

const (
	CommandRequest  Command = 1
	CommandResponse Command = 2
)

func (m Command) String() string {
	switch m {
	case CommandRequest:
		return "request"
	case CommandResponse:
		return "response"
	default:
		return fmt.Sprintf("command(%d)", uint8(m))
	}
}

// LayerTypeRIP is the gopacket layer type of RIP messages.
var LayerTypeRIP = gopacket.RegisterLayerType(
	2520,
	gopacket.LayerTypeMetadata{
		Name:    "RIP",
		Decoder: gopacket.DecodeFunc(decodeRIP),
	},
)

func init() {
	layers.RegisterUDPPortLayerType(Port, LayerTypeRIP)
}

// Entry is a single advertisement record.
type Entry struct {
	// Family is the address family identifier, 2 for IPv4 and 0 for a
	// whole-table request.
	Family uint16
	// Tag is the route tag, carried unchanged.
	Tag uint16
	// Prefix is the advertised destination and mask.
	Prefix netip.Prefix
	// NextHop is the optional next hop, zero meaning the sender itself.
	NextHop netip.Addr
	// Metric is the advertised hop count.
	Metric uint32
}

// RIP is a RIP message.
type RIP struct {
	layers.BaseLayer
	Command Command
	Version uint8
	Entries []Entry
}

// LayerType returns LayerTypeRIP.
func (m *RIP) LayerType() gopacket.LayerType {
	return LayerTypeRIP
}

// CanDecode returns the set of layer types this layer can decode.
func (m *RIP) CanDecode() gopacket.LayerClass {
	return LayerTypeRIP
}

// NextLayerType returns the layer type contained by this layer.
func (m *RIP) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

// DecodeFromBytes decodes the given bytes into this layer.
//
// Entries of unsupported families are kept with a zero prefix; entries with
// a non-contiguous mask fail the whole message.
func (m *RIP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < headerLen {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	if (len(data)-headerLen)%entryLen != 0 {
		return fmt.Errorf("%w: trailing %d bytes", ErrMalformed, (len(data)-headerLen)%entryLen)
	}

	m.Command = Command(data[0])
	m.Version = data[1]
	m.Entries = m.Entries[:0]

	for offset := headerLen; offset < len(data); offset += entryLen {
		raw := data[offset : offset+entryLen]

		entry := Entry{
			Family:  binary.BigEndian.Uint16(raw[0:2]),
			Tag:     binary.BigEndian.Uint16(raw[2:4]),
			NextHop: netip.AddrFrom4([4]byte(raw[12:16])),
			Metric:  binary.BigEndian.Uint32(raw[16:20]),
		}
		if entry.Family == familyIPv4 {
			addr := netip.AddrFrom4([4]byte(raw[4:8]))
			prefix, err := xnetip.PrefixFromMask(addr, binary.BigEndian.Uint32(raw[8:12]))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			entry.Prefix = prefix
		}
		m.Entries = append(m.Entries, entry)
	}

	m.Contents = data
	m.Payload = nil
	return nil
}

// SerializeTo writes the serialized form of this layer into the buffer.
func (m *RIP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(headerLen + entryLen*len(m.Entries))
	if err != nil {
		return err
	}

	buf[0] = uint8(m.Command)
	buf[1] = m.Version
	buf[2], buf[3] = 0, 0

	for idx, entry := range m.Entries {
		raw := buf[headerLen+idx*entryLen : headerLen+(idx+1)*entryLen]
		clear(raw)

		binary.BigEndian.PutUint16(raw[0:2], entry.Family)
		binary.BigEndian.PutUint16(raw[2:4], entry.Tag)
		if entry.Prefix.IsValid() {
			binary.BigEndian.PutUint32(raw[4:8], xnetip.Uint32(entry.Prefix.Addr()))
			binary.BigEndian.PutUint32(raw[8:12], xnetip.PrefixMask(entry.Prefix))
		}
		if entry.NextHop.Is4() {
			binary.BigEndian.PutUint32(raw[12:16], xnetip.Uint32(entry.NextHop))
		}
		binary.BigEndian.PutUint32(raw[16:20], entry.Metric)
	}

	return nil
}

func decodeRIP(data []byte, p gopacket.PacketBuilder) error {
	rip := &RIP{}
	if err := rip.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(rip)
	return nil
}

// NewRequest returns a request for the whole routing table of the peer.
func NewRequest() *RIP {
	return &RIP{
		Command: CommandRequest,
		Version: Version,
		Entries: []Entry{{Metric: MetricInfinity}},
	}
}

// NewResponse returns a response advertising the given entries.
func NewResponse(entries []Entry) *RIP {
	return &RIP{
		Command: CommandResponse,
		Version: Version,
		Entries: entries,
	}
}
