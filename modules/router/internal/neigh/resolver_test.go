package neigh

import (
	"encoding/binary"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/vrouter/common/go/xpacket/pkttest"
	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/iface/ifacetest"
)

var (
	eth0 = ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")
	eth1 = ifacetest.Interface("eth1", "10.0.2.1/24", "02:00:00:00:02:01")

	hostMAC   = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x02, 0x63}
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, 0x63}
	nextHop   = netip.MustParseAddr("10.0.2.99")
)

type unreachableRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	ifaces []string
}

func (m *unreachableRecorder) Handle(frame []byte, in *iface.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames = append(m.frames, frame)
	m.ifaces = append(m.ifaces, in.Name)
}

func (m *unreachableRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.frames)
}

func newTestResolver(t *testing.T, options ...Option) (*Resolver, *ifacetest.Recorder) {
	recorder := ifacetest.NewRecorder()
	options = append([]Option{WithLog(zaptest.NewLogger(t).Sugar())}, options...)

	resolver := NewResolver(iface.MustNewSet(eth0, eth1), recorder, options...)
	t.Cleanup(resolver.Close)
	return resolver, recorder
}

// forwardedFrame builds a frame as the forwarding path hands it over: source
// link address already rewritten to the egress interface.
func forwardedFrame(t *testing.T, marker byte) []byte {
	return pkttest.UDPFrame(t,
		eth1.HardwareAddr, net.HardwareAddr{0, 0, 0, 0, 0, 0},
		netip.MustParseAddr("10.0.1.99"), nextHop,
		63, 9000, []byte{marker},
	)
}

func arpReply(sender netip.Addr, senderMAC net.HardwareAddr, target *iface.Interface) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: sender.AsSlice(),
		DstHwAddress:      target.HardwareAddr,
		DstProtAddress:    target.Addr().AsSlice(),
	}
}

func decodeARP(t *testing.T, frame []byte) (*layers.Ethernet, *layers.ARP) {
	t.Helper()

	pkt := pkttest.Decode(t, frame)
	arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok, "not an ARP frame: %s", pkt)
	return pkttest.Ethernet(t, pkt), arp
}

func TestResolveCacheHit(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver, recorder := newTestResolver(t)
	resolver.InsertStatic(nextHop, hostMAC)

	resolver.Resolve(forwardedFrame(t, 1), nextHop, eth1, eth0)

	frames := recorder.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "eth1", frames[0].Iface)

	pkt := pkttest.Decode(t, frames[0].Data)
	assert.Equal(t, hostMAC, pkttest.Ethernet(t, pkt).DstMAC)
	assert.Equal(t, eth1.HardwareAddr, pkttest.Ethernet(t, pkt).SrcMAC)
	assert.Zero(t, resolver.PendingNextHops())
}

func TestResolveQueuesBehindSingleResolver(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver, recorder := newTestResolver(t, WithRetryInterval(time.Hour))

	const count = 5
	for idx := range count {
		resolver.Resolve(forwardedFrame(t, byte(idx)), nextHop, eth1, eth0)
	}

	// A single broadcast went out on every interface.
	frames := recorder.Frames()
	require.Len(t, frames, 2)
	for idx, ifc := range []*iface.Interface{eth0, eth1} {
		assert.Equal(t, ifc.Name, frames[idx].Iface)

		eth, arp := decodeARP(t, frames[idx].Data)
		assert.Equal(t, iface.BroadcastMAC, eth.DstMAC)
		assert.Equal(t, ifc.HardwareAddr, eth.SrcMAC)
		assert.Equal(t, uint16(layers.ARPRequest), arp.Operation)
		assert.Equal(t, []byte(ifc.HardwareAddr), arp.SourceHwAddress)
		assert.Equal(t, ifc.Addr().AsSlice(), arp.SourceProtAddress)
		assert.Equal(t, nextHop.AsSlice(), arp.DstProtAddress)
	}
	require.Equal(t, 1, resolver.PendingNextHops())

	_, ok := resolver.Cache().Lookup(nextHop)
	require.False(t, ok)

	resolver.HandleARP(arpReply(nextHop, hostMAC, eth1), eth1)

	frames = recorder.Frames()
	require.Len(t, frames, 2+count)
	for idx, frame := range frames[2:] {
		assert.Equal(t, "eth1", frame.Iface)

		pkt := pkttest.Decode(t, frame.Data)
		assert.Equal(t, hostMAC, pkttest.Ethernet(t, pkt).DstMAC)

		app := pkt.ApplicationLayer()
		require.NotNil(t, app)
		assert.Equal(t, []byte{byte(idx)}, app.Payload(), "frames must leave in arrival order")
	}

	entry, ok := resolver.Cache().Lookup(nextHop)
	require.True(t, ok)
	assert.Equal(t, hostMAC, entry.HardwareAddr)
	assert.False(t, entry.Static)
	assert.Zero(t, resolver.PendingNextHops())

	// Resolved now: later frames skip the queue.
	resolver.Resolve(forwardedFrame(t, 42), nextHop, eth1, eth0)
	assert.Equal(t, 3+count, recorder.Len())
}

func TestResolveTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	unreachable := &unreachableRecorder{}
	resolver, recorder := newTestResolver(t,
		WithRetryInterval(20*time.Millisecond),
		WithMaxAttempts(3),
		WithUnreachableHandler(unreachable.Handle),
	)

	for idx := range 3 {
		resolver.Resolve(forwardedFrame(t, byte(idx)), nextHop, eth1, eth0)
	}
	// Locally originated frames are dropped silently.
	resolver.Resolve(forwardedFrame(t, 99), nextHop, eth1, nil)

	require.Eventually(t, func() bool {
		return unreachable.Len() == 3 && resolver.PendingNextHops() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Three attempts, each broadcast on both interfaces.
	assert.Equal(t, 6, recorder.Len())
	for _, frame := range recorder.Frames() {
		_, arp := decodeARP(t, frame.Data)
		assert.Equal(t, uint16(layers.ARPRequest), arp.Operation)
	}

	unreachable.mu.Lock()
	assert.Equal(t, []string{"eth0", "eth0", "eth0"}, unreachable.ifaces)
	for idx, frame := range unreachable.frames {
		app := pkttest.Decode(t, frame).ApplicationLayer()
		require.NotNil(t, app)
		assert.Equal(t, []byte{byte(idx)}, app.Payload())
	}
	unreachable.mu.Unlock()

	// A late reply does not resurrect the entry.
	resolver.HandleARP(arpReply(nextHop, hostMAC, eth1), eth1)
	_, ok := resolver.Cache().Lookup(nextHop)
	assert.False(t, ok)

	// Sending again starts a fresh cycle.
	recorder.Reset()
	resolver.Resolve(forwardedFrame(t, 7), nextHop, eth1, eth0)
	assert.Equal(t, 1, resolver.PendingNextHops())
	assert.Equal(t, 2, recorder.Len())

	require.Eventually(t, func() bool {
		return unreachable.Len() == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleARPRequest(t *testing.T) {
	resolver, recorder := newTestResolver(t)

	request := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   clientMAC,
		SourceProtAddress: netip.MustParseAddr("10.0.1.99").AsSlice(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    eth0.Addr().AsSlice(),
	}
	resolver.HandleARP(request, eth0)

	frames := recorder.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "eth0", frames[0].Iface)

	eth, arp := decodeARP(t, frames[0].Data)
	assert.Equal(t, clientMAC, eth.DstMAC)
	assert.Equal(t, eth0.HardwareAddr, eth.SrcMAC)
	assert.Equal(t, uint16(layers.ARPReply), arp.Operation)
	assert.Equal(t, []byte(eth0.HardwareAddr), arp.SourceHwAddress)
	assert.Equal(t, eth0.Addr().AsSlice(), arp.SourceProtAddress)
	assert.Equal(t, []byte(clientMAC), arp.DstHwAddress)
	assert.Equal(t, netip.MustParseAddr("10.0.1.99").AsSlice(), arp.DstProtAddress)

	// Requests for foreign addresses are ignored.
	request.DstProtAddress = netip.MustParseAddr("10.0.1.200").AsSlice()
	resolver.HandleARP(request, eth0)
	assert.Equal(t, 1, recorder.Len())

	// Requests never populate the cache.
	assert.Zero(t, resolver.Cache().Len())
}

func TestHandleARPReplyKeepsStaticEntries(t *testing.T) {
	resolver, _ := newTestResolver(t)
	resolver.InsertStatic(nextHop, hostMAC)

	// Unsolicited replies are dropped.
	resolver.HandleARP(arpReply(netip.MustParseAddr("10.0.2.50"), clientMAC, eth1), eth1)
	_, ok := resolver.Cache().Lookup(netip.MustParseAddr("10.0.2.50"))
	assert.False(t, ok)

	resolver.HandleARP(arpReply(nextHop, clientMAC, eth1), eth1)
	entry, ok := resolver.Cache().Lookup(nextHop)
	require.True(t, ok)
	assert.Equal(t, hostMAC, entry.HardwareAddr)
	assert.True(t, entry.Static)

	neighbours := resolver.Neighbours()
	require.Len(t, neighbours, 1)
	assert.Equal(t, nextHop, neighbours[0].NextHop)
}

func TestResolveConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver, recorder := newTestResolver(t, WithRetryInterval(time.Hour))

	const (
		producers = 8
		perWorker = 500
	)

	frames := make([][][]byte, producers)
	for worker := range producers {
		frames[worker] = make([][]byte, perWorker)
		for seq := range perWorker {
			frames[worker][seq] = pkttest.UDPFrame(t,
				eth1.HardwareAddr, net.HardwareAddr{0, 0, 0, 0, 0, 0},
				netip.MustParseAddr("10.0.1.99"), nextHop,
				63, 9000, []byte{byte(worker), byte(seq >> 8), byte(seq)},
			)
		}
	}

	wg := sync.WaitGroup{}
	for worker := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, frame := range frames[worker] {
				resolver.Resolve(frame, nextHop, eth1, eth0)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, resolver.PendingNextHops())
	// Only the first frame started a resolution.
	require.Equal(t, 2, recorder.Len())

	resolver.HandleARP(arpReply(nextHop, hostMAC, eth1), eth1)

	sent := recorder.Frames()[2:]
	require.Len(t, sent, producers*perWorker)

	next := make([]int, producers)
	for _, frame := range sent {
		app := pkttest.Decode(t, frame.Data).ApplicationLayer()
		require.NotNil(t, app)

		payload := app.Payload()
		require.Len(t, payload, 3)
		worker, seq := int(payload[0]), int(payload[1])<<8|int(payload[2])
		require.Equal(t, next[worker], seq, "frames of worker %d reordered", worker)
		next[worker]++
	}
	for worker := range producers {
		assert.Equal(t, perWorker, next[worker])
	}
	assert.Zero(t, resolver.PendingNextHops())
}

// loopbackSender feeds a frame back into the resolver from inside Send,
// the way a synchronous device looping traffic into the same router does.
type loopbackSender struct {
	*ifacetest.Recorder

	resolver *Resolver
	frame    []byte
	once     sync.Once
}

func (m *loopbackSender) Send(frame []byte, out *iface.Interface) error {
	if err := m.Recorder.Send(frame, out); err != nil {
		return err
	}

	if layers.EthernetType(binary.BigEndian.Uint16(frame[12:14])) == layers.EthernetTypeIPv4 {
		m.once.Do(func() {
			m.resolver.Resolve(m.frame, nextHop, eth1, eth0)
		})
	}
	return nil
}

func TestHandleARPReplyReentrantSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &loopbackSender{
		Recorder: ifacetest.NewRecorder(),
		frame:    forwardedFrame(t, 100),
	}
	resolver := NewResolver(iface.MustNewSet(eth0, eth1), sender,
		WithLog(zaptest.NewLogger(t).Sugar()),
		WithRetryInterval(time.Hour),
	)
	defer resolver.Close()
	sender.resolver = resolver

	const count = 3
	for idx := range count {
		resolver.Resolve(forwardedFrame(t, byte(idx)), nextHop, eth1, eth0)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		resolver.HandleARP(arpReply(nextHop, hostMAC, eth1), eth1)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handling deadlocked on a reentrant send")
	}

	// The frame resolved during the drain leaves behind the queued ones.
	frames := sender.Frames()[2:]
	require.Len(t, frames, count+1)
	for idx, want := range []byte{0, 1, 2, 100} {
		app := pkttest.Decode(t, frames[idx].Data).ApplicationLayer()
		require.NotNil(t, app)
		assert.Equal(t, []byte{want}, app.Payload())
		assert.Equal(t, hostMAC, pkttest.Ethernet(t, pkttest.Decode(t, frames[idx].Data)).DstMAC)
	}
	assert.Zero(t, resolver.PendingNextHops())

	_, ok := resolver.Cache().Lookup(nextHop)
	assert.True(t, ok)
}
