package neigh

import (
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/internal/discovery"
)

// UnreachableHandler is called for every frame that could not be delivered
// because its next hop did not answer address resolution.
//
// The inbound interface is the one the frame was originally received on.
type UnreachableHandler func(frame []byte, in *iface.Interface)

// Option is a function that configures the resolver.
type Option func(*options)

// WithLog configures the resolver with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithRetryInterval sets the delay between two resolution requests for the
// same next hop.
func WithRetryInterval(interval time.Duration) Option {
	return func(o *options) {
		o.RetryInterval = interval
	}
}

// WithMaxAttempts sets how many requests are sent before a next hop is
// declared unreachable.
func WithMaxAttempts(attempts int) Option {
	return func(o *options) {
		o.MaxAttempts = attempts
	}
}

// WithUnreachableHandler sets the callback invoked for frames queued behind
// a next hop that timed out.
func WithUnreachableHandler(handler UnreachableHandler) Option {
	return func(o *options) {
		o.Unreachable = handler
	}
}

type options struct {
	Log           *zap.SugaredLogger
	RetryInterval time.Duration
	MaxAttempts   int
	Unreachable   UnreachableHandler
}

func newOptions() *options {
	return &options{
		Log:           zap.NewNop().Sugar(),
		RetryInterval: time.Second,
		MaxAttempts:   3,
		Unreachable:   func([]byte, *iface.Interface) {},
	}
}

// pendingFrame is a frame waiting for its next hop to be resolved.
type pendingFrame struct {
	frame []byte
	in    *iface.Interface
	out   *iface.Interface
}

// pendingQueue holds frames for one unresolved next hop in arrival order.
//
// A queue is added to the resolver's pending map together with its resolver
// goroutine and removed on timeout or once a reply has drained it.
type pendingQueue struct {
	frames   []pendingFrame
	resolved chan struct{}
	// draining is set once a reply arrived; the queue is then emptied by the
	// reply handler without holding the resolver lock.
	draining bool
}

// Resolver is the address resolution manager.
//
// It owns the neighbour cache and per-next-hop queues of frames waiting for
// resolution. Unresolved next hops are queried by a dedicated goroutine that
// exits either when a reply arrives or after the configured number of
// attempts.
type Resolver struct {
	ifaces        *iface.Set
	sender        iface.Sender
	cache         *NexthopCache
	retryInterval time.Duration
	maxAttempts   int
	unreachable   UnreachableHandler
	log           *zap.SugaredLogger

	mu      sync.Mutex
	pending map[netip.Addr]*pendingQueue

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewResolver creates a new address resolution manager.
func NewResolver(ifaces *iface.Set, sender iface.Sender, options ...Option) *Resolver {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Resolver{
		ifaces:        ifaces,
		sender:        sender,
		cache:         discovery.NewEmptyCache[netip.Addr, NeighbourEntry](),
		retryInterval: opts.RetryInterval,
		maxAttempts:   max(opts.MaxAttempts, 1),
		unreachable:   opts.Unreachable,
		log:           opts.Log,
		pending:       map[netip.Addr]*pendingQueue{},
		done:          make(chan struct{}),
	}
}

// Cache returns the neighbour cache.
func (m *Resolver) Cache() *NexthopCache {
	return m.cache
}

// InsertStatic adds a permanent neighbour entry.
func (m *Resolver) InsertStatic(addr netip.Addr, hardwareAddr net.HardwareAddr) {
	m.cache.Insert(addr, NeighbourEntry{
		NextHop:      addr,
		HardwareAddr: hardwareAddr,
		Static:       true,
		UpdatedAt:    time.Now(),
	})
}

// Neighbours returns all cached entries ordered by address.
func (m *Resolver) Neighbours() []NeighbourEntry {
	entries := m.cache.Entries()

	out := make([]NeighbourEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b NeighbourEntry) int {
		return a.NextHop.Compare(b.NextHop)
	})
	return out
}

// PendingNextHops returns the number of next hops currently being resolved.
func (m *Resolver) PendingNextHops() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// Resolve transmits the frame through the out interface once the link address
// of nextHop is known.
//
// The frame must be a complete Ethernet frame with the source link address
// already set; the resolver fills in the destination. The in interface is
// the one the frame was received on, nil for locally originated frames.
// Frames of a failed resolution are reported to the unreachable handler only
// when in is not nil.
//
// The call never blocks on network I/O.
func (m *Resolver) Resolve(frame []byte, nextHop netip.Addr, out *iface.Interface, in *iface.Interface) {
	if entry, ok := m.cache.Lookup(nextHop); ok {
		m.transmit(frame, entry.HardwareAddr, out)
		return
	}

	m.mu.Lock()
	// The reply path fills the cache only after its queue is drained, so a
	// hit here cannot overtake queued frames.
	if entry, ok := m.cache.Lookup(nextHop); ok {
		m.mu.Unlock()
		m.transmit(frame, entry.HardwareAddr, out)
		return
	}

	if queue, ok := m.pending[nextHop]; ok {
		queue.frames = append(queue.frames, pendingFrame{frame: frame, in: in, out: out})
		queued := len(queue.frames)
		m.mu.Unlock()

		m.log.Debugw("queued frame behind pending resolution",
			zap.Stringer("nexthop", nextHop),
			zap.Int("queued", queued),
		)
		return
	}

	queue := &pendingQueue{
		frames:   []pendingFrame{{frame: frame, in: in, out: out}},
		resolved: make(chan struct{}),
	}
	m.pending[nextHop] = queue
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Debugw("started resolution", zap.Stringer("nexthop", nextHop))

	m.broadcastRequest(nextHop)
	go m.runResolver(nextHop, queue)
}

// HandleARP processes an inbound ARP packet received on the given interface.
func (m *Resolver) HandleARP(arp *layers.ARP, in *iface.Interface) {
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 {
		return
	}

	sender, ok := protAddr(arp.SourceProtAddress)
	if !ok {
		return
	}
	target, ok := protAddr(arp.DstProtAddress)
	if !ok {
		return
	}

	switch arp.Operation {
	case layers.ARPRequest:
		m.handleRequest(arp, target, in)
	case layers.ARPReply:
		if len(arp.SourceHwAddress) != 6 {
			return
		}
		m.handleReply(sender, net.HardwareAddr(slices.Clone(arp.SourceHwAddress)))
	default:
		m.log.Debugw("ignored ARP packet with unknown operation", zap.Uint16("operation", arp.Operation))
	}
}

// Close stops all resolver goroutines and waits for them to exit.
//
// Frames still queued are dropped without notification.
func (m *Resolver) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

func (m *Resolver) handleRequest(request *layers.ARP, target netip.Addr, in *iface.Interface) {
	if !m.ifaces.IsLocal(target) {
		return
	}

	frame, err := replyFrame(in, request)
	if err != nil {
		m.log.Warnw("failed to build ARP reply", zap.Error(err))
		return
	}

	m.log.Debugw("answering ARP request",
		zap.Stringer("target", target),
		zap.String("iface", in.Name),
	)
	m.send(frame, in)
}

func (m *Resolver) handleReply(sender netip.Addr, hardwareAddr net.HardwareAddr) {
	m.mu.Lock()
	queue, ok := m.pending[sender]
	if !ok || queue.draining {
		// Unsolicited replies do not populate the cache.
		m.mu.Unlock()
		return
	}
	// The queue stays pending while it is drained, so frames resolved
	// concurrently are appended behind it instead of overtaking it.
	queue.draining = true
	close(queue.resolved)

	drained := 0
	for len(queue.frames) > 0 {
		frames := queue.frames
		queue.frames = nil
		m.mu.Unlock()

		for _, pending := range frames {
			m.transmit(pending.frame, hardwareAddr, pending.out)
		}
		drained += len(frames)

		m.mu.Lock()
	}

	delete(m.pending, sender)
	m.cache.Update(sender, func(current NeighbourEntry, exists bool) (NeighbourEntry, bool) {
		if exists && current.Static {
			return current, false
		}
		return NeighbourEntry{
			NextHop:      sender,
			HardwareAddr: hardwareAddr,
			UpdatedAt:    time.Now(),
		}, true
	})
	m.mu.Unlock()

	m.log.Infow("resolved neighbour",
		zap.Stringer("nexthop", sender),
		zap.Stringer("hardware_addr", hardwareAddr),
		zap.Int("drained", drained),
	)
}

func (m *Resolver) runResolver(nextHop netip.Addr, queue *pendingQueue) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-queue.resolved:
			return
		case <-m.done:
			return
		case <-ticker.C:
		}

		if attempt >= m.maxAttempts {
			m.timeout(nextHop, queue)
			return
		}
		m.broadcastRequest(nextHop)
	}
}

func (m *Resolver) timeout(nextHop netip.Addr, queue *pendingQueue) {
	m.mu.Lock()
	if m.pending[nextHop] != queue || queue.draining {
		// Lost the race against a reply.
		m.mu.Unlock()
		return
	}
	delete(m.pending, nextHop)
	frames := queue.frames
	m.mu.Unlock()

	m.log.Warnw("address resolution timed out",
		zap.Stringer("nexthop", nextHop),
		zap.Int("attempts", m.maxAttempts),
		zap.Int("dropped", len(frames)),
	)

	for _, pending := range frames {
		if pending.in == nil {
			continue
		}
		m.unreachable(pending.frame, pending.in)
	}
}

func (m *Resolver) broadcastRequest(nextHop netip.Addr) {
	for _, out := range m.ifaces.All() {
		frame, err := requestFrame(out, nextHop)
		if err != nil {
			m.log.Warnw("failed to build ARP request", zap.Error(err))
			return
		}
		m.send(frame, out)
	}
}

func (m *Resolver) transmit(frame []byte, hardwareAddr net.HardwareAddr, out *iface.Interface) {
	if len(frame) < 6 {
		return
	}
	setDstMAC(frame, hardwareAddr)
	m.send(frame, out)
}

func (m *Resolver) send(frame []byte, out *iface.Interface) {
	if err := m.sender.Send(frame, out); err != nil {
		m.log.Warnw("failed to send frame",
			zap.String("iface", out.Name),
			zap.Error(err),
		)
	}
}
