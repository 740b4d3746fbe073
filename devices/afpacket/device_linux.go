package afpacket

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// Device is a host network interface accessed through a raw AF_PACKET
// socket.
type Device struct {
	cfg       *Config
	iface     *iface.Interface
	linkIndex int
	fd        int
	log       *zap.SugaredLogger
}

// NewDevice opens a raw socket bound to the configured host link.
func NewDevice(cfg *Config, name string, log *zap.SugaredLogger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration of %q: %w", name, err)
	}

	link, err := netlink.LinkByName(cfg.Link)
	if err != nil {
		return nil, fmt.Errorf("failed to find link %q: %w", cfg.Link, err)
	}
	attrs := link.Attrs()

	prefix := cfg.Addr
	if !prefix.IsValid() {
		prefix, err = linkPrefix(link)
		if err != nil {
			return nil, err
		}
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to open AF_PACKET socket: %w", err)
	}

	sockaddr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  attrs.Index,
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind to link %q: %w", cfg.Link, err)
	}

	timeout := unix.NsecToTimeval(cfg.PollInterval.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	ifc := &iface.Interface{
		Name:         name,
		Prefix:       prefix,
		HardwareAddr: attrs.HardwareAddr,
	}

	log = log.With(zap.String("iface", name))
	log.Infow("opened AF_PACKET link",
		zap.String("link", cfg.Link),
		zap.Int("link_index", attrs.Index),
		zap.Stringer("prefix", prefix),
		zap.Stringer("hardware_addr", attrs.HardwareAddr),
	)

	return &Device{
		cfg:       cfg,
		iface:     ifc,
		linkIndex: attrs.Index,
		fd:        fd,
		log:       log,
	}, nil
}

// Interface returns the router interface backed by this link.
func (m *Device) Interface() *iface.Interface {
	return m.iface
}

// Send transmits a frame through the link.
func (m *Device) Send(frame []byte) error {
	if len(frame) < 6 {
		return fmt.Errorf("frame too short: %d bytes", len(frame))
	}

	sockaddr := &unix.SockaddrLinklayer{
		Ifindex: m.linkIndex,
		Halen:   6,
	}
	copy(sockaddr.Addr[:], frame[0:6])

	if err := unix.Sendto(m.fd, frame, 0, sockaddr); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Run reads frames and passes them to the handler until the context is
// canceled.
func (m *Device) Run(ctx context.Context, handler iface.Handler) error {
	buf := make([]byte, m.cfg.ReadBufferSize.Bytes())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, from, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EBADF) {
				return nil
			}
			return fmt.Errorf("failed to receive frame: %w", err)
		}

		// Frames sent by this host are looped back to packet sockets.
		if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		handler(buf[:n], m.iface)
	}
}

// Close closes the socket.
func (m *Device) Close() error {
	return unix.Close(m.fd)
}

func linkPrefix(link netlink.Link) (netip.Prefix, error) {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("failed to list addresses of %q: %w", link.Attrs().Name, err)
	}

	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(addr.IPNet.IP.To4())
		if !ok {
			continue
		}
		ones, _ := addr.IPNet.Mask.Size()
		return netip.PrefixFrom(ip, ones), nil
	}

	return netip.Prefix{}, fmt.Errorf("link %q has no IPv4 address", link.Attrs().Name)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

