package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// Device is a virtual Ethernet link tunnelled through a UDP socket.
type Device struct {
	cfg   *Config
	iface *iface.Interface
	conn  *net.UDPConn
	peer  *net.UDPAddr
	log   *zap.SugaredLogger
}

// NewDevice binds the local endpoint of the link.
func NewDevice(cfg *Config, ifc *iface.Interface, log *zap.SugaredLogger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration of %q: %w", ifc.Name, err)
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(cfg.Listen))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	log = log.With(zap.String("iface", ifc.Name))
	log.Infow("opened UDP link",
		zap.Stringer("listen", conn.LocalAddr()),
		zap.Stringer("peer", cfg.Peer),
	)

	return &Device{
		cfg:   cfg,
		iface: ifc,
		conn:  conn,
		peer:  net.UDPAddrFromAddrPort(cfg.Peer),
		log:   log,
	}, nil
}

// Interface returns the router interface backed by this link.
func (m *Device) Interface() *iface.Interface {
	return m.iface
}

// LocalAddr returns the bound UDP endpoint.
func (m *Device) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// Send transmits a frame to the peer.
func (m *Device) Send(frame []byte) error {
	if _, err := m.conn.WriteToUDP(frame, m.peer); err != nil {
		return fmt.Errorf("failed to write to %s: %w", m.peer, err)
	}
	return nil
}

// Run reads frames and passes them to the handler until the context is
// canceled or the device is closed.
func (m *Device) Run(ctx context.Context, handler iface.Handler) error {
	stop := context.AfterFunc(ctx, func() {
		m.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	readBackoff := backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         m.cfg.MaxBackoff,
	}
	readBackoff.Reset()

	buf := make([]byte, m.cfg.ReadBufferSize.Bytes())
	for {
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			delay := readBackoff.NextBackOff()
			m.log.Warnw("failed to read frame", zap.Error(err), zap.Duration("retry_in", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		readBackoff.Reset()

		handler(buf[:n], m.iface)
	}
}

// Close closes the socket.
func (m *Device) Close() error {
	return m.conn.Close()
}
