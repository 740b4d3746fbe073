//go:build !linux

package afpacket

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/modules/router/iface"
)

var errUnsupported = errors.New("AF_PACKET devices are supported on Linux only")

// Device is a host network interface accessed through a raw AF_PACKET
// socket.
type Device struct{}

// NewDevice always fails on this platform.
func NewDevice(cfg *Config, name string, log *zap.SugaredLogger) (*Device, error) {
	return nil, errUnsupported
}

func (m *Device) Interface() *iface.Interface {
	return nil
}

func (m *Device) Send(frame []byte) error {
	return errUnsupported
}

func (m *Device) Run(ctx context.Context, handler iface.Handler) error {
	return errUnsupported
}

func (m *Device) Close() error {
	return nil
}
