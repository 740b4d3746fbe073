package udp

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/iface/ifacetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())

	cfg.Listen = netip.MustParseAddrPort("127.0.0.1:0")
	require.Error(t, cfg.Validate())

	cfg.Peer = netip.MustParseAddrPort("127.0.0.1:9000")
	require.NoError(t, cfg.Validate())

	cfg.ReadBufferSize = 16
	require.Error(t, cfg.Validate())
}

func TestDeviceExchange(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	cfg := DefaultConfig()
	cfg.Listen = netip.MustParseAddrPort("127.0.0.1:0")
	cfg.Peer = peer.LocalAddr().(*net.UDPAddr).AddrPort()

	ifc := ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")
	device, err := NewDevice(cfg, ifc, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer device.Close()
	assert.Same(t, ifc, device.Interface())

	// Outbound.
	require.NoError(t, device.Send([]byte("outbound frame")))

	buf := make([]byte, 128)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "outbound frame", string(buf[:n]))

	// Inbound.
	received := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- device.Run(ctx, func(frame []byte, in *iface.Interface) {
			assert.Same(t, ifc, in)
			received <- string(frame)
		})
	}()

	_, err = peer.WriteToUDP([]byte("inbound frame"), device.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	select {
	case frame := <-received:
		assert.Equal(t, "inbound frame", frame)
	case <-time.After(5 * time.Second):
		t.Fatal("frame was not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestDeviceRunStopsOnClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = netip.MustParseAddrPort("127.0.0.1:0")
	cfg.Peer = netip.MustParseAddrPort("127.0.0.1:9")

	device, err := NewDevice(cfg, ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01"), zap.NewNop().Sugar())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- device.Run(context.Background(), func([]byte, *iface.Interface) {})
	}()

	require.NoError(t, device.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}
