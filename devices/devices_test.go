package devices

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/vrouter/modules/router/iface"
	"github.com/yanet-platform/vrouter/modules/router/iface/ifacetest"
)

type fakeDevice struct {
	ifc *iface.Interface

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (m *fakeDevice) Interface() *iface.Interface {
	return m.ifc
}

func (m *fakeDevice) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, frame)
	return nil
}

func (m *fakeDevice) Run(ctx context.Context, handler iface.Handler) error {
	handler([]byte(m.ifc.Name), m.ifc)
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeDevice) Close() error {
	m.closed = true
	return nil
}

func TestConfigUnmarshal(t *testing.T) {
	data := `
name: eth0
kind: udp
addr: 10.0.1.1/24
hardware_addr: 02:00:00:00:01:01
udp:
  listen: 127.0.0.1:7001
  peer: 127.0.0.1:7002
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, KindUDP, cfg.Kind)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.1/24"), cfg.Addr)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:7002"), cfg.UDP.Peer)
	// Defaults are kept for omitted fields.
	assert.Equal(t, 5*time.Second, cfg.UDP.MaxBackoff)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "NoName",
			cfg:  Config{Kind: KindUDP},
		},
		{
			name: "UnknownKind",
			cfg:  Config{Name: "eth0", Kind: "tap"},
		},
		{
			name: "UDPWithoutAddr",
			cfg:  Config{Name: "eth0", Kind: KindUDP, HardwareAddr: "02:00:00:00:01:01"},
		},
		{
			name: "UDPWithBadMAC",
			cfg: Config{
				Name:         "eth0",
				Kind:         KindUDP,
				Addr:         netip.MustParsePrefix("10.0.1.1/24"),
				HardwareAddr: "zz",
			},
		},
		{
			name: "AFPacketWithoutLink",
			cfg:  Config{Name: "eth0", Kind: KindAFPacket},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Error(t, test.cfg.Validate())
		})
	}

	cfg := Config{Name: "eth0", Kind: "tap"}
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownKind)
}

func TestDevicesSend(t *testing.T) {
	eth0 := &fakeDevice{ifc: ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")}
	eth1 := &fakeDevice{ifc: ifacetest.Interface("eth1", "10.0.2.1/24", "02:00:00:00:02:01")}

	devices, err := New([]Device{eth0, eth1}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 2, devices.Interfaces().Len())

	require.NoError(t, devices.Send([]byte{1}, eth1.ifc))
	assert.Empty(t, eth0.sent)
	assert.Equal(t, [][]byte{{1}}, eth1.sent)

	unknown := ifacetest.Interface("eth9", "10.0.9.1/24", "02:00:00:00:09:01")
	assert.ErrorIs(t, devices.Send([]byte{1}, unknown), iface.ErrUnknownInterface)

	require.NoError(t, devices.Close())
	assert.True(t, eth0.closed)
	assert.True(t, eth1.closed)
}

func TestDevicesRejectsDuplicates(t *testing.T) {
	eth0 := &fakeDevice{ifc: ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")}
	dup := &fakeDevice{ifc: ifacetest.Interface("eth0", "10.0.2.1/24", "02:00:00:00:02:01")}

	_, err := New([]Device{eth0, dup}, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestDevicesRun(t *testing.T) {
	eth0 := &fakeDevice{ifc: ifacetest.Interface("eth0", "10.0.1.1/24", "02:00:00:00:01:01")}
	eth1 := &fakeDevice{ifc: ifacetest.Interface("eth1", "10.0.2.1/24", "02:00:00:00:02:01")}

	devices, err := New([]Device{eth0, eth1}, zap.NewNop().Sugar())
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]string{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- devices.Run(ctx, func(frame []byte, in *iface.Interface) {
			mu.Lock()
			defer mu.Unlock()
			seen[in.Name] = string(frame)
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, map[string]string{"eth0": "eth0", "eth1": "eth1"}, seen)
}
