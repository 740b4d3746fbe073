package director

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/vrouter/devices"
	"github.com/yanet-platform/vrouter/devices/udp"
)

func udpInterface(name string, addr string, mac string, peer *net.UDPConn) *devices.Config {
	cfg := udp.DefaultConfig()
	cfg.Listen = netip.MustParseAddrPort("127.0.0.1:0")
	cfg.Peer = peer.LocalAddr().(*net.UDPAddr).AddrPort()

	return &devices.Config{
		Name:         name,
		Kind:         devices.KindUDP,
		Addr:         netip.MustParsePrefix(addr),
		HardwareAddr: mac,
		UDP:          cfg,
	}
}

func TestDirectorRun(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	cfg := DefaultConfig()
	cfg.Gateway.Server.Endpoint = ""
	cfg.Interfaces = []*devices.Config{
		udpInterface("eth0", "10.0.1.1/24", "02:00:00:00:01:01", peer),
	}
	cfg.Pdump.Path = filepath.Join(t.TempDir(), "dump.pcap")
	require.NoError(t, cfg.Validate())

	director, err := NewDirector(cfg, WithLog(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)

	routes := director.Router().Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.0/24"), routes[0].Prefix)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- director.Run(ctx)
	}()

	// The route advertisement engine asks neighbours for their tables at
	// startup.
	buf := make([]byte, 2048)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.Default)
	udpLayer, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(520), udpLayer.DstPort)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("director did not stop")
	}

	file, err := os.Open(cfg.Pdump.Path)
	require.NoError(t, err)
	defer file.Close()

	reader, err := pcapgo.NewReader(file)
	require.NoError(t, err)
	data, _, err := reader.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, buf[:n], data)
}

func TestNewDirectorFailsOnBusyPort(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	ifc := udpInterface("eth0", "10.0.1.1/24", "02:00:00:00:01:01", peer)
	ifc.UDP.Listen = peer.LocalAddr().(*net.UDPAddr).AddrPort()

	cfg := DefaultConfig()
	cfg.Gateway.Server.Endpoint = ""
	cfg.Interfaces = []*devices.Config{ifc}

	_, err = NewDirector(cfg)
	require.Error(t, err)
}
