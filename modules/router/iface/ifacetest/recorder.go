// Package ifacetest provides a recording frame sender for tests.
package ifacetest

import (
	"net"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// Frame is a transmitted frame together with its egress interface name.
type Frame struct {
	Iface string
	Data  []byte
}

// Recorder is an iface.Sender that remembers every frame it was asked to
// transmit.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records a copy of the frame.
func (m *Recorder) Send(frame []byte, out *iface.Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames = append(m.frames, Frame{Iface: out.Name, Data: slices.Clone(frame)})
	return nil
}

// Frames returns a snapshot of the recorded frames.
func (m *Recorder) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.frames)
}

// Len returns the number of recorded frames.
func (m *Recorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.frames)
}

// Reset forgets all recorded frames.
func (m *Recorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames = nil
}

// WaitFor blocks until at least n frames were recorded and returns them.
func (m *Recorder) WaitFor(t *testing.T, n int, timeout time.Duration) []Frame {
	t.Helper()

	require.Eventually(t, func() bool {
		return m.Len() >= n
	}, timeout, 10*time.Millisecond, "expected at least %d frames", n)
	return m.Frames()
}

// Interface builds a test interface from its textual description.
func Interface(name string, prefix string, mac string) *iface.Interface {
	hardwareAddr, err := net.ParseMAC(mac)
	if err != nil {
		panic(err)
	}

	return &iface.Interface{
		Name:         name,
		Prefix:       netip.MustParsePrefix(prefix),
		HardwareAddr: hardwareAddr,
	}
}
