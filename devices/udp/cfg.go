package udp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config is the configuration of a virtual link carried over UDP.
//
// Each datagram holds exactly one Ethernet frame.
type Config struct {
	// Listen is the local UDP endpoint frames are received on.
	Listen netip.AddrPort `yaml:"listen"`
	// Peer is the remote UDP endpoint frames are sent to.
	Peer netip.AddrPort `yaml:"peer"`
	// ReadBufferSize limits the size of a received frame.
	ReadBufferSize datasize.ByteSize `yaml:"read_buffer_size"`
	// MaxBackoff caps the delay between retries after a read error.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize: 64 * datasize.KB,
		MaxBackoff:     5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	if !m.Listen.IsValid() {
		return fmt.Errorf("listen address is required")
	}
	if !m.Peer.IsValid() {
		return fmt.Errorf("peer address is required")
	}
	if m.ReadBufferSize < 64 {
		return fmt.Errorf("read buffer size %s is too small", m.ReadBufferSize)
	}
	return nil
}
