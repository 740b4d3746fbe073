package afpacket

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config is the configuration of a host network interface driven through
// an AF_PACKET socket.
type Config struct {
	// Link is the name of the host link, e.g. "enp3s0".
	Link string `yaml:"link"`
	// Addr overrides the IPv4 address and mask of the router interface.
	//
	// When empty, the first IPv4 address assigned to the link is used.
	Addr netip.Prefix `yaml:"addr"`
	// ReadBufferSize limits the size of a received frame.
	ReadBufferSize datasize.ByteSize `yaml:"read_buffer_size"`
	// PollInterval bounds how long a read blocks before the receive loop
	// checks for cancellation.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize: 64 * datasize.KB,
		PollInterval:   200 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	if m.Link == "" {
		return fmt.Errorf("link name is required")
	}
	if m.Addr.IsValid() && !m.Addr.Addr().Is4() {
		return fmt.Errorf("address %s is not IPv4", m.Addr)
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
