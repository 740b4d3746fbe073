package pdump

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/gobwas/glob"
)

// Mode selects which direction of traffic is captured.
type Mode string

const (
	// ModeRx captures received frames.
	ModeRx Mode = "rx"
	// ModeTx captures transmitted frames.
	ModeTx Mode = "tx"
	// ModeBoth captures frames in both directions.
	ModeBoth Mode = "both"
)

// Config is the configuration of the packet dump.
type Config struct {
	// Path is the pcap file to write. The dump is disabled when empty.
	Path string `yaml:"path"`
	// Snaplen is the maximum number of bytes stored per frame.
	Snaplen datasize.ByteSize `yaml:"snaplen"`
	Mode    Mode              `yaml:"mode"`
	// Interfaces is a list of glob patterns, e.g. "eth*", selecting the
	// interfaces to capture on. Empty list matches every interface.
	Interfaces []string `yaml:"interfaces"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Snaplen: 64 * datasize.KB,
		Mode:    ModeBoth,
	}
}

// Enabled reports whether the dump should be written.
func (m *Config) Enabled() bool {
	return m.Path != ""
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	switch m.Mode {
	case ModeRx, ModeTx, ModeBoth:
	default:
		return fmt.Errorf("unknown dump mode %q", m.Mode)
	}
	if m.Snaplen == 0 {
		return fmt.Errorf("snaplen must be positive")
	}
	if _, err := m.filters(); err != nil {
		return err
	}
	return nil
}

func (m *Config) filters() ([]glob.Glob, error) {
	filters := make([]glob.Glob, 0, len(m.Interfaces))
	for _, pattern := range m.Interfaces {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid interface pattern %q: %w", pattern, err)
		}
		filters = append(filters, g)
	}
	return filters, nil
}
