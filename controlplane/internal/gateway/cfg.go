package gateway

import (
	"fmt"
	"net"
)

// Config is the configuration for the gateway.
type Config struct {
	// Server is the configuration for the gateway server.
	Server ServerConfig `yaml:"server"`
}

// ServerConfig is the configuration for the gateway server.
type ServerConfig struct {
	// Endpoint is the endpoint for the gateway server to be exposed on.
	//
	// Empty endpoint disables the gateway.
	Endpoint string `yaml:"endpoint"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Endpoint: "[::1]:8520",
		},
	}
}

// Validate checks if the configuration is valid.
func (m *Config) Validate() error {
	if m.Server.Endpoint == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Server.Endpoint); err != nil {
		return fmt.Errorf("invalid gateway endpoint %q: %w", m.Server.Endpoint, err)
	}
	return nil
}
