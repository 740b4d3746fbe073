package director

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/vrouter/common/go/logging"
	"github.com/yanet-platform/vrouter/controlplane/internal/gateway"
	"github.com/yanet-platform/vrouter/devices"
	"github.com/yanet-platform/vrouter/modules/pdump"
	"github.com/yanet-platform/vrouter/modules/router"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `json:"logging" yaml:"logging"`
	// Gateway configuration.
	Gateway *gateway.Config `json:"gateway" yaml:"gateway"`
	// Router configuration.
	Router *router.Config `json:"router" yaml:"router"`
	// Interfaces the router is attached to, in configuration order.
	Interfaces []*devices.Config `json:"interfaces" yaml:"interfaces"`
	// Pdump configuration.
	Pdump *pdump.Config `json:"pdump" yaml:"pdump"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Gateway: gateway.DefaultConfig(),
		Router:  router.DefaultConfig(),
		Pdump:   pdump.DefaultConfig(),
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(m))
	if err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the router configuration.
func (m *Config) Validate() error {
	if m.Router == nil {
		return fmt.Errorf("router is not configured")
	}
	if err := m.Router.Validate(); err != nil {
		return fmt.Errorf("invalid router configuration: %w", err)
	}

	if len(m.Interfaces) == 0 {
		return fmt.Errorf("no interfaces configured")
	}
	names := map[string]struct{}{}
	for idx, ifc := range m.Interfaces {
		if ifc == nil {
			return fmt.Errorf("interface #%d is empty", idx)
		}
		if err := ifc.Validate(); err != nil {
			return err
		}
		if _, ok := names[ifc.Name]; ok {
			return fmt.Errorf("duplicate interface %q", ifc.Name)
		}
		names[ifc.Name] = struct{}{}
	}

	for _, route := range m.Router.StaticRoutes {
		if _, ok := names[route.Iface]; !ok {
			return fmt.Errorf("static route %s refers to unknown interface %q", route.Prefix, route.Iface)
		}
	}

	if m.Gateway != nil {
		if err := m.Gateway.Validate(); err != nil {
			return err
		}
	}
	if m.Pdump != nil && m.Pdump.Enabled() {
		if err := m.Pdump.Validate(); err != nil {
			return fmt.Errorf("invalid pdump configuration: %w", err)
		}
	}

	return nil
}
