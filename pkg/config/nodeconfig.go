package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// NodeConfig is the node/swarm configuration an operator supplies at
// startup — bind address, bootstrap peers, the out-of-band swarm key,
// and the tuning knobs left as implementation choices.
type NodeConfig struct {
	DataDir       string        `yaml:"dataDir" mapstructure:"dataDir"`
	BindAddr      string        `yaml:"bindAddr" mapstructure:"bindAddr"`
	BootstrapPeers []string     `yaml:"bootstrapPeers" mapstructure:"bootstrapPeers"`
	SwarmKeyFile  string        `yaml:"swarmKeyFile" mapstructure:"swarmKeyFile"`

	LeafTargetSize string `yaml:"leafTargetSize" mapstructure:"leafTargetSize"`
	LeafHardMax    string `yaml:"leafHardMax" mapstructure:"leafHardMax"`
	ZstdLevel      int    `yaml:"zstdLevel" mapstructure:"zstdLevel"`

	GossipInterval    time.Duration `yaml:"gossipInterval" mapstructure:"gossipInterval"`
	DiscoveryBaseTau  time.Duration `yaml:"discoveryBaseTau" mapstructure:"discoveryBaseTau"`
	GCInterval        time.Duration `yaml:"gcInterval" mapstructure:"gcInterval"`
	GCWriteThreshold  int           `yaml:"gcWriteThreshold" mapstructure:"gcWriteThreshold"`
	MaxOutstandingWants int         `yaml:"maxOutstandingWants" mapstructure:"maxOutstandingWants"`

	// resolved byte sizes, filled in by Resolve()
	leafTargetBytes int64
	leafHardMaxBytes int64
}

// DefaultNodeConfig returns conservative defaults: a 64 KiB leaf
// target and a 1 MiB hard max.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		BindAddr:            "0.0.0.0:4001",
		LeafTargetSize:      "64KiB",
		LeafHardMax:         "1MiB",
		ZstdLevel:           3,
		GossipInterval:      2 * time.Second,
		DiscoveryBaseTau:    5 * time.Second,
		GCInterval:          5 * time.Minute,
		GCWriteThreshold:    1000,
		MaxOutstandingWants: 128,
	}
}

// LoadNodeConfig reads a YAML node config file, merges it over the
// defaults, and resolves human-readable byte sizes.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read node config: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse node config: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode node config: %w", err)
	}

	if err := cfg.Resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Resolve parses the human-readable size fields into bytes and
// validates the result: leaf target size must not exceed the hard
// max.
func (c *NodeConfig) Resolve() error {
	target, err := units.RAMInBytes(c.LeafTargetSize)
	if err != nil {
		return fmt.Errorf("invalid leafTargetSize %q: %w", c.LeafTargetSize, err)
	}
	hardMax, err := units.RAMInBytes(c.LeafHardMax)
	if err != nil {
		return fmt.Errorf("invalid leafHardMax %q: %w", c.LeafHardMax, err)
	}
	if target > hardMax {
		return fmt.Errorf("leafTargetSize (%d) exceeds leafHardMax (%d)", target, hardMax)
	}
	c.leafTargetBytes = target
	c.leafHardMaxBytes = hardMax
	return nil
}

// LeafTargetBytes returns the resolved compressed-leaf target size.
func (c NodeConfig) LeafTargetBytes() int64 { return c.leafTargetBytes }

// LeafHardMaxBytes returns the resolved compressed-leaf hard cap.
func (c NodeConfig) LeafHardMaxBytes() int64 { return c.leafHardMaxBytes }
