package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Keys.MasterSecretEnv == "" {
		cfg.Keys.MasterSecretEnv = "SWAPD_MASTER_KEY"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Chain.NetworkID == 0 {
		return fmt.Errorf("config: chain.network_id is required")
	}
	if len(c.Chain.Endpoints) == 0 {
		return fmt.Errorf("config: chain.endpoints needs at least one URL")
	}
	if c.Executor.Router == "" {
		return fmt.Errorf("config: executor.router is required")
	}
	if c.Executor.WrappedNative == "" {
		return fmt.Errorf("config: executor.wrapped_native is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	return nil
}
