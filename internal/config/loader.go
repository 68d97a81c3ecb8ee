package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML configuration at path, applying
// defaults for unset sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Environment override for secrets so they stay out of config files.
	if secret := os.Getenv("GATEWAY_TOKEN_SECRET"); secret != "" {
		cfg.Token.Secret = secret
	}
	if addr := os.Getenv("GATEWAY_REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Address = addr
	}

	return cfg, nil
}
