package config

import (
	"fmt"
	"os"
)

// Load reads a YAML (or JSON) config file from path, expands environment
// references, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
