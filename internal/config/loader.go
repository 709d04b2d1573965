package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a Security configuration from a YAML file. Fields absent
// from the file keep the fail-safe defaults.
func Load(path string) (Security, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
