package main

import (
	"fmt"
	"os"

	"igma/internal/config"
)

func resolveConfigPath() string {
	if configPath != "" {
		return config.ResolvePath(configPath)
	}
	return config.ResolvePath(os.Getenv("IGMA_CONFIG"))
}

// loadConfig returns built-in defaults when no config path is set.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}
