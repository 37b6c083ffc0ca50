// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvLabelCache overrides the cache path from the environment.
const EnvLabelCache = "NEUROATLAS_LABEL_CACHE"

var (
	// Global is a singleton instance
	Global Config
	once   sync.Once
)

// DefaultConfig returns the config written on first run.
func DefaultConfig() Config {
	return Config{
		Cache:   CacheConfig{Path: "data/label_cache.jsonl"},
		Index:   IndexConfig{OutputPath: "data/dandiset_assets.json"},
		Dandi:   DandiConfig{BaseURL: "https://api.dandiarchive.org/api", PageSize: 1000, RateLimit: 5},
		Labeler: LabelerConfig{BaseURL: "http://localhost:8421", Workers: 1},
		Anatomy: AnatomyConfig{StructuresPath: "data/ccf_structures.json"},
		Serve:   ServeConfig{Port: 8420},
		Logging: LoggingConfig{Level: "info", Dir: "~/.neuroatlas/logs"},
	}
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		var cfg Config
		cfg, err = loadInternal()
		if err == nil {
			Global = cfg
		}
	})
	return err
}

func loadInternal() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return LoadFrom(filepath.Join(home, ".neuroatlas", "neuroatlas.yaml"))
}

// LoadFrom reads the config at path, creating it with defaults when it
// does not exist, and applies environment overrides.
func LoadFrom(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	if cachePath := os.Getenv(EnvLabelCache); cachePath != "" {
		cfg.Cache.Path = cachePath
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
