// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the neuroatlas configuration file.
package config

// Config is the neuroatlas.yaml schema.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Index   IndexConfig   `yaml:"index"`
	Dandi   DandiConfig   `yaml:"dandi"`
	Labeler LabelerConfig `yaml:"labeler"`
	Anatomy AnatomyConfig `yaml:"anatomy"`
	Serve   ServeConfig   `yaml:"serve"`
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig locates the append-only label cache.
type CacheConfig struct {
	// Path to the JSON lines cache file. Overridable with the
	// NEUROATLAS_LABEL_CACHE environment variable.
	Path string `yaml:"path"`
}

// IndexConfig locates the generated subject index.
type IndexConfig struct {
	OutputPath string `yaml:"output_path"`
}

// DandiConfig points at the DANDI archive API.
type DandiConfig struct {
	BaseURL  string  `yaml:"base_url"`
	PageSize int     `yaml:"page_size"`
	// RateLimit is requests per second against the archive.
	RateLimit float64 `yaml:"rate_limit"`
}

// LabelerConfig points at the external anatomy labeling service.
type LabelerConfig struct {
	BaseURL string `yaml:"base_url"`
	// Workers >1 labels a dandiset's missing assets concurrently.
	Workers int `yaml:"workers"`
}

// AnatomyConfig locates the Allen CCF structure mapping cache.
type AnatomyConfig struct {
	StructuresPath string `yaml:"structures_path"`
}

// ServeConfig configures the index HTTP server.
type ServeConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures console and file logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}
