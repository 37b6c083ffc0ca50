// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/NeuroAtlas/cmd/neuroatlas/config"
)

// --- Global Command Variables ---
var (
	cachePathFlag  string
	outputPathFlag string
	workersFlag    int
	noColorFlag    bool
	logLevelFlag   string

	rootCmd = &cobra.Command{
		Use:   "neuroatlas",
		Short: "A cli to index anatomically labeled DANDI archive assets",
		Long: `NeuroAtlas maintains an append-only cache of anatomical labeling
results for DANDI archive NWB assets and derives a per-subject asset
index from it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Load(); err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
			applyFlagOverrides()
		},
	}
)

// applyFlagOverrides lets command-line flags win over the config file.
func applyFlagOverrides() {
	if cachePathFlag != "" {
		config.Global.Cache.Path = cachePathFlag
	}
	if outputPathFlag != "" {
		config.Global.Index.OutputPath = outputPathFlag
	}
	if workersFlag > 0 {
		config.Global.Labeler.Workers = workersFlag
	}
	if logLevelFlag != "" {
		config.Global.Logging.Level = logLevelFlag
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cachePathFlag, "cache", "",
		"path to the label cache file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputPathFlag, "output", "",
		"path to the generated index file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false,
		"disable styled terminal output")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"console log level: debug, info, warn, error")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(serveCmd)
}
