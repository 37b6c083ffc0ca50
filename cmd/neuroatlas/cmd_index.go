// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/NeuroAtlas/cmd/neuroatlas/config"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
	"github.com/AleutianAI/NeuroAtlas/pkg/subjectindex"
	"github.com/AleutianAI/NeuroAtlas/pkg/ux"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Regenerate the subject index from the existing label cache",
	Long: `Index rebuilds the per-subject asset index from the label cache
without touching the network. Use it after hand-editing or compacting
the cache, or to regenerate a deleted index file.`,
	Run: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "neuroatlas-index",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer logger.Close()

	store := labelcache.NewStore(cfg.Cache.Path)
	if err := store.Load(); err != nil {
		logger.Error("cache load failed", "path", cfg.Cache.Path, "error", err.Error())
		os.Exit(1)
	}

	index := subjectindex.Build(store)
	if err := subjectindex.WriteFile(index, cfg.Index.OutputPath); err != nil {
		logger.Error("index write failed", "path", cfg.Index.OutputPath, "error", err.Error())
		os.Exit(1)
	}

	p := ux.NewPrinter()
	if noColorFlag {
		p = ux.NewPlainPrinter()
	}
	fmt.Print(ux.Block(
		p.Line(ux.IconSuccess, fmt.Sprintf("indexed %d cache entries into %d dandisets",
			store.Len(), len(index))),
		p.KV("cache", cfg.Cache.Path),
		p.KV("output", cfg.Index.OutputPath),
	))
}
