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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/NeuroAtlas/cmd/neuroatlas/config"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
	"github.com/AleutianAI/NeuroAtlas/pkg/ux"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the label cache without superseded lines",
	Long: `Compact rewrites the append-only label cache so each asset keeps only
its most recent entry. The cache is replaced atomically; run index or
sync afterwards if the index file should be regenerated.`,
	Run: runCompact,
}

func runCompact(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "neuroatlas-compact",
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

	var sizeBefore int64
	if info, err := os.Stat(cfg.Cache.Path); err == nil {
		sizeBefore = info.Size()
	}

	tmp, err := os.CreateTemp(filepath.Dir(cfg.Cache.Path), ".label_cache-*.jsonl")
	if err != nil {
		logger.Error("compact failed", "error", err.Error())
		os.Exit(1)
	}
	if err := store.Dump(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		logger.Error("compact write failed", "error", err.Error())
		os.Exit(1)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		logger.Error("compact write failed", "error", err.Error())
		os.Exit(1)
	}
	if err := os.Rename(tmp.Name(), cfg.Cache.Path); err != nil {
		os.Remove(tmp.Name())
		logger.Error("compact replace failed", "error", err.Error())
		os.Exit(1)
	}

	var sizeAfter int64
	if info, err := os.Stat(cfg.Cache.Path); err == nil {
		sizeAfter = info.Size()
	}

	p := ux.NewPrinter()
	if noColorFlag {
		p = ux.NewPlainPrinter()
	}
	fmt.Print(ux.Block(
		p.Line(ux.IconSuccess, fmt.Sprintf("compacted cache to %d entries", store.Len())),
		p.KV("cache", cfg.Cache.Path),
		p.KV("size", fmt.Sprintf("%d -> %d bytes", sizeBefore, sizeAfter)),
	))
}
