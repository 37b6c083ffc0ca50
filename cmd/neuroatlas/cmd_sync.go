// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/NeuroAtlas/cmd/neuroatlas/config"
	"github.com/AleutianAI/NeuroAtlas/pkg/anatomy"
	"github.com/AleutianAI/NeuroAtlas/pkg/dandi"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
	"github.com/AleutianAI/NeuroAtlas/pkg/syncer"
	"github.com/AleutianAI/NeuroAtlas/pkg/ux"
	"github.com/AleutianAI/NeuroAtlas/pkg/validation"
)

var syncDandisetsFlag []string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fill label cache gaps from the archive and rebuild the index",
	Long: `Sync walks every dandiset already present in the label cache, lists
its NWB assets from the DANDI archive, labels one asset for each subject
the cache does not represent yet, and rebuilds the per-subject index.`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncDandisetsFlag, "dandisets", nil,
		"restrict the sync to these dandiset ids (must already be in the cache)")
	syncCmd.Flags().IntVar(&workersFlag, "workers", 0,
		"concurrent labeling requests per dandiset (overrides config)")
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "neuroatlas-sync",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer logger.Close()

	var filter []labelcache.DandisetID
	for _, id := range syncDandisetsFlag {
		if err := validation.ValidateDandisetID(id); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --dandisets value: %v\n", err)
			os.Exit(1)
		}
		filter = append(filter, labelcache.DandisetID(id))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mapping, err := anatomy.NewMappingLoader(cfg.Anatomy.StructuresPath).LoadMapping(ctx)
	if err != nil {
		logger.Error("load structure mapping", "error", err.Error())
		os.Exit(1)
	}
	lookups := anatomy.BuildLookups(mapping)
	logger.Info("structure mapping loaded", "structures", len(lookups.ByID))

	dandiClient := dandi.NewClient(cfg.Dandi.BaseURL)
	if cfg.Dandi.PageSize > 0 {
		dandiClient.PageSize = cfg.Dandi.PageSize
	}
	if cfg.Dandi.RateLimit > 0 {
		dandiClient.Limiter = rate.NewLimiter(rate.Limit(cfg.Dandi.RateLimit), 1)
	}

	sync := &syncer.Synchronizer{
		Store:      labelcache.NewStore(cfg.Cache.Path),
		Lister:     dandiClient,
		Labeler:    anatomy.NewRemoteLabeler(cfg.Labeler.BaseURL, lookups),
		Logger:     logger,
		Metrics:    syncer.NewMetrics(prometheus.DefaultRegisterer),
		OutputPath: cfg.Index.OutputPath,
		Workers:    cfg.Labeler.Workers,
		Filter:     filter,
	}

	summary, err := sync.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err.Error())
		os.Exit(1)
	}
	printSummary(summary)

	if len(summary.FailedListings) > 0 || len(summary.LabelFailures) > 0 {
		os.Exit(2)
	}
}

func printSummary(summary *syncer.Summary) {
	p := ux.NewPrinter()
	if noColorFlag {
		p = ux.NewPlainPrinter()
	}

	lines := []string{
		p.Title("Sync Summary"),
		p.KV("run_id", summary.RunID),
		p.KV("dandisets", summary.Dandisets),
		p.KV("assets_seen", summary.AssetsSeen),
		p.KV("subjects", summary.Subjects),
		p.KV("labeled", summary.Labeled),
		p.KV("already_cached", summary.AlreadyCached),
		p.KV("index", fmt.Sprintf("%s (%d dandisets, %d subjects)",
			summary.IndexPath, summary.IndexEntries, summary.IndexSubjects)),
		p.KV("duration", summary.Duration.Round(10*time.Millisecond)),
	}
	for _, f := range summary.FailedListings {
		lines = append(lines, p.Line(ux.IconError,
			fmt.Sprintf("dandiset %s: listing failed: %v", f.DandisetID, f.Err)))
	}
	for _, f := range summary.LabelFailures {
		lines = append(lines, p.Line(ux.IconWarning,
			fmt.Sprintf("asset %s (%s): %v", f.AssetID, f.Path, f.Err)))
	}
	if len(summary.FailedListings) == 0 && len(summary.LabelFailures) == 0 {
		lines = append(lines, p.Line(ux.IconSuccess, "sync completed without failures"))
	}
	fmt.Print(ux.Block(lines...))
}
