// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package syncer fills label cache gaps and regenerates the subject
// index.
//
// A sync run walks every dandiset already present in the cache, lists
// its NWB assets from the archive, finds the subjects the cache does
// not represent yet, and labels one asset for each. Failures stay
// contained: a listing error skips only that dandiset, a labeling
// error skips only that subject. The run ends by rebuilding the index
// from the full cache.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/NeuroAtlas/pkg/anatomy"
	"github.com/AleutianAI/NeuroAtlas/pkg/dandi"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
	"github.com/AleutianAI/NeuroAtlas/pkg/subjectindex"
)

// AssetFailure records one asset that could not be labeled.
type AssetFailure struct {
	DandisetID labelcache.DandisetID
	AssetID    string
	Path       string
	Err        error
}

// DandisetFailure records one dandiset whose asset listing failed.
type DandisetFailure struct {
	DandisetID labelcache.DandisetID
	Err        error
}

// DandisetStats are the per-dandiset counts of one sync run.
type DandisetStats struct {
	Assets        int
	Subjects      int
	Labeled       int
	AlreadyCached int
	Failed        int
}

// Summary is the result of one sync run. Labeled and AlreadyCached
// count subjects: the sync labels at most one asset per subject.
type Summary struct {
	RunID          string
	Dandisets      int
	AssetsSeen     int
	Subjects       int
	Labeled        int
	AlreadyCached  int
	LabelFailures  []AssetFailure
	FailedListings []DandisetFailure
	PerDandiset    map[labelcache.DandisetID]*DandisetStats
	IndexPath      string
	IndexEntries   int
	IndexSubjects  int
	Duration       time.Duration
}

// Synchronizer wires the cache, archive, and labeling service together.
// All collaborators are injected; tests substitute mocks.
type Synchronizer struct {
	Store   *labelcache.Store
	Lister  dandi.AssetLister
	Labeler anatomy.Labeler
	Logger  *logging.Logger
	Metrics *Metrics

	// OutputPath receives the rebuilt subject index after the run.
	OutputPath string

	// Workers >1 labels a dandiset's missing assets concurrently.
	Workers int

	// Filter, when non-empty, restricts the run to these dandisets.
	// Only ids already present in the cache are considered either way.
	Filter []labelcache.DandisetID

	// appendMu serializes the recheck-then-append step in parallel
	// mode so a retried asset cannot be labeled twice.
	appendMu sync.Mutex
}

// Run executes one full sync pass and rebuilds the index.
//
// The returned error covers infrastructure failures only (cache load,
// index write). Per-dandiset and per-asset failures are reported in
// the Summary.
func (s *Synchronizer) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := s.Logger.With("run_id", runID)

	if err := s.Store.Load(); err != nil {
		return nil, fmt.Errorf("syncer: load cache: %w", err)
	}

	summary := &Summary{
		RunID:       runID,
		IndexPath:   s.OutputPath,
		PerDandiset: make(map[labelcache.DandisetID]*DandisetStats),
	}

	dandisets := s.Store.DandisetIDs()
	if len(s.Filter) > 0 {
		wanted := make(map[labelcache.DandisetID]struct{}, len(s.Filter))
		for _, id := range s.Filter {
			wanted[id] = struct{}{}
		}
		kept := dandisets[:0]
		for _, id := range dandisets {
			if _, ok := wanted[id]; ok {
				kept = append(kept, id)
			}
		}
		dandisets = kept
	}
	summary.Dandisets = len(dandisets)
	log.Info("sync started",
		"dandisets", len(dandisets),
		"cached_entries", s.Store.Len())

	for _, id := range dandisets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("syncer: canceled: %w", err)
		}
		s.processDandiset(ctx, id, log, summary)
	}

	index := subjectindex.Build(s.Store)
	if err := subjectindex.WriteFile(index, s.OutputPath); err != nil {
		return nil, fmt.Errorf("syncer: write index: %w", err)
	}
	summary.IndexEntries = len(index)
	for _, records := range index {
		summary.IndexSubjects += len(records)
	}
	summary.Duration = time.Since(start)

	log.Info("sync finished",
		"index_dandisets", summary.IndexEntries,
		"index_subjects", summary.IndexSubjects,
		"labeled", summary.Labeled,
		"already_cached", summary.AlreadyCached,
		"label_failures", len(summary.LabelFailures),
		"failed_listings", len(summary.FailedListings),
		"duration", summary.Duration.String())
	return summary, nil
}

func (s *Synchronizer) processDandiset(ctx context.Context, id labelcache.DandisetID, log *logging.Logger, summary *Summary) {
	dlog := log.With("dandiset_id", string(id))
	stats := &DandisetStats{}
	summary.PerDandiset[id] = stats

	assets, err := s.Lister.ListAssets(ctx, string(id), 0)
	if err != nil {
		dlog.Warn("asset listing failed, skipping dandiset", "error", err.Error())
		s.Metrics.DandisetsFailed.Inc()
		summary.FailedListings = append(summary.FailedListings,
			DandisetFailure{DandisetID: id, Err: err})
		return
	}
	summary.AssetsSeen += len(assets)
	stats.Assets = len(assets)

	// One asset represents each subject. A subject whose listing has
	// any asset already cached needs no work, regardless of the cached
	// entry's status; otherwise its path-smallest asset gets labeled.
	bySubject := make(map[string][]dandi.Asset)
	for _, asset := range assets {
		subject := subjectindex.ExtractSubject(asset.Path)
		bySubject[subject] = append(bySubject[subject], asset)
	}
	subjects := make([]string, 0, len(bySubject))
	for subject := range bySubject {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	summary.Subjects += len(subjects)
	stats.Subjects = len(subjects)

	var missing []dandi.Asset
	for _, subject := range subjects {
		group := bySubject[subject]
		sort.Slice(group, func(i, j int) bool { return group[i].Path < group[j].Path })

		cached := false
		for _, asset := range group {
			if s.Store.Has(id, asset.AssetID) {
				cached = true
				break
			}
		}
		if cached {
			summary.AlreadyCached++
			stats.AlreadyCached++
			s.Metrics.SubjectsCached.Inc()
			continue
		}
		missing = append(missing, group[0])
	}
	if len(missing) == 0 {
		dlog.Debug("no cache gaps", "assets", len(assets), "subjects", len(subjects))
		return
	}
	dlog.Info("labeling missing subjects",
		"assets", len(assets), "subjects", len(subjects), "missing", len(missing))

	if s.Workers > 1 {
		s.labelParallel(ctx, id, missing, dlog, summary, stats)
		return
	}
	for _, asset := range missing {
		if ctx.Err() != nil {
			return
		}
		s.labelOne(ctx, id, asset, dlog, summary, stats, nil)
	}
}

// labelParallel fans labeling out over a bounded worker group. Summary
// updates and the cache recheck-append are serialized on appendMu.
func (s *Synchronizer) labelParallel(ctx context.Context, id labelcache.DandisetID, missing []dandi.Asset, dlog *logging.Logger, summary *Summary, stats *DandisetStats) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for _, asset := range missing {
		asset := asset
		g.Go(func() error {
			s.labelOne(gctx, id, asset, dlog, summary, stats, &s.appendMu)
			return nil
		})
	}
	// Workers never return errors; failures land in the summary.
	_ = g.Wait()
}

func (s *Synchronizer) labelOne(ctx context.Context, id labelcache.DandisetID, asset dandi.Asset, dlog *logging.Logger, summary *Summary, stats *DandisetStats, mu *sync.Mutex) {
	// In parallel mode another worker may have stored this asset while
	// it sat in the queue. Checking before the service call saves a
	// labeling round trip; the post-label recheck below still guards
	// the append itself.
	if mu != nil {
		mu.Lock()
		cached := s.Store.Has(id, asset.AssetID)
		if cached {
			summary.AlreadyCached++
			stats.AlreadyCached++
			s.Metrics.SubjectsCached.Inc()
		}
		mu.Unlock()
		if cached {
			return
		}
	}

	labelStart := time.Now()
	outcome := s.Labeler.LabelAsset(ctx, id, asset)
	s.Metrics.LabelDuration.Observe(time.Since(labelStart).Seconds())

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	if !outcome.OK() {
		dlog.Warn("labeling failed",
			"asset_id", asset.AssetID, "path", asset.Path, "error", outcome.Err.Error())
		s.Metrics.LabelFailures.Inc()
		stats.Failed++
		summary.LabelFailures = append(summary.LabelFailures, AssetFailure{
			DandisetID: id, AssetID: asset.AssetID, Path: asset.Path, Err: outcome.Err,
		})
		return
	}

	// A concurrent worker may have stored the same asset id meanwhile.
	if s.Store.Has(id, asset.AssetID) {
		summary.AlreadyCached++
		stats.AlreadyCached++
		s.Metrics.SubjectsCached.Inc()
		return
	}
	if err := s.Store.Append(outcome.Entry); err != nil {
		dlog.Error("cache append failed", "asset_id", asset.AssetID, "error", err.Error())
		s.Metrics.LabelFailures.Inc()
		stats.Failed++
		summary.LabelFailures = append(summary.LabelFailures, AssetFailure{
			DandisetID: id, AssetID: asset.AssetID, Path: asset.Path, Err: err,
		})
		return
	}
	summary.Labeled++
	stats.Labeled++
	s.Metrics.SubjectsLabeled.Inc()
	dlog.Debug("asset labeled", "asset_id", asset.AssetID, "path", asset.Path)
}
