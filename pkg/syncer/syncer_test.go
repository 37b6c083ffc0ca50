// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/NeuroAtlas/pkg/anatomy"
	"github.com/AleutianAI/NeuroAtlas/pkg/dandi"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
)

// mockLister serves asset listings per dandiset id.
type mockLister struct {
	mu     sync.Mutex
	assets map[string][]dandi.Asset
	errors map[string]error
	calls  []string
}

func (m *mockLister) ListAssets(ctx context.Context, dandisetID string, maxAssets int) ([]dandi.Asset, error) {
	m.mu.Lock()
	m.calls = append(m.calls, dandisetID)
	m.mu.Unlock()
	if err, ok := m.errors[dandisetID]; ok {
		return nil, err
	}
	return m.assets[dandisetID], nil
}

// mockLabeler labels everything successfully unless the asset id is in
// fail, and counts calls per asset.
type mockLabeler struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newMockLabeler() *mockLabeler {
	return &mockLabeler{fail: map[string]error{}, calls: map[string]int{}}
}

func (m *mockLabeler) LabelAsset(ctx context.Context, dandisetID labelcache.DandisetID, asset dandi.Asset) labelcache.Outcome {
	m.mu.Lock()
	m.calls[asset.AssetID]++
	m.mu.Unlock()
	if err, ok := m.fail[asset.AssetID]; ok {
		return labelcache.Failure(err)
	}
	return labelcache.Success(&labelcache.CacheEntry{
		DandisetID: dandisetID,
		AssetID:    asset.AssetID,
		Path:       asset.Path,
		Status:     "ok",
	})
}

var _ anatomy.Labeler = (*mockLabeler)(nil)
var _ dandi.AssetLister = (*mockLister)(nil)

func seedCache(t *testing.T, dir string, lines ...string) *labelcache.Store {
	t.Helper()
	path := filepath.Join(dir, "label_cache.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return labelcache.NewStore(path)
}

func newSynchronizer(t *testing.T, store *labelcache.Store, lister *mockLister, labeler *mockLabeler, outDir string) *Synchronizer {
	t.Helper()
	logger, err := logging.New(logging.Config{Quiet: true})
	require.NoError(t, err)
	return &Synchronizer{
		Store:      store,
		Lister:     lister,
		Labeler:    labeler,
		Logger:     logger,
		Metrics:    NewMetrics(nil),
		OutputPath: filepath.Join(outDir, "dandiset_assets.json"),
	}
}

func TestRunLabelsOnlyCacheGaps(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f1.nwb","status":"ok"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "a1", Path: "sub-1/f1.nwb"},
			{AssetID: "a2", Path: "sub-2/f1.nwb"},
		},
	}}
	labeler := newMockLabeler()

	summary, err := newSynchronizer(t, store, lister, labeler, dir).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dandisets)
	assert.Equal(t, 2, summary.AssetsSeen)
	assert.Equal(t, 2, summary.Subjects)
	assert.Equal(t, 1, summary.Labeled)
	assert.Equal(t, 1, summary.AlreadyCached)
	assert.Empty(t, summary.LabelFailures)

	// Only the missing subject was labeled, exactly once.
	assert.Equal(t, map[string]int{"a2": 1}, labeler.calls)
	assert.True(t, store.Has("000003", "a2"))

	stats := summary.PerDandiset["000003"]
	require.NotNil(t, stats)
	assert.Equal(t, DandisetStats{Assets: 2, Subjects: 2, Labeled: 1, AlreadyCached: 1}, *stats)
}

func TestRunLabelsOneAssetPerMissingSubject(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"seed","path":"sub-0/f.nwb"}`,
	)
	// sub-1 has three sessions; only the path-smallest one is labeled.
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "c", Path: "sub-1/ses-3.nwb"},
			{AssetID: "a", Path: "sub-1/ses-1.nwb"},
			{AssetID: "b", Path: "sub-1/ses-2.nwb"},
		},
	}}
	labeler := newMockLabeler()

	summary, err := newSynchronizer(t, store, lister, labeler, dir).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Labeled)
	assert.Equal(t, map[string]int{"a": 1}, labeler.calls)
	assert.True(t, store.Has("000003", "a"))
	assert.False(t, store.Has("000003", "b"))
	assert.False(t, store.Has("000003", "c"))
}

func TestRunSubjectWithAnyCachedAssetIsSkipped(t *testing.T) {
	dir := t.TempDir()
	// The cached asset is not the path-smallest one; the subject still
	// counts as represented.
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"b","path":"sub-1/ses-2.nwb"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "a", Path: "sub-1/ses-1.nwb"},
			{AssetID: "b", Path: "sub-1/ses-2.nwb"},
		},
	}}
	labeler := newMockLabeler()

	summary, err := newSynchronizer(t, store, lister, labeler, dir).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Labeled)
	assert.Equal(t, 1, summary.AlreadyCached)
	assert.Empty(t, labeler.calls)
}

func TestRunCachedErrorEntryIsNotRelabeled(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f1.nwb","status":"error","error":"no electrodes"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {{AssetID: "a1", Path: "sub-1/f1.nwb"}},
	}}
	labeler := newMockLabeler()

	summary, err := newSynchronizer(t, store, lister, labeler, dir).Run(context.Background())
	require.NoError(t, err)

	// Presence in the cache is what counts, not the entry's status.
	assert.Equal(t, 1, summary.AlreadyCached)
	assert.Equal(t, 0, summary.Labeled)
	assert.Empty(t, labeler.calls)
}

func TestRunListingFailureSkipsOnlyThatDandiset(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f1.nwb"}`,
		`{"dandiset_id":"000041","asset_id":"b1","path":"sub-b/f1.nwb"}`,
	)
	lister := &mockLister{
		assets: map[string][]dandi.Asset{
			"000041": {
				{AssetID: "b1", Path: "sub-b/f1.nwb"},
				{AssetID: "b2", Path: "sub-c/f1.nwb"},
			},
		},
		errors: map[string]error{"000003": errors.New("gateway timeout")},
	}
	labeler := newMockLabeler()

	summary, err := newSynchronizer(t, store, lister, labeler, dir).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.FailedListings, 1)
	assert.Equal(t, labelcache.DandisetID("000003"), summary.FailedListings[0].DandisetID)

	// The healthy dandiset still synced.
	assert.Equal(t, 1, summary.Labeled)
	assert.True(t, store.Has("000041", "b2"))
	assert.ElementsMatch(t, []string{"000003", "000041"}, lister.calls)
}

func TestRunLabelFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a0","path":"sub-0/f.nwb"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "a0", Path: "sub-0/f.nwb"},
			{AssetID: "a1", Path: "sub-1/f.nwb"},
			{AssetID: "a2", Path: "sub-2/f.nwb"},
		},
	}}
	labeler := newMockLabeler()
	labeler.fail["a1"] = errors.New("no electrode table")

	sync := newSynchronizer(t, store, lister, labeler, dir)
	summary, err := sync.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.LabelFailures, 1)
	assert.Equal(t, "a1", summary.LabelFailures[0].AssetID)
	assert.Equal(t, 1, summary.Labeled)
	assert.True(t, store.Has("000003", "a2"))
	assert.False(t, store.Has("000003", "a1"))

	// The failed subject stays out of the index until a future run
	// labels it.
	data, err := os.ReadFile(sync.OutputPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sub-1/")
	assert.Contains(t, string(data), "sub-2/")
}

func TestRunParallelLabelsEachSubjectOnce(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"seed","path":"sub-0/f.nwb"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "a1", Path: "sub-1/f.nwb"},
			{AssetID: "a2", Path: "sub-2/f.nwb"},
			{AssetID: "a3", Path: "sub-3/f.nwb"},
			{AssetID: "a4", Path: "sub-4/f.nwb"},
		},
	}}
	labeler := newMockLabeler()

	sync := newSynchronizer(t, store, lister, labeler, dir)
	sync.Workers = 4

	summary, err := sync.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Labeled)
	assert.Equal(t, map[string]int{"a1": 1, "a2": 1, "a3": 1, "a4": 1}, labeler.calls)

	// The on-disk log holds exactly one line per labeled subject.
	reloaded := labelcache.NewStore(store.Path())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 5, reloaded.Len())
}

func TestParallelLabelOneSkipsServiceCallWhenAlreadyCached(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f.nwb","status":"ok"}`,
	)
	require.NoError(t, store.Load())

	labeler := newMockLabeler()
	sync := newSynchronizer(t, store, &mockLister{}, labeler, dir)
	sync.Workers = 2

	summary := &Summary{PerDandiset: map[labelcache.DandisetID]*DandisetStats{}}
	stats := &DandisetStats{}
	sync.labelOne(context.Background(), "000003",
		dandi.Asset{AssetID: "a1", Path: "sub-1/f.nwb"},
		sync.Logger, summary, stats, &sync.appendMu)

	// The cached asset never reaches the labeling service.
	assert.Empty(t, labeler.calls)
	assert.Equal(t, 1, summary.AlreadyCached)
	assert.Equal(t, 1, stats.AlreadyCached)
	assert.Equal(t, 0, summary.Labeled)
}

func TestRunWritesIndex(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/ses-1.nwb","matched_locations":{"loc":[{"id":385,"acronym":"VISp","name":"Primary visual area"}]}}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {
			{AssetID: "a1", Path: "sub-1/ses-1.nwb"},
			{AssetID: "a2", Path: "sub-2/ses-1.nwb"},
		},
	}}

	sync := newSynchronizer(t, store, lister, newMockLabeler(), dir)
	summary, err := sync.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.IndexEntries)
	assert.Equal(t, 2, summary.IndexSubjects)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, sync.OutputPath, summary.IndexPath)

	data, err := os.ReadFile(sync.OutputPath)
	require.NoError(t, err)

	var index map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &index))
	require.Contains(t, index, "000003")
	require.Len(t, index["000003"], 2)
	assert.Equal(t, "sub-1/ses-1.nwb", index["000003"][0]["path"])
	assert.Equal(t, "sub-2/ses-1.nwb", index["000003"][1]["path"])
}

func TestRunPropagatesCacheLoadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "label_cache.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{broken\n"), 0o644))

	sync := newSynchronizer(t, labelcache.NewStore(path), &mockLister{}, newMockLabeler(), dir)
	_, err := sync.Run(context.Background())

	require.Error(t, err)
	var malformed *labelcache.MalformedRecordError
	assert.True(t, errors.As(err, &malformed))
}

func TestRunCanceledContext(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f.nwb"}`,
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sync := newSynchronizer(t, store, &mockLister{}, newMockLabeler(), dir)
	_, err := sync.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFilterRestrictsToCachedSubset(t *testing.T) {
	dir := t.TempDir()
	store := seedCache(t, dir,
		`{"dandiset_id":"000003","asset_id":"a1","path":"sub-1/f.nwb"}`,
		`{"dandiset_id":"000041","asset_id":"b1","path":"sub-b/f.nwb"}`,
	)
	lister := &mockLister{assets: map[string][]dandi.Asset{
		"000003": {{AssetID: "a1", Path: "sub-1/f.nwb"}, {AssetID: "a2", Path: "sub-2/f.nwb"}},
		"000041": {{AssetID: "b1", Path: "sub-b/f.nwb"}, {AssetID: "b2", Path: "sub-c/f.nwb"}},
	}}
	labeler := newMockLabeler()

	sync := newSynchronizer(t, store, lister, labeler, dir)
	// 000099 is not in the cache, so the filter cannot add it.
	sync.Filter = []labelcache.DandisetID{"000041", "000099"}

	summary, err := sync.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dandisets)
	assert.Equal(t, []string{"000041"}, lister.calls)
	assert.True(t, store.Has("000041", "b2"))
	assert.False(t, store.Has("000003", "a2"))
}

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SubjectsLabeled.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "neuroatlas_sync_subjects_labeled_total")
	assert.Contains(t, names, "neuroatlas_sync_label_duration_seconds")
}
