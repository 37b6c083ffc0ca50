// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package subjectindex derives the per-subject asset index from the
// label cache.
//
// For each dandiset, assets are grouped by subject and collapsed to one
// canonical asset per subject (the lexicographically smallest path).
// Each canonical asset carries the deduplicated brain regions from its
// cached labeling result. The index is written as compact JSON keyed by
// dandiset id.
package subjectindex

import (
	"sort"
	"strings"

	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
)

// Ventricular-system and root structures carry no anatomical signal
// for electrode placement and are excluded from the index.
var excludedRegionIDs = map[int]struct{}{
	8:   {},
	997: {},
}

// Region is one deduplicated brain region on an indexed asset.
type Region struct {
	ID      int    `json:"id"`
	Acronym string `json:"acronym"`
	Name    string `json:"name"`
}

// AssetRecord is the canonical asset for one subject.
type AssetRecord struct {
	Path    string   `json:"path"`
	AssetID string   `json:"asset_id"`
	Regions []Region `json:"regions"`
}

// Index maps dandiset id to its per-subject asset records.
type Index map[string][]AssetRecord

// ExtractSubject derives the subject identifier from an asset path.
// Paths with directories use the top-level directory; flat paths use
// the prefix before the first underscore.
func ExtractSubject(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	if i := strings.IndexByte(path, '_'); i >= 0 {
		return path[:i]
	}
	return path
}

// dedupRegions flattens an entry's matched locations into a region
// list, keeping the first occurrence of each region id in stored order
// and dropping excluded structures. The result is never nil.
func dedupRegions(ml labelcache.MatchedLocations) []Region {
	regions := []Region{}
	seen := make(map[int]struct{})
	for _, lm := range ml {
		for _, r := range lm.Regions {
			if _, excluded := excludedRegionIDs[r.ID]; excluded {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			regions = append(regions, Region{ID: r.ID, Acronym: r.Acronym, Name: r.Name})
		}
	}
	return regions
}

// Build derives the index from every entry in the store.
//
// Within a dandiset, each subject keeps exactly one asset: the one with
// the lexicographically smallest path. Records are ordered by subject
// ascending. Dandiset ordering is handled at encode time by JSON's
// sorted object keys.
func Build(store *labelcache.Store) Index {
	type canonical struct {
		subject string
		entry   *labelcache.CacheEntry
	}

	perDandiset := make(map[string]map[string]*labelcache.CacheEntry)
	for _, entry := range store.Entries() {
		id := string(entry.DandisetID)
		subjects, ok := perDandiset[id]
		if !ok {
			subjects = make(map[string]*labelcache.CacheEntry)
			perDandiset[id] = subjects
		}
		subject := ExtractSubject(entry.Path)
		current, exists := subjects[subject]
		if !exists || entry.Path < current.Path {
			subjects[subject] = entry
		}
	}

	index := make(Index, len(perDandiset))
	for id, subjects := range perDandiset {
		chosen := make([]canonical, 0, len(subjects))
		for subject, entry := range subjects {
			chosen = append(chosen, canonical{subject: subject, entry: entry})
		}
		sort.Slice(chosen, func(i, j int) bool { return chosen[i].subject < chosen[j].subject })

		records := make([]AssetRecord, 0, len(chosen))
		for _, c := range chosen {
			records = append(records, AssetRecord{
				Path:    c.entry.Path,
				AssetID: c.entry.AssetID,
				Regions: dedupRegions(c.entry.MatchedLocations),
			})
		}
		index[id] = records
	}
	return index
}
