// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anatomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/NeuroAtlas/pkg/dandi"
	"github.com/AleutianAI/NeuroAtlas/pkg/labelcache"
)

// Labeler produces a label cache entry for one asset. Implementations
// report per-asset failures inside the Outcome so a bad asset never
// aborts a sync run.
type Labeler interface {
	LabelAsset(ctx context.Context, dandisetID labelcache.DandisetID, asset dandi.Asset) labelcache.Outcome
}

// labelRequest is the body sent to the labeling service. apply is
// always false: the service computes regions, the caller persists.
type labelRequest struct {
	DandisetID string      `json:"dandiset_id"`
	Asset      dandi.Asset `json:"asset"`
	Apply      bool        `json:"apply"`
}

// RemoteLabeler requests labeling from an external anatomy service.
// Lookups fills in acronyms and names the service left blank, keyed by
// Allen structure id.
type RemoteLabeler struct {
	URL     string
	HTTP    HTTPDoer
	Lookups LookupTables
}

// NewRemoteLabeler creates a labeler against the service base URL.
func NewRemoteLabeler(serviceURL string, lookups LookupTables) *RemoteLabeler {
	return &RemoteLabeler{
		URL:     strings.TrimRight(serviceURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Minute},
		Lookups: lookups,
	}
}

// LabelAsset posts the asset to the service and returns its cache
// entry. The returned entry always carries the requested dandiset id,
// asset id, and path, whatever the service echoed back.
func (r *RemoteLabeler) LabelAsset(ctx context.Context, dandisetID labelcache.DandisetID, asset dandi.Asset) labelcache.Outcome {
	body, err := json.Marshal(labelRequest{
		DandisetID: string(dandisetID),
		Asset:      asset,
		Apply:      false,
	})
	if err != nil {
		return labelcache.Failure(fmt.Errorf("anatomy: encode label request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL+"/label", bytes.NewReader(body))
	if err != nil {
		return labelcache.Failure(fmt.Errorf("anatomy: build label request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return labelcache.Failure(fmt.Errorf("anatomy: label asset %s: %w", asset.AssetID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return labelcache.Failure(fmt.Errorf("anatomy: label asset %s: status %d: %s",
			asset.AssetID, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	entry := &labelcache.CacheEntry{}
	if err := json.NewDecoder(resp.Body).Decode(entry); err != nil {
		return labelcache.Failure(fmt.Errorf("anatomy: decode label response for %s: %w", asset.AssetID, err))
	}

	entry.DandisetID = dandisetID
	entry.AssetID = asset.AssetID
	entry.Path = asset.Path
	if entry.Status == "" {
		entry.Status = "ok"
	}
	r.enrichRegions(entry)
	return labelcache.Success(entry)
}

// enrichRegions fills missing acronyms and names from the structure
// graph. Region ids the graph does not know are left untouched.
func (r *RemoteLabeler) enrichRegions(entry *labelcache.CacheEntry) {
	for _, loc := range entry.MatchedLocations {
		for i := range loc.Regions {
			region := &loc.Regions[i]
			s, ok := r.Lookups.ByID[region.ID]
			if !ok {
				continue
			}
			if region.Acronym == "" {
				region.Acronym = s.Acronym
			}
			if region.Name == "" {
				region.Name = s.Name
			}
		}
	}
}
