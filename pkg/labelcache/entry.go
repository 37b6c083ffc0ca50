// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package labelcache persists anatomical labeling results as an
// append-only JSON Lines file.
//
// Each line of the cache file is a single JSON object describing one
// labeled asset. The file is only ever appended to; when the same
// (dandiset_id, asset_id) pair appears on more than one line, the later
// line wins. This makes re-labeling an asset a plain append rather than
// a rewrite of the whole file.
package labelcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DandisetID is a dandiset identifier such as "000003".
//
// Upstream tooling has historically written the field both as a JSON
// string and as a bare integer, so unmarshaling accepts either form.
// Marshaling always emits a string.
type DandisetID string

// UnmarshalJSON accepts both "000003" and 3.
func (d *DandisetID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("labelcache: empty dandiset_id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("labelcache: invalid dandiset_id: %w", err)
		}
		*d = DandisetID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("labelcache: invalid dandiset_id: %w", err)
	}
	*d = DandisetID(strconv.FormatInt(n, 10))
	return nil
}

// RegionMatch is one brain region hit for an electrode location.
type RegionMatch struct {
	ID      int     `json:"id"`
	Acronym string  `json:"acronym"`
	Name    string  `json:"name"`
	Score   float64 `json:"score,omitempty"`
}

// LocationMatches pairs an electrode location key with the regions
// matched at that location.
type LocationMatches struct {
	Location string
	Regions  []RegionMatch
}

// MatchedLocations is an ordered list of location -> regions pairs.
//
// The wire form is a JSON object, but consumers depend on iterating the
// locations in the order the labeler emitted them, so we cannot decode
// into a Go map. The custom codec below walks the object tokens and
// preserves document order.
type MatchedLocations []LocationMatches

// UnmarshalJSON decodes a JSON object while preserving key order.
func (m *MatchedLocations) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("labelcache: matched_locations: %w", err)
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("labelcache: matched_locations: expected object, got %v", tok)
	}

	out := MatchedLocations{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("labelcache: matched_locations key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("labelcache: matched_locations key: expected string, got %v", keyTok)
		}
		var regions []RegionMatch
		if err := dec.Decode(&regions); err != nil {
			return fmt.Errorf("labelcache: matched_locations[%s]: %w", key, err)
		}
		out = append(out, LocationMatches{Location: key, Regions: regions})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("labelcache: matched_locations: %w", err)
	}
	*m = out
	return nil
}

// MarshalJSON encodes the pairs back into a JSON object in stored order.
func (m MatchedLocations) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, lm := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(lm.Location)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		regions, err := json.Marshal(lm.Regions)
		if err != nil {
			return nil, err
		}
		buf.Write(regions)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CacheEntry is one line of the label cache file.
type CacheEntry struct {
	DandisetID       DandisetID       `json:"dandiset_id" validate:"required"`
	AssetID          string           `json:"asset_id" validate:"required"`
	Path             string           `json:"path" validate:"required"`
	Status           string           `json:"status,omitempty"`
	MatchedLocations MatchedLocations `json:"matched_locations,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// Key identifies an entry for deduplication.
type Key struct {
	DandisetID DandisetID
	AssetID    string
}

// Key returns the entry's dedup key.
func (e *CacheEntry) Key() Key {
	return Key{DandisetID: e.DandisetID, AssetID: e.AssetID}
}
