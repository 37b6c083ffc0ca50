// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package anatomy handles the Allen CCF structure mapping and the
// interface to the external anatomical labeling service.
//
// Region assignment itself (resolving electrode coordinates against the
// reference atlas) runs in an external service; this package carries
// the structure vocabulary those results refer to and the client that
// requests labeling.
package anatomy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultStructureGraphURL is the Allen Brain Map adult mouse
// structure graph (graph id 1).
const DefaultStructureGraphURL = "http://api.brain-map.org/api/v2/structure_graph_download/1.json"

// Structure is one node of the Allen CCF structure graph.
type Structure struct {
	ID              int         `json:"id"`
	Acronym         string      `json:"acronym"`
	Name            string      `json:"name"`
	StructureIDPath string      `json:"structure_id_path"`
	Children        []Structure `json:"children,omitempty"`
}

// StructureMapping is the flattened structure graph.
type StructureMapping []Structure

// structureGraphDoc is the Allen API download envelope.
type structureGraphDoc struct {
	Success bool        `json:"success"`
	Msg     []Structure `json:"msg"`
}

// flatten walks the structure tree depth-first, appending every node
// with its children stripped.
func flatten(nodes []Structure, out StructureMapping) StructureMapping {
	for _, node := range nodes {
		children := node.Children
		node.Children = nil
		out = append(out, node)
		out = flatten(children, out)
	}
	return out
}

// LookupTables index the structure mapping for labeling lookups.
type LookupTables struct {
	ByID      map[int]Structure
	ByAcronym map[string]Structure
}

// BuildLookups builds id and acronym indexes over the mapping. A
// duplicated id or acronym keeps the first occurrence.
func BuildLookups(mapping StructureMapping) LookupTables {
	tables := LookupTables{
		ByID:      make(map[int]Structure, len(mapping)),
		ByAcronym: make(map[string]Structure, len(mapping)),
	}
	for _, s := range mapping {
		if _, ok := tables.ByID[s.ID]; !ok {
			tables.ByID[s.ID] = s
		}
		key := strings.ToLower(s.Acronym)
		if _, ok := tables.ByAcronym[key]; !ok {
			tables.ByAcronym[key] = s
		}
	}
	return tables
}

// ParentChain returns the ancestor ids of a structure from root to the
// structure itself, decoded from its structure_id_path.
func (t LookupTables) ParentChain(id int) []int {
	s, ok := t.ByID[id]
	if !ok {
		return nil
	}
	parts := strings.Split(strings.Trim(s.StructureIDPath, "/"), "/")
	chain := make([]int, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(part, "%d", &n); err == nil {
			chain = append(chain, n)
		}
	}
	return chain
}

// MappingLoader fetches and caches the structure graph.
type MappingLoader struct {
	// CachePath is the local JSON file holding the flattened mapping.
	CachePath string
	// FetchURL is the Allen API endpoint used when the cache is absent.
	FetchURL string
	HTTP     HTTPDoer
}

// HTTPDoer executes an HTTP request.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewMappingLoader creates a loader caching to cachePath.
func NewMappingLoader(cachePath string) *MappingLoader {
	return &MappingLoader{
		CachePath: cachePath,
		FetchURL:  DefaultStructureGraphURL,
		HTTP:      http.DefaultClient,
	}
}

// LoadMapping returns the structure mapping, reading the local cache
// when present and fetching from the Allen API otherwise. A successful
// fetch is written back to the cache before returning.
func (l *MappingLoader) LoadMapping(ctx context.Context) (StructureMapping, error) {
	if data, err := os.ReadFile(l.CachePath); err == nil {
		var mapping StructureMapping
		if err := json.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("anatomy: parse mapping cache %s: %w", l.CachePath, err)
		}
		return mapping, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("anatomy: read mapping cache %s: %w", l.CachePath, err)
	}

	mapping, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.writeCache(mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

func (l *MappingLoader) fetch(ctx context.Context) (StructureMapping, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.FetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("anatomy: build structure graph request: %w", err)
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anatomy: fetch structure graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anatomy: structure graph fetch returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc := &structureGraphDoc{}
	if err := json.NewDecoder(resp.Body).Decode(doc); err != nil {
		return nil, fmt.Errorf("anatomy: decode structure graph: %w", err)
	}
	if !doc.Success {
		return nil, fmt.Errorf("anatomy: structure graph download reported failure")
	}
	return flatten(doc.Msg, nil), nil
}

func (l *MappingLoader) writeCache(mapping StructureMapping) error {
	if dir := filepath.Dir(l.CachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("anatomy: create mapping cache dir: %w", err)
		}
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("anatomy: encode mapping cache: %w", err)
	}
	if err := os.WriteFile(l.CachePath, data, 0o644); err != nil {
		return fmt.Errorf("anatomy: write mapping cache %s: %w", l.CachePath, err)
	}
	return nil
}
