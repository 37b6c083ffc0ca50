// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package labelcache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Store holds the deduplicated view of a label cache file.
//
// Load reads the whole file once; Append writes the new line to disk
// before updating the in-memory view, so a crash mid-run loses at most
// the entry being written. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	path    string
	entries map[Key]*CacheEntry
	order   []Key

	validate *validator.Validate
}

// NewStore creates a store bound to path. The file is not touched until
// Load or Append is called.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		entries:  make(map[Key]*CacheEntry),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Path returns the cache file path the store is bound to.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cache file into memory.
//
// A missing file is not an error; the store is simply empty. Blank
// lines are skipped. A line that is not a valid entry aborts the load
// with a MalformedRecordError carrying the line number. Duplicate keys
// resolve last-write-wins.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Key]*CacheEntry)
	s.order = nil

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("labelcache: open %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Entries with many electrode locations can run long.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry := &CacheEntry{}
		if err := json.Unmarshal([]byte(line), entry); err != nil {
			return &MalformedRecordError{Path: s.path, Line: lineNo, Err: err}
		}
		if err := s.validate.Struct(entry); err != nil {
			return &MalformedRecordError{Path: s.path, Line: lineNo, Err: err}
		}
		s.insertLocked(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("labelcache: read %s: %w", s.path, err)
	}
	return nil
}

// insertLocked applies last-write-wins semantics: a repeated key
// replaces the stored entry but keeps its original position.
func (s *Store) insertLocked(entry *CacheEntry) {
	key := entry.Key()
	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = entry
}

// Append validates the entry, writes it as one JSON line to the cache
// file, then folds it into the in-memory view. The parent directory is
// created if needed.
func (s *Store) Append(entry *CacheEntry) error {
	if err := s.validate.Struct(entry); err != nil {
		return fmt.Errorf("labelcache: invalid entry: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("labelcache: marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("labelcache: create cache dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("labelcache: open %s for append: %w", s.path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("labelcache: append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("labelcache: close %s: %w", s.path, err)
	}

	s.insertLocked(entry)
	return nil
}

// Get returns the entry for the given key, or ErrEntryNotFound.
func (s *Store) Get(dandisetID DandisetID, assetID string) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[Key{DandisetID: dandisetID, AssetID: assetID}]
	if !ok {
		return nil, fmt.Errorf("%w: dandiset %s asset %s", ErrEntryNotFound, dandisetID, assetID)
	}
	return entry, nil
}

// Has reports whether any entry exists for the key, regardless of its
// status. A cached error entry still counts as cached.
func (s *Store) Has(dandisetID DandisetID, assetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[Key{DandisetID: dandisetID, AssetID: assetID}]
	return ok
}

// Len returns the number of deduplicated entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns all deduplicated entries in first-seen order.
func (s *Store) Entries() []*CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CacheEntry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key])
	}
	return out
}

// EntriesFor returns the entries belonging to one dandiset, in
// first-seen order.
func (s *Store) EntriesFor(dandisetID DandisetID) []*CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*CacheEntry
	for _, key := range s.order {
		if key.DandisetID == dandisetID {
			out = append(out, s.entries[key])
		}
	}
	return out
}

// DandisetIDs returns the distinct dandiset ids present in the cache,
// sorted ascending.
func (s *Store) DandisetIDs() []DandisetID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[DandisetID]struct{})
	var ids []DandisetID
	for _, key := range s.order {
		if _, ok := seen[key.DandisetID]; ok {
			continue
		}
		seen[key.DandisetID] = struct{}{}
		ids = append(ids, key.DandisetID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dump writes every deduplicated entry as JSON lines, first-seen order.
// The compact command uses it to rewrite a cache that has accumulated
// many superseded lines.
func (s *Store) Dump(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enc := json.NewEncoder(w)
	for _, key := range s.order {
		if err := enc.Encode(s.entries[key]); err != nil {
			return fmt.Errorf("labelcache: dump: %w", err)
		}
	}
	return nil
}
