// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subjectindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encode renders the index as compact JSON. encoding/json emits object
// keys in sorted order, which gives ascending dandiset ids for free.
func Encode(index Index) ([]byte, error) {
	data, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("subjectindex: encode: %w", err)
	}
	return data, nil
}

// WriteFile atomically writes the index to path. The data lands in a
// temp file in the same directory first and is renamed into place, so
// readers never observe a partially written index.
func WriteFile(index Index, path string) error {
	data, err := Encode(index)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("subjectindex: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("subjectindex: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("subjectindex: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("subjectindex: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("subjectindex: rename into place: %w", err)
	}
	return nil
}
