// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package labelcache

import (
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned by Store.Get when no entry exists for a key.
var ErrEntryNotFound = errors.New("labelcache: entry not found")

// MalformedRecordError reports a cache line that is not valid JSON or
// fails field validation. The cache is append-only, so a bad line means
// the file has been corrupted or hand-edited; loading stops rather than
// silently dropping data.
type MalformedRecordError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("labelcache: malformed record at %s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}
