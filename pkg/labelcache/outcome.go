// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package labelcache

// Outcome is the tagged result of one labeling attempt. A failure for
// one subject must not abort the surrounding sync run, so labelers
// report failures as values instead of propagating them as errors.
type Outcome struct {
	Entry *CacheEntry
	Err   error
}

// Success wraps a completed labeling result. An entry with no matched
// locations is still a success.
func Success(entry *CacheEntry) Outcome {
	return Outcome{Entry: entry}
}

// Failure wraps a labeling error.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// OK reports whether the attempt produced an entry.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Entry != nil
}
