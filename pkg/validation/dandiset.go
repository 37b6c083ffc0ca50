// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for user-provided
// identifiers that end up in archive URLs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// dandisetPattern matches DANDI archive dandiset identifiers. The
// archive uses zero-padded six-digit ids, but older cache entries may
// carry unpadded numeric forms.
var dandisetPattern = regexp.MustCompile(`^[0-9]{1,8}$`)

// ValidateDandisetID validates a user-provided dandiset identifier
// before it is interpolated into an archive request path.
//
// Returns an error if the id is empty, too long, or contains anything
// other than digits.
func ValidateDandisetID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("dandiset id is empty")
	}
	if trimmed != id {
		return fmt.Errorf("dandiset id %q has surrounding whitespace", id)
	}
	if !dandisetPattern.MatchString(id) {
		return fmt.Errorf("invalid dandiset id %q: must be 1-8 digits", id)
	}
	return nil
}
