// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"testing"
)

func TestValidateDandisetID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"standard padded id", "000003", false},
		{"unpadded id", "3", false},
		{"long id", "12345678", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"surrounding whitespace", " 000003 ", true},
		{"letters", "DANDI3", true},
		{"path traversal", "../000003", true},
		{"query injection", "000003?x=1", true},
		{"too long", "123456789", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDandisetID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDandisetID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
