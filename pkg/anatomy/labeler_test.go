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
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/NeuroAtlas/pkg/dandi"
)

// recordingDoer captures the request body and serves a canned response.
type recordingDoer struct {
	status  int
	body    string
	gotURL  string
	gotBody []byte
}

func (r *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	r.gotURL = req.URL.String()
	if req.Body != nil {
		r.gotBody, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
	}, nil
}

func TestLabelAssetSuccess(t *testing.T) {
	doer := &recordingDoer{
		status: http.StatusOK,
		body: `{"status":"ok","matched_locations":{` +
			`"probe0:0":[{"id":385,"acronym":"VISp","name":"Primary visual area"}]}}`,
	}
	labeler := NewRemoteLabeler("http://anatomy.local/", LookupTables{})
	labeler.HTTP = doer

	asset := dandi.Asset{AssetID: "a1", Path: "sub-1/f.nwb", Size: 10}
	outcome := labeler.LabelAsset(context.Background(), "000003", asset)

	require.True(t, outcome.OK())
	assert.Equal(t, "http://anatomy.local/label", doer.gotURL)

	var sent labelRequest
	require.NoError(t, json.Unmarshal(doer.gotBody, &sent))
	assert.Equal(t, "000003", sent.DandisetID)
	assert.Equal(t, "a1", sent.Asset.AssetID)
	assert.False(t, sent.Apply)

	entry := outcome.Entry
	assert.Equal(t, "000003", string(entry.DandisetID))
	assert.Equal(t, "a1", entry.AssetID)
	assert.Equal(t, "sub-1/f.nwb", entry.Path)
	require.Len(t, entry.MatchedLocations, 1)
	assert.Equal(t, "probe0:0", entry.MatchedLocations[0].Location)
}

func TestLabelAssetEnrichesRegionsFromLookups(t *testing.T) {
	doer := &recordingDoer{
		status: http.StatusOK,
		body: `{"status":"ok","matched_locations":{` +
			`"probe0:0":[{"id":385},{"id":549,"acronym":"custom"},{"id":12345}]}}`,
	}
	lookups := BuildLookups(StructureMapping{
		{ID: 385, Acronym: "VISp", Name: "Primary visual area"},
		{ID: 549, Acronym: "TH", Name: "Thalamus"},
	})
	labeler := NewRemoteLabeler("http://anatomy.local", lookups)
	labeler.HTTP = doer

	outcome := labeler.LabelAsset(context.Background(), "000003",
		dandi.Asset{AssetID: "a1", Path: "sub-1/f.nwb"})

	require.True(t, outcome.OK())
	require.Len(t, outcome.Entry.MatchedLocations, 1)
	regions := outcome.Entry.MatchedLocations[0].Regions
	require.Len(t, regions, 3)

	assert.Equal(t, "VISp", regions[0].Acronym)
	assert.Equal(t, "Primary visual area", regions[0].Name)
	// A value the service did set wins over the lookup table.
	assert.Equal(t, "custom", regions[1].Acronym)
	assert.Equal(t, "Thalamus", regions[1].Name)
	// Unknown ids pass through untouched.
	assert.Empty(t, regions[2].Acronym)
	assert.Empty(t, regions[2].Name)
}

func TestLabelAssetEmptyLocationsIsSuccess(t *testing.T) {
	doer := &recordingDoer{status: http.StatusOK, body: `{"matched_locations":{}}`}
	labeler := NewRemoteLabeler("http://anatomy.local", LookupTables{})
	labeler.HTTP = doer

	outcome := labeler.LabelAsset(context.Background(), "000003",
		dandi.Asset{AssetID: "a1", Path: "sub-1/f.nwb"})

	require.True(t, outcome.OK())
	assert.Equal(t, "ok", outcome.Entry.Status)
	assert.Empty(t, outcome.Entry.MatchedLocations)
}

func TestLabelAssetServiceError(t *testing.T) {
	doer := &recordingDoer{status: http.StatusUnprocessableEntity, body: "no electrode table"}
	labeler := NewRemoteLabeler("http://anatomy.local", LookupTables{})
	labeler.HTTP = doer

	outcome := labeler.LabelAsset(context.Background(), "000003",
		dandi.Asset{AssetID: "a1", Path: "sub-1/f.nwb"})

	require.False(t, outcome.OK())
	assert.Contains(t, outcome.Err.Error(), "422")
	assert.Contains(t, outcome.Err.Error(), "no electrode table")
	assert.Nil(t, outcome.Entry)
}
