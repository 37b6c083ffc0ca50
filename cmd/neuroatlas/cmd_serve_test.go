// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
)

func TestIndexEndpointServesDocument(t *testing.T) {
	doc := &indexDocument{}
	doc.set([]byte(`{"000003":[]}`))
	router := newRouter(doc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/index", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"000003":[]}`, rec.Body.String())
}

func TestIndexEndpointNotGeneratedYet(t *testing.T) {
	router := newRouter(&indexDocument{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/index", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(&indexDocument{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(&indexDocument{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWatchIndexFileReloadsOnAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dandiset_assets.json")

	doc := &indexDocument{}
	logger, err := logging.New(logging.Config{Quiet: true})
	require.NoError(t, err)

	stop, err := watchIndexFile(path, doc, logger)
	require.NoError(t, err)
	defer stop()

	// Mimic the writer: temp file in the same directory, then rename.
	tmp := filepath.Join(dir, "dandiset_assets.json.tmp-1")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"000003":[]}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		return string(doc.get()) == `{"000003":[]}`
	}, 5*time.Second, 10*time.Millisecond)
}
