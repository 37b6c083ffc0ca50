// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dandi is a minimal client for the DANDI archive REST API.
// It covers the one surface the synchronizer needs: paging through the
// NWB assets of a dandiset's draft version.
package dandi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public DANDI archive API.
	DefaultBaseURL = "https://api.dandiarchive.org/api"

	defaultPageSize = 1000
	defaultTimeout  = 60 * time.Second

	// The archive tolerates modest request rates; one page per 200ms
	// keeps a full sync well under its throttling threshold.
	defaultRateLimit = rate.Limit(5)
)

// ErrDandisetNotFound is returned when the archive has no dandiset
// with the requested id.
var ErrDandisetNotFound = errors.New("dandi: dandiset not found")

// HTTPDoer executes an HTTP request. *http.Client satisfies it; tests
// substitute a mock.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Asset is one file in a dandiset version.
type Asset struct {
	AssetID string `json:"asset_id"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
}

// assetPage is one page of the archive's asset listing.
type assetPage struct {
	Count   int     `json:"count"`
	Next    string  `json:"next"`
	Results []Asset `json:"results"`
}

// AssetLister enumerates the NWB assets of a dandiset. maxAssets <= 0
// means unbounded.
type AssetLister interface {
	ListAssets(ctx context.Context, dandisetID string, maxAssets int) ([]Asset, error)
}

// Client talks to the DANDI archive.
type Client struct {
	BaseURL  string
	HTTP     HTTPDoer
	PageSize int
	Limiter  *rate.Limiter
}

// NewClient creates a client against the given base URL. An empty
// baseURL selects the public archive.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: defaultTimeout},
		PageSize: defaultPageSize,
		Limiter:  rate.NewLimiter(defaultRateLimit, 1),
	}
}

// ListAssets pages through the *.nwb assets of the dandiset's draft
// version and returns them in archive order. A positive maxAssets
// caps the result; paging stops once the cap is reached.
func (c *Client) ListAssets(ctx context.Context, dandisetID string, maxAssets int) ([]Asset, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if maxAssets > 0 && maxAssets < pageSize {
		pageSize = maxAssets
	}

	next := fmt.Sprintf("%s/dandisets/%s/versions/draft/assets/?glob=%s&page_size=%d",
		c.BaseURL, url.PathEscape(dandisetID), url.QueryEscape("*.nwb"), pageSize)

	var assets []Asset
	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("dandi: list assets for dandiset %s: %w", dandisetID, err)
		}
		assets = append(assets, page.Results...)
		if maxAssets > 0 && len(assets) >= maxAssets {
			return assets[:maxAssets], nil
		}
		next = page.Next
	}
	return assets, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*assetPage, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrDandisetNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %s: %s",
			strconv.Itoa(resp.StatusCode), strings.TrimSpace(string(body)))
	}

	page := &assetPage{}
	if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return page, nil
}
