/*
Copyright 2011 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package keyservice resolves dataset key ids to hex key material over
// HTTP, the way a campaign reader asks an external service for a key it
// doesn't already have cached.
package keyservice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"campaignfs.dev/federated/ferrors"
)

// Client talks to a single key resolution endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for the given base URL (scheme://host:port). A nil
// httpClient defaults to http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// FetchKey resolves keyID to its hex key material. A returned value of "0"
// (sent for a 404 from the service) is a valid, non-error response meaning
// access was denied; callers must treat it as "no key available", not
// retry it.
func (c *Client) FetchKey(ctx context.Context, keyID string) (string, error) {
	u := c.baseURL + "/key/" + url.PathEscape(keyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ferrors.KeyServiceUnavailable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ferrors.KeyServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "0", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return "", fmt.Errorf("%w: key service returned %s: %s", ferrors.KeyServiceUnavailable, resp.Status, body)
	}
	hex, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ferrors.KeyServiceUnavailable, err)
	}
	return string(hex), nil
}
