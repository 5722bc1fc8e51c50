// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cliclient is weaverctl's thin REST client for a running
// weaverd's OGC API - Processes surface.
package cliclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tombee/weaver/pkg/httpclient"
)

// DefaultServerURL is used when neither --server nor WEAVERCTL_SERVER
// is set.
const DefaultServerURL = "http://localhost:4002"

// Client talks to a weaverd instance's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL using weaver's shared HTTP
// client stack (retries, User-Agent, request logging).
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = os.Getenv("WEAVERCTL_SERVER")
	}
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "weaverctl/1.0"
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	hc, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct http client: %w", err)
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}, nil
}

// APIError is returned for any response with a 4xx/5xx status; it
// carries the raw problem-details body weaver's httpapi package
// writes on error (pkg/weavererr.ProblemDetails).
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"description"`
	}
	if json.Unmarshal(e.Body, &problem) == nil && problem.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", problem.Title, e.Status, problem.Detail)
	}
	return fmt.Sprintf("request failed (%d): %s", e.Status, strings.TrimSpace(string(e.Body)))
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do issues an HTTP request with the given method/path/body against
// weaverd and returns the response body, decoding a non-2xx status
// into an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) ([]byte, http.Header, error) {
	return c.DoWithHeaders(ctx, method, path, query, contentType, body, nil)
}

// DoWithHeaders is Do plus arbitrary extra request headers (e.g.
// Prefer: wait=N for synchronous job submission).
func (c *Client) DoWithHeaders(ctx context.Context, method, path string, query url.Values, contentType string, body []byte, headers map[string]string) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return respBody, resp.Header, &APIError{Status: resp.StatusCode, Body: respBody}
	}
	return respBody, resp.Header, nil
}

// Get issues a GET request and returns the raw body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, _, err := c.Do(ctx, http.MethodGet, path, query, "", nil)
	return body, err
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) ([]byte, http.Header, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.Do(ctx, http.MethodPost, path, nil, "application/json", data)
}

// PostJSONWithHeaders is PostJSON plus extra request headers.
func (c *Client) PostJSONWithHeaders(ctx context.Context, path string, payload any, headers map[string]string) ([]byte, http.Header, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.DoWithHeaders(ctx, http.MethodPost, path, nil, "application/json", data, headers)
}

// PatchJSON issues a PATCH request with a JSON merge-patch body.
func (c *Client) PatchJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	body, _, err := c.Do(ctx, http.MethodPatch, path, nil, "application/merge-patch+json", data)
	return body, err
}

// PutRaw issues a PUT request carrying an arbitrary content type
// (used for deploying a raw CWL document).
func (c *Client) PutRaw(ctx context.Context, path string, contentType string, body []byte) ([]byte, error) {
	respBody, _, err := c.Do(ctx, http.MethodPut, path, nil, contentType, body)
	return respBody, err
}

// PostRaw issues a POST request carrying an arbitrary content type.
func (c *Client) PostRaw(ctx context.Context, path string, contentType string, body []byte) ([]byte, http.Header, error) {
	return c.Do(ctx, http.MethodPost, path, nil, contentType, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.Do(ctx, http.MethodDelete, path, nil, "", nil)
	return err
}
