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

// Package provider implements the Provider Registry (SPEC_FULL.md
// §4.10): registration of remote WPS/OGC-API servers, lazy process
// discovery against them, and a Cache-Control-aware capabilities cache.
// Child processes exposed through a Provider are never persisted — they
// are described on demand and returned directly to the caller.
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/httpclient"
	"github.com/tombee/weaver/pkg/weavererr"
)

// ProcessSummary is one entry of a Provider's process listing, obtained
// from its capabilities document. The full description is fetched lazily
// via DescribeProcess only when a caller asks for it.
type ProcessSummary struct {
	ID          string
	Title       string
	Description string
}

type cacheEntry struct {
	summaries []ProcessSummary
	expiresAt time.Time
}

// Registry registers remote Providers and serves process discovery
// against them.
type Registry struct {
	store  store.ProviderStore
	client *http.Client
	logger *slog.Logger

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// Config wires a Registry's collaborators.
type Config struct {
	Store  store.ProviderStore
	Client *http.Client
	Logger *slog.Logger
}

// New returns a ready-to-use Registry. If cfg.Client is nil, a client is
// built via pkg/httpclient.New with the same defaults the Step
// Dispatcher's remote runners use.
func New(cfg Config) (*Registry, error) {
	client := cfg.Client
	if client == nil {
		c, err := httpclient.New(httpclient.Config{Timeout: 30 * time.Second, UserAgent: "weaver-provider-registry/1"})
		if err != nil {
			return nil, err
		}
		client = c
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  cfg.Store,
		client: client,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Register verifies a remote Provider is reachable by issuing a
// capabilities request, then persists it. When the capabilities request
// fails, the diagnostic error is returned; if ignoreErrors is set, the
// Provider is stored anyway so it can be retried later.
func (r *Registry) Register(ctx context.Context, baseURL, id string, public bool, providerType store.ProviderType, credsRef string, ignoreErrors bool) (*store.Provider, error) {
	_, capErr := r.fetchCapabilities(ctx, baseURL, id, providerType)

	if capErr != nil && !ignoreErrors {
		return nil, weavererr.Wrap(weavererr.CodeRefUnreachable, "provider", capErr, "provider capabilities unreachable")
	}

	p := &store.Provider{
		ID:       id,
		BaseURL:  baseURL,
		Public:   public,
		Type:     providerType,
		CredsRef: credsRef,
	}
	if err := r.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}

	if capErr != nil {
		r.logger.Warn("provider registered despite unreachable capabilities", "provider_id", id, "error", capErr)
	}
	return p, nil
}

// ListProcesses returns the process summaries a Provider's capabilities
// document advertises, serving a cached copy when the prior response's
// Cache-Control max-age has not yet elapsed.
func (r *Registry) ListProcesses(ctx context.Context, providerID string) ([]ProcessSummary, error) {
	p, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if cached, ok := r.cacheGet(providerID); ok {
		return cached, nil
	}

	summaries, err := r.fetchCapabilities(ctx, p.BaseURL, p.ID, p.Type)
	if err != nil {
		return nil, weavererr.Wrap(weavererr.CodeRefUnreachable, "provider", err, "failed to list provider processes")
	}
	return summaries, nil
}

// DescribeProcess fetches a single process's full description from the
// Provider on demand. The result is never persisted, per the "child
// processes are never persisted" invariant.
func (r *Registry) DescribeProcess(ctx context.Context, providerID, processID string) (*store.Process, error) {
	p, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case store.ProviderTypeOGCAPI:
		return r.describeOGCAPI(ctx, p.BaseURL, processID)
	case store.ProviderTypeWPS:
		return r.describeWPS(ctx, p.BaseURL, processID)
	default:
		return nil, weavererr.New(weavererr.CodeUnprocessable, "provider", "unsupported provider type "+string(p.Type))
	}
}

func (r *Registry) fetchCapabilities(ctx context.Context, baseURL, providerID string, providerType store.ProviderType) ([]ProcessSummary, error) {
	var summaries []ProcessSummary
	var maxAge time.Duration
	var err error

	switch providerType {
	case store.ProviderTypeOGCAPI:
		summaries, maxAge, err = r.fetchCapabilitiesOGCAPI(ctx, baseURL)
	case store.ProviderTypeWPS:
		summaries, maxAge, err = r.fetchCapabilitiesWPS(ctx, baseURL)
	default:
		return nil, weavererr.New(weavererr.CodeUnprocessable, "provider", "unsupported provider type "+string(providerType))
	}
	if err != nil {
		return nil, err
	}

	if maxAge > 0 {
		r.cachePut(providerID, summaries, maxAge)
	}
	return summaries, nil
}

func (r *Registry) cacheGet(providerID string) ([]ProcessSummary, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[providerID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.summaries, true
}

func (r *Registry) cachePut(providerID string, summaries []ProcessSummary, maxAge time.Duration) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[providerID] = cacheEntry{summaries: summaries, expiresAt: time.Now().Add(maxAge)}
}

// cacheControlMaxAge parses the max-age directive off a Cache-Control
// response header, returning 0 when absent or unparseable (caller treats
// a zero duration as "do not cache").
func cacheControlMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
