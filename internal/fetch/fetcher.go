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

// Package fetch resolves a reference URL to a local file across
// file/http(s)/s3/vault schemes (SPEC_FULL.md §4.1). It is the core's
// only path into the outside world for staging job inputs and for the
// Step Dispatcher's remote runner sub-requests.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	internallog "github.com/tombee/weaver/internal/log"
	"github.com/tombee/weaver/internal/metrics"
	"github.com/tombee/weaver/pkg/weavererr"
)

// Result is what a successful Fetch returns (SPEC_FULL.md §4.1).
type Result struct {
	LocalPath string
	MediaType string
	Filename  string
}

// Options customizes one Fetch call.
type Options struct {
	DestDir       string
	RequestOptions RequestOptions
	NoCache       bool
	S3SinkURL     string // not read by Fetch: fetched bytes are always written to a local file
}

// RequestOptions is the per-URL-prefix HTTP profile consulted for a
// fetch (SPEC_FULL.md §4.1/§6, weaver.request_options).
type RequestOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	VerifySSL      bool
	Headers        map[string]string
}

func DefaultRequestOptions() RequestOptions {
	return RequestOptions{ConnectTimeout: 5 * time.Second, ReadTimeout: 30 * time.Second, MaxRetries: 3, VerifySSL: true}
}

// VaultResolver is the subset of the Vault the Fetcher needs to resolve
// vault:// references; implemented by internal/vault.Vault.
type VaultResolver interface {
	Get(ctx context.Context, id, token string) (io.ReadCloser, string, error)
}

// Fetcher implements SPEC_FULL.md §4.1.
type Fetcher struct {
	allowedRoots []string
	wpsOutputURL string
	vault        VaultResolver
	httpClient   *http.Client
	s3Client     *s3.Client
	limiter      *rate.Limiter
	logger       *slog.Logger

	cacheMu sync.Mutex
	cache   map[string]Result
}

// Config configures a Fetcher.
type Config struct {
	AllowedRoots []string
	WPSOutputURL string
	Vault        VaultResolver
	HTTPClient   *http.Client
	S3Client     *s3.Client
	Logger       *slog.Logger
}

// New constructs a Fetcher. If cfg.S3Client is nil, New attempts to load
// the default AWS config chain; a failure there only disables the s3://
// scheme, it does not fail construction.
func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = internallog.New(internallog.DefaultConfig())
	}
	logger = internallog.WithComponent(logger, "fetcher")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	s3Client := cfg.S3Client
	if s3Client == nil {
		if awsCfg, err := awsconfig.LoadDefaultConfig(context.Background()); err == nil {
			s3Client = s3.NewFromConfig(awsCfg)
		} else {
			logger.Warn("s3 client unavailable, s3:// scheme disabled", internallog.Error(err))
		}
	}

	return &Fetcher{
		allowedRoots: cfg.AllowedRoots,
		wpsOutputURL: cfg.WPSOutputURL,
		vault:        cfg.Vault,
		httpClient:   httpClient,
		s3Client:     s3Client,
		limiter:      rate.NewLimiter(rate.Limit(20), 20),
		logger:       logger,
		cache:        make(map[string]Result),
	}
}

// Fetch resolves ref according to its scheme and returns the local
// staging result.
func (f *Fetcher) Fetch(ctx context.Context, ref string, opts Options) (Result, error) {
	if local, ok := f.localityShortcut(ctx, ref); ok {
		return local, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, ref, "unparseable reference", err)
	}

	cacheKey := ref
	if !opts.NoCache {
		if cached, ok := f.cacheGet(cacheKey); ok {
			return cached, nil
		}
	}

	var result Result
	start := time.Now()
	switch strings.ToLower(u.Scheme) {
	case "file", "":
		result, err = f.fetchFile(u, opts)
	case "http", "https":
		result, err = f.fetchHTTP(ctx, u, opts)
	case "s3":
		result, err = f.fetchS3(ctx, u, opts)
	case "vault":
		result, err = f.fetchVault(ctx, u)
	default:
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	metrics.FetchDuration.WithLabelValues(u.Scheme).Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}

	if !opts.NoCache {
		f.cachePut(cacheKey, result)
	}
	return result, nil
}

func (f *Fetcher) cacheGet(key string) (Result, bool) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	r, ok := f.cache[key]
	return r, ok
}

func (f *Fetcher) cachePut(key string, r Result) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache[key] = r
}

// localityShortcut maps an already-locally-produced wps_output_url back
// to its local path without a network round trip, after a cheap HEAD
// probe confirms reachability (SPEC_FULL.md §4.1).
func (f *Fetcher) localityShortcut(ctx context.Context, ref string) (Result, bool) {
	if f.wpsOutputURL == "" || !strings.HasPrefix(ref, f.wpsOutputURL) {
		return Result{}, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err != nil {
		return Result{}, false
	}
	resp, err := f.httpClient.Do(req)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		return Result{}, false
	}
	resp.Body.Close()

	rel := strings.TrimPrefix(ref, f.wpsOutputURL)
	return Result{LocalPath: rel, Filename: filepath.Base(rel)}, true
}

func (f *Fetcher) fetchFile(u *url.URL, opts Options) (Result, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if strings.Contains(path, "..") {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), "path traversal rejected", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), "cannot resolve path", err)
	}
	if !withinAllowedRoots(abs, f.allowedRoots) {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), "path outside allowed roots", nil)
	}
	if _, err := os.Stat(abs); err != nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), "local file not found", err)
	}
	mt := mime.TypeByExtension(filepath.Ext(abs))
	return Result{LocalPath: abs, MediaType: mt, Filename: filepath.Base(abs)}, nil
}

func withinAllowedRoots(path string, roots []string) bool {
	if len(roots) == 0 {
		return false
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(rootAbs, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

// fetchHTTP streams an http(s) URL to opts.DestDir, deriving the filename
// from Content-Disposition when present, honoring Retry-After, and
// retrying transient failures with exponential backoff.
func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, opts Options) (Result, error) {
	ro := opts.RequestOptions
	if ro.MaxRetries == 0 && ro.ConnectTimeout == 0 {
		ro = DefaultRequestOptions()
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= ro.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.WithLabelValues(u.Scheme).Inc()
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, retryAfter, err := f.doHTTPFetch(ctx, u, opts, ro)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		if retryAfter > 0 {
			backoff = retryAfter
		}
	}
	return Result{}, lastErr
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

func (f *Fetcher) doHTTPFetch(ctx context.Context, u *url.URL, opts Options, ro RequestOptions) (Result, time.Duration, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Result{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, 0, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), "bad request", err)
	}
	for k, v := range ro.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, 0, &retryableError{weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), "connection failed", err)}
	}
	defer resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, 0, weavererr.NewRefError(weavererr.CodeRefAuthRequired, u.String(), "authentication required", nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, retryAfter, &retryableError{weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), fmt.Sprintf("status %d", resp.StatusCode), nil)}
	case resp.StatusCode >= 400:
		return Result{}, 0, weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	filename := filenameFromResponse(resp, u)
	destDir := opts.DestDir
	if destDir == "" {
		destDir = os.TempDir()
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, 0, err
	}
	dest := filepath.Join(destDir, filename)

	out, err := os.Create(dest)
	if err != nil {
		return Result{}, 0, err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return Result{}, 0, &retryableError{err}
	}

	mt := resp.Header.Get("Content-Type")
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(filename))
	}
	return Result{LocalPath: dest, MediaType: mt, Filename: filename}, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// filenameFromResponse derives a safe destination basename from
// Content-Disposition if present, else the URL's last path segment.
func filenameFromResponse(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name, ok := params["filename*"]; ok {
				return sanitizeBasename(name)
			}
			if name, ok := params["filename"]; ok {
				return sanitizeBasename(name)
			}
		}
	}
	base := filepath.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		base = "download"
	}
	return sanitizeBasename(base)
}

// sanitizeBasename rejects path traversal and control characters,
// preserving the file extension.
func sanitizeBasename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return "download"
	}
	name = strings.ReplaceAll(name, "..", "")
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "download"
	}
	return b.String()
}

// fetchS3 handles s3://bucket/key URLs: the bucket is the URL host and
// the key its path. Virtual-hosted-style, access-point and outpost URLs
// are not recognised, and no region is read from the URL; the S3
// client's configured region is always used.
func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL, opts Options) (Result, error) {
	if f.s3Client == nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), "s3 client not configured", nil)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefInvalid, u.String(), "s3 URL must be s3://bucket/key", nil)
	}

	out, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), "s3 GetObject failed", err)
	}
	defer out.Body.Close()

	destDir := opts.DestDir
	if destDir == "" {
		destDir = os.TempDir()
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, err
	}
	filename := sanitizeBasename(filepath.Base(key))
	dest := filepath.Join(destDir, filename)

	f2, err := os.Create(dest)
	if err != nil {
		return Result{}, err
	}
	defer f2.Close()
	if _, err := io.Copy(f2, out.Body); err != nil {
		return Result{}, err
	}

	mt := ""
	if out.ContentType != nil {
		mt = *out.ContentType
	}
	return Result{LocalPath: dest, MediaType: mt, Filename: filename}, nil
}

// fetchVault resolves a vault://<id>?token=<token> reference through the
// configured Vault, marking the record consumed as a side effect of the
// Vault's Get.
func (f *Fetcher) fetchVault(ctx context.Context, u *url.URL) (Result, error) {
	if f.vault == nil {
		return Result{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, u.String(), "vault not configured", nil)
	}
	id := u.Host
	if id == "" {
		id = strings.TrimPrefix(u.Opaque, "")
	}
	token := u.Query().Get("token")

	rc, mediaType, err := f.vault.Get(ctx, id, token)
	if err != nil {
		return Result{}, err
	}
	defer rc.Close()

	dest := filepath.Join(os.TempDir(), "vault-"+id)
	out, err := os.Create(dest)
	if err != nil {
		return Result{}, err
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return Result{}, err
	}
	return Result{LocalPath: dest, MediaType: mediaType, Filename: filepath.Base(dest)}, nil
}
