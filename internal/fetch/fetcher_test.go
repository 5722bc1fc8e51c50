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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetcher_FetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f := New(Config{AllowedRoots: []string{dir}})
	result, err := f.Fetch(context.Background(), "file://"+path, Options{NoCache: true})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.LocalPath != path {
		t.Errorf("got LocalPath %q, want %q", result.LocalPath, path)
	}
	if result.Filename != "input.txt" {
		t.Errorf("got Filename %q, want input.txt", result.Filename)
	}
}

func TestFetcher_FetchFile_OutsideAllowedRootsRejected(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f := New(Config{AllowedRoots: []string{allowed}})
	if _, err := f.Fetch(context.Background(), "file://"+path, Options{NoCache: true}); err == nil {
		t.Error("Fetch() should reject a path outside allowedRoots")
	}
}

func TestFetcher_FetchFile_PathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	f := New(Config{AllowedRoots: []string{dir}})
	ref := "file://" + dir + "/../etc/passwd"
	if _, err := f.Fetch(context.Background(), ref, Options{NoCache: true}); err == nil {
		t.Error("Fetch() should reject a path containing ..")
	}
}

func TestFetcher_FetchHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="result.json"`)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	f := New(Config{})
	result, err := f.Fetch(context.Background(), server.URL+"/output", Options{DestDir: dir, NoCache: true})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Filename != "result.json" {
		t.Errorf("got Filename %q, want result.json (from Content-Disposition)", result.Filename)
	}
	if result.MediaType != "application/json" {
		t.Errorf("got MediaType %q, want application/json", result.MediaType)
	}
	data, err := os.ReadFile(result.LocalPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("got body %q", data)
	}
}

func TestFetcher_FetchHTTP_RetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := New(Config{})
	opts := Options{DestDir: t.TempDir(), NoCache: true, RequestOptions: DefaultRequestOptions()}
	if _, err := f.Fetch(context.Background(), server.URL+"/flaky", opts); err != nil {
		t.Fatalf("Fetch() error = %v, want success after retry", err)
	}
	if attempts < 2 {
		t.Errorf("got %d attempts, want at least 2", attempts)
	}
}

func TestFetcher_FetchHTTP_AuthRequiredNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), server.URL+"/secure", Options{NoCache: true, RequestOptions: DefaultRequestOptions()})
	if err == nil {
		t.Fatal("Fetch() should fail on 401")
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want exactly 1 (auth errors are not retryable)", attempts)
	}
}

func TestFetcher_Fetch_CachesResult(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("cached body"))
	}))
	defer server.Close()

	f := New(Config{})
	opts := Options{DestDir: t.TempDir()}
	if _, err := f.Fetch(context.Background(), server.URL+"/once", opts); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := f.Fetch(context.Background(), server.URL+"/once", opts); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if hits != 1 {
		t.Errorf("got %d server hits, want 1 (second Fetch should be served from cache)", hits)
	}
}

func TestSanitizeBasename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"result.json", "result.json"},
		{"../../etc/passwd", "passwd"},
		{"", "download"},
	}
	for _, tt := range tests {
		if got := sanitizeBasename(tt.in); got != tt.want {
			t.Errorf("sanitizeBasename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
