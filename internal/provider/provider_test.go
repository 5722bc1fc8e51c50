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

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
)

func newTestRegistry(t *testing.T, be store.Backend) *Registry {
	t.Helper()
	r, err := New(Config{Store: be})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRegistry_RegisterSucceedsWhenReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"processes":[{"id":"echo","title":"Echo"}]}`))
	}))
	defer srv.Close()

	be := memory.New()
	r := newTestRegistry(t, be)

	p, err := r.Register(context.Background(), srv.URL, "prov-1", true, store.ProviderTypeOGCAPI, "", false)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if p.ID != "prov-1" {
		t.Errorf("ID = %q, want prov-1", p.ID)
	}
}

func TestRegistry_RegisterFailsWhenUnreachableAndNotIgnored(t *testing.T) {
	be := memory.New()
	r := newTestRegistry(t, be)

	_, err := r.Register(context.Background(), "http://127.0.0.1:1", "prov-1", true, store.ProviderTypeOGCAPI, "", false)
	if err == nil {
		t.Fatal("Register() should fail against an unreachable provider")
	}
	if _, getErr := be.GetProvider(context.Background(), "prov-1"); getErr != store.ErrNotFound {
		t.Error("Register() should not persist the provider when unreachable and not ignoring errors")
	}
}

func TestRegistry_RegisterStoresAnywayWhenIgnoringErrors(t *testing.T) {
	be := memory.New()
	r := newTestRegistry(t, be)

	_, err := r.Register(context.Background(), "http://127.0.0.1:1", "prov-1", true, store.ProviderTypeOGCAPI, "", true)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, getErr := be.GetProvider(context.Background(), "prov-1"); getErr != nil {
		t.Errorf("provider should be stored despite unreachable capabilities: %v", getErr)
	}
}

func TestRegistry_ListProcessesCachesResponse(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"processes":[{"id":"echo","title":"Echo"}]}`))
	}))
	defer srv.Close()

	be := memory.New()
	r := newTestRegistry(t, be)
	ctx := context.Background()

	if _, err := r.Register(ctx, srv.URL, "prov-1", true, store.ProviderTypeOGCAPI, "", false); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.ListProcesses(ctx, "prov-1"); err != nil {
		t.Fatalf("first ListProcesses() error = %v", err)
	}
	if _, err := r.ListProcesses(ctx, "prov-1"); err != nil {
		t.Fatalf("second ListProcesses() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("capabilities requests = %d, want 1 (Register's own reachability check warms the cache; both ListProcesses calls should hit it)", calls)
	}
}

func TestRegistry_DescribeProcessOGCAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if req.URL.Path == "/processes/echo" {
			w.Write([]byte(`{"id":"echo","title":"Echo","version":"1.0.0","inputs":{"message":{"title":"Message","schema":{"type":"string"}}},"outputs":{}}`))
			return
		}
		w.Write([]byte(`{"processes":[]}`))
	}))
	defer srv.Close()

	be := memory.New()
	r := newTestRegistry(t, be)
	ctx := context.Background()

	if _, err := r.Register(ctx, srv.URL, "prov-1", true, store.ProviderTypeOGCAPI, "", false); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	proc, err := r.DescribeProcess(ctx, "prov-1", "echo")
	if err != nil {
		t.Fatalf("DescribeProcess() error = %v", err)
	}
	if proc.ID != "echo" || len(proc.Inputs) != 1 {
		t.Errorf("unexpected process: %+v", proc)
	}

	if _, err := be.GetProcess(ctx, "echo", ""); err != store.ErrNotFound {
		t.Error("DescribeProcess() must not persist the child process")
	}
}
