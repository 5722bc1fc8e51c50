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

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tombee/weaver/internal/deploy"
	"github.com/tombee/weaver/internal/provenance"
	"github.com/tombee/weaver/internal/provider"
	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
	"github.com/tombee/weaver/internal/vault"
)

func newTestServer(t *testing.T) (*Server, store.Backend) {
	t.Helper()
	be := memory.New()

	pipeline := deploy.New(deploy.Config{Store: be, Lister: be, Jobs: be})

	provReg, err := provider.New(provider.Config{Store: be})
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}

	v, err := vault.New(vault.Config{Secret: []byte("test-secret-test-secret"), BlobDir: t.TempDir(), Store: be})
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	s := New(Config{
		Store:      be,
		Deploy:     pipeline,
		Providers:  provReg,
		Vault:      v,
		Provenance: provenance.NewCollector(true),
		Queue:      queue.NewMemoryQueue(),
		Waiter:     queue.NewTerminalWaiter(),
	})
	return s, be
}

func newTestMux(t *testing.T) (*http.ServeMux, *Server, store.Backend) {
	t.Helper()
	s, be := newTestServer(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux, s, be
}

func doRequest(mux *http.ServeMux, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func deployEchoProcess(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	body := []byte(`{"id":"echo","title":"Echo","executionUnit":{"unit":{"class":"CommandLineTool","id":"echo"}}}`)
	rr := doRequest(mux, http.MethodPost, "/processes", body, map[string]string{"Content-Type": "application/json"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("deploy status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var proc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &proc); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	return proc["id"].(string)
}

func TestLanding(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rr := doRequest(mux, http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("weaver")) {
		t.Errorf("landing body missing title: %s", rr.Body.String())
	}
}

func TestConformance(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rr := doRequest(mux, http.MethodGet, "/conformance", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		ConformsTo []string `json:"conformsTo"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if len(body.ConformsTo) == 0 {
		t.Fatal("expected non-empty conformsTo")
	}
}

func TestDeployAndGetProcess(t *testing.T) {
	mux, _, _ := newTestMux(t)
	id := deployEchoProcess(t, mux)
	if id != "echo" {
		t.Fatalf("id = %q, want echo", id)
	}

	rr := doRequest(mux, http.MethodGet, "/processes/echo", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET process status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestDeployDuplicateConflict(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodPost, "/processes",
		[]byte(`{"id":"echo","executionUnit":{"unit":{"class":"CommandLineTool","id":"echo"}}}`),
		map[string]string{"Content-Type": "application/json"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rr.Code, rr.Body.String())
	}
}

func TestGetProcess_NotFound(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rr := doRequest(mux, http.MethodGet, "/processes/does-not-exist", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestListProcesses(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)

	rr := doRequest(mux, http.MethodGet, "/processes", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Processes []map[string]any `json:"processes"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if len(body.Processes) != 1 {
		t.Fatalf("processes = %d, want 1", len(body.Processes))
	}
}

func TestUndeployProcess(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)

	rr := doRequest(mux, http.MethodDelete, "/processes/echo", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr2 := doRequest(mux, http.MethodGet, "/processes/echo", nil, nil)
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("status after undeploy = %d, want 404", rr2.Code)
	}
}

func TestExecuteProcess_CreatesAcceptedJob(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)

	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{"message":"hi"}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	loc := rr.Header().Get("Location")
	if loc == "" {
		t.Fatal("expected Location header")
	}

	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != string(store.JobAccepted) {
		t.Errorf("status = %v, want accepted", body["status"])
	}
}

func TestGetJob_AfterExecute(t *testing.T) {
	mux, _, be := newTestMux(t)
	deployEchoProcess(t, mux)

	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{"message":"hi"}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	var created map[string]any
	json.Unmarshal(rr.Body.Bytes(), &created)
	jobID := created["jobID"].(string)

	rr2 := doRequest(mux, http.MethodGet, "/jobs/"+jobID, nil, nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rr2.Code)
	}

	job, err := be.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != store.JobAccepted {
		t.Errorf("stored job status = %v, want accepted", job.Status)
	}
}

func TestExecuteOnPrivateProcess_Conflict(t *testing.T) {
	mux, s, be := newTestMux(t)
	_ = s
	deployEchoProcess(t, mux)
	proc, err := be.GetProcess(context.Background(), "echo", "")
	if err != nil {
		t.Fatalf("GetProcess() error = %v", err)
	}
	proc.Visibility = store.VisibilityPrivate
	if err := be.UpdateProcess(context.Background(), proc); err != nil {
		t.Fatalf("UpdateProcess() error = %v", err)
	}

	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{}}`), map[string]string{"Content-Type": "application/json"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rr.Code, rr.Body.String())
	}
}

func TestDismissAcceptedJob(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)

	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	var created map[string]any
	json.Unmarshal(rr.Body.Bytes(), &created)
	jobID := created["jobID"].(string)

	rr2 := doRequest(mux, http.MethodDelete, "/jobs/"+jobID, nil, nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("DELETE job status = %d body = %s", rr2.Code, rr2.Body.String())
	}
	var body map[string]any
	json.Unmarshal(rr2.Body.Bytes(), &body)
	if body["status"] != string(store.JobDismissed) {
		t.Errorf("status = %v, want dismissed", body["status"])
	}

	// Dismissing again is idempotent.
	rr3 := doRequest(mux, http.MethodDelete, "/jobs/"+jobID, nil, nil)
	if rr3.Code != http.StatusOK {
		t.Fatalf("second DELETE status = %d", rr3.Code)
	}
}

func TestJobResults_NotYetTerminal(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	var created map[string]any
	json.Unmarshal(rr.Body.Bytes(), &created)
	jobID := created["jobID"].(string)

	rr2 := doRequest(mux, http.MethodGet, "/jobs/"+jobID+"/results", nil, nil)
	if rr2.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rr2.Code, rr2.Body.String())
	}
}

func TestJobProvenance_DisabledReturnsNotFound(t *testing.T) {
	s, be := newTestServer(t)
	s.prov = provenance.NewCollector(false)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	var created map[string]any
	json.Unmarshal(rr.Body.Bytes(), &created)
	jobID := created["jobID"].(string)
	_ = be

	rr2 := doRequest(mux, http.MethodGet, "/jobs/"+jobID+"/prov", nil, nil)
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rr2.Code, rr2.Body.String())
	}
}

func TestJobProvenance_EnabledReturnsDocument(t *testing.T) {
	mux, _, be := newTestMux(t)
	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodPost, "/processes/echo/execution",
		[]byte(`{"inputs":{"message":"hi"}}`),
		map[string]string{"Content-Type": "application/json", "Prefer": "respond-async"})
	var created map[string]any
	json.Unmarshal(rr.Body.Bytes(), &created)
	jobID := created["jobID"].(string)

	job, _ := be.GetJob(context.Background(), jobID)
	job.Status = store.JobSuccessful
	job.FinishedAt = time.Now().UTC()
	job.Results = map[string]any{"output": "hi"}
	if err := be.UpdateJob(context.Background(), job, job.UpdatedAt.UnixNano()); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	rr2 := doRequest(mux, http.MethodGet, "/jobs/"+jobID+"/prov?f=prov-n", nil, nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr2.Code, rr2.Body.String())
	}
	if rr2.Body.Len() == 0 {
		t.Fatal("expected non-empty PROV-N body")
	}
}

func TestVaultUploadAndRoundtrip(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rr := doRequest(mux, http.MethodPost, "/vault", []byte("secret payload"), map[string]string{"Content-Type": "text/plain"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["id"] == "" || body["access_token"] == "" {
		t.Fatalf("expected id and access_token, got %v", body)
	}
}

func TestWPSGetCapabilities(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodGet, "/wps?request=GetCapabilities", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("echo")) {
		t.Errorf("GetCapabilities missing process: %s", rr.Body.String())
	}
}

func TestProcessAcceptXML(t *testing.T) {
	mux, _, _ := newTestMux(t)
	deployEchoProcess(t, mux)
	rr := doRequest(mux, http.MethodGet, "/processes/echo", nil, map[string]string{"Accept": "application/xml"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("<ProcessDescription")) {
		t.Errorf("expected WPS XML body, got %s", rr.Body.String())
	}
}
