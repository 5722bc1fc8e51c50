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
	"net/http"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

type providersHandler struct {
	s *Server
}

func (h *providersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /providers", h.handleList)
	mux.HandleFunc("POST /providers", h.handleRegister)
	mux.HandleFunc("GET /providers/{id}", h.handleGet)
	mux.HandleFunc("DELETE /providers/{id}", h.handleDelete)
	mux.HandleFunc("GET /providers/{id}/processes", h.handleListProcesses)
	mux.HandleFunc("GET /providers/{id}/processes/{processID}", h.handleDescribeProcess)
}

func (h *providersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	providers, err := h.s.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

type registerProviderBody struct {
	ID           string             `json:"id"`
	BaseURL      string             `json:"url"`
	Public       bool               `json:"public"`
	Type         store.ProviderType `json:"type"`
	CredsRef     string             `json:"credentials_ref"`
	IgnoreErrors bool               `json:"ignoreErrors"`
}

// handleRegister serves POST /providers: spec.md §6's "422 on
// unreachable providers at registration with strict validation".
func (h *providersHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerProviderBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Type == "" {
		body.Type = store.ProviderTypeOGCAPI
	}
	prov, err := h.s.providers.Register(r.Context(), body.BaseURL, body.ID, body.Public, body.Type, body.CredsRef, body.IgnoreErrors)
	if err != nil {
		writeError(w, weavererr.Wrap(weavererr.CodeUnprocessable, "httpapi", err, "provider registration failed"))
		return
	}
	w.Header().Set("Location", "/providers/"+prov.ID)
	writeJSON(w, http.StatusCreated, prov)
}

func (h *providersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	prov, err := h.s.store.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, notFoundOr(err, "provider"))
		return
	}
	writeJSON(w, http.StatusOK, prov)
}

func (h *providersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.s.store.DeleteProvider(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, notFoundOr(err, "provider"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *providersHandler) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.s.providers.ListProcesses(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": summaries})
}

func (h *providersHandler) handleDescribeProcess(w http.ResponseWriter, r *http.Request) {
	proc, err := h.s.providers.DescribeProcess(r.Context(), r.PathValue("id"), r.PathValue("processID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processDescription(proc))
}
