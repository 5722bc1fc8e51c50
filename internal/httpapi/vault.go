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
	"io"
	"net/http"

	"github.com/tombee/weaver/pkg/weavererr"
)

type vaultHandler struct {
	s *Server
}

func (h *vaultHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /vault", h.handleUpload)
}

// handleUpload serves POST /vault: spec.md §4.2/§6, "upload a file,
// returns {id, access_token}; consumed on first read."
func (h *vaultHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeError(w, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "failed to read request body"))
		return
	}
	if int64(len(data)) > maxRequestBodyBytes {
		writeError(w, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "upload exceeds the configured maximum size"))
		return
	}
	mediaType := r.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	id, token, err := h.s.vault.Put(r.Context(), data, mediaType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "access_token": token})
}
