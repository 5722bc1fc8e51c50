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

import "net/http"

const conformanceClass1_0 = "http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core"

var conformanceClasses = []string{
	conformanceClass1_0,
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/ogc-process-description",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/job-list",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/callback",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/dismiss",
}

type landingHandler struct {
	s *Server
}

func (h *landingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleLanding)
	mux.HandleFunc("GET /conformance", h.handleConformance)
}

// handleLanding serves GET / : the OGC API common landing page.
func (h *landingHandler) handleLanding(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":       "weaver",
		"description": "OGC API - Processes execution core",
		"links": []map[string]string{
			{"rel": "self", "type": "application/json", "href": "/"},
			{"rel": "conformance", "type": "application/json", "href": "/conformance"},
			{"rel": "processes", "type": "application/json", "href": "/processes"},
			{"rel": "jobs", "type": "application/json", "href": "/jobs"},
		},
	})
}

func (h *landingHandler) handleConformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conformsTo": conformanceClasses})
}
