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
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tombee/weaver/internal/deploy"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

type processesHandler struct {
	s *Server
}

func (h *processesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /processes", h.handleList)
	mux.HandleFunc("POST /processes", h.handleDeploy)
	mux.HandleFunc("GET /processes/{id}", h.handleGet)
	mux.HandleFunc("PATCH /processes/{id}", h.handlePatch)
	mux.HandleFunc("PUT /processes/{id}", h.handlePut)
	mux.HandleFunc("DELETE /processes/{id}", h.handleDelete)
	mux.HandleFunc("GET /processes/{id}/package", h.handlePackage)
}

// handleList serves GET /processes, excluding private Processes from
// the default listing per spec.md's visibility semantics.
func (h *processesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ProcessFilter{
		Keywords: parseCSVParam(r, "keywords"),
		Limit:    parseIntParam(r, "limit", 100),
		Offset:   parseIntParam(r, "offset", 0),
	}
	procs, err := h.s.store.ListProcesses(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]map[string]any, 0, len(procs))
	for _, p := range procs {
		if isPrivate(p.Visibility) {
			continue
		}
		summaries = append(summaries, processSummary(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": summaries, "links": []map[string]string{
		{"rel": "self", "type": "application/json", "href": "/processes"},
	}})
}

// deployBody is the ogcapppkg-style JSON deployment body: a Process
// description plus an executionUnit carrying either an inline CWL
// document (unit) or a reference to one (href).
type deployBody struct {
	ProcessID          string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Keywords           []string        `json:"keywords"`
	Visibility         string          `json:"visibility"`
	JobControlOptions  []string        `json:"jobControlOptions"`
	OutputTransmission []string        `json:"outputTransmission"`
	ExecutionUnit      struct {
		Unit json.RawMessage `json:"unit"`
		Href string          `json:"href"`
	} `json:"executionUnit"`
	OWSContext struct {
		Href string `json:"href"`
	} `json:"owsContext"`
	OGCAPIProcessURL string `json:"ogcapiProcessURL"`
	WPSProcessURL    string `json:"wpsProcessURL"`
}

func (h *processesHandler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	req, err := parseDeployRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proc, err := h.s.deploy.Deploy(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/processes/"+proc.ID)
	writeJSON(w, http.StatusCreated, processDescription(proc))
}

// parseDeployRequest builds a deploy.Request from the request body,
// dispatching on Content-Type per spec.md §6: a bare CWL document
// (x-yaml, cwl+yaml or cwl+json) becomes InlineCWL verbatim, anything
// else is parsed as an ogcapppkg JSON description.
func parseDeployRequest(r *http.Request) (deploy.Request, error) {
	ct := r.Header.Get("Content-Type")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return deploy.Request{}, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "failed to read request body")
	}
	if int64(len(body)) > maxRequestBodyBytes {
		return deploy.Request{}, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "request body exceeds the configured maximum size")
	}

	if strings.Contains(ct, "x-yaml") || strings.Contains(ct, "cwl+yaml") || strings.Contains(ct, "cwl+json") {
		return deploy.Request{ProcessID: r.URL.Query().Get("id"), InlineCWL: body, ContentType: ct}, nil
	}

	var db deployBody
	if err := json.Unmarshal(body, &db); err != nil {
		return deploy.Request{}, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "invalid deployment body: "+err.Error())
	}
	req := deploy.Request{
		ProcessID:          db.ProcessID,
		Title:              db.Title,
		Description:        db.Description,
		Keywords:           db.Keywords,
		JobControlOptions:  db.JobControlOptions,
		OutputTransmission: db.OutputTransmission,
		Visibility:         store.Visibility(db.Visibility),
		ContentType:        ct,
	}
	switch {
	case len(db.ExecutionUnit.Unit) > 0:
		req.InlineCWL = db.ExecutionUnit.Unit
	case db.ExecutionUnit.Href != "":
		req.CWLURL = db.ExecutionUnit.Href
	case db.OWSContext.Href != "":
		req.OWSContextHref = db.OWSContext.Href
	case db.OGCAPIProcessURL != "":
		req.OGCAPIURL = db.OGCAPIProcessURL
	case db.WPSProcessURL != "":
		req.WPSURL = db.WPSProcessURL
	}
	return req, nil
}

func (h *processesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, version := splitIDVersion(r.PathValue("id"))
	proc, err := h.s.store.GetProcess(r.Context(), id, version)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	if wantsXML(r) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(processDescriptionWPSXML(proc)))
		return
	}
	writeJSON(w, http.StatusOK, processDescription(proc))
}

func wantsXML(r *http.Request) bool {
	if r.URL.Query().Get("f") == "xml" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/xml")
}

func (h *processesHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, _ := splitIDVersion(r.PathValue("id"))
	req, err := parseDeployRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proc, err := h.s.deploy.Patch(r.Context(), id, req, false)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	writeJSON(w, http.StatusOK, processDescription(proc))
}

func (h *processesHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	id, _ := splitIDVersion(r.PathValue("id"))
	req, err := parseDeployRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proc, err := h.s.deploy.Put(r.Context(), id, req)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	writeJSON(w, http.StatusOK, processDescription(proc))
}

func (h *processesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, version := splitIDVersion(r.PathValue("id"))
	if err := h.s.deploy.Undeploy(r.Context(), id, version); err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePackage serves GET /processes/{id}/package: the raw application
// package backing a Process's execution unit.
func (h *processesHandler) handlePackage(w http.ResponseWriter, r *http.Request) {
	id, version := splitIDVersion(r.PathValue("id"))
	proc, err := h.s.store.GetProcess(r.Context(), id, version)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	switch {
	case proc.ExecutionUnit.InlineCWL != "":
		w.Header().Set("Content-Type", "application/cwl+yaml")
		w.Write([]byte(proc.ExecutionUnit.InlineCWL))
	case proc.ExecutionUnit.CWLURL != "":
		http.Redirect(w, r, proc.ExecutionUnit.CWLURL, http.StatusFound)
	default:
		writeErrorStatus(w, http.StatusNotFound, string(weavererr.CodeNotFound), "process has no local application package")
	}
}

func notFoundOr(err error, kind string) error {
	if err == store.ErrNotFound {
		return weavererr.New(weavererr.CodeNotFound, "httpapi", kind+" not found")
	}
	return err
}

func processSummary(p *store.Process) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"version":    p.Version,
		"title":      p.Title,
		"description": p.Description,
		"keywords":   p.Keywords,
		"jobControlOptions": p.JobControlOptions,
		"links": []map[string]string{
			{"rel": "self", "type": "application/json", "href": "/processes/" + p.ID},
		},
	}
}

func processDescription(p *store.Process) map[string]any {
	m := processSummary(p)
	m["inputs"] = p.Inputs
	m["outputs"] = p.Outputs
	m["outputTransmission"] = p.OutputTransmission
	m["visibility"] = p.Visibility
	m["type"] = p.Type
	m["revision_id"] = p.RevisionID
	return m
}
