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
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/weaver/internal/jobrunner"
	"github.com/tombee/weaver/internal/provenance"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

type jobsHandler struct {
	s *Server
}

func (h *jobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /jobs", h.handleList)
	mux.HandleFunc("GET /jobs/{id}", h.handleGet)
	mux.HandleFunc("PATCH /jobs/{id}", h.handlePatch)
	mux.HandleFunc("POST /jobs/{id}/results", h.handleResultsTrigger)
	mux.HandleFunc("GET /jobs/{id}/inputs", h.handleInputs)
	mux.HandleFunc("GET /jobs/{id}/outputs", h.handleOutputs)
	mux.HandleFunc("GET /jobs/{id}/results", h.handleResults)
	mux.HandleFunc("GET /jobs/{id}/exceptions", h.handleExceptions)
	mux.HandleFunc("GET /jobs/{id}/logs", h.handleLogs)
	mux.HandleFunc("GET /jobs/{id}/statistics", h.handleStatistics)
	mux.HandleFunc("GET /jobs/{id}/prov", h.handleProv)
	mux.HandleFunc("GET /jobs/{id}/prov/{rest...}", h.handleProvSubpath)
	mux.HandleFunc("DELETE /jobs/{id}", h.handleDelete)
	mux.HandleFunc("DELETE /jobs", h.handleBatchDelete)
}

func (h *jobsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		ProcessID:   q.Get("processID"),
		ProviderID:  q.Get("providerID"),
		Status:      store.JobStatus(q.Get("status")),
		Tags:        parseCSVParam(r, "tags"),
		MinDuration: parseDurationParam(r, "minDuration"),
		MaxDuration: parseDurationParam(r, "maxDuration"),
		Limit:       parseIntParam(r, "limit", 100),
		Offset:      parseIntParam(r, "offset", 0),
	}
	jobs, err := h.s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	bodies := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		bodies = append(bodies, jobStatusBody(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": bodies})
}

func (h *jobsHandler) getJob(r *http.Request) (*store.Job, error) {
	job, err := h.s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, notFoundOr(err, "job")
	}
	return job, nil
}

func (h *jobsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusBody(job))
}

// handlePatch accepts updates to a Job's mutable fields: inputs,
// outputs, subscribers and tags, per spec.md's job-update surface. Other
// body fields are ignored, and the Job's status is not checked.
func (h *jobsHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Inputs      map[string]any              `json:"inputs"`
		Outputs     map[string]store.OutputSpec `json:"outputs"`
		Tags        []string            `json:"tags"`
		Subscribers []store.Subscriber  `json:"subscribers"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sm := jobrunner.NewStateMachine(h.s.store)
	updated, err := sm.Log(r.Context(), job.ID, "info", "job updated via PATCH")
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Inputs != nil {
		updated.Inputs = body.Inputs
	}
	if body.Outputs != nil {
		updated.OutputsRequest = body.Outputs
	}
	if body.Tags != nil {
		updated.Tags = body.Tags
	}
	if body.Subscribers != nil {
		updated.Subscribers = body.Subscribers
	}
	if err := h.s.store.UpdateJob(r.Context(), updated, updated.UpdatedAt.UnixNano()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusBody(updated))
}

// handleResultsTrigger serves POST /jobs/{id}/results: for a Job in a
// terminal state it answers 200 with a "notification scheduled" status,
// and 409 otherwise. It sends nothing to the Job's subscribers; no code
// in this module delivers notifications to them.
func (h *jobsHandler) handleResultsTrigger(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !job.Status.Terminal() {
		writeError(w, weavererr.New(weavererr.CodeConflictInUse, "httpapi", "job has not reached a terminal state"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "notification scheduled"})
}

func (h *jobsHandler) handleInputs(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Inputs)
}

// handleOutputs renders the outputs_request filters in either the OGC
// (`schema=OGC`, default) or legacy WPS-ish (`schema=OLD[+strict]`)
// shape spec.md §6 names.
func (h *jobsHandler) handleOutputs(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	schema := r.URL.Query().Get("schema")
	if strings.HasPrefix(strings.ToUpper(schema), "OLD") {
		legacy := make(map[string]any, len(job.OutputsRequest))
		for id, spec := range job.OutputsRequest {
			legacy[id] = map[string]string{"transmissionMode": spec.Transmission, "format": spec.Format}
		}
		if strings.Contains(strings.ToUpper(schema), "STRICT") && len(legacy) == 0 {
			writeError(w, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "no outputs were requested and schema=OLD+strict forbids an empty response"))
			return
		}
		writeJSON(w, http.StatusOK, legacy)
		return
	}
	writeJSON(w, http.StatusOK, job.OutputsRequest)
}

func (h *jobsHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch job.Status {
	case store.JobDismissed:
		writeError(w, weavererr.New(weavererr.CodeGone, "httpapi", "job was dismissed"))
		return
	case store.JobFailed:
		writeJSON(w, http.StatusOK, map[string]any{"exception": job.Exception})
		return
	case store.JobSuccessful:
		writeJSON(w, http.StatusOK, jobResultsBody(job))
		return
	default:
		writeError(w, weavererr.New(weavererr.CodeConflictInUse, "httpapi", "job has not completed"))
		return
	}
}

func (h *jobsHandler) handleExceptions(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Exception == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, []*store.ExceptionReport{job.Exception})
}

// handleLogs serves GET /jobs/{id}/logs?f=text|json|yaml|xml, per
// spec.md §6.
func (h *jobsHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch strings.ToLower(r.URL.Query().Get("f")) {
	case "text", "":
		w.Header().Set("Content-Type", "text/plain")
		for _, l := range job.Logs {
			fmt.Fprintf(w, "%s [%s] %s\n", l.Time.Format("2006-01-02T15:04:05Z07:00"), l.Level, l.Message)
		}
	case "yaml":
		out, _ := yaml.Marshal(job.Logs)
		w.Header().Set("Content-Type", "application/x-yaml")
		w.Write(out)
	case "xml":
		out, err := xml.MarshalIndent(struct {
			XMLName xml.Name        `xml:"logs"`
			Entries []store.LogEntry `xml:"entry"`
		}{Entries: job.Logs}, "", "  ")
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(xml.Header + string(out)))
	default:
		writeJSON(w, http.StatusOK, job.Logs)
	}
}

func (h *jobsHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Statistics)
}

// handleProv serves GET /jobs/{id}/prov, content-negotiated by
// ?f=<format> across the six encodings of SPEC_FULL.md §4.11.
func (h *jobsHandler) handleProv(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proc, err := h.s.store.GetProcess(r.Context(), job.ProcessID, job.ProcessVersion)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	doc, ok := h.s.prov.Build(proc, job)
	if !ok {
		writeError(w, weavererr.New(weavererr.CodeNotFound, "httpapi", "provenance collection is disabled"))
		return
	}
	format := provenance.Format(r.URL.Query().Get("f"))
	if format == "" {
		format = provenance.FormatProvJSON
	}
	out, err := provenance.Encode(doc, format)
	if err != nil {
		writeError(w, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", err.Error()))
		return
	}
	w.Header().Set("Content-Type", provenance.ContentType(format))
	w.Write(out)
}

// handleProvSubpath serves the /prov/{info,who,run,inputs,outputs,{runId}}
// views as projections of the same Document.
func (h *jobsHandler) handleProvSubpath(w http.ResponseWriter, r *http.Request) {
	job, err := h.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proc, err := h.s.store.GetProcess(r.Context(), job.ProcessID, job.ProcessVersion)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	doc, ok := h.s.prov.Build(proc, job)
	if !ok {
		writeError(w, weavererr.New(weavererr.CodeNotFound, "httpapi", "provenance collection is disabled"))
		return
	}

	switch r.PathValue("rest") {
	case "info":
		writeJSON(w, http.StatusOK, map[string]any{"job_id": doc.JobID, "process_id": doc.ProcessID})
	case "who":
		writeJSON(w, http.StatusOK, doc.Agents)
	case "inputs":
		writeJSON(w, http.StatusOK, doc.Usages)
	case "outputs":
		writeJSON(w, http.StatusOK, doc.Generations)
	case "run":
		writeJSON(w, http.StatusOK, doc.Activities)
	default:
		// {runId}: a specific step sub-activity.
		runID := "step:" + job.ID + ":" + r.PathValue("rest")
		for _, a := range doc.Activities {
			if a.ID == runID {
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
		writeError(w, weavererr.New(weavererr.CodeNotFound, "httpapi", "no such provenance run"))
	}
}

func (h *jobsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sm := jobrunner.NewStateMachine(h.s.store)
	updated, err := sm.Dismiss(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, notFoundOr(err, "job"))
		return
	}
	if h.s.pool != nil {
		h.s.pool.Cancel(updated.ID)
	}
	if h.s.waiter != nil {
		h.s.waiter.Signal(updated.ID, updated.Status)
	}
	writeJSON(w, http.StatusOK, jobStatusBody(updated))
}

// handleBatchDelete dismisses every job id given in the `jobID` query
// parameter (comma-separated), per spec.md §6's batch delete surface.
func (h *jobsHandler) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	ids := parseCSVParam(r, "jobID")
	if len(ids) == 0 {
		writeError(w, weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "jobID query parameter is required"))
		return
	}
	sm := jobrunner.NewStateMachine(h.s.store)
	results := make(map[string]string, len(ids))
	for _, id := range ids {
		updated, err := sm.Dismiss(r.Context(), id)
		if err != nil {
			results[id] = "error: " + err.Error()
			continue
		}
		if h.s.pool != nil {
			h.s.pool.Cancel(updated.ID)
		}
		results[id] = string(updated.Status)
	}
	writeJSON(w, http.StatusOK, results)
}

func jobStatusBody(j *store.Job) map[string]any {
	return map[string]any{
		"jobID":        j.ID,
		"processID":    j.ProcessID,
		"providerID":   j.ProviderID,
		"status":       j.Status,
		"type":         j.Type,
		"message":      lastLogMessage(j),
		"created":      j.CreatedAt,
		"started":      zeroAsNil(j.StartedAt.IsZero(), j.StartedAt),
		"finished":     zeroAsNil(j.FinishedAt.IsZero(), j.FinishedAt),
		"updated":      j.UpdatedAt,
		"progress":     j.Progress,
		"links": []map[string]string{
			{"rel": "self", "type": "application/json", "href": "/jobs/" + j.ID},
		},
	}
}

func zeroAsNil(isZero bool, v any) any {
	if isZero {
		return nil
	}
	return v
}

func lastLogMessage(j *store.Job) string {
	if len(j.Logs) == 0 {
		return ""
	}
	return j.Logs[len(j.Logs)-1].Message
}

func jobResultsBody(j *store.Job) map[string]any {
	body := jobStatusBody(j)
	body["results"] = j.Results
	return body
}
