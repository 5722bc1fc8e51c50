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
	"time"

	"github.com/google/uuid"

	"github.com/tombee/weaver/internal/auth"
	"github.com/tombee/weaver/internal/jobrunner"
	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

type executionHandler struct {
	s *Server
}

func (h *executionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /processes/{id}/execution", h.handleExecute)
}

// executeBody is the submission envelope of spec.md §6: `{inputs,
// outputs?, subscribers?, mode?, response?}`.
type executeBody struct {
	Inputs      map[string]any               `json:"inputs"`
	Outputs     map[string]store.OutputSpec  `json:"outputs"`
	Subscribers []store.Subscriber           `json:"subscribers"`
	Mode        store.ExecutionMode          `json:"mode"`
	Response    string                        `json:"response"`
}

// handleExecute serves POST /processes/{id}/execution: it creates and
// enqueues a Job, then honors the Prefer header's synchronous-wait
// semantics before responding.
func (h *executionHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, version := splitIDVersion(r.PathValue("id"))
	proc, err := h.s.store.GetProcess(r.Context(), id, version)
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}

	var body executeBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	// spec.md §6: 409 when submitting an execution on a private Process.
	if isPrivate(proc.Visibility) {
		writeError(w, weavererr.New(weavererr.CodeConflictInUse, "httpapi", "cannot submit an execution against a private process"))
		return
	}

	prefer := parsePrefer(r)
	mode := body.Mode
	if mode == "" {
		if prefer.RespondAsync {
			mode = store.ExecutionAsync
		} else {
			mode = store.ExecutionAuto
		}
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:             uuid.NewString(),
		ProcessID:      proc.ID,
		ProcessVersion: proc.Version,
		Status:         store.JobAccepted,
		Type:           store.JobTypeProcess,
		CreatedAt:      now,
		UpdatedAt:      now,
		Inputs:         body.Inputs,
		OutputsRequest: body.Outputs,
		Subscribers:    body.Subscribers,
		ExecutionMode:  mode,
		OutputContext:  r.Header.Get("X-WPS-Output-Context"),
	}

	sm := jobrunner.NewStateMachine(h.s.store)
	if err := sm.Accept(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}

	h.s.authReg.Put(job.ID, auth.FromRequest(r))

	if err := h.s.queue.Enqueue(r.Context(), queue.Item{JobID: job.ID}); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/jobs/"+job.ID)
	w.Header().Set("Link", "</jobs/"+job.ID+">; rel=monitor")

	waitForTerminal := mode == store.ExecutionSync || (prefer.HasWait && !prefer.RespondAsync)
	if waitForTerminal && h.s.waiter != nil {
		wait := prefer.Wait
		if wait <= 0 {
			wait = h.s.settingsSyncMaxWait()
		}
		ctx, cancel := waitContext(r, wait)
		defer cancel()
		if status, ok := h.s.waiter.Wait(ctx, job.ID); ok {
			finished, err := h.s.store.GetJob(r.Context(), job.ID)
			if err == nil {
				writeExecuteResponse(w, prefer, status, finished)
				return
			}
		}
	}

	// Either async was requested, or the synchronous wait timed out:
	// fall back to the 201 status-resource response.
	writeJSON(w, http.StatusCreated, jobStatusBody(job))
}

func (s *Server) settingsSyncMaxWait() time.Duration {
	if s.settings != nil && s.settings.ExecuteSyncMaxWait > 0 {
		return s.settings.ExecuteSyncMaxWait
	}
	return 20 * time.Second
}

func writeExecuteResponse(w http.ResponseWriter, prefer preferHeader, status store.JobStatus, job *store.Job) {
	if prefer.Return == "representation" {
		writeJSON(w, http.StatusOK, jobResultsBody(job))
		return
	}
	writeJSON(w, http.StatusOK, jobStatusBody(job))
}
