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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tombee/weaver/pkg/httpclient"
	"github.com/tombee/weaver/pkg/weavererr"
)

// OGCAPIRunner dispatches a step to a remote OGC-API Processes server
// (weaver:OGCAPIRequirement, §4.8).
type OGCAPIRunner struct {
	client       *http.Client
	pollCeiling  time.Duration
	pollFloor    time.Duration
	processIDFor func(step string) (baseURL, processID string)
}

// NewOGCAPIRunner returns an OGCAPIRunner. processIDFor resolves a step
// ID to the remote server base URL and process ID to submit against;
// this is supplied by the caller since that mapping lives in the step's
// requirement fields, not in this package.
func NewOGCAPIRunner(processIDFor func(step string) (string, string)) (*OGCAPIRunner, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:       60 * time.Second,
		RetryAttempts: 0, // step-level retry is owned by the Dispatcher
		UserAgent:     "weaver-dispatcher/1",
	})
	if err != nil {
		return nil, err
	}
	return &OGCAPIRunner{client: client, pollFloor: time.Second, pollCeiling: 30 * time.Second, processIDFor: processIDFor}, nil
}

type ogcapiStatus struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Links   []ogcapiLink   `json:"links,omitempty"`
}

type ogcapiLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type ogcapiResults map[string]struct {
	Value string `json:"value,omitempty"`
	Href  string `json:"href,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Run submits req to the remote server and polls until the remote job
// reaches a terminal state.
func (r *OGCAPIRunner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	baseURL, processID := r.processIDFor(req.StepID)
	statusURL, err := r.submit(ctx, baseURL, processID, req)
	if err != nil {
		return StepResult{}, err
	}

	status, err := r.monitor(ctx, statusURL, req)
	if err != nil {
		return StepResult{}, err
	}
	if status.Status != "successful" {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, status.Message, nil)
	}

	return r.fetchResults(ctx, statusURL, req)
}

// submit posts to /processes/{id}/execution, falling back to
// /processes/{id}/jobs if that returns 404, per §4.8 item 2.
func (r *OGCAPIRunner) submit(ctx context.Context, baseURL, processID string, req StepRequest) (string, error) {
	body, err := json.Marshal(map[string]any{"inputs": req.Inputs})
	if err != nil {
		return "", weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	for _, path := range []string{
		fmt.Sprintf("%s/processes/%s/execution", baseURL, processID),
		fmt.Sprintf("%s/processes/%s/jobs", baseURL, processID),
	} {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
		if err != nil {
			return "", weavererr.NewRunnerFailed(req.StepID, -1, "", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Prefer", "respond-async")
		req.Auth.Apply(httpReq)

		resp, err := r.client.Do(httpReq)
		if err != nil {
			return "", weavererr.NewRefError(weavererr.CodeRefUnreachable, path, "remote step submission failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			continue
		}
		if resp.StatusCode >= 400 {
			return "", classifyRemoteStatus(req.StepID, path, resp.StatusCode)
		}

		location := resp.Header.Get("Location")
		if location == "" {
			location = path
		}
		return location, nil
	}

	return "", weavererr.NewStepFailed(req.StepID, "remote process does not accept /execution or /jobs submission", nil)
}

func (r *OGCAPIRunner) monitor(ctx context.Context, statusURL string, req StepRequest) (ogcapiStatus, error) {
	delay := r.pollFloor
	for {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return ogcapiStatus{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
		}
		req.Auth.Apply(httpReq)

		resp, err := r.client.Do(httpReq)
		if err != nil {
			return ogcapiStatus{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, statusURL, "status poll failed", err)
		}

		var status ogcapiStatus
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return ogcapiStatus{}, weavererr.NewRunnerFailed(req.StepID, -1, "", decodeErr)
		}

		switch status.Status {
		case "successful", "failed", "dismissed":
			return status, nil
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ogcapiStatus{}, ctx.Err()
		}
		delay *= 2
		if delay > r.pollCeiling {
			delay = r.pollCeiling
		}
	}
}

func (r *OGCAPIRunner) fetchResults(ctx context.Context, statusURL string, req StepRequest) (StepResult, error) {
	resultsURL := statusURL + "/results"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	req.Auth.Apply(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return StepResult{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, resultsURL, "results fetch failed", err)
	}
	defer resp.Body.Close()

	var results ogcapiResults
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	outputs := make(map[string]StepOutput, len(results))
	for id, res := range results {
		if res.Href != "" {
			outputs[id] = StepOutput{Path: res.Href, MediaType: res.Type}
		} else {
			outputs[id] = StepOutput{Path: res.Value, MediaType: res.Type}
		}
	}
	return StepResult{Outputs: outputs}, nil
}

func classifyRemoteStatus(stepID, url string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return weavererr.NewRefError(weavererr.CodeRefAuthRequired, url, "remote server rejected credentials", nil)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return weavererr.NewRefError(weavererr.CodeRefUnreachable, url, fmt.Sprintf("remote server returned %d", status), nil)
	default:
		return weavererr.NewStepFailed(stepID, fmt.Sprintf("remote server returned %d", status), nil)
	}
}
