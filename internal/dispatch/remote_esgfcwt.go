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
	"net/http"
	"time"

	"github.com/tombee/weaver/pkg/httpclient"
	"github.com/tombee/weaver/pkg/weavererr"
)

// ESGFCWTRunner dispatches a step to a remote ESGF Compute service using
// its job-submit/status JSON protocol (weaver:ESGF-CWTRequirement,
// §4.8).
type ESGFCWTRunner struct {
	client      *http.Client
	pollFloor   time.Duration
	pollCeiling time.Duration
	endpointFor func(step string) (baseURL, operation string)
}

// NewESGFCWTRunner returns an ESGFCWTRunner.
func NewESGFCWTRunner(endpointFor func(step string) (string, string)) (*ESGFCWTRunner, error) {
	client, err := httpclient.New(httpclient.Config{Timeout: 60 * time.Second, UserAgent: "weaver-dispatcher/1"})
	if err != nil {
		return nil, err
	}
	return &ESGFCWTRunner{client: client, pollFloor: time.Second, pollCeiling: 30 * time.Second, endpointFor: endpointFor}, nil
}

type cwtStatus struct {
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Output map[string]string `json:"output,omitempty"`
}

// Run submits a CWT job request and polls until the job reaches a
// terminal state.
func (r *ESGFCWTRunner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	baseURL, operation := r.endpointFor(req.StepID)

	body, err := json.Marshal(map[string]any{"operation": operation, "input": req.Inputs})
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	req.Auth.Apply(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return StepResult{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, baseURL, "ESGF-CWT submission failed", err)
	}
	var status cwtStatus
	decodeErr := json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if decodeErr != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", decodeErr)
	}

	statusURL := resp.Header.Get("Location")
	if statusURL == "" {
		statusURL = baseURL + "/status"
	}

	delay := r.pollFloor
	for status.Status != "succeeded" && status.Status != "failed" {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		}
		delay *= 2
		if delay > r.pollCeiling {
			delay = r.pollCeiling
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
		}
		req.Auth.Apply(pollReq)
		pollResp, err := r.client.Do(pollReq)
		if err != nil {
			return StepResult{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, statusURL, "ESGF-CWT status poll failed", err)
		}
		decodeErr := json.NewDecoder(pollResp.Body).Decode(&status)
		pollResp.Body.Close()
		if decodeErr != nil {
			return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", decodeErr)
		}
	}

	if status.Status == "failed" {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, status.Error, nil)
	}

	outputs := make(map[string]StepOutput, len(status.Output))
	for id, path := range status.Output {
		outputs[id] = StepOutput{Path: path}
	}
	return StepResult{Outputs: outputs}, nil
}
