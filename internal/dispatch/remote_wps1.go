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
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/weaver/pkg/httpclient"
	"github.com/tombee/weaver/pkg/weavererr"
)

// WPS1Runner dispatches a step to a remote WPS 1/2 server via the OWS
// Execute/GetStatus operations (weaver:WPS1Requirement, §4.8).
type WPS1Runner struct {
	client      *http.Client
	pollFloor   time.Duration
	pollCeiling time.Duration
	endpointFor func(step string) (baseURL, processID string)
}

// NewWPS1Runner returns a WPS1Runner. endpointFor resolves a step ID to
// the remote WPS endpoint and process identifier to Execute against.
func NewWPS1Runner(endpointFor func(step string) (string, string)) (*WPS1Runner, error) {
	client, err := httpclient.New(httpclient.Config{Timeout: 60 * time.Second, UserAgent: "weaver-dispatcher/1"})
	if err != nil {
		return nil, err
	}
	return &WPS1Runner{client: client, pollFloor: time.Second, pollCeiling: 30 * time.Second, endpointFor: endpointFor}, nil
}

// executeResponse is the subset of a WPS ExecuteResponse this runner
// needs: the status location to poll and, once complete, the inline or
// referenced output values.
type executeResponse struct {
	XMLName xml.Name `xml:"ExecuteResponse"`
	Status  struct {
		ProcessSucceeded *struct{} `xml:"ProcessSucceeded"`
		ProcessFailed    *struct {
			ExceptionReport struct {
				Text string `xml:",innerxml"`
			} `xml:"ExceptionReport"`
		} `xml:"ProcessFailed"`
	} `xml:"Status"`
	ProcessOutputs struct {
		Output []wpsOutput `xml:"Output"`
	} `xml:"ProcessOutputs"`
}

type wpsOutput struct {
	Identifier string `xml:"Identifier"`
	Reference  struct {
		Href string `xml:"href,attr"`
	} `xml:"Reference"`
	Data struct {
		ComplexData string `xml:"ComplexData"`
		LiteralData string `xml:"LiteralData"`
	} `xml:"Data"`
}

// Run submits an Execute request and polls the XML status location
// returned in the initial ExecuteResponse until a terminal status.
func (r *WPS1Runner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	baseURL, processID := r.endpointFor(req.StepID)

	execURL := baseURL + "?service=WPS&request=Execute&version=1.0.0&identifier=" + url.QueryEscape(processID) + "&storeExecuteResponse=true&status=true"

	resp, err := r.doGet(ctx, execURL, req)
	if err != nil {
		return StepResult{}, err
	}

	statusLocation := resp.Request.URL.String()
	if loc := resp.Header.Get("Content-Location"); loc != "" {
		statusLocation = loc
	}

	status, err := r.decode(resp)
	if err != nil {
		return StepResult{}, err
	}

	for status.Status.ProcessSucceeded == nil && status.Status.ProcessFailed == nil {
		select {
		case <-time.After(r.pollFloor):
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		}
		polled, err := r.doGet(ctx, statusLocation, req)
		if err != nil {
			return StepResult{}, err
		}
		status, err = r.decode(polled)
		if err != nil {
			return StepResult{}, err
		}
	}

	if status.Status.ProcessFailed != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, status.Status.ProcessFailed.ExceptionReport.Text, nil)
	}

	outputs := make(map[string]StepOutput, len(status.ProcessOutputs.Output))
	for _, o := range status.ProcessOutputs.Output {
		switch {
		case o.Reference.Href != "":
			outputs[o.Identifier] = StepOutput{Path: o.Reference.Href}
		case o.Data.ComplexData != "":
			outputs[o.Identifier] = StepOutput{Path: o.Data.ComplexData}
		default:
			outputs[o.Identifier] = StepOutput{Path: o.Data.LiteralData}
		}
	}
	return StepResult{Outputs: outputs}, nil
}

func (r *WPS1Runner) doGet(ctx context.Context, target string, req StepRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	req.Auth.Apply(httpReq)
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, weavererr.NewRefError(weavererr.CodeRefUnreachable, target, "WPS request failed", err)
	}
	return resp, nil
}

func (r *WPS1Runner) decode(resp *http.Response) (executeResponse, error) {
	defer resp.Body.Close()
	var status executeResponse
	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return executeResponse{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, resp.Request.URL.String(), "WPS status document did not parse as XML", err)
	}
	return status, nil
}
