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

package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/weaver/internal/store"
)

type wpsCapabilities struct {
	XMLName          xml.Name `xml:"Capabilities"`
	ProcessOfferings struct {
		Process []wpsProcessSummary `xml:"Process"`
	} `xml:"ProcessOfferings"`
}

type wpsProcessSummary struct {
	Identifier string `xml:"Identifier"`
	Title      string `xml:"Title"`
	Abstract   string `xml:"Abstract"`
}

type wpsProcessDescriptions struct {
	XMLName         xml.Name             `xml:"ProcessDescriptions"`
	ProcessDescription []wpsProcessDetail `xml:"ProcessDescription"`
}

type wpsProcessDetail struct {
	Identifier string `xml:"Identifier"`
	Title      string `xml:"Title"`
	Abstract   string `xml:"Abstract"`
	DataInputs struct {
		Input []wpsIODetail `xml:"Input"`
	} `xml:"DataInputs"`
	ProcessOutputs struct {
		Output []wpsIODetail `xml:"Output"`
	} `xml:"ProcessOutputs"`
}

type wpsIODetail struct {
	Identifier  string `xml:"Identifier"`
	Title       string `xml:"Title"`
	ComplexData *struct{} `xml:"ComplexData"`
	LiteralData *struct{} `xml:"LiteralData"`
}

func (r *Registry) fetchCapabilitiesWPS(ctx context.Context, baseURL string) ([]ProcessSummary, time.Duration, error) {
	reqURL := wpsRequestURL(baseURL, "GetCapabilities", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("provider: GET %s: unexpected status %d", reqURL, resp.StatusCode)
	}

	var caps wpsCapabilities
	if err := xml.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, 0, fmt.Errorf("provider: decoding WPS capabilities: %w", err)
	}

	summaries := make([]ProcessSummary, 0, len(caps.ProcessOfferings.Process))
	for _, p := range caps.ProcessOfferings.Process {
		summaries = append(summaries, ProcessSummary{ID: p.Identifier, Title: p.Title, Description: p.Abstract})
	}
	return summaries, cacheControlMaxAge(resp.Header.Get("Cache-Control")), nil
}

func (r *Registry) describeWPS(ctx context.Context, baseURL, processID string) (*store.Process, error) {
	reqURL := wpsRequestURL(baseURL, "DescribeProcess", map[string]string{"identifier": processID})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: GET %s: unexpected status %d", reqURL, resp.StatusCode)
	}

	var descs wpsProcessDescriptions
	if err := xml.NewDecoder(resp.Body).Decode(&descs); err != nil {
		return nil, fmt.Errorf("provider: decoding WPS process description: %w", err)
	}
	if len(descs.ProcessDescription) == 0 {
		return nil, fmt.Errorf("provider: no ProcessDescription returned for %q", processID)
	}
	detail := descs.ProcessDescription[0]

	proc := &store.Process{
		ID:          detail.Identifier,
		Title:       detail.Title,
		Description: detail.Abstract,
		Type:        store.ProcessTypeWPS1,
		Visibility:  store.VisibilityPublic,
		ExecutionUnit: store.ExecutionUnit{
			WPSURL: baseURL,
		},
	}
	for _, in := range detail.DataInputs.Input {
		proc.Inputs = append(proc.Inputs, wpsIOToDescriptor(in))
	}
	for _, out := range detail.ProcessOutputs.Output {
		proc.Outputs = append(proc.Outputs, wpsIOToDescriptor(out))
	}
	return proc, nil
}

func wpsIOToDescriptor(io wpsIODetail) store.IODescriptor {
	d := store.IODescriptor{ID: io.Identifier, Title: io.Title, MinOccurs: 1, MaxOccurs: 1}
	if io.ComplexData != nil {
		d.Type = "complex"
	} else {
		d.Type = "literal"
	}
	return d
}

func wpsRequestURL(baseURL, request string, extra map[string]string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	q := u.Query()
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", request)
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
