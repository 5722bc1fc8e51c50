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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/weaver/internal/store"
)

type ogcapiProcessList struct {
	Processes []ogcapiProcessSummary `json:"processes"`
}

type ogcapiProcessSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ogcapiProcessDescription struct {
	ID          string                        `json:"id"`
	Title       string                        `json:"title"`
	Description string                        `json:"description"`
	Version     string                        `json:"version"`
	Inputs      map[string]ogcapiIOSchema     `json:"inputs"`
	Outputs     map[string]ogcapiIOSchema     `json:"outputs"`
}

type ogcapiIOSchema struct {
	Title  string `json:"title"`
	Schema struct {
		Type   string `json:"type"`
		Format string `json:"format"`
	} `json:"schema"`
}

func (r *Registry) fetchCapabilitiesOGCAPI(ctx context.Context, baseURL string) ([]ProcessSummary, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/processes", nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("provider: GET %s: unexpected status %d", req.URL, resp.StatusCode)
	}

	var list ogcapiProcessList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, 0, fmt.Errorf("provider: decoding process list: %w", err)
	}

	summaries := make([]ProcessSummary, 0, len(list.Processes))
	for _, p := range list.Processes {
		summaries = append(summaries, ProcessSummary{ID: p.ID, Title: p.Title, Description: p.Description})
	}
	return summaries, cacheControlMaxAge(resp.Header.Get("Cache-Control")), nil
}

func (r *Registry) describeOGCAPI(ctx context.Context, baseURL, processID string) (*store.Process, error) {
	url := strings.TrimRight(baseURL, "/") + "/processes/" + processID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: GET %s: unexpected status %d", url, resp.StatusCode)
	}

	var desc ogcapiProcessDescription
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("provider: decoding process description: %w", err)
	}

	proc := &store.Process{
		ID:          desc.ID,
		Version:     desc.Version,
		Title:       desc.Title,
		Description: desc.Description,
		Type:        store.ProcessTypeOGCAPI,
		Visibility:  store.VisibilityPublic,
		ExecutionUnit: store.ExecutionUnit{
			OGCAPIURL: url,
		},
	}
	for id, io := range desc.Inputs {
		proc.Inputs = append(proc.Inputs, ogcapiIOToDescriptor(id, io))
	}
	for id, io := range desc.Outputs {
		proc.Outputs = append(proc.Outputs, ogcapiIOToDescriptor(id, io))
	}
	return proc, nil
}

func ogcapiIOToDescriptor(id string, io ogcapiIOSchema) store.IODescriptor {
	d := store.IODescriptor{ID: id, Title: io.Title, MinOccurs: 1, MaxOccurs: 1}
	if io.Schema.Format == "binary" || io.Schema.Format == "uri" {
		d.Type = "complex"
	} else {
		d.Type = "literal"
	}
	return d
}
