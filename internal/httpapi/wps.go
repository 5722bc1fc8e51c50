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
	"net/http"
	"strings"

	"github.com/tombee/weaver/internal/store"
)

// wpsXMLInput mirrors the subset of a WPS 1.0 DataInputs entry this
// core can always populate from an IODescriptor, following the same
// local-name XML idiom used by the Provider Registry's WPS client.
type wpsXMLInput struct {
	XMLName     xml.Name `xml:"Input"`
	Identifier  string   `xml:"Identifier"`
	Title       string   `xml:"Title"`
	MinOccurs   int      `xml:"minOccurs,attr"`
	MaxOccurs   int      `xml:"maxOccurs,attr"`
}

type wpsXMLProcessDescription struct {
	XMLName    xml.Name      `xml:"ProcessDescription"`
	Identifier string        `xml:"Identifier"`
	Title      string        `xml:"Title"`
	Abstract   string        `xml:"Abstract,omitempty"`
	DataInputs []wpsXMLInput `xml:"DataInputs>Input"`
	Outputs    []wpsXMLInput `xml:"ProcessOutputs>Output"`
}

// processDescriptionWPSXML renders p as a WPS 1.0/2.0 ProcessDescription
// document, served when a client requests Accept: application/xml or
// ?f=xml on GET /processes/{id} (spec.md §6).
func processDescriptionWPSXML(p *store.Process) string {
	doc := wpsXMLProcessDescription{
		Identifier: p.ID,
		Title:      p.Title,
		Abstract:   p.Description,
	}
	for _, in := range p.Inputs {
		doc.DataInputs = append(doc.DataInputs, wpsXMLInput{Identifier: in.ID, Title: in.Title, MinOccurs: in.MinOccurs, MaxOccurs: maxOccursOrOne(in.MaxOccurs)})
	}
	for _, out := range p.Outputs {
		doc.Outputs = append(doc.Outputs, wpsXMLInput{Identifier: out.ID, Title: out.Title, MinOccurs: out.MinOccurs, MaxOccurs: maxOccursOrOne(out.MaxOccurs)})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "<ProcessDescription/>"
	}
	return strings.TrimSpace(xml.Header + string(out))
}

func maxOccursOrOne(n int) int {
	if n < 0 {
		return 1
	}
	return n
}

// wpsKVPHandler serves the legacy WPS 1.0/2.0 KVP requests
// GetCapabilities and DescribeProcess from the OGC API core's Store.
// Execute is not served: a KVP request=Execute gets 400, and so does
// every POST /wps.
type wpsKVPHandler struct {
	s *Server
}

func (h *wpsKVPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /wps", h.handleKVP)
	mux.HandleFunc("POST /wps", h.handleXML)
}

func (h *wpsKVPHandler) handleKVP(w http.ResponseWriter, r *http.Request) {
	switch strings.ToLower(r.URL.Query().Get("request")) {
	case "getcapabilities":
		h.getCapabilities(w, r)
	case "describeprocess":
		h.describeProcess(w, r)
	default:
		writeErrorStatus(w, http.StatusBadRequest, "SCHEMA_INVALID", "unsupported or missing WPS request parameter")
	}
}

func (h *wpsKVPHandler) getCapabilities(w http.ResponseWriter, r *http.Request) {
	procs, err := h.s.store.ListProcesses(r.Context(), store.ProcessFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	type wpsCap struct {
		XMLName   xml.Name      `xml:"Capabilities"`
		Processes []wpsXMLInput `xml:"ProcessOfferings>Process"`
	}
	cap := wpsCap{}
	for _, p := range procs {
		if isPrivate(p.Visibility) {
			continue
		}
		cap.Processes = append(cap.Processes, wpsXMLInput{Identifier: p.ID, Title: p.Title})
	}
	out, _ := xml.MarshalIndent(cap, "", "  ")
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header + string(out)))
}

func (h *wpsKVPHandler) describeProcess(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("identifier")
	proc, err := h.s.store.GetProcess(r.Context(), id, "")
	if err != nil {
		writeError(w, notFoundOr(err, "process"))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(processDescriptionWPSXML(proc)))
}

// handleXML answers every POST /wps with 400: WPS Execute XML envelopes
// are not processed, and executions go through
// POST /processes/{id}/execution instead.
func (h *wpsKVPHandler) handleXML(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, http.StatusBadRequest, "SCHEMA_INVALID", "POST /wps Execute is not supported; use POST /processes/{id}/execution")
}
