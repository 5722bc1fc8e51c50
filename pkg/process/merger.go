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

// Package process merges CWL, WPS 1/2, and OGC-API descriptions of the
// same Process into one canonical I/O model, and renders that model back
// out to any of the three shapes (SPEC_FULL.md §4.4).
package process

import (
	"fmt"

	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/store"
)

// WPSIO is the subset of a WPS 1/2 ComplexData/LiteralData/BoundingBoxData
// description the Merger consumes.
type WPSIO struct {
	ID                string
	ComplexFormats     []store.Format
	DataType           string
	UOMs               []string
	AllowedValues      []string
	AnyValue           bool
	MinOccurs          *int
	MaxOccurs          *int // nil means unbounded
}

// OGCAPIIO is the subset of an OGC-API JSON I/O schema the Merger
// consumes.
type OGCAPIIO struct {
	ID          string
	SchemaType  string // object|string|integer|number|boolean|array
	Format      string // uri|binary|date-time|...
	Enum        []string
	MinOccurs   *int
	MaxOccurs   *int
	Formats     []store.Format
	LiteralDataDomains []store.LiteralDataDomain
}

// DescriptionMismatchError reports a merge-time type contradiction that
// must fail deployment (SPEC_FULL.md §4.4).
type DescriptionMismatchError struct {
	IOID string
	Left, Right string
}

func (e *DescriptionMismatchError) Error() string {
	return fmt.Sprintf("process: description mismatch for %q: %s vs %s", e.IOID, e.Left, e.Right)
}

// edamToIANA is the built-in EDAM-ontology-to-IANA-media-type table for
// the common formats SPEC_FULL.md §4.4 says should skip remote
// validation.
var edamToIANA = map[string]string{
	"http://edamontology.org/format_1964": "text/plain",
	"http://edamontology.org/format_3547": "image/jpeg",
	"http://edamontology.org/format_3548": "image/png",
	"http://edamontology.org/format_3746": "image/tiff;subtype=geotiff",
	"http://edamontology.org/format_3591": "text/plain",
	"http://edamontology.org/format_2330": "text/plain",
	"http://edamontology.org/format_3987": "application/x-netcdf",
}

// NormalizeFormatRef converts an EDAM ontology URI to its IANA media-type
// equivalent when a known mapping exists; otherwise it is returned
// unchanged (treated as already being a media type or an unresolvable
// reference that validation will catch later).
func NormalizeFormatRef(ref string) string {
	if iana, ok := edamToIANA[ref]; ok {
		return iana
	}
	return ref
}

// Merger unifies per-I/O descriptions from up to three sources into the
// canonical store.IODescriptor model.
type Merger struct{}

// NewMerger returns a ready-to-use Merger. It carries no state: every
// merge is a pure function of its inputs.
func NewMerger() *Merger { return &Merger{} }

// MergeInput merges the CWL, WPS, and OGC-API descriptions of one input
// or output id. Any of cwlIn/wpsIn/apiIn may be nil if that source did
// not describe this I/O.
func (m *Merger) MergeInput(id string, cwlIn *cwl.InputParameter, wpsIn *WPSIO, apiIn *OGCAPIIO) (store.IODescriptor, error) {
	out := store.IODescriptor{ID: id}

	baseType, err := mergeType(id, cwlIn, wpsIn, apiIn)
	if err != nil {
		return out, err
	}
	out.Type = baseType

	out.MinOccurs, out.MaxOccurs = mergeOccurs(cwlIn, wpsIn, apiIn)

	out.Formats = mergeFormats(cwlIn, wpsIn, apiIn)
	if out.Type == "complex" && len(out.Formats) == 0 {
		return out, fmt.Errorf("process: complex I/O %q has no formats", id)
	}

	if cwlIn != nil && cwlIn.Default != nil {
		out.Default = fmt.Sprintf("%v", cwlIn.Default)
		out.MinOccurs = 0
	}
	if apiIn != nil {
		out.LiteralDataDomains = apiIn.LiteralDataDomains
		if len(apiIn.Enum) > 0 {
			out.AllowedValues = apiIn.Enum
		}
	}
	if wpsIn != nil && len(wpsIn.AllowedValues) > 0 {
		out.AllowedValues = mergeStringSets(out.AllowedValues, wpsIn.AllowedValues)
	}

	return out, validateSingleDefaultFormat(out)
}

// mergeType applies the "most constrained wins, no contradiction" rule.
func mergeType(id string, cwlIn *cwl.InputParameter, wpsIn *WPSIO, apiIn *OGCAPIIO) (string, error) {
	candidates := map[string]string{}
	if cwlIn != nil {
		candidates["cwl"] = classify(cwlTypeName(cwlIn.Type.Base), cwlIn.Type.Array)
	}
	if wpsIn != nil {
		kind := "literal"
		if len(wpsIn.ComplexFormats) > 0 {
			kind = "complex"
		}
		candidates["wps"] = kind
	}
	if apiIn != nil {
		kind := classify(apiIn.SchemaType, apiIn.SchemaType == "array")
		if apiIn.Format == "binary" || apiIn.Format == "uri" {
			kind = "complex"
		}
		candidates["ogc-api"] = kind
	}

	var resolved string
	for _, kind := range candidates {
		if resolved == "" {
			resolved = kind
			continue
		}
		if resolved != kind {
			if resolved == "complex" || kind == "complex" {
				return "", &DescriptionMismatchError{IOID: id, Left: resolved, Right: kind}
			}
			// Both are literal forms; enum is the more constrained one.
			if kind == "enum" {
				resolved = kind
			}
		}
	}
	if resolved == "" {
		resolved = "literal"
	}
	return resolved, nil
}

func classify(base string, isArray bool) string {
	switch base {
	case "File", "Directory", "complex":
		return "complex"
	case "enum":
		return base
	default:
		return "literal"
	}
}

func cwlTypeName(base string) string {
	switch base {
	case "File", "Directory":
		return "File"
	case "int", "long", "float", "double", "string", "boolean":
		return base
	default:
		return base
	}
}

func mergeOccurs(cwlIn *cwl.InputParameter, wpsIn *WPSIO, apiIn *OGCAPIIO) (int, int) {
	min, max := 1, 1

	if cwlIn != nil {
		if cwlIn.Type.Nullable {
			min = 0
		}
		if cwlIn.Type.Array {
			max = -1
		}
	}
	if wpsIn != nil {
		if wpsIn.MinOccurs != nil {
			min = *wpsIn.MinOccurs
		}
		if wpsIn.MaxOccurs == nil {
			max = -1
		} else if *wpsIn.MaxOccurs > 1 || max == -1 {
			max = maxInt(max, *wpsIn.MaxOccurs)
		}
	}
	if apiIn != nil {
		if apiIn.MinOccurs != nil {
			min = *apiIn.MinOccurs
		}
		if apiIn.MaxOccurs == nil && (wpsIn == nil || wpsIn.MaxOccurs != nil) {
			// API silence about maxOccurs does not by itself imply
			// unbounded; only an explicit value updates max here.
		} else if apiIn.MaxOccurs != nil {
			max = maxInt(max, *apiIn.MaxOccurs)
		}
	}
	if min > max && max != -1 {
		min = max
	}
	return min, max
}

func maxInt(a, b int) int {
	if a == -1 || b == -1 {
		return -1
	}
	if a > b {
		return a
	}
	return b
}

// mergeFormats unions {mediaType, schema, encoding, maximumMegabytes}
// across sources, keyed by normalized media type, with the "first
// explicit default wins, else first format promoted" rule.
func mergeFormats(cwlIn *cwl.InputParameter, wpsIn *WPSIO, apiIn *OGCAPIIO) []store.Format {
	byMediaType := map[string]*store.Format{}
	var order []string

	add := func(f store.Format) {
		f.MediaType = NormalizeFormatRef(f.MediaType)
		if existing, ok := byMediaType[f.MediaType]; ok {
			if f.Default {
				existing.Default = true
			}
			if f.MaximumMB > existing.MaximumMB {
				existing.MaximumMB = f.MaximumMB
			}
			return
		}
		cp := f
		byMediaType[f.MediaType] = &cp
		order = append(order, f.MediaType)
	}

	if cwlIn != nil {
		for _, ref := range cwlIn.Format {
			add(store.Format{MediaType: string(ref)})
		}
	}
	if wpsIn != nil {
		for _, f := range wpsIn.ComplexFormats {
			add(f)
		}
	}
	if apiIn != nil {
		for _, f := range apiIn.Formats {
			add(f)
		}
	}

	out := make([]store.Format, 0, len(order))
	haveDefault := false
	for _, mt := range order {
		f := *byMediaType[mt]
		if f.Default {
			if haveDefault {
				f.Default = false
			}
			haveDefault = true
		}
		out = append(out, f)
	}
	if !haveDefault && len(out) > 0 {
		out[0].Default = true
	}
	return out
}

func validateSingleDefaultFormat(d store.IODescriptor) error {
	count := 0
	for _, f := range d.Formats {
		if f.Default {
			count++
		}
	}
	if count > 1 {
		return fmt.Errorf("process: I/O %q has %d default formats, want at most 1", d.ID, count)
	}
	return nil
}

func mergeStringSets(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}
