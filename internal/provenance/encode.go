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

package provenance

import "fmt"

// Format names one of the six encodings §4.11 requires be emittable
// from a single in-memory model.
type Format string

const (
	FormatProvN      Format = "prov-n"
	FormatProvNT     Format = "prov-nt"
	FormatProvJSON   Format = "prov-json"
	FormatProvJSONLD Format = "prov-jsonld"
	FormatProvXML    Format = "prov-xml"
	FormatProvTurtle Format = "prov-turtle"
)

// Encode renders doc in the requested Format.
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatProvN:
		return []byte(ToProvN(doc)), nil
	case FormatProvNT:
		return []byte(ToProvNT(doc)), nil
	case FormatProvJSON:
		return ToProvJSON(doc)
	case FormatProvJSONLD:
		return ToProvJSONLD(doc)
	case FormatProvXML:
		return []byte(ToProvXML(doc)), nil
	case FormatProvTurtle:
		return []byte(ToProvTurtle(doc)), nil
	default:
		return nil, fmt.Errorf("provenance: unsupported format %q", format)
	}
}

// ContentType returns the media type a format is served under on
// GET /jobs/{id}/prov, per spec.md §6.
func ContentType(format Format) string {
	switch format {
	case FormatProvN:
		return "text/provenance-notation"
	case FormatProvNT:
		return "application/n-triples"
	case FormatProvJSON:
		return "application/json"
	case FormatProvJSONLD:
		return "application/ld+json"
	case FormatProvXML:
		return "application/xml"
	case FormatProvTurtle:
		return "text/turtle"
	default:
		return "application/octet-stream"
	}
}
