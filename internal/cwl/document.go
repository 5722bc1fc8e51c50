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

// Package cwl loads CommandLineTool and Workflow documents (JSON or YAML)
// for the Deploy pipeline and Step Dispatcher (SPEC_FULL.md §4.3, §4.5).
// It does not execute CWL; execution is delegated to the external CWL
// Runner Contract.
package cwl

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class distinguishes a tool from a workflow document.
type Class string

const (
	ClassCommandLineTool Class = "CommandLineTool"
	ClassWorkflow        Class = "Workflow"
	ClassExpressionTool  Class = "ExpressionTool"
)

// ReservedNamespacePrefixes are enforced by the Merger when moving
// unrecognized requirements to hints (SPEC_FULL.md §4.4).
var ReservedNamespacePrefixes = []string{"cwltool:", "weaver:", "s:", "schema.org"}

// Requirement is one CWL Process Requirement or Hint. Class is the
// requirement's `class` field (e.g. "DockerRequirement",
// "weaver:WPS1Requirement"); Fields holds the remaining keys verbatim.
type Requirement struct {
	Class  string
	Fields map[string]any
}

// IOType is a CWL algebraic type: a base type name plus an optional
// nullable/array flag pair derived from `["null", T]` or `T[]`/`T?` sugar.
type IOType struct {
	Base     string
	Nullable bool
	Array    bool
	Symbols  []string // enum symbols, when Base == "enum"
}

// FormatRef is a CWL `format:` value — an IANA or EDAM ontology URI.
type FormatRef string

// InputParameter is one CWL tool or workflow input.
type InputParameter struct {
	ID        string
	Type      IOType
	Default   any
	Format    []FormatRef
	ValueFrom string
	Doc       string
	Label     string
}

// OutputParameter is one CWL tool or workflow output.
type OutputParameter struct {
	ID           string
	Type         IOType
	Format       []FormatRef
	Glob         []string
	OutputSource string // workflow-level only
	Doc          string
}

// WorkflowStep is one step of a Workflow-class document.
type WorkflowStep struct {
	ID           string
	Run          string // inline sub-document ID, or a $graph reference
	In           map[string]string
	Out          []string
	Requirements []Requirement
	Hints        []Requirement
	Scatter      []string
	ScatterMethod string
}

// Document is a parsed CWL CommandLineTool, ExpressionTool, or Workflow.
type Document struct {
	CWLVersion   string
	Class        Class
	ID           string
	Inputs       []InputParameter
	Outputs      []OutputParameter
	Steps        []WorkflowStep // Workflow only
	Requirements []Requirement
	Hints        []Requirement
	BaseCommand  []string // CommandLineTool only
	DockerPull   string
}

// Parse loads a single CWL document from raw bytes, which may be JSON or
// YAML, and may be a `$graph` array wrapper holding a single document (the
// only `$graph` shape SPEC_FULL.md §4.5 requires support for).
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := unmarshalFlexible(data, &raw); err != nil {
		return nil, fmt.Errorf("cwl: parse: %w", err)
	}

	if graph, ok := raw["$graph"]; ok {
		docs, ok := graph.([]any)
		if !ok || len(docs) == 0 {
			return nil, fmt.Errorf("cwl: $graph must be a nonempty array")
		}
		if len(docs) > 1 {
			return nil, fmt.Errorf("cwl: only a single-element $graph is supported")
		}
		m, ok := docs[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cwl: $graph[0] is not an object")
		}
		raw = m
	}

	return fromMap(raw)
}

func unmarshalFlexible(data []byte, out any) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
	}
	return yaml.Unmarshal(data, out)
}

func fromMap(raw map[string]any) (*Document, error) {
	doc := &Document{
		CWLVersion: str(raw["cwlVersion"]),
		Class:      Class(str(raw["class"])),
		ID:         str(raw["id"]),
	}

	doc.Requirements = parseRequirements(raw["requirements"])
	doc.Hints = parseRequirements(raw["hints"])
	doc.Requirements, doc.Hints = enforceReservedNamespaces(doc.Requirements, doc.Hints)

	var err error
	doc.Inputs, err = parseInputs(raw["inputs"])
	if err != nil {
		return nil, err
	}
	doc.Outputs, err = parseOutputs(raw["outputs"])
	if err != nil {
		return nil, err
	}

	switch doc.Class {
	case ClassCommandLineTool:
		doc.BaseCommand = toStringSlice(raw["baseCommand"])
		for _, r := range doc.Requirements {
			if r.Class == "DockerRequirement" {
				if pull, ok := r.Fields["dockerPull"].(string); ok {
					doc.DockerPull = pull
				}
			}
		}
	case ClassWorkflow:
		doc.Steps, err = parseSteps(raw["steps"])
		if err != nil {
			return nil, err
		}
	case ClassExpressionTool:
		// no additional fields beyond inputs/outputs/requirements.
	default:
		return nil, fmt.Errorf("cwl: unsupported class %q", doc.Class)
	}

	return doc, nil
}

// enforceReservedNamespaces moves any requirement whose class is not a
// CWL core requirement and does not carry a reserved prefix into hints,
// per SPEC_FULL.md §4.4's "unrecognized requirements must be moved to
// hints" rule.
func enforceReservedNamespaces(requirements, hints []Requirement) ([]Requirement, []Requirement) {
	var keptReqs []Requirement
	for _, r := range requirements {
		if isCoreRequirement(r.Class) || hasReservedPrefix(r.Class) {
			keptReqs = append(keptReqs, r)
			continue
		}
		hints = append(hints, r)
	}
	return keptReqs, hints
}

func hasReservedPrefix(class string) bool {
	for _, p := range ReservedNamespacePrefixes {
		if strings.HasPrefix(class, p) {
			return true
		}
	}
	return false
}

func isCoreRequirement(class string) bool {
	switch class {
	case "DockerRequirement", "InlineJavascriptRequirement", "InitialWorkDirRequirement",
		"NetworkAccess", "ResourceRequirement", "ScatterFeatureRequirement",
		"SubworkflowFeatureRequirement", "EnvVarRequirement", "ShellCommandRequirement":
		return true
	default:
		return false
	}
}

func parseRequirements(v any) []Requirement {
	var out []Requirement
	switch vv := v.(type) {
	case []any:
		for _, item := range vv {
			if m, ok := item.(map[string]any); ok {
				out = append(out, requirementFromMap(m))
			}
		}
	case map[string]any:
		// map form: keyed by class name.
		for class, fieldsAny := range vv {
			fields, _ := fieldsAny.(map[string]any)
			out = append(out, Requirement{Class: class, Fields: fields})
		}
	}
	return out
}

func requirementFromMap(m map[string]any) Requirement {
	class := str(m["class"])
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k == "class" {
			continue
		}
		fields[k] = v
	}
	return Requirement{Class: class, Fields: fields}
}

func parseInputs(v any) ([]InputParameter, error) {
	entries, err := toEntryList(v)
	if err != nil {
		return nil, err
	}
	out := make([]InputParameter, 0, len(entries))
	for _, e := range entries {
		t, err := parseType(e.value["type"])
		if err != nil {
			return nil, fmt.Errorf("cwl: input %s: %w", e.id, err)
		}
		out = append(out, InputParameter{
			ID:        e.id,
			Type:      t,
			Default:   e.value["default"],
			Format:    toFormatList(e.value["format"]),
			ValueFrom: str(e.value["valueFrom"]),
			Doc:       str(e.value["doc"]),
			Label:     str(e.value["label"]),
		})
	}
	return out, nil
}

func parseOutputs(v any) ([]OutputParameter, error) {
	entries, err := toEntryList(v)
	if err != nil {
		return nil, err
	}
	out := make([]OutputParameter, 0, len(entries))
	for _, e := range entries {
		t, err := parseType(e.value["type"])
		if err != nil {
			return nil, fmt.Errorf("cwl: output %s: %w", e.id, err)
		}
		glob := toStringSlice(outputBindingField(e.value, "glob"))
		out = append(out, OutputParameter{
			ID:           e.id,
			Type:         t,
			Format:       toFormatList(e.value["format"]),
			Glob:         glob,
			OutputSource: str(e.value["outputSource"]),
			Doc:          str(e.value["doc"]),
		})
	}
	return out, nil
}

func outputBindingField(v map[string]any, field string) any {
	binding, ok := v["outputBinding"].(map[string]any)
	if !ok {
		return nil
	}
	return binding[field]
}

func parseSteps(v any) ([]WorkflowStep, error) {
	entries, err := toEntryList(v)
	if err != nil {
		return nil, err
	}
	out := make([]WorkflowStep, 0, len(entries))
	for _, e := range entries {
		in := map[string]string{}
		if m, ok := e.value["in"].(map[string]any); ok {
			for k, iv := range m {
				in[k] = str(iv)
			}
		}
		step := WorkflowStep{
			ID:            e.id,
			Run:           runRef(e.value["run"]),
			In:            in,
			Out:           toStringSlice(e.value["out"]),
			Requirements:  parseRequirements(e.value["requirements"]),
			Hints:         parseRequirements(e.value["hints"]),
			Scatter:       toStringSlice(e.value["scatter"]),
			ScatterMethod: str(e.value["scatterMethod"]),
		}
		step.Requirements, step.Hints = enforceReservedNamespaces(step.Requirements, step.Hints)
		out = append(out, step)
	}
	return out, nil
}

func runRef(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case map[string]any:
		return str(vv["id"])
	default:
		return ""
	}
}

type entry struct {
	id    string
	value map[string]any
}

// toEntryList normalizes CWL's two input/output shapes — a map keyed by
// id, or a list of objects each carrying an `id` field — into a single
// ordered slice.
func toEntryList(v any) ([]entry, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make([]entry, 0, len(vv))
		for id, val := range vv {
			m, _ := val.(map[string]any)
			if m == nil {
				m = map[string]any{"type": val}
			}
			out = append(out, entry{id: id, value: m})
		}
		return out, nil
	case []any:
		out := make([]entry, 0, len(vv))
		for _, item := range vv {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cwl: expected object entry, got %T", item)
			}
			out = append(out, entry{id: str(m["id"]), value: m})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cwl: unexpected inputs/outputs shape %T", v)
	}
}

// parseType interprets CWL algebraic type sugar: `T`, `T?` (nullable),
// `T[]` (array), `["null", T]`, and enum objects.
func parseType(v any) (IOType, error) {
	switch vv := v.(type) {
	case string:
		return parseTypeString(vv), nil
	case []any:
		t := IOType{}
		var base string
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s == "null" {
				t.Nullable = true
				continue
			}
			base = s
		}
		sub := parseTypeString(base)
		t.Base, t.Array = sub.Base, sub.Array
		return t, nil
	case map[string]any:
		typeName := str(vv["type"])
		if typeName == "enum" {
			return IOType{Base: "enum", Symbols: toStringSlice(vv["symbols"])}, nil
		}
		if typeName == "array" {
			items, _ := parseType(vv["items"])
			items.Array = true
			return items, nil
		}
		return IOType{Base: typeName}, nil
	default:
		return IOType{}, fmt.Errorf("unsupported type shape %T", v)
	}
}

func parseTypeString(s string) IOType {
	t := IOType{Base: s}
	if strings.HasSuffix(s, "?") {
		t.Nullable = true
		t.Base = strings.TrimSuffix(s, "?")
	}
	if strings.HasSuffix(t.Base, "[]") {
		t.Array = true
		t.Base = strings.TrimSuffix(t.Base, "[]")
	}
	return t
}

func toFormatList(v any) []FormatRef {
	switch vv := v.(type) {
	case nil:
		return nil
	case string:
		return []FormatRef{FormatRef(vv)}
	case []any:
		out := make([]FormatRef, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, FormatRef(s))
			}
		}
		return out
	default:
		return nil
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case string:
		return []string{vv}
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
