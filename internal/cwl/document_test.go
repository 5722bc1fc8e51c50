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

package cwl

import "testing"

const simpleTool = `
cwlVersion: v1.2
class: CommandLineTool
baseCommand: [echo]
requirements:
  - class: DockerRequirement
    dockerPull: alpine:3.19
inputs:
  message:
    type: string
    default: hello
outputs:
  out_file:
    type: File
    outputBinding:
      glob: output.txt
`

func TestParse_CommandLineTool(t *testing.T) {
	doc, err := Parse([]byte(simpleTool))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Class != ClassCommandLineTool {
		t.Errorf("got class %q, want CommandLineTool", doc.Class)
	}
	if len(doc.Inputs) != 1 || doc.Inputs[0].ID != "message" {
		t.Fatalf("got inputs %+v", doc.Inputs)
	}
	if doc.Inputs[0].Default != "hello" {
		t.Errorf("got default %v, want hello", doc.Inputs[0].Default)
	}
	if doc.DockerPull != "alpine:3.19" {
		t.Errorf("got dockerPull %q, want alpine:3.19", doc.DockerPull)
	}
	if len(doc.Outputs) != 1 || doc.Outputs[0].Glob[0] != "output.txt" {
		t.Fatalf("got outputs %+v", doc.Outputs)
	}
}

const graphWrapped = `
{
  "$graph": [
    {
      "cwlVersion": "v1.2",
      "class": "CommandLineTool",
      "baseCommand": ["true"],
      "inputs": {},
      "outputs": {}
    }
  ]
}
`

func TestParse_SingleElementGraph(t *testing.T) {
	doc, err := Parse([]byte(graphWrapped))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Class != ClassCommandLineTool {
		t.Errorf("got class %q, want CommandLineTool", doc.Class)
	}
}

const multiGraph = `
{"$graph": [{"class": "CommandLineTool"}, {"class": "Workflow"}]}
`

func TestParse_MultiElementGraphRejected(t *testing.T) {
	if _, err := Parse([]byte(multiGraph)); err == nil {
		t.Error("Parse() should reject a multi-element $graph")
	}
}

const nullableArrayType = `
cwlVersion: v1.2
class: CommandLineTool
inputs:
  files:
    type: ["null", "File[]"]
outputs: {}
`

func TestParse_NullableArrayType(t *testing.T) {
	doc, err := Parse([]byte(nullableArrayType))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := doc.Inputs[0].Type
	if !got.Nullable || !got.Array || got.Base != "File" {
		t.Errorf("got type %+v, want nullable array of File", got)
	}
}

const reservedNamespaceWorkflow = `
cwlVersion: v1.2
class: Workflow
inputs: {}
outputs: {}
steps:
  step1:
    run: tool.cwl
    in: {}
    out: []
    requirements:
      - class: weaver:WPS1Requirement
        url: http://example.com
      - class: UnknownVendorExtension
        foo: bar
`

func TestParse_UnknownRequirementMovedToHints(t *testing.T) {
	doc, err := Parse([]byte(reservedNamespaceWorkflow))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	step := doc.Steps[0]
	if len(step.Requirements) != 1 || step.Requirements[0].Class != "weaver:WPS1Requirement" {
		t.Errorf("got requirements %+v, want only the reserved-namespace one", step.Requirements)
	}
	foundHint := false
	for _, h := range step.Hints {
		if h.Class == "UnknownVendorExtension" {
			foundHint = true
		}
	}
	if !foundHint {
		t.Error("UnknownVendorExtension should have been moved to hints")
	}
}
