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

import (
	"strings"
	"testing"
	"time"

	"github.com/tombee/weaver/internal/store"
)

func sampleJob() (*store.Process, *store.Job) {
	proc := &store.Process{
		ID:      "greet",
		Version: "1.0.0",
		Title:   "Greet",
		ExecutionUnit: store.ExecutionUnit{
			InlineCWL: `{"class":"CommandLineTool"}`,
		},
	}
	job := &store.Job{
		ID:         "job-1",
		ProcessID:  "greet",
		Status:     store.JobSuccessful,
		StartedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Inputs:     map[string]any{"name": "world"},
		Results:    map[string]any{"greeting": "hello world"},
		Statistics: &store.Statistics{
			Duration: time.Minute,
			StepDurations: map[string]time.Duration{
				"greet-step": 45 * time.Second,
			},
		},
	}
	return proc, job
}

func TestBuild_PopulatesCoreGraph(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	if len(doc.Agents) != 1 {
		t.Fatalf("Agents = %d, want 1", len(doc.Agents))
	}
	if len(doc.Activities) != 2 {
		t.Fatalf("Activities = %d, want 2 (job + 1 step)", len(doc.Activities))
	}
	if len(doc.Entities) != 3 {
		t.Fatalf("Entities = %d, want 3 (plan + input + output)", len(doc.Entities))
	}
	if len(doc.Generations) != 1 || len(doc.Usages) == 0 {
		t.Fatalf("unexpected relation counts: gens=%d usages=%d", len(doc.Generations), len(doc.Usages))
	}
}

func TestCollector_DisabledReturnsNoDocument(t *testing.T) {
	proc, job := sampleJob()
	c := NewCollector(false)
	if _, ok := c.Build(proc, job); ok {
		t.Fatal("Build() should report disabled collection")
	}
}

func TestEncode_AllSixFormatsProduceNonEmptyOutput(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	formats := []Format{FormatProvN, FormatProvNT, FormatProvJSON, FormatProvJSONLD, FormatProvXML, FormatProvTurtle}
	for _, f := range formats {
		out, err := Encode(doc, f)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", f, err)
		}
		if len(out) == 0 {
			t.Errorf("Encode(%s) produced empty output", f)
		}
	}
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)
	if _, err := Encode(doc, Format("bogus")); err == nil {
		t.Fatal("Encode() should reject an unknown format")
	}
}

func TestToProvJSON_ContainsActivityAndEntityIDs(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	out, err := ToProvJSON(doc)
	if err != nil {
		t.Fatalf("ToProvJSON() error = %v", err)
	}
	if !strings.Contains(string(out), "job:job-1") {
		t.Errorf("PROV-JSON missing job activity id: %s", out)
	}
}

func TestToProvJSONLD_HasContext(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	out, err := ToProvJSONLD(doc)
	if err != nil {
		t.Fatalf("ToProvJSONLD() error = %v", err)
	}
	if !strings.Contains(string(out), "@context") {
		t.Errorf("PROV-JSONLD missing @context: %s", out)
	}
}

func TestToProvNT_EmitsTriplesForEveryEntity(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	out := ToProvNT(doc)
	lineCount := strings.Count(out, "\n")
	if lineCount < len(doc.Entities) {
		t.Errorf("expected at least %d triples, got %d lines", len(doc.Entities), lineCount)
	}
}

func TestToProvXML_IsWellFormedEnoughToContainRootElement(t *testing.T) {
	proc, job := sampleJob()
	doc := Build(proc, job)

	out := ToProvXML(doc)
	if !strings.Contains(out, "<prov:document") {
		t.Errorf("PROV-XML missing root element: %s", out)
	}
}

func TestContentType_CoversAllFormats(t *testing.T) {
	for _, f := range []Format{FormatProvN, FormatProvNT, FormatProvJSON, FormatProvJSONLD, FormatProvXML, FormatProvTurtle} {
		if ContentType(f) == "application/octet-stream" {
			t.Errorf("ContentType(%s) fell back to the default", f)
		}
	}
}
