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

package process

import (
	"testing"

	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/internal/store"
)

func intPtr(v int) *int { return &v }

func TestMergeInput_ArrayWinsOverScalar(t *testing.T) {
	m := NewMerger()
	cwlIn := &cwl.InputParameter{ID: "files", Type: cwl.IOType{Base: "File", Array: true}}
	wpsIn := &WPSIO{ID: "files", ComplexFormats: nil, MaxOccurs: intPtr(1)}

	got, err := m.MergeInput("files", cwlIn, wpsIn, nil)
	if err != nil {
		t.Fatalf("MergeInput() error = %v", err)
	}
	if got.MaxOccurs != -1 {
		t.Errorf("got MaxOccurs %d, want unbounded (-1)", got.MaxOccurs)
	}
}

func TestMergeInput_NullableSetsMinOccursZero(t *testing.T) {
	m := NewMerger()
	cwlIn := &cwl.InputParameter{ID: "opt", Type: cwl.IOType{Base: "string", Nullable: true}}

	got, err := m.MergeInput("opt", cwlIn, nil, nil)
	if err != nil {
		t.Fatalf("MergeInput() error = %v", err)
	}
	if got.MinOccurs != 0 {
		t.Errorf("got MinOccurs %d, want 0", got.MinOccurs)
	}
}

func TestMergeInput_TypeContradictionFails(t *testing.T) {
	m := NewMerger()
	cwlIn := &cwl.InputParameter{ID: "x", Type: cwl.IOType{Base: "string"}}
	apiIn := &OGCAPIIO{ID: "x", SchemaType: "object", Format: "binary"}

	_, err := m.MergeInput("x", cwlIn, nil, apiIn)
	if err == nil {
		t.Fatal("MergeInput() should reject literal-vs-complex contradiction")
	}
	var mismatch *DescriptionMismatchError
	if !asMismatch(err, &mismatch) {
		t.Errorf("got %v, want *DescriptionMismatchError", err)
	}
}

func asMismatch(err error, target **DescriptionMismatchError) bool {
	m, ok := err.(*DescriptionMismatchError)
	if ok {
		*target = m
	}
	return ok
}

func TestMergeInput_FormatUnionPicksDefault(t *testing.T) {
	m := NewMerger()
	cwlIn := &cwl.InputParameter{
		ID:     "image",
		Type:   cwl.IOType{Base: "File"},
		Format: []cwl.FormatRef{"http://edamontology.org/format_3547"},
	}
	apiIn := &OGCAPIIO{
		ID:         "image",
		SchemaType: "string",
		Format:     "binary",
		Formats:    []store.Format{{MediaType: "image/jpeg"}},
	}

	got, err := m.MergeInput("image", cwlIn, nil, apiIn)
	if err != nil {
		t.Fatalf("MergeInput() error = %v", err)
	}
	if len(got.Formats) == 0 {
		t.Fatal("expected at least one merged format")
	}
	if got.Formats[0].MediaType != "image/jpeg" {
		t.Errorf("got media type %q, want image/jpeg (EDAM mapped)", got.Formats[0].MediaType)
	}
	if !got.Formats[0].Default {
		t.Error("sole format should be promoted to default")
	}
}

func TestValueGuard_RejectsOutOfRangeValue(t *testing.T) {
	g := NewValueGuard()
	d := store.IODescriptor{ID: "level", AllowedValues: []string{"low", "medium", "high"}}

	if err := g.Check(d, "medium"); err != nil {
		t.Errorf("Check(medium) should pass: %v", err)
	}
	if err := g.Check(d, "extreme"); err == nil {
		t.Error("Check(extreme) should fail")
	}
}
