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

package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/weaver/internal/fetch"
	"github.com/tombee/weaver/internal/store"
)

func newTestStager(t *testing.T, dir string) *Stager {
	t.Helper()
	f := fetch.New(fetch.Config{AllowedRoots: []string{dir}})
	return New(f)
}

func TestStager_StageInputs_LiteralValidation(t *testing.T) {
	dir := t.TempDir()
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{
		{ID: "mode", Type: "literal", AllowedValues: []string{"fast", "slow"}},
	}

	if _, err := s.StageInputs(context.Background(), descriptors, map[string]any{"mode": "fast"}, dir, RunnerLocal); err != nil {
		t.Fatalf("StageInputs() error = %v", err)
	}

	if _, err := s.StageInputs(context.Background(), descriptors, map[string]any{"mode": "turbo"}, dir, RunnerLocal); err == nil {
		t.Fatal("StageInputs() should reject a value outside allowedValues")
	}
}

func TestStager_StageInputs_MissingRequiredInput(t *testing.T) {
	dir := t.TempDir()
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "input1", Type: "literal", MinOccurs: 1}}
	if _, err := s.StageInputs(context.Background(), descriptors, map[string]any{}, dir, RunnerLocal); err == nil {
		t.Fatal("StageInputs() should fail when a required input is omitted")
	}
}

func TestStager_StageInputs_OmitsOptionalInputEntirely(t *testing.T) {
	dir := t.TempDir()
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "optional1", Type: "literal", MinOccurs: 0}}
	staged, err := s.StageInputs(context.Background(), descriptors, map[string]any{}, dir, RunnerLocal)
	if err != nil {
		t.Fatalf("StageInputs() error = %v", err)
	}
	if _, present := staged["optional1"]; present {
		t.Error("StageInputs() should drop an omitted optional input, not emit a null placeholder")
	}
}

func TestStager_StageInputs_MaterializesFileForLocalRunner(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(srcPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "data", Type: "complex", MinOccurs: 1}}
	staged, err := s.StageInputs(context.Background(), descriptors, map[string]any{"data": "file://" + srcPath}, dir, RunnerLocal)
	if err != nil {
		t.Fatalf("StageInputs() error = %v", err)
	}
	if staged["data"] != srcPath {
		t.Errorf("got %v, want materialized path %q", staged["data"], srcPath)
	}
}

func TestStager_StageInputs_LeavesURLForRemoteRunner(t *testing.T) {
	dir := t.TempDir()
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "data", Type: "complex", MinOccurs: 1}}
	ref := "https://example.com/data.nc"
	staged, err := s.StageInputs(context.Background(), descriptors, map[string]any{"data": ref}, dir, RunnerRemote)
	if err != nil {
		t.Fatalf("StageInputs() error = %v", err)
	}
	if staged["data"] != ref {
		t.Errorf("got %v, want unmaterialized URL %q for a remote runner", staged["data"], ref)
	}
}

func TestStager_StageOutputs_ResolvesTransmissionPrecedence(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "result.txt")
	if err := os.WriteFile(outPath, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "out1", Formats: []store.Format{{MediaType: "text/plain", Default: true}}}}
	produced := map[string]string{"out1": outPath}
	overrides := map[string]OutputRequest{"out1": {Transmission: "reference"}}
	defaults := map[string]string{"out1": "value"}

	staged, err := s.StageOutputs(context.Background(), descriptors, produced, overrides, defaults, DestinationConfig{WPSOutputDir: dir}, nil, "job-1", "default")
	if err != nil {
		t.Fatalf("StageOutputs() error = %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("got %d staged outputs, want 1", len(staged))
	}
	if staged[0].Transmission != "reference" {
		t.Errorf("transmission = %q, want reference (submit-time override wins)", staged[0].Transmission)
	}
}

func TestStager_StageOutputs_InlinesSmallValueOutput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "result.txt")
	if err := os.WriteFile(outPath, []byte("small output"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStager(t, dir)

	descriptors := []store.IODescriptor{{ID: "out1"}}
	produced := map[string]string{"out1": outPath}

	staged, err := s.StageOutputs(context.Background(), descriptors, produced, nil, nil, DestinationConfig{WPSOutputDir: dir}, nil, "job-1", "default")
	if err != nil {
		t.Fatalf("StageOutputs() error = %v", err)
	}
	if string(staged[0].InlineValue) != "small output" {
		t.Errorf("InlineValue = %q, want inlined file contents", staged[0].InlineValue)
	}
}
