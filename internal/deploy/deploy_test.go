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

package deploy

import (
	"context"
	"testing"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
)

const sampleTool = `{
  "cwlVersion": "v1.2",
  "class": "CommandLineTool",
  "id": "greet",
  "baseCommand": ["echo"],
  "inputs": {
    "name": {"type": "string"}
  },
  "outputs": {
    "greeting": {"type": "stdout"}
  }
}`

func TestPipeline_DeployInlineCWL(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})

	proc, err := p.Deploy(context.Background(), Request{
		ProcessID: "greet",
		Title:     "Greeter",
		InlineCWL: []byte(sampleTool),
	})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if proc.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", proc.Version)
	}
	if len(proc.Inputs) != 1 || proc.Inputs[0].ID != "name" {
		t.Errorf("Inputs = %+v, want one input named 'name'", proc.Inputs)
	}
	if proc.Type != store.ProcessTypeApplication {
		t.Errorf("Type = %q, want application", proc.Type)
	}
}

func TestPipeline_DeployDuplicateFails(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	ctx := context.Background()

	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err != nil {
		t.Fatalf("first Deploy() error = %v", err)
	}
	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err == nil {
		t.Fatal("second Deploy() of the same id should fail")
	}
}

func TestPipeline_DeployNoSourceFails(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	if _, err := p.Deploy(context.Background(), Request{ProcessID: "nosource"}); err == nil {
		t.Fatal("Deploy() without an execution source should fail")
	}
}

func TestPipeline_PatchBumpsMinorAndKeepsID(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	ctx := context.Background()

	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	patched, err := p.Patch(ctx, "greet", Request{Title: "Greeter v2"}, true)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if patched.Version != "1.1.0" {
		t.Errorf("Version = %q, want 1.1.0", patched.Version)
	}
	if patched.Title != "Greeter v2" {
		t.Errorf("Title = %q, want Greeter v2", patched.Title)
	}
}

func TestPipeline_PutBumpsMajor(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	ctx := context.Background()

	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	put, err := p.Put(ctx, "greet", Request{InlineCWL: []byte(sampleTool)})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if put.Version != "2.0.0" {
		t.Errorf("Version = %q, want 2.0.0", put.Version)
	}

	old, err := be.GetProcess(ctx, "greet", "1.0.0")
	if err != nil {
		t.Fatalf("old revision should remain addressable: %v", err)
	}
	if old.Version != "1.0.0" {
		t.Errorf("old.Version = %q, want 1.0.0", old.Version)
	}
}

func TestPipeline_UndeployRefusedWithNonTerminalJob(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	ctx := context.Background()

	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if err := be.CreateJob(ctx, &store.Job{ID: "job-1", ProcessID: "greet", Status: store.JobRunning}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := p.Undeploy(ctx, "greet", "1.0.0"); err == nil {
		t.Fatal("Undeploy() should be refused while a non-terminal job exists")
	}
}

func TestPipeline_UndeploySucceedsWhenOnlyTerminalJobs(t *testing.T) {
	be := memory.New()
	p := New(Config{Store: be, Jobs: be})
	ctx := context.Background()

	if _, err := p.Deploy(ctx, Request{ProcessID: "greet", InlineCWL: []byte(sampleTool)}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if err := be.CreateJob(ctx, &store.Job{ID: "job-1", ProcessID: "greet", Status: store.JobSuccessful}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := p.Undeploy(ctx, "greet", "1.0.0"); err != nil {
		t.Fatalf("Undeploy() error = %v", err)
	}
	if _, err := be.GetProcess(ctx, "greet", "1.0.0"); err != store.ErrNotFound {
		t.Errorf("GetProcess() after Undeploy() error = %v, want ErrNotFound", err)
	}
}

func TestRegisterBuiltins_IsIdempotent(t *testing.T) {
	be := memory.New()
	ctx := context.Background()
	specs := DefaultBuiltinSpecs()

	if err := RegisterBuiltins(ctx, be, specs); err != nil {
		t.Fatalf("first RegisterBuiltins() error = %v", err)
	}
	if err := RegisterBuiltins(ctx, be, specs); err != nil {
		t.Fatalf("second RegisterBuiltins() error = %v", err)
	}

	for _, spec := range specs {
		revisions, err := be.ListRevisions(ctx, spec.ID)
		if err != nil {
			t.Fatalf("ListRevisions(%q) error = %v", spec.ID, err)
		}
		if len(revisions) != 1 {
			t.Errorf("ListRevisions(%q) = %d revisions, want 1 (idempotent upsert)", spec.ID, len(revisions))
		}
	}
}

func TestRegisterBuiltins_VersionBumpCreatesNewRevision(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	v1 := []BuiltinSpec{{ID: "echo", Version: "1.0.0", Title: "Echo"}}
	if err := RegisterBuiltins(ctx, be, v1); err != nil {
		t.Fatalf("RegisterBuiltins(v1) error = %v", err)
	}

	v2 := []BuiltinSpec{{ID: "echo", Version: "1.1.0", Title: "Echo"}}
	if err := RegisterBuiltins(ctx, be, v2); err != nil {
		t.Fatalf("RegisterBuiltins(v2) error = %v", err)
	}

	revisions, err := be.ListRevisions(ctx, "echo")
	if err != nil {
		t.Fatalf("ListRevisions() error = %v", err)
	}
	if len(revisions) != 2 {
		t.Errorf("ListRevisions() = %d revisions, want 2 after a version bump", len(revisions))
	}
}
