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

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tombee/weaver/internal/cwl"
	"github.com/tombee/weaver/pkg/weavererr"
)

type stubRunner struct {
	calls int
	run   func(calls int) (StepResult, error)
}

func (s *stubRunner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	s.calls++
	return s.run(s.calls)
}

func TestDispatcher_SelectsRunnerByRequirementClass(t *testing.T) {
	local := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, nil }}
	wps1 := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, nil }}
	ogcapi := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, nil }}

	d := New(Config{Local: local, WPS1: wps1, OGCAPI: ogcapi, Retry: RetryPolicy{MaxAttempts: 1}})

	step := cwl.WorkflowStep{ID: "step1", Requirements: []cwl.Requirement{{Class: ReqOGCAPI}}}
	if _, err := d.Dispatch(context.Background(), step, StepRequest{}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if ogcapi.calls != 1 {
		t.Errorf("ogcapi.calls = %d, want 1", ogcapi.calls)
	}
	if local.calls != 0 || wps1.calls != 0 {
		t.Error("Dispatch() invoked the wrong runner")
	}
}

func TestDispatcher_FallsBackToLocalForDockerRequirement(t *testing.T) {
	local := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, nil }}
	d := New(Config{Local: local, Retry: RetryPolicy{MaxAttempts: 1}})

	step := cwl.WorkflowStep{ID: "step1", Requirements: []cwl.Requirement{{Class: ReqDocker}}}
	if _, err := d.Dispatch(context.Background(), step, StepRequest{}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if local.calls != 1 {
		t.Errorf("local.calls = %d, want 1", local.calls)
	}
}

func TestDispatcher_CUDAHintSetsGPUFlag(t *testing.T) {
	var gotGPU bool
	local := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, nil }}
	d := New(Config{Local: local, Retry: RetryPolicy{MaxAttempts: 1}})

	step := cwl.WorkflowStep{ID: "step1", Hints: []cwl.Requirement{{Class: ReqCUDA}}}
	req := StepRequest{}
	// wrap local.run to capture req.GPU via closure isn't possible since
	// Run receives req by value; assert indirectly through selectRunner.
	runner, gpu := d.selectRunner(step)
	if runner != local {
		t.Fatal("CUDA hint should still select the local runner")
	}
	if !gpu {
		t.Error("CUDA hint should set gpu=true")
	}
	_ = req
	_ = gotGPU
}

func TestDispatcher_RetriesRecoverableErrorThenSucceeds(t *testing.T) {
	local := &stubRunner{run: func(calls int) (StepResult, error) {
		if calls < 3 {
			return StepResult{}, weavererr.NewRefError(weavererr.CodeRefUnreachable, "http://x", "timeout", nil)
		}
		return StepResult{Outputs: map[string]StepOutput{"out": {Path: "/tmp/out"}}}, nil
	}}
	d := New(Config{Local: local, Retry: RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 1.5}})

	step := cwl.WorkflowStep{ID: "step1"}
	result, err := d.Dispatch(context.Background(), step, StepRequest{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if local.calls != 3 {
		t.Errorf("calls = %d, want 3", local.calls)
	}
	if result.Outputs["out"].Path != "/tmp/out" {
		t.Errorf("unexpected outputs: %+v", result.Outputs)
	}
}

func TestDispatcher_DoesNotRetryUnrecoverableError(t *testing.T) {
	wantErr := errors.New("bad cwl document")
	local := &stubRunner{run: func(int) (StepResult, error) { return StepResult{}, wantErr }}
	d := New(Config{Local: local, Retry: RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}})

	step := cwl.WorkflowStep{ID: "step1"}
	_, err := d.Dispatch(context.Background(), step, StepRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if local.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for unrecoverable error)", local.calls)
	}
}

func TestDispatcher_NoRunnerAvailable(t *testing.T) {
	d := New(Config{Retry: RetryPolicy{MaxAttempts: 1}})
	step := cwl.WorkflowStep{ID: "step1"}
	_, err := d.Dispatch(context.Background(), step, StepRequest{})
	if err == nil {
		t.Fatal("expected an error when no local runner is configured")
	}
}
