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

package jobrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
)

func newTestJob(id string) *store.Job {
	return &store.Job{ID: id, ProcessID: "echo", Type: store.JobTypeProcess}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-1")
	if err := sm.Accept(ctx, job); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	claimed, err := sm.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.Status != store.JobStarted {
		t.Errorf("status after Claim = %q, want started", claimed.Status)
	}

	running, err := sm.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if running.Status != store.JobRunning {
		t.Errorf("status after Run = %q, want running", running.Status)
	}

	if _, err := sm.Progress(ctx, job.ID, 50); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	// Progress must never move backwards.
	after, err := sm.Progress(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if after.Progress != 50 {
		t.Errorf("Progress regressed to %d, want still 50", after.Progress)
	}

	final, err := sm.Succeed(ctx, job.ID, map[string]any{"out": "ok"}, store.Statistics{})
	if err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
	if final.Status != store.JobSuccessful {
		t.Errorf("final status = %q, want successful", final.Status)
	}
	if final.Statistics == nil {
		t.Error("Succeed() did not record Statistics")
	}
	if len(final.Logs) == 0 {
		t.Error("Succeed() did not append a log entry")
	}
}

func TestStateMachine_ClaimTwiceFails(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-2")
	_ = sm.Accept(ctx, job)
	if _, err := sm.Claim(ctx, job.ID); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if _, err := sm.Claim(ctx, job.ID); err == nil {
		t.Error("second Claim() should fail, job already started")
	}
}

func TestStateMachine_Fail(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-3")
	_ = sm.Accept(ctx, job)
	_, _ = sm.Claim(ctx, job.ID)
	_, _ = sm.Run(ctx, job.ID)

	final, err := sm.Fail(ctx, job.ID, errors.New("boom"))
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if final.Status != store.JobFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if final.Exception == nil {
		t.Error("Fail() did not record an ExceptionReport")
	}
}

func TestStateMachine_DismissAccepted(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-4")
	_ = sm.Accept(ctx, job)

	final, err := sm.Dismiss(ctx, job.ID)
	if err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	if final.Status != store.JobDismissed {
		t.Errorf("status = %q, want dismissed", final.Status)
	}
}

func TestStateMachine_DismissRunningRequestsCancellationOnly(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-5")
	_ = sm.Accept(ctx, job)
	_, _ = sm.Claim(ctx, job.ID)
	_, _ = sm.Run(ctx, job.ID)

	after, err := sm.Dismiss(ctx, job.ID)
	if err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	if after.Status != store.JobRunning {
		t.Errorf("status = %q, want still running until worker finalizes", after.Status)
	}
	if !after.CancelRequested {
		t.Error("Dismiss() on a running job should set CancelRequested")
	}

	final, err := sm.FinalizeDismissal(ctx, job.ID)
	if err != nil {
		t.Fatalf("FinalizeDismissal() error = %v", err)
	}
	if final.Status != store.JobDismissed {
		t.Errorf("status = %q, want dismissed", final.Status)
	}
}

func TestStateMachine_DismissIsIdempotentOnTerminalJob(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	sm := NewStateMachine(be)

	job := newTestJob("job-6")
	_ = sm.Accept(ctx, job)
	_, _ = sm.Claim(ctx, job.ID)
	_, _ = sm.Run(ctx, job.ID)
	_, _ = sm.Succeed(ctx, job.ID, nil, store.Statistics{})

	final, err := sm.Dismiss(ctx, job.ID)
	if err != nil {
		t.Fatalf("Dismiss() on terminal job error = %v", err)
	}
	if final.Status != store.JobSuccessful {
		t.Errorf("status = %q, want unchanged successful", final.Status)
	}
}
