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
	"time"

	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/internal/store/memory"
)

// fakeExecutor lets tests control what a Job "execution" does without
// any real Step Dispatcher.
type fakeExecutor struct {
	run func(ctx context.Context, job *store.Job, progress ProgressFunc) (map[string]any, store.Statistics, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, job *store.Job, progress ProgressFunc) (map[string]any, store.Statistics, error) {
	return f.run(ctx, job, progress)
}

func TestPool_RunSucceedsJob(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()
	waiter := queue.NewTerminalWaiter()
	sm := NewStateMachine(be)

	job := newTestJob("pool-job-1")
	if err := sm.Accept(context.Background(), job); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	exec := &fakeExecutor{run: func(ctx context.Context, job *store.Job, progress ProgressFunc) (map[string]any, store.Statistics, error) {
		progress(100, "info", "done")
		return map[string]any{"out": "ok"}, store.Statistics{}, nil
	}}

	p := New(Config{Queue: q, JobStore: be, Executor: exec, Waiter: waiter, MaxParallel: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	if err := q.Enqueue(context.Background(), queue.Item{JobID: job.ID}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	status, ok := waiter.Wait(context.Background(), job.ID)
	if !ok {
		t.Fatal("Wait() did not observe a terminal status")
	}
	if status != store.JobSuccessful {
		t.Errorf("status = %q, want successful", status)
	}

	got, err := be.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestPool_RunFailsJobOnExecutorError(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()
	waiter := queue.NewTerminalWaiter()
	sm := NewStateMachine(be)

	job := newTestJob("pool-job-2")
	_ = sm.Accept(context.Background(), job)

	exec := &fakeExecutor{run: func(ctx context.Context, job *store.Job, progress ProgressFunc) (map[string]any, store.Statistics, error) {
		return nil, store.Statistics{}, errors.New("step failed")
	}}

	p := New(Config{Queue: q, JobStore: be, Executor: exec, Waiter: waiter})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	_ = q.Enqueue(context.Background(), queue.Item{JobID: job.ID})

	status, ok := waiter.Wait(context.Background(), job.ID)
	if !ok || status != store.JobFailed {
		t.Fatalf("status = %q, ok = %v, want failed", status, ok)
	}
}

func TestPool_StopDrainsActiveJob(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()
	waiter := queue.NewTerminalWaiter()
	sm := NewStateMachine(be)

	job := newTestJob("pool-job-3")
	_ = sm.Accept(context.Background(), job)

	started := make(chan struct{})
	exec := &fakeExecutor{run: func(ctx context.Context, job *store.Job, progress ProgressFunc) (map[string]any, store.Statistics, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return map[string]any{}, store.Statistics{}, nil
	}}

	p := New(Config{Queue: q, JobStore: be, Executor: exec, Waiter: waiter})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	_ = q.Enqueue(context.Background(), queue.Item{JobID: job.ID})
	<-started

	p.Stop(time.Second)

	if p.ActiveJobCount() != 0 {
		t.Errorf("ActiveJobCount() = %d after Stop, want 0", p.ActiveJobCount())
	}
}
