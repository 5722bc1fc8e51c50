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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/weaver/internal/queue"
	"github.com/tombee/weaver/internal/store"
)

// Executor runs one Job's Process to completion. It is implemented by
// the Step Dispatcher (SPEC_FULL.md §4.8); jobrunner only knows it as
// "the thing that turns a claimed Job into results or an error".
// Implementations must honor ctx cancellation by unwinding promptly: the
// Pool cancels ctx once it observes Job.CancelRequested.
type Executor interface {
	Execute(ctx context.Context, job *store.Job, progress ProgressFunc) (results map[string]any, stats store.Statistics, err error)
}

// ProgressFunc lets an Executor report incremental progress and log
// lines back through the state machine while a Job is running.
type ProgressFunc func(pct int, level, message string)

// Pool is the worker pool that drains the Queue and drives each claimed
// Job through the StateMachine and an Executor (SPEC_FULL.md §4.7). Its
// shape is a semaphore-capped goroutine-per-job pattern: a bounded
// number of Jobs run concurrently, cancellation is per-job and
// cooperative, and draining waits for active work to finish without
// accepting more.
type Pool struct {
	queue    queue.Queue
	sm       *StateMachine
	exec     Executor
	waiter   *queue.TerminalWaiter
	logger   *slog.Logger
	sem      chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

// Config configures a Pool.
type Config struct {
	Queue       queue.Queue
	JobStore    store.JobStore
	Executor    Executor
	Waiter      *queue.TerminalWaiter
	MaxParallel int
	Logger      *slog.Logger
}

// New returns a Pool ready to Run. MaxParallel defaults to 10 if unset.
func New(cfg Config) *Pool {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:  cfg.Queue,
		sm:     NewStateMachine(cfg.JobStore),
		exec:   cfg.Executor,
		waiter: cfg.Waiter,
		logger: logger,
		sem:    make(chan struct{}, maxParallel),
		cancel: make(map[string]context.CancelFunc),
	}
}

// Run pulls Items off the Queue until ctx is cancelled or the Pool is
// told to drain. It blocks the calling goroutine; callers typically run
// it in its own goroutine per worker process.
func (p *Pool) Run(ctx context.Context) {
	for {
		if p.draining.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", "error", err)
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		p.wg.Add(1)
		go func(jobID string) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.runOne(ctx, jobID)
		}(item.JobID)
	}
}

// runOne claims, executes, and finalizes a single Job. It never panics
// on Executor errors; any non-nil error from Execute is recorded as a
// normal Fail transition.
func (p *Pool) runOne(parent context.Context, jobID string) {
	job, err := p.sm.Claim(parent, jobID)
	if err != nil {
		p.logger.Warn("job claim failed, likely already claimed or dismissed", "job_id", jobID, "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel[jobID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancel, jobID)
		p.mu.Unlock()
	}()

	job, err = p.sm.Run(runCtx, jobID)
	if err != nil {
		p.logger.Error("job run transition failed", "job_id", jobID, "error", err)
		return
	}

	go p.watchCancellation(runCtx, cancel, jobID)

	progress := func(pct int, level, message string) {
		if level != "" && message != "" {
			if _, err := p.sm.Log(parent, jobID, level, message); err != nil {
				p.logger.Error("job log append failed", "job_id", jobID, "error", err)
			}
		}
		if pct > 0 {
			if _, err := p.sm.Progress(parent, jobID, pct); err != nil {
				p.logger.Error("job progress update failed", "job_id", jobID, "error", err)
			}
		}
	}

	results, stats, execErr := p.exec.Execute(runCtx, job, progress)

	// job was loaded before the run started; reload it to see whether a
	// dismissal was requested while the Executor ran.
	cancelRequested := false
	if runCtx.Err() != nil {
		if cur, gerr := p.sm.store.GetJob(parent, jobID); gerr == nil {
			cancelRequested = cur.CancelRequested
		}
	}
	var final *store.Job
	if cancelRequested {
		final, err = p.sm.FinalizeDismissal(parent, jobID)
	} else if execErr != nil {
		final, err = p.sm.Fail(parent, jobID, execErr)
	} else {
		final, err = p.sm.Succeed(parent, jobID, results, stats)
	}
	if err != nil {
		p.logger.Error("job finalize transition failed", "job_id", jobID, "error", err)
		return
	}
	if p.waiter != nil {
		p.waiter.Signal(jobID, final.Status)
	}
}

// watchCancellation polls the Job's CancelRequested flag and cancels
// runCtx as soon as it is set, so a dismiss request issued through the
// API reaches a running Executor without the Executor itself touching
// the Store.
func (p *Pool) watchCancellation(runCtx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			job, err := p.sm.store.GetJob(runCtx, jobID)
			if err != nil {
				continue
			}
			if job.CancelRequested {
				cancel()
				return
			}
		}
	}
}

// Cancel requests cancellation of a Job's Executor context if it is
// currently running in this Pool. It does not itself update the Job's
// status; callers should still route through StateMachine.Dismiss so
// the status change is durable.
func (p *Pool) Cancel(jobID string) {
	p.mu.Lock()
	cancel, ok := p.cancel[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StartDraining stops the Pool from accepting new Jobs; Jobs already
// running continue to completion.
func (p *Pool) StartDraining() {
	p.draining.Store(true)
}

// IsDraining reports whether StartDraining has been called.
func (p *Pool) IsDraining() bool {
	return p.draining.Load()
}

// ActiveJobCount returns the number of Jobs currently executing.
func (p *Pool) ActiveJobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancel)
}

// WaitForDrain blocks until no Jobs are active or timeout elapses,
// returning false in the latter case.
func (p *Pool) WaitForDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.ActiveJobCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// Stop requests draining and waits up to timeout for active Jobs to
// finish, cancelling any still outstanding once the timeout elapses.
func (p *Pool) Stop(timeout time.Duration) {
	p.StartDraining()
	if p.WaitForDrain(timeout) {
		return
	}
	p.mu.Lock()
	for _, cancel := range p.cancel {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
