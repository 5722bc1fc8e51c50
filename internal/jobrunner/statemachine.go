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

// Package jobrunner implements the Job lifecycle state machine and the
// worker pool that drives it (SPEC_FULL.md §4.6/§4.7): accepted →
// started → running → {successful, failed, dismissed}. Every
// transition is a compare-and-set write against the Store so a worker
// updating progress and an API handler dismissing the same Job can
// never silently clobber each other.
package jobrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/weaver/internal/metrics"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

const maxLogMessageBytes = 8 * 1024

// StateMachine applies SPEC_FULL.md §4.6's transition rules against a
// Store, retrying its compare-and-set writes against concurrent
// mutation of the same Job a bounded number of times.
type StateMachine struct {
	store      store.JobStore
	maxRetries int
}

// NewStateMachine returns a StateMachine backed by s.
func NewStateMachine(s store.JobStore) *StateMachine {
	return &StateMachine{store: s, maxRetries: 5}
}

// mutate loads job, applies fn, and writes it back with compare-and-set
// against the updated_at it read, retrying on ErrConflict.
func (m *StateMachine) mutate(ctx context.Context, jobID string, fn func(j *store.Job) error) (*store.Job, error) {
	var last error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		expected := job.UpdatedAt.UnixNano()
		if err := fn(job); err != nil {
			return nil, err
		}
		if err := m.store.UpdateJob(ctx, job, expected); err != nil {
			if err == store.ErrConflict {
				last = err
				continue
			}
			return nil, err
		}
		return job, nil
	}
	return nil, fmt.Errorf("jobrunner: exceeded %d retries updating job %q: %w", m.maxRetries, jobID, last)
}

// Accept creates a new Job in the accepted state and writes its first
// log entry.
func (m *StateMachine) Accept(ctx context.Context, job *store.Job) error {
	job.Status = store.JobAccepted
	job.Progress = 0
	appendLog(job, "info", "job accepted")
	return m.store.CreateJob(ctx, job)
}

// Claim is called by the first worker to pick up an accepted Job; it
// transitions accepted → started and records started_at. Returns
// store.ErrConflict if another worker already claimed it.
func (m *StateMachine) Claim(ctx context.Context, jobID string) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status != store.JobAccepted {
			return fmt.Errorf("jobrunner: cannot claim job %q in status %q", jobID, j.Status)
		}
		j.Status = store.JobStarted
		j.StartedAt = time.Now().UTC()
		appendLog(j, "info", "job claimed by worker")
		return nil
	})
}

// Run transitions started → running, immediately before the runner is
// invoked.
func (m *StateMachine) Run(ctx context.Context, jobID string) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status != store.JobStarted {
			return fmt.Errorf("jobrunner: cannot run job %q in status %q", jobID, j.Status)
		}
		j.Status = store.JobRunning
		appendLog(j, "info", "job running")
		return nil
	})
}

// Progress advances a running Job's progress. Values are clamped to
// [0,100] and can never move backwards, per §4.6.
func (m *StateMachine) Progress(ctx context.Context, jobID string, pct int) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status != store.JobRunning {
			return fmt.Errorf("jobrunner: cannot update progress on job %q in status %q", jobID, j.Status)
		}
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		if pct > j.Progress {
			j.Progress = pct
		}
		return nil
	})
}

// Log appends a log entry to a Job without changing its status.
func (m *StateMachine) Log(ctx context.Context, jobID, level, message string) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		appendLog(j, level, message)
		return nil
	})
}

// Succeed transitions running → successful, recording results and
// statistics. Progress freezes at its last value, per §4.6 it is never
// reset to 100 automatically.
func (m *StateMachine) Succeed(ctx context.Context, jobID string, results map[string]any, stats store.Statistics) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status != store.JobRunning {
			return fmt.Errorf("jobrunner: cannot succeed job %q in status %q", jobID, j.Status)
		}
		j.Status = store.JobSuccessful
		j.Results = results
		j.FinishedAt = time.Now().UTC()
		stats.Duration = j.FinishedAt.Sub(j.StartedAt)
		j.Statistics = &stats
		appendLog(j, "info", "job completed successfully")
		metrics.JobDuration.WithLabelValues(j.ProcessID, string(j.Status)).Observe(stats.Duration.Seconds())
		return nil
	})
}

// Fail transitions {started,running} → failed, recording the
// classified exception. Progress is left at its last-reached value.
func (m *StateMachine) Fail(ctx context.Context, jobID string, cause error) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("jobrunner: cannot fail job %q already in terminal status %q", jobID, j.Status)
		}
		j.Status = store.JobFailed
		j.FinishedAt = time.Now().UTC()
		j.Exception = toExceptionReport(cause)
		appendLog(j, "error", j.Exception.Detail)
		dur := j.FinishedAt.Sub(j.StartedAt)
		metrics.JobDuration.WithLabelValues(j.ProcessID, string(j.Status)).Observe(dur.Seconds())
		return nil
	})
}

// Dismiss attempts to transition to dismissed. From accepted the Job is
// dismissed at once; its Queue item is left in place, and a worker's
// later Claim of it fails. From started or running it only sets
// CancelRequested and returns immediately, per §4.6 "final state is
// dismissed regardless of runner cooperation" — the Pool cancels the run
// once it observes CancelRequested and calls FinalizeDismissal once the
// Executor has unwound. Dismissing an
// already-terminal Job is idempotent and returns its current state
// unchanged.
func (m *StateMachine) Dismiss(ctx context.Context, jobID string) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		switch j.Status {
		case store.JobDismissed, store.JobSuccessful, store.JobFailed:
			return nil
		case store.JobAccepted:
			j.Status = store.JobDismissed
			j.FinishedAt = time.Now().UTC()
			appendLog(j, "info", "job dismissed before execution")
		default:
			j.CancelRequested = true
			appendLog(j, "info", "dismissal requested, awaiting worker checkpoint")
		}
		return nil
	})
}

// FinalizeDismissal is called by the worker once it has observed
// CancelRequested and unwound the running step, moving the Job the rest
// of the way to dismissed.
func (m *StateMachine) FinalizeDismissal(ctx context.Context, jobID string) (*store.Job, error) {
	return m.mutate(ctx, jobID, func(j *store.Job) error {
		if j.Status.Terminal() {
			return nil
		}
		j.Status = store.JobDismissed
		j.FinishedAt = time.Now().UTC()
		appendLog(j, "info", "job dismissed")
		return nil
	})
}

func appendLog(j *store.Job, level, message string) {
	truncated := false
	if len(message) > maxLogMessageBytes {
		message = message[:maxLogMessageBytes]
		truncated = true
	}
	j.Logs = append(j.Logs, store.LogEntry{Time: time.Now().UTC(), Level: level, Message: message, Truncated: truncated})
}

func toExceptionReport(cause error) *store.ExceptionReport {
	if coded, ok := cause.(weavererr.Coded); ok {
		pd := weavererr.ToProblemDetails(coded)
		return &store.ExceptionReport{Code: pd.Code, Title: pd.Title, Detail: pd.Description, Status: pd.Status}
	}
	pd := weavererr.ToProblemDetails(cause)
	return &store.ExceptionReport{Code: pd.Code, Title: pd.Title, Detail: pd.Description, Status: pd.Status}
}
