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

package queue

import (
	"context"
	"sync"

	"github.com/tombee/weaver/internal/store"
)

// TerminalWaiter is the result backend the synchronous-execution bridge
// needs (SPEC_FULL.md §4.7): `Job.terminalEvent.wait(timeout)`. API
// handlers call Wait; the worker that drives a Job to a terminal status
// calls Signal exactly once per job.
type TerminalWaiter struct {
	mu   sync.Mutex
	subs map[string][]chan store.JobStatus
}

// NewTerminalWaiter returns a ready-to-use TerminalWaiter.
func NewTerminalWaiter() *TerminalWaiter {
	return &TerminalWaiter{subs: make(map[string][]chan store.JobStatus)}
}

// Wait blocks until jobID reaches a terminal status, ctx is cancelled,
// or the deadline set on ctx elapses (the caller is expected to derive
// ctx with `execute_sync_max_wait`). ok is false when ctx ended the wait
// before a terminal status arrived.
func (w *TerminalWaiter) Wait(ctx context.Context, jobID string) (status store.JobStatus, ok bool) {
	ch := make(chan store.JobStatus, 1)
	w.mu.Lock()
	w.subs[jobID] = append(w.subs[jobID], ch)
	w.mu.Unlock()

	select {
	case s := <-ch:
		return s, true
	case <-ctx.Done():
		w.unsubscribe(jobID, ch)
		return "", false
	}
}

// Signal notifies every waiter blocked on jobID that it reached status,
// then clears the subscriber list. Signal is a no-op if status is not
// terminal, since only a terminal status should ever wake a waiter.
func (w *TerminalWaiter) Signal(jobID string, status store.JobStatus) {
	if !status.Terminal() {
		return
	}
	w.mu.Lock()
	chans := w.subs[jobID]
	delete(w.subs, jobID)
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- status
		close(ch)
	}
}

func (w *TerminalWaiter) unsubscribe(jobID string, target chan store.JobStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	subs := w.subs[jobID]
	for i, ch := range subs {
		if ch == target {
			w.subs[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
