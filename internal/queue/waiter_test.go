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
	"testing"
	"time"

	"github.com/tombee/weaver/internal/store"
)

func TestTerminalWaiter_WaitUnblocksOnSignal(t *testing.T) {
	w := NewTerminalWaiter()
	result := make(chan store.JobStatus, 1)

	go func() {
		status, ok := w.Wait(context.Background(), "job-1")
		if ok {
			result <- status
		}
	}()

	time.Sleep(20 * time.Millisecond)
	w.Signal("job-1", store.JobSuccessful)

	select {
	case status := <-result:
		if status != store.JobSuccessful {
			t.Errorf("got %q, want successful", status)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not unblock after Signal")
	}
}

func TestTerminalWaiter_WaitTimesOutWithContext(t *testing.T) {
	w := NewTerminalWaiter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := w.Wait(ctx, "job-2")
	if ok {
		t.Fatal("Wait() should report ok=false when the deadline elapses first")
	}
}

func TestTerminalWaiter_SignalIgnoresNonTerminalStatus(t *testing.T) {
	w := NewTerminalWaiter()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(5 * time.Millisecond)
		w.Signal("job-3", store.JobRunning)
	}()

	_, ok := w.Wait(ctx, "job-3")
	if ok {
		t.Fatal("Wait() should not unblock for a non-terminal status")
	}
}
