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
)

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_ = q.Enqueue(ctx, Item{JobID: "a"})
	_ = q.Enqueue(ctx, Item{JobID: "b"})

	got, err := q.Dequeue(ctx)
	if err != nil || got.JobID != "a" {
		t.Fatalf("got %+v, %v, want a first", got, err)
	}
	got, err = q.Dequeue(ctx)
	if err != nil || got.JobID != "b" {
		t.Fatalf("got %+v, %v, want b second", got, err)
	}
}

func TestMemoryQueue_HigherPriorityFirst(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_ = q.Enqueue(ctx, Item{JobID: "low", Priority: 0})
	_ = q.Enqueue(ctx, Item{JobID: "high", Priority: 10})

	got, _ := q.Dequeue(ctx)
	if got.JobID != "high" {
		t.Errorf("got %q, want high priority item dequeued first", got.JobID)
	}
}

func TestMemoryQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	result := make(chan Item, 1)
	go func() {
		item, err := q.Dequeue(ctx)
		if err == nil {
			result <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_ = q.Enqueue(ctx, Item{JobID: "late"})

	select {
	case item := <-result:
		if item.JobID != "late" {
			t.Errorf("got %q, want late", item.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Enqueue")
	}
}

func TestMemoryQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err == nil {
		t.Fatal("Dequeue() should return an error when context is cancelled")
	}
}

func TestMemoryQueue_CloseRejectsFurtherUse(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), Item{JobID: "x"}); err == nil {
		t.Error("Enqueue() on a closed queue should fail")
	}
	if _, err := q.Dequeue(context.Background()); err == nil {
		t.Error("Dequeue() on a closed queue should fail")
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}
