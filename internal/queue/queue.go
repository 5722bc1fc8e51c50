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

// Package queue is the at-least-once delivery channel between the API
// and the worker pool (SPEC_FULL.md §4.7). Each work item carries the
// Job UUID only: the worker always reloads the full Job from the Store,
// keeping the Store the single source of truth for job state.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/tombee/weaver/internal/metrics"
)

// Item is one queue entry: a Job UUID and the priority it was submitted
// with. It deliberately carries nothing else.
type Item struct {
	JobID     string
	Priority  int
	EnqueuedAt time.Time
}

// Queue is implemented by MemoryQueue; a durable implementation backed
// by the sqlite Store could satisfy the same interface.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
	Len() int
	Close() error
}

// ErrClosed is returned by operations on a closed queue.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "queue: closed" }

// MemoryQueue is a priority-ordered, signal-driven in-memory Queue,
// adapted from the single-process job queue used elsewhere in this
// codebase: higher Priority items are delivered first, ties preserve
// submission order, and Dequeue blocks on a buffered signal channel
// rather than busy-polling.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Item
	signal   chan struct{}
	closedMu sync.RWMutex
	closed   bool
}

// NewMemoryQueue returns a ready-to-use MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make([]Item, 0), signal: make(chan struct{}, 1)}
}

// Enqueue inserts item in priority order and reports the new queue
// depth via the weaver_queue_depth gauge.
func (q *MemoryQueue) Enqueue(ctx context.Context, item Item) error {
	q.closedMu.RLock()
	closed := q.closed
	q.closedMu.RUnlock()
	if closed {
		return ErrClosed{}
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	inserted := false
	for i, existing := range q.items {
		if item.Priority > existing.Priority {
			q.items = append(q.items[:i], append([]Item{item}, q.items[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.items = append(q.items, item)
	}
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(priorityLabel(item.Priority)).Set(float64(depth))

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until an item is available, the queue is closed, or
// ctx is cancelled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.closedMu.RLock()
		closed := q.closed
		q.closedMu.RUnlock()
		if closed {
			return Item{}, ErrClosed{}
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.QueueDepth.WithLabelValues(priorityLabel(item.Priority)).Set(float64(depth))
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len reports the current queue depth.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed; any blocked Dequeue returns ErrClosed.
func (q *MemoryQueue) Close() error {
	q.closedMu.Lock()
	defer q.closedMu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}

func priorityLabel(p int) string {
	switch {
	case p > 0:
		return "high"
	case p < 0:
		return "low"
	default:
		return "normal"
	}
}
