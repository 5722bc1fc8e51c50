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

// Package memory is an in-process store.Backend suitable for tests and
// single-node development deployments. It keeps everything in memory
// guarded by a mutex; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tombee/weaver/internal/store"
)

type processKey struct {
	id      string
	version string
}

// Backend implements store.Backend with plain Go maps.
type Backend struct {
	mu        sync.RWMutex
	processes map[processKey]*store.Process
	providers map[string]*store.Provider
	jobs      map[string]*store.Job
	vault     map[string]*store.VaultRecord
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		processes: make(map[processKey]*store.Process),
		providers: make(map[string]*store.Provider),
		jobs:      make(map[string]*store.Job),
		vault:     make(map[string]*store.VaultRecord),
	}
}

var _ store.Backend = (*Backend)(nil)

func cloneProcess(p *store.Process) *store.Process {
	c := *p
	c.Inputs = append([]store.IODescriptor(nil), p.Inputs...)
	c.Outputs = append([]store.IODescriptor(nil), p.Outputs...)
	c.Keywords = append([]string(nil), p.Keywords...)
	return &c
}

func cloneJob(j *store.Job) *store.Job {
	c := *j
	c.Logs = append([]store.LogEntry(nil), j.Logs...)
	c.Tags = append([]string(nil), j.Tags...)
	if j.Inputs != nil {
		c.Inputs = make(map[string]any, len(j.Inputs))
		for k, v := range j.Inputs {
			c.Inputs[k] = v
		}
	}
	if j.Results != nil {
		c.Results = make(map[string]any, len(j.Results))
		for k, v := range j.Results {
			c.Results[k] = v
		}
	}
	return &c
}

// CreateProcess stores a new revision, stamping created/updated timestamps.
func (b *Backend) CreateProcess(ctx context.Context, p *store.Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := processKey{p.ID, p.Version}
	if _, ok := b.processes[key]; ok {
		return store.ErrExists
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	b.processes[key] = cloneProcess(p)
	return nil
}

// GetProcess returns the latest revision when version is empty, otherwise
// the exact revision.
func (b *Backend) GetProcess(ctx context.Context, id, version string) (*store.Process, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if version != "" {
		p, ok := b.processes[processKey{id, version}]
		if !ok {
			return nil, store.ErrNotFound
		}
		return cloneProcess(p), nil
	}

	var latest *store.Process
	for k, p := range b.processes {
		if k.id != id {
			continue
		}
		if latest == nil || p.UpdatedAt.After(latest.UpdatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return cloneProcess(latest), nil
}

func (b *Backend) UpdateProcess(ctx context.Context, p *store.Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := processKey{p.ID, p.Version}
	if _, ok := b.processes[key]; !ok {
		return store.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	b.processes[key] = cloneProcess(p)
	return nil
}

func (b *Backend) DeleteProcess(ctx context.Context, id, version string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := processKey{id, version}
	if _, ok := b.processes[key]; !ok {
		return store.ErrNotFound
	}
	delete(b.processes, key)
	return nil
}

func (b *Backend) ListProcesses(ctx context.Context, filter store.ProcessFilter) ([]*store.Process, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	latestByID := make(map[string]*store.Process)
	for k, p := range b.processes {
		cur, ok := latestByID[k.id]
		if !ok || p.UpdatedAt.After(cur.UpdatedAt) {
			latestByID[k.id] = p
		}
	}

	var out []*store.Process
	for _, p := range latestByID {
		if filter.Visibility != "" && p.Visibility != filter.Visibility {
			continue
		}
		if !matchesKeywords(p.Keywords, filter.Keywords) {
			continue
		}
		out = append(out, cloneProcess(p))
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func matchesKeywords(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	haveSet := make(map[string]bool, len(have))
	for _, k := range have {
		haveSet[k] = true
	}
	for _, w := range want {
		if !haveSet[w] {
			return false
		}
	}
	return true
}

func (b *Backend) ListRevisions(ctx context.Context, id string) ([]*store.Process, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*store.Process
	for k, p := range b.processes {
		if k.id == id {
			out = append(out, cloneProcess(p))
		}
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (b *Backend) CreateProvider(ctx context.Context, p *store.Provider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.providers[p.ID]; ok {
		return store.ErrExists
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	b.providers[p.ID] = &cp
	return nil
}

func (b *Backend) GetProvider(ctx context.Context, id string) (*store.Provider, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.providers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (b *Backend) ListProviders(ctx context.Context) ([]*store.Provider, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*store.Provider, 0, len(b.providers))
	for _, p := range b.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Backend) DeleteProvider(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.providers[id]; !ok {
		return store.ErrNotFound
	}
	delete(b.providers, id)
	return nil
}

func (b *Backend) CreateJob(ctx context.Context, j *store.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[j.ID]; ok {
		return store.ErrExists
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	b.jobs[j.ID] = cloneJob(j)
	return nil
}

func (b *Backend) GetJob(ctx context.Context, id string) (*store.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	j, ok := b.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

// UpdateJob implements compare-and-set on UpdatedAt.UnixNano so concurrent
// writers (worker progress vs. API dismissal) never silently clobber each
// other (SPEC_FULL.md §5).
func (b *Backend) UpdateJob(ctx context.Context, j *store.Job, expectedUpdatedAt int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.jobs[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.UpdatedAt.UnixNano() != expectedUpdatedAt {
		return store.ErrConflict
	}
	j.UpdatedAt = time.Now().UTC()
	b.jobs[j.ID] = cloneJob(j)
	return nil
}

func (b *Backend) DeleteJob(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(b.jobs, id)
	return nil
}

func (b *Backend) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*store.Job
	for _, j := range b.jobs {
		if filter.ProcessID != "" && j.ProcessID != filter.ProcessID {
			continue
		}
		if filter.ProviderID != "" && j.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if !matchesKeywords(j.Tags, filter.Tags) {
			continue
		}
		if filter.MinDuration > 0 || filter.MaxDuration > 0 {
			d := jobDuration(j)
			if filter.MinDuration > 0 && d < filter.MinDuration {
				continue
			}
			if filter.MaxDuration > 0 && d > filter.MaxDuration {
				continue
			}
		}
		out = append(out, cloneJob(j))
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func jobDuration(j *store.Job) time.Duration {
	if j.FinishedAt.IsZero() || j.StartedAt.IsZero() {
		return time.Since(j.CreatedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

func (b *Backend) CreateVaultRecord(ctx context.Context, r *store.VaultRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.vault[r.ID]; ok {
		return store.ErrExists
	}
	r.CreatedAt = time.Now().UTC()
	cp := *r
	b.vault[r.ID] = &cp
	return nil
}

func (b *Backend) GetVaultRecord(ctx context.Context, id string) (*store.VaultRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.vault[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (b *Backend) MarkConsumed(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.vault[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Consumed {
		return store.ErrConflict
	}
	r.Consumed = true
	return nil
}

func (b *Backend) DeleteVaultRecord(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.vault[id]; !ok {
		return store.ErrNotFound
	}
	delete(b.vault, id)
	return nil
}

func (b *Backend) ListExpiredVaultRecords(ctx context.Context) ([]*store.VaultRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now().UTC()
	var out []*store.VaultRecord
	for _, r := range b.vault {
		if !r.Consumed && !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (b *Backend) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
