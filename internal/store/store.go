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

package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by any Get/Update/Delete method when the record
// does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a compare-and-set update loses a race
// against a concurrent writer (SPEC_FULL.md §5 "Shared resources").
var ErrConflict = errors.New("store: conflict")

// ErrExists is returned by Create methods on a duplicate ID.

var ErrExists = errors.New("store: already exists")

// ProcessStore is the minimal contract any backend must satisfy to serve
// Deploy/Patch/Put/Undeploy and process description lookups.
type ProcessStore interface {
	CreateProcess(ctx context.Context, p *Process) error
	GetProcess(ctx context.Context, id, version string) (*Process, error)
	UpdateProcess(ctx context.Context, p *Process) error
	DeleteProcess(ctx context.Context, id, version string) error
}

// ProcessLister adds process discovery. A backend may implement
// ProcessStore without ProcessLister if listing is out of scope.
type ProcessLister interface {
	ListProcesses(ctx context.Context, filter ProcessFilter) ([]*Process, error)
	ListRevisions(ctx context.Context, id string) ([]*Process, error)
}

// ProviderStore persists registered remote Providers. Child processes are
// never persisted (SPEC_FULL.md §3 invariant).
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context) ([]*Provider, error)
	DeleteProvider(ctx context.Context, id string) error
}

// JobStore is the minimal contract for the Job State Machine: create,
// read, and compare-and-set update.
type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpdateJob performs a compare-and-set keyed on the caller's view of
	// UpdatedAt, returning ErrConflict if the stored record has moved on
	// (SPEC_FULL.md §5: "updates to a Job record MUST use compare-and-set").
	UpdateJob(ctx context.Context, j *Job, expectedUpdatedAt int64) error
	DeleteJob(ctx context.Context, id string) error
}

// JobLister adds job search (process/provider/status/tag/duration
// filters, per spec.md's implied job search surface).
type JobLister interface {
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// VaultStore persists Vault records. Ciphertext itself lives on disk or
// object storage; the store only tracks metadata and consumed state.
type VaultStore interface {
	CreateVaultRecord(ctx context.Context, r *VaultRecord) error
	GetVaultRecord(ctx context.Context, id string) (*VaultRecord, error)
	// MarkConsumed atomically flips Consumed to true, returning
	// ErrConflict if it was already consumed (enforces "one-shot").
	MarkConsumed(ctx context.Context, id string) error
	DeleteVaultRecord(ctx context.Context, id string) error
	ListExpiredVaultRecords(ctx context.Context) ([]*VaultRecord, error)
}

// Backend composes every storage concern the execution core needs. A
// backend that implements Backend in full can serve the API and worker
// pool unassisted; a backend implementing only a subset of the component
// interfaces can still serve a reduced deployment (e.g. a read-only
// mirror implementing only the *Lister interfaces).
type Backend interface {
	ProcessStore
	ProcessLister
	ProviderStore
	JobStore
	JobLister
	VaultStore
	io.Closer
}
