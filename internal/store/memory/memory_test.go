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

package memory

import (
	"context"
	"testing"

	"github.com/tombee/weaver/internal/store"
)

func TestBackend_JobLifecycle(t *testing.T) {
	b := New()
	ctx := context.Background()

	job := &store.Job{ID: "job-1", ProcessID: "echo", Status: store.JobAccepted}

	t.Run("create sets timestamps", func(t *testing.T) {
		if err := b.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
			t.Error("CreateJob did not stamp timestamps")
		}
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		err := b.CreateJob(ctx, &store.Job{ID: "job-1"})
		if err != store.ErrExists {
			t.Errorf("got %v, want ErrExists", err)
		}
	})

	t.Run("compare-and-set update succeeds on matching version", func(t *testing.T) {
		got, _ := b.GetJob(ctx, "job-1")
		got.Status = store.JobRunning
		if err := b.UpdateJob(ctx, got, got.CreatedAt.UnixNano()); err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
	})

	t.Run("compare-and-set update rejects stale version", func(t *testing.T) {
		got, _ := b.GetJob(ctx, "job-1")
		got.Status = store.JobFailed
		if err := b.UpdateJob(ctx, got, got.CreatedAt.UnixNano()); err != store.ErrConflict {
			t.Errorf("got %v, want ErrConflict", err)
		}
	})

	t.Run("get non-existent fails", func(t *testing.T) {
		if _, err := b.GetJob(ctx, "nope"); err != store.ErrNotFound {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("delete is idempotent to caller but reports not found", func(t *testing.T) {
		if err := b.DeleteJob(ctx, "job-1"); err != nil {
			t.Fatalf("DeleteJob() error = %v", err)
		}
		if err := b.DeleteJob(ctx, "job-1"); err != store.ErrNotFound {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestBackend_ListJobs(t *testing.T) {
	b := New()
	ctx := context.Background()

	jobs := []*store.Job{
		{ID: "j1", ProcessID: "echo", Status: store.JobAccepted},
		{ID: "j2", ProcessID: "echo", Status: store.JobRunning},
		{ID: "j3", ProcessID: "convert", Status: store.JobSuccessful},
	}
	for _, j := range jobs {
		_ = b.CreateJob(ctx, j)
	}

	t.Run("filter by process", func(t *testing.T) {
		got, err := b.ListJobs(ctx, store.JobFilter{ProcessID: "echo"})
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d jobs, want 2", len(got))
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		got, err := b.ListJobs(ctx, store.JobFilter{Status: store.JobSuccessful})
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "j3" {
			t.Errorf("got %v, want [j3]", got)
		}
	})
}

func TestBackend_ProcessRevisions(t *testing.T) {
	b := New()
	ctx := context.Background()

	v1 := &store.Process{ID: "echo", Version: "1.0.0", Visibility: store.VisibilityPublic}
	v2 := &store.Process{ID: "echo", Version: "1.1.0", Visibility: store.VisibilityPublic}

	if err := b.CreateProcess(ctx, v1); err != nil {
		t.Fatalf("CreateProcess(v1) error = %v", err)
	}
	if err := b.CreateProcess(ctx, v2); err != nil {
		t.Fatalf("CreateProcess(v2) error = %v", err)
	}

	t.Run("get without version returns latest", func(t *testing.T) {
		got, err := b.GetProcess(ctx, "echo", "")
		if err != nil {
			t.Fatalf("GetProcess() error = %v", err)
		}
		if got.Version != "1.1.0" {
			t.Errorf("got version %q, want 1.1.0", got.Version)
		}
	})

	t.Run("get exact revision", func(t *testing.T) {
		got, err := b.GetProcess(ctx, "echo", "1.0.0")
		if err != nil {
			t.Fatalf("GetProcess() error = %v", err)
		}
		if got.Version != "1.0.0" {
			t.Errorf("got version %q, want 1.0.0", got.Version)
		}
	})

	t.Run("list revisions returns both", func(t *testing.T) {
		got, err := b.ListRevisions(ctx, "echo")
		if err != nil {
			t.Fatalf("ListRevisions() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d revisions, want 2", len(got))
		}
	})
}

func TestBackend_VaultOneShot(t *testing.T) {
	b := New()
	ctx := context.Background()

	rec := &store.VaultRecord{ID: "v1", CipherPath: "/tmp/v1.enc", MediaType: "text/plain"}
	if err := b.CreateVaultRecord(ctx, rec); err != nil {
		t.Fatalf("CreateVaultRecord() error = %v", err)
	}

	t.Run("first consume succeeds", func(t *testing.T) {
		if err := b.MarkConsumed(ctx, "v1"); err != nil {
			t.Fatalf("MarkConsumed() error = %v", err)
		}
	})

	t.Run("second consume fails", func(t *testing.T) {
		if err := b.MarkConsumed(ctx, "v1"); err != store.ErrConflict {
			t.Errorf("got %v, want ErrConflict", err)
		}
	})
}

func TestBackendSatisfiesInterface(t *testing.T) {
	var _ store.Backend = New()
}
