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

package auth

import "sync"

// Registry is the side-channel that carries a submission's Context from
// the API handler that accepted a Job to the worker that later executes
// it. The Queue deliberately carries only a Job UUID (the Store is the
// single source of truth for Job state), so a Context — which is never
// persisted — needs this separate, in-memory, job-id-keyed handoff.
type Registry struct {
	mu  sync.Mutex
	bag map[string]*Context
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bag: make(map[string]*Context)}
}

// Put associates ctx with jobID, overwriting any prior association.
func (r *Registry) Put(jobID string, ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bag[jobID] = ctx
}

// Take returns and removes jobID's Context, or nil if none was
// registered. It is consume-once: a worker calls this exactly when it
// claims the Job.
func (r *Registry) Take(jobID string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx := r.bag[jobID]
	delete(r.bag, jobID)
	return ctx
}

// Forget discards jobID's Context without returning it, for cleanup
// paths (e.g. a Job dismissed before a worker ever claimed it).
func (r *Registry) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bag, jobID)
}
