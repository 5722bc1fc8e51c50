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

package dispatch

import (
	"context"

	"github.com/tombee/weaver/pkg/weavererr"
)

// BuiltinFunc is one built-in process's pure implementation
// (SPEC_FULL.md §4.12): inputs in, output paths/values out.
type BuiltinFunc func(ctx context.Context, workDir string, inputs map[string]any) (map[string]StepOutput, error)

// BuiltinRegistry resolves a step's process ID to its BuiltinFunc.
type BuiltinRegistry interface {
	Lookup(processID string) (BuiltinFunc, bool)
}

// BuiltinRunner dispatches weaver:BuiltinRequirement steps to a
// host-language function, with no Docker involved, per §4.12.
type BuiltinRunner struct {
	registry BuiltinRegistry
}

// NewBuiltinRunner returns a BuiltinRunner backed by registry.
func NewBuiltinRunner(registry BuiltinRegistry) *BuiltinRunner {
	return &BuiltinRunner{registry: registry}
}

// Run looks up req.Tool's process ID in the registry and invokes it
// in-process.
func (r *BuiltinRunner) Run(ctx context.Context, req StepRequest) (StepResult, error) {
	processID := req.Tool.ID
	fn, ok := r.registry.Lookup(processID)
	if !ok {
		return StepResult{}, weavererr.NewStepFailed(req.StepID, "unknown built-in process "+processID, nil)
	}

	outputs, err := fn(ctx, req.WorkDir, req.Inputs)
	if err != nil {
		return StepResult{}, weavererr.NewRunnerFailed(req.StepID, -1, "", err)
	}
	return StepResult{Outputs: outputs}, nil
}
