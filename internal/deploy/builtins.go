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

package deploy

import (
	"context"

	"github.com/google/uuid"

	"github.com/tombee/weaver/internal/store"
)

// BuiltinSpec describes one fixed built-in Process (§4.5 "Built-ins",
// §4.12). Its Version is bumped by the caller only when the built-in's
// implementation changes; RegisterBuiltins is otherwise a no-op against
// an already-current revision.
type BuiltinSpec struct {
	ID          string
	Version     string
	Title       string
	Description string
	Inputs      []store.IODescriptor
	Outputs     []store.IODescriptor
}

// DefaultBuiltinSpecs is the fixed set of built-ins §4.5 requires be
// registered at startup.
func DefaultBuiltinSpecs() []BuiltinSpec {
	return []BuiltinSpec{
		{
			ID:          "echo",
			Version:     "1.0.0",
			Title:       "Echo",
			Description: "Returns its input message unchanged, for smoke-testing the execution pipeline.",
			Inputs: []store.IODescriptor{
				{ID: "message", Type: "literal", MinOccurs: 1, MaxOccurs: 1},
			},
			Outputs: []store.IODescriptor{
				{ID: "output", Type: "literal", MinOccurs: 1, MaxOccurs: 1},
			},
		},
		{
			ID:          "jsonarray2netcdf",
			Version:     "1.0.0",
			Title:       "JSON array to NetCDF",
			Description: "Resolves a JSON array of NetCDF file URLs and concatenates them into a single NetCDF file.",
			Inputs: []store.IODescriptor{
				{ID: "input", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "application/json", Default: true}}},
			},
			Outputs: []store.IODescriptor{
				{ID: "output", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "application/x-netcdf", Default: true}}},
			},
		},
		{
			ID:          "metalink2netcdf",
			Version:     "1.0.0",
			Title:       "Metalink to NetCDF",
			Description: "Resolves a Metalink manifest's file references and concatenates them into a single NetCDF file.",
			Inputs: []store.IODescriptor{
				{ID: "input", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "application/metalink+xml", Default: true}}},
			},
			Outputs: []store.IODescriptor{
				{ID: "output", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "application/x-netcdf", Default: true}}},
			},
		},
		{
			ID:          "file2string_array",
			Version:     "1.0.0",
			Title:       "File to string array",
			Description: "Reads a text file and returns its lines as a literal string array.",
			Inputs: []store.IODescriptor{
				{ID: "input", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "text/plain", Default: true}}},
			},
			Outputs: []store.IODescriptor{
				{ID: "output", Type: "literal", MinOccurs: 0, MaxOccurs: -1},
			},
		},
		{
			ID:          "file_index_selector",
			Version:     "1.0.0",
			Title:       "File index selector",
			Description: "Selects one file from an array of file references by a literal integer index.",
			Inputs: []store.IODescriptor{
				{ID: "files", Type: "complex", MinOccurs: 1, MaxOccurs: -1,
					Formats: []store.Format{{MediaType: "application/octet-stream", Default: true}}},
				{ID: "index", Type: "literal", MinOccurs: 1, MaxOccurs: 1},
			},
			Outputs: []store.IODescriptor{
				{ID: "output", Type: "complex", MinOccurs: 1, MaxOccurs: 1,
					Formats: []store.Format{{MediaType: "application/octet-stream", Default: true}}},
			},
		},
	}
}

// RegisterBuiltins upserts each spec as a Process of type
// ProcessTypeBuiltin. A spec whose ID is already deployed at the same
// Version is left untouched; a version bump creates a new revision under
// the same id, exactly as Patch/Put would.
func RegisterBuiltins(ctx context.Context, s store.ProcessStore, specs []BuiltinSpec) error {
	for _, spec := range specs {
		existing, err := s.GetProcess(ctx, spec.ID, "")
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if existing != nil && existing.Version == spec.Version {
			continue
		}

		proc := &store.Process{
			ID:                 spec.ID,
			Version:            spec.Version,
			RevisionID:         uuid.NewString(),
			Title:              spec.Title,
			Description:        spec.Description,
			Inputs:             spec.Inputs,
			Outputs:            spec.Outputs,
			JobControlOptions:  defaultJobControlOptions(nil),
			OutputTransmission: defaultOutputTransmission(nil),
			Visibility:         store.VisibilityPublic,
			Type:               store.ProcessTypeBuiltin,
		}
		if err := s.CreateProcess(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}
