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

// Package builtins implements the fixed set of host-language, Docker-free
// step functions (SPEC_FULL.md §4.12): echo, jsonarray2netcdf,
// metalink2netcdf, file2string_array and file_index_selector. Each has a
// fixed declared I/O description (internal/deploy.DefaultBuiltinSpecs)
// and a pure run(inputs) -> outputs function satisfying
// internal/dispatch.BuiltinFunc.
//
// jsonarray2netcdf and metalink2netcdf resolve every referenced URL
// through the same Fetcher used for job inputs, so they inherit its
// allowlist and path-traversal checks rather than reimplementing them.
package builtins

import (
	"fmt"

	"github.com/tombee/weaver/internal/dispatch"
	"github.com/tombee/weaver/internal/fetch"
)

// Registry satisfies dispatch.BuiltinRegistry over the fixed built-in
// set.
type Registry struct {
	fetcher *fetch.Fetcher
	funcs   map[string]dispatch.BuiltinFunc
}

// Config wires a Registry's collaborators.
type Config struct {
	// Fetcher resolves references found inside jsonarray2netcdf and
	// metalink2netcdf inputs. It must be configured with the same
	// allowed roots as the rest of the install.
	Fetcher *fetch.Fetcher
}

// New returns a Registry with all five built-ins registered.
func New(cfg Config) *Registry {
	r := &Registry{fetcher: cfg.Fetcher}
	r.funcs = map[string]dispatch.BuiltinFunc{
		"echo":                r.echo,
		"jsonarray2netcdf":    r.jsonarray2netcdf,
		"metalink2netcdf":     r.metalink2netcdf,
		"file2string_array":   r.file2stringArray,
		"file_index_selector": r.fileIndexSelector,
	}
	return r
}

// Lookup implements dispatch.BuiltinRegistry.
func (r *Registry) Lookup(processID string) (dispatch.BuiltinFunc, bool) {
	fn, ok := r.funcs[processID]
	return fn, ok
}

func requireStringInput(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok {
		return "", fmt.Errorf("builtins: missing required input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("builtins: input %q must be a string, got %T", key, v)
	}
	return s, nil
}

func requireFileInputs(inputs map[string]any, key string) ([]string, error) {
	v, ok := inputs[key]
	if !ok {
		return nil, fmt.Errorf("builtins: missing required input %q", key)
	}
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("builtins: input %q must be an array of strings, got element of type %T", key, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("builtins: input %q must be an array of strings, got %T", key, v)
	}
}
