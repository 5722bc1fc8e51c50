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

package process

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/weaver/internal/store"
)

// ValueGuard validates a literal value against a merged I/O descriptor's
// AllowedValues when the native CWL type system cannot express the
// constraint (SPEC_FULL.md §4.4's "JavaScript valueFrom guard" for
// non-string literals); literalDataDomains are not consulted. I/O
// Staging (§4.9) does not call it: staging runs its own allowedValues
// check.
type ValueGuard struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewValueGuard returns a guard with an empty compiled-expression cache.
func NewValueGuard() *ValueGuard {
	return &ValueGuard{cache: make(map[string]*vm.Program)}
}

// Check validates value against d's AllowedValues (if any), compiling and
// caching a small expr-lang membership expression per descriptor ID.
func (g *ValueGuard) Check(d store.IODescriptor, value any) error {
	if len(d.AllowedValues) == 0 {
		return nil
	}

	program, err := g.compile(d.ID, d.AllowedValues)
	if err != nil {
		return fmt.Errorf("process: compiling guard for %q: %w", d.ID, err)
	}

	result, err := expr.Run(program, map[string]any{"value": value, "allowed": d.AllowedValues})
	if err != nil {
		return fmt.Errorf("process: evaluating guard for %q: %w", d.ID, err)
	}
	ok, _ := result.(bool)
	if !ok {
		return fmt.Errorf("process: value %v is not in allowedValues for %q", value, d.ID)
	}
	return nil
}

func (g *ValueGuard) compile(id string, allowed []string) (*vm.Program, error) {
	g.mu.RLock()
	if p, ok := g.cache[id]; ok {
		g.mu.RUnlock()
		return p, nil
	}
	g.mu.RUnlock()

	program, err := expr.Compile(`value in allowed`, expr.Env(map[string]any{"value": "", "allowed": []string{}}))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[id] = program
	g.mu.Unlock()
	return program, nil
}

// InjectJavascriptGuard builds the CWL `valueFrom` JS snippet that a
// non-string literal's allowedValues constraint compiles down to, for a
// CWL engine to evaluate under InlineJavascriptRequirement. It returns
// the source only; no code in this module embeds it in a CWL document.
// ValueGuard above applies the same membership check in Go.
func InjectJavascriptGuard(allowedValues []string) string {
	js := "(function(){var allowed=["
	for i, v := range allowedValues {
		if i > 0 {
			js += ","
		}
		js += fmt.Sprintf("%q", v)
	}
	js += "]; if(allowed.indexOf(String(self))===-1){throw 'value not in allowedValues';} return self;})()"
	return js
}
