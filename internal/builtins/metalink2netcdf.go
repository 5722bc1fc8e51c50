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

package builtins

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/weaver/internal/dispatch"
)

// metalinkFile is one <file> entry, shaped to match Metalink v4's direct
// <url> children and v3's <resources><url> nesting at once. Go's XML
// decoder matches elements by local name unless a namespace is given in
// the tag, so a single set of structs decodes both the v3
// (http://www.metalinker.org/) and v4 (urn:ietf:params:xml:ns:metalink)
// namespaces without caring which one is in force.
type metalinkFile struct {
	Name string   `xml:"name,attr"`
	URLs []string `xml:"url"`
	Resources struct {
		URLs []string `xml:"url"`
	} `xml:"resources"`
}

// metalinkDocument covers both the v4 shape (<metalink><file>...)
// and the v3 shape (<metalink><files><file>...).
type metalinkDocument struct {
	XMLName xml.Name
	Files   []metalinkFile `xml:"file"`
	Wrapped struct {
		Files []metalinkFile `xml:"file"`
	} `xml:"files"`
}

func (d metalinkDocument) allFiles() []metalinkFile {
	if len(d.Files) > 0 {
		return d.Files
	}
	return d.Wrapped.Files
}

func (f metalinkFile) urls() []string {
	if len(f.URLs) > 0 {
		return f.URLs
	}
	return f.Resources.URLs
}

// metalink2netcdf parses a Metalink v3/v4 manifest from the "input" file
// and concatenates every referenced file into a single "output" NetCDF
// file. Every extracted URL is resolved through resolveNetCDFRef, which
// requires a NetCDF extension and applies the Fetcher's allowlist
// (SPEC_FULL.md §4.12).
func (r *Registry) metalink2netcdf(ctx context.Context, workDir string, inputs map[string]any) (map[string]dispatch.StepOutput, error) {
	inputPath, err := requireStringInput(inputs, "input")
	if err != nil {
		return nil, err
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("builtins: opening metalink2netcdf input: %w", err)
	}
	defer f.Close()

	var doc metalinkDocument
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("builtins: parsing metalink manifest: %w", err)
	}

	files := doc.allFiles()
	if len(files) == 0 {
		return nil, fmt.Errorf("builtins: metalink manifest has no file entries")
	}

	var sources []string
	for _, file := range files {
		urls := file.urls()
		if len(urls) == 0 {
			return nil, fmt.Errorf("builtins: metalink file entry %q has no url", file.Name)
		}
		local, err := r.resolveNetCDFRef(ctx, workDir, urls[0])
		if err != nil {
			return nil, err
		}
		sources = append(sources, local)
	}

	outPath := filepath.Join(workDir, "output.nc")
	if err := concatNetCDF(outPath, sources); err != nil {
		return nil, err
	}
	return map[string]dispatch.StepOutput{
		"output": {Path: outPath, MediaType: "application/x-netcdf"},
	}, nil
}
