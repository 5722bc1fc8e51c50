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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tombee/weaver/internal/fetch"
)

// resolveNetCDFRef fetches ref through the shared Fetcher, which applies
// the install's allowlist and path-traversal checks, and rejects any
// reference that does not end in a NetCDF extension before the fetch is
// even attempted. jsonarray2netcdf and metalink2netcdf both funnel every
// extracted URL through this single choke point.
func (r *Registry) resolveNetCDFRef(ctx context.Context, workDir, ref string) (string, error) {
	if r.fetcher == nil {
		return "", fmt.Errorf("builtins: no fetcher configured")
	}
	if !hasNetCDFExtension(ref) {
		return "", fmt.Errorf("builtins: %q does not have a NetCDF extension", ref)
	}
	res, err := r.fetcher.Fetch(ctx, ref, fetch.Options{DestDir: workDir})
	if err != nil {
		return "", fmt.Errorf("builtins: resolving %q: %w", ref, err)
	}
	if !hasNetCDFExtension(res.LocalPath) {
		return "", fmt.Errorf("builtins: %q resolved to a non-NetCDF file %q", ref, res.LocalPath)
	}
	return res.LocalPath, nil
}

func hasNetCDFExtension(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nc") || strings.HasSuffix(lower, ".nc4") || strings.HasSuffix(lower, ".cdf")
}

// concatNetCDF writes a combined output file from a list of already
// staged, validated NetCDF source files. It does not interpret the
// NetCDF binary format; it stitches the source bytes into one artifact
// the same way the Step Dispatcher treats any other opaque file output.
func concatNetCDF(outPath string, sources []string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, src := range sources {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
