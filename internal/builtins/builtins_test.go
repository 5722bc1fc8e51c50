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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/weaver/internal/fetch"
)

func newTestRegistry(t *testing.T, allowedRoot string) *Registry {
	t.Helper()
	f := fetch.New(fetch.Config{AllowedRoots: []string{allowedRoot}})
	return New(Config{Fetcher: f})
}

func TestRegistry_LookupKnownAndUnknown(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	for _, id := range []string{"echo", "jsonarray2netcdf", "metalink2netcdf", "file2string_array", "file_index_selector"} {
		if _, ok := r.Lookup(id); !ok {
			t.Errorf("Lookup(%q) not found", id)
		}
	}
	if _, ok := r.Lookup("does-not-exist"); ok {
		t.Error("Lookup() should not find an unregistered id")
	}
}

func TestEcho(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	outs, err := r.echo(context.Background(), dir, map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("echo() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("output = %q, want %q", data, "hello")
	}
}

func TestEcho_MissingMessage(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	if _, err := r.echo(context.Background(), dir, map[string]any{}); err == nil {
		t.Fatal("echo() should fail without a message input")
	}
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestJSONArray2NetCDF_ConcatenatesReferencedFiles(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	a := writeFile(t, dir, "a.nc", []byte("AAAA"))
	b := writeFile(t, dir, "b.nc", []byte("BBBB"))
	manifest, err := json.Marshal([]string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	manifestPath := writeFile(t, dir, "manifest.json", manifest)

	outs, err := r.jsonarray2netcdf(context.Background(), dir, map[string]any{"input": manifestPath})
	if err != nil {
		t.Fatalf("jsonarray2netcdf() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "AAAABBBB" {
		t.Errorf("output = %q, want %q", data, "AAAABBBB")
	}
}

func TestJSONArray2NetCDF_RejectsNonNetCDFExtension(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	evil := writeFile(t, dir, "evil.txt", []byte("not netcdf"))
	manifest, _ := json.Marshal([]string{evil})
	manifestPath := writeFile(t, dir, "manifest.json", manifest)

	if _, err := r.jsonarray2netcdf(context.Background(), dir, map[string]any{"input": manifestPath}); err == nil {
		t.Fatal("jsonarray2netcdf() should reject a non-NetCDF reference")
	}
}

func TestJSONArray2NetCDF_RejectsPathOutsideAllowedRoots(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	r := newTestRegistry(t, dir)

	stray := writeFile(t, outside, "stray.nc", []byte("STRAY"))
	manifest, _ := json.Marshal([]string{stray})
	manifestPath := writeFile(t, dir, "manifest.json", manifest)

	if _, err := r.jsonarray2netcdf(context.Background(), dir, map[string]any{"input": manifestPath}); err == nil {
		t.Fatal("jsonarray2netcdf() should reject a reference outside the allowed roots")
	}
}

const metalinkV4 = `<?xml version="1.0" encoding="UTF-8"?>
<metalink xmlns="urn:ietf:params:xml:ns:metalink">
  <file name="a.nc">
    <url priority="1">%s</url>
  </file>
</metalink>`

const metalinkV3 = `<?xml version="1.0" encoding="UTF-8"?>
<metalink version="3.0" xmlns="http://www.metalinker.org/">
  <files>
    <file name="a.nc">
      <resources>
        <url type="http">%s</url>
      </resources>
    </file>
  </files>
</metalink>`

func TestMetalink2NetCDF_ParsesV4Manifest(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	target := writeFile(t, dir, "a.nc", []byte("NCDF"))
	manifestPath := writeFile(t, dir, "manifest.metalink", []byte(sprintfManifest(metalinkV4, target)))

	outs, err := r.metalink2netcdf(context.Background(), dir, map[string]any{"input": manifestPath})
	if err != nil {
		t.Fatalf("metalink2netcdf() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "NCDF" {
		t.Errorf("output = %q, want %q", data, "NCDF")
	}
}

func TestMetalink2NetCDF_ParsesV3Manifest(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	target := writeFile(t, dir, "a.nc", []byte("NCDF3"))
	manifestPath := writeFile(t, dir, "manifest.metalink", []byte(sprintfManifest(metalinkV3, target)))

	outs, err := r.metalink2netcdf(context.Background(), dir, map[string]any{"input": manifestPath})
	if err != nil {
		t.Fatalf("metalink2netcdf() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "NCDF3" {
		t.Errorf("output = %q, want %q", data, "NCDF3")
	}
}

func sprintfManifest(tmpl, target string) string {
	return fmt.Sprintf(tmpl, target)
}

func TestFile2StringArray_SkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	input := writeFile(t, dir, "lines.txt", []byte("one\n\ntwo\nthree\n"))
	outs, err := r.file2stringArray(context.Background(), dir, map[string]any{"input": input})
	if err != nil {
		t.Fatalf("file2stringArray() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestFileIndexSelector_SelectsByIndex(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	a := writeFile(t, dir, "a.bin", []byte("A"))
	b := writeFile(t, dir, "b.bin", []byte("B"))

	outs, err := r.fileIndexSelector(context.Background(), dir, map[string]any{
		"files": []any{a, b},
		"index": float64(1),
	})
	if err != nil {
		t.Fatalf("fileIndexSelector() error = %v", err)
	}
	data, err := os.ReadFile(outs["output"].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "B" {
		t.Errorf("output = %q, want %q", data, "B")
	}
}

func TestFileIndexSelector_RejectsOutOfRangeIndex(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	a := writeFile(t, dir, "a.bin", []byte("A"))
	if _, err := r.fileIndexSelector(context.Background(), dir, map[string]any{
		"files": []any{a},
		"index": float64(5),
	}); err == nil {
		t.Fatal("fileIndexSelector() should reject an out-of-range index")
	}
}
