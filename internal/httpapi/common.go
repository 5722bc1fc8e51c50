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

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

// waitContext derives a bounded context for a Prefer: wait=N request,
// never exceeding the original request's own cancellation.
func waitContext(r *http.Request, wait time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), wait)
}

const maxRequestBodyBytes = 30 * 1024 * 1024 // spec.md §6 default wps_max_request_size

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err as the RFC-7807-ish problem body spec.md §6
// specifies, deriving the status code from the error's taxonomy Code.
func writeError(w http.ResponseWriter, err error) {
	pd := weavererr.ToProblemDetails(err)
	writeJSON(w, pd.Status, pd)
}

func writeErrorStatus(w http.ResponseWriter, status int, code, title string) {
	writeJSON(w, status, weavererr.ProblemDetails{Code: code, Status: status, Title: title})
}

// decodeJSONBody reads and unmarshals r's body into v, rejecting bodies
// over maxRequestBodyBytes.
func decodeJSONBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "failed to read request body")
	}
	if int64(len(body)) > maxRequestBodyBytes {
		return weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "request body exceeds the configured maximum size")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return weavererr.New(weavererr.CodeSchemaInvalid, "httpapi", "invalid JSON: "+err.Error())
	}
	return nil
}

// splitIDVersion parses an "{id}" or "{id}:{version}" path segment, per
// spec.md §6's process-addressing convention.
func splitIDVersion(pathValue string) (id, version string) {
	if i := strings.LastIndex(pathValue, ":"); i > 0 {
		return pathValue[:i], pathValue[i+1:]
	}
	return pathValue, ""
}

func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseDurationParam(r *http.Request, key string) time.Duration {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func parseCSVParam(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// preferHeader parses the tokens of a Prefer request header (RFC 7240),
// per spec.md §6: "respond-async", "wait=N", "return=minimal|representation".
type preferHeader struct {
	RespondAsync bool
	Wait         time.Duration
	HasWait      bool
	Return       string
}

func parsePrefer(r *http.Request) preferHeader {
	var p preferHeader
	for _, tok := range strings.Split(r.Header.Get("Prefer"), ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "respond-async":
			p.RespondAsync = true
		case strings.HasPrefix(tok, "wait="):
			if n, err := strconv.Atoi(strings.TrimPrefix(tok, "wait=")); err == nil {
				p.Wait = time.Duration(n) * time.Second
				p.HasWait = true
			}
		case strings.HasPrefix(tok, "return="):
			p.Return = strings.TrimPrefix(tok, "return=")
		}
	}
	return p
}

// isPrivate reports whether a Process has private visibility. weaver
// exposes this single visibility hook rather than a policy engine. A
// private Process is left out of the GET /processes and WPS
// GetCapabilities listings, and an execution submitted against it is
// refused with 409; it can still be read by id.
func isPrivate(v store.Visibility) bool {
	return v == store.VisibilityPrivate
}
