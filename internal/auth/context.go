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

// Package auth carries the per-job credential bag (cookies, bearer
// tokens, Docker pull credentials) forwarded to the Fetcher and to every
// sub-request the Step Dispatcher makes for that job (SPEC_FULL.md
// §4.12 "Authorization forwarding").
package auth

import (
	"context"
	"net/http"
	"strings"
)

// DockerCredential is one registry login forwarded to a local CWL
// runner invocation.
type DockerCredential struct {
	Registry string
	Username string
	Password string
}

// Context is the credential bag attached to a Job at submission time and
// threaded through every downstream fetch and remote step request.
type Context struct {
	BearerToken string
	Cookies     []*http.Cookie
	Docker      []DockerCredential
	Headers     map[string]string
}

// Apply sets req's Authorization/Cookie/extra headers from c. A nil or
// empty Context leaves req untouched.
func (c *Context) Apply(req *http.Request) {
	if c == nil {
		return
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
}

// DockerAuth returns the registry login for host, if the bag carries
// one. Docker registry hosts are matched case-insensitively.
func (c *Context) DockerAuth(host string) (DockerCredential, bool) {
	if c == nil {
		return DockerCredential{}, false
	}
	for _, cred := range c.Docker {
		if strings.EqualFold(cred.Registry, host) {
			return cred, true
		}
	}
	return DockerCredential{}, false
}

// FromRequest extracts a forwardable Context from an inbound API
// request: its Bearer token (if any) and cookies, for propagation to
// the job this request submits.
func FromRequest(r *http.Request) *Context {
	c := &Context{Cookies: r.Cookies()}
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			c.BearerToken = strings.TrimSpace(auth[len(prefix):])
		}
	}
	return c
}

type contextKey struct{}

// WithContext attaches c to ctx for retrieval deeper in a call chain
// (the Fetcher, the Step Dispatcher's remote runner clients) without
// threading an explicit parameter through every signature.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext retrieves the Context attached by WithContext, or nil if
// none was attached.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(contextKey{}).(*Context)
	return c
}
