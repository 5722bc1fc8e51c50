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

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestContext_Apply(t *testing.T) {
	c := &Context{
		BearerToken: "tok123",
		Cookies:     []*http.Cookie{{Name: "session", Value: "abc"}},
		Headers:     map[string]string{"X-Custom": "v"},
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.test/file", nil)
	c.Apply(req)

	if got := req.Header.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("got Authorization %q, want Bearer tok123", got)
	}
	if got := req.Header.Get("X-Custom"); got != "v" {
		t.Errorf("got X-Custom %q, want v", got)
	}
	cookie, err := req.Cookie("session")
	if err != nil || cookie.Value != "abc" {
		t.Errorf("cookie not forwarded: %v, %v", cookie, err)
	}
}

func TestContext_Apply_NilIsNoop(t *testing.T) {
	var c *Context
	req := httptest.NewRequest(http.MethodGet, "http://example.test/file", nil)
	c.Apply(req)
	if req.Header.Get("Authorization") != "" {
		t.Error("nil Context should not set any header")
	}
}

func TestContext_DockerAuth(t *testing.T) {
	c := &Context{Docker: []DockerCredential{{Registry: "Registry.Example.Com", Username: "u", Password: "p"}}}

	cred, ok := c.DockerAuth("registry.example.com")
	if !ok || cred.Username != "u" {
		t.Errorf("got %+v, %v, want case-insensitive match", cred, ok)
	}
	if _, ok := c.DockerAuth("other.example.com"); ok {
		t.Error("DockerAuth() should not match an unrelated registry")
	}
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.test/jobs", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.AddCookie(&http.Cookie{Name: "session", Value: "xyz"})

	c := FromRequest(req)
	if c.BearerToken != "abc" {
		t.Errorf("got BearerToken %q, want abc", c.BearerToken)
	}
	if len(c.Cookies) != 1 || c.Cookies[0].Value != "xyz" {
		t.Errorf("got cookies %+v", c.Cookies)
	}
}

func TestContextRoundTrip(t *testing.T) {
	c := &Context{BearerToken: "tok"}
	ctx := WithContext(context.Background(), c)
	if got := FromContext(ctx); got != c {
		t.Error("FromContext() should return the attached Context")
	}
	if got := FromContext(context.Background()); got != nil {
		t.Error("FromContext() on a bare context should return nil")
	}
}
