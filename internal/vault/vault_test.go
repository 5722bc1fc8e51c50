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

package vault

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tombee/weaver/internal/store/memory"
	"github.com/tombee/weaver/pkg/weavererr"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Config{
		Secret:     []byte("test-process-secret-not-for-production"),
		BlobDir:    t.TempDir(),
		DefaultTTL: time.Hour,
		Store:      memory.New(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestVault_PutGet_RoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	id, token, err := v.Put(ctx, []byte(`{"a":1}`), "application/json")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rc, mediaType, err := v.Get(ctx, id, token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer rc.Close()
	if mediaType != "application/json" {
		t.Errorf("got media type %q, want application/json", mediaType)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("got %q, want original plaintext", data)
	}
}

func TestVault_Get_SecondRetrievalIsGone(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	id, token, err := v.Put(ctx, []byte("once"), "text/plain")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if rc, _, err := v.Get(ctx, id, token); err != nil {
		t.Fatalf("first Get() error = %v", err)
	} else {
		rc.Close()
	}

	_, _, err = v.Get(ctx, id, token)
	if err == nil {
		t.Fatal("second Get() should fail")
	}
	var coded weavererr.Coded
	if ve, ok := err.(*weavererr.VaultError); ok {
		coded = ve
	}
	if coded == nil || coded.Code() != weavererr.CodeVaultGone {
		t.Errorf("got %v, want VAULT_GONE", err)
	}
}

func TestVault_Get_WrongTokenIsDenied(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	id, _, err := v.Put(ctx, []byte("secret"), "text/plain")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, _, err = v.Get(ctx, id, "wrong-token")
	if err == nil {
		t.Fatal("Get() with wrong token should fail")
	}
	ve, ok := err.(*weavererr.VaultError)
	if !ok || ve.Code() != weavererr.CodeVaultDenied {
		t.Errorf("got %v, want VAULT_DENIED", err)
	}
}

func TestVault_Get_UnknownIDIsGone(t *testing.T) {
	v := newTestVault(t)
	_, _, err := v.Get(context.Background(), "does-not-exist", "anytoken")
	if err == nil {
		t.Fatal("Get() for unknown id should fail")
	}
	ve, ok := err.(*weavererr.VaultError)
	if !ok || ve.Code() != weavererr.CodeVaultGone {
		t.Errorf("got %v, want VAULT_GONE", err)
	}
}
