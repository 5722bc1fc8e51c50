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

// Package vault implements the one-shot encrypted upload store of
// SPEC_FULL.md §4.2. A Put encrypts the given bytes at rest with an
// envelope key derived from a process-level secret and a per-record
// salt, and returns an opaque id and access token. A Get streams the
// plaintext back exactly once: the token must match the record's HMAC
// and the record must not already be consumed, and a successful Get
// atomically marks the record consumed.
package vault

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/tombee/weaver/internal/metrics"
	"github.com/tombee/weaver/internal/store"
	"github.com/tombee/weaver/pkg/weavererr"
)

// Config configures a Vault.
type Config struct {
	// Secret is the process-level master secret envelope keys are
	// derived from. It never touches disk.
	Secret []byte
	// BlobDir is where ciphertext blobs are written.
	BlobDir string
	// DefaultTTL is how long an unconsumed record stays retrievable.
	DefaultTTL time.Duration
	Store      store.VaultStore
}

// Vault implements SPEC_FULL.md §4.2.
type Vault struct {
	secret     []byte
	blobDir    string
	defaultTTL time.Duration
	store      store.VaultStore
}

// New constructs a Vault. secret must be non-empty; it is the only key
// material this process holds for deriving per-record envelope keys.
func New(cfg Config) (*Vault, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("vault: secret must not be empty")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if err := os.MkdirAll(cfg.BlobDir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: creating blob dir: %w", err)
	}
	return &Vault{secret: cfg.Secret, blobDir: cfg.BlobDir, defaultTTL: cfg.DefaultTTL, store: cfg.Store}, nil
}

// Put encrypts data at rest and registers a new one-shot record,
// returning its id and access token. The token is never persisted; only
// its HMAC is.
func (v *Vault) Put(ctx context.Context, data []byte, mediaType string) (id, token string, err error) {
	id = newID()
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", "", fmt.Errorf("vault: generating salt: %w", err)
	}
	token, err = newToken()
	if err != nil {
		return "", "", err
	}

	key, err := deriveKey(v.secret, salt)
	if err != nil {
		return "", "", err
	}
	ciphertext, err := encrypt(key, data)
	if err != nil {
		return "", "", fmt.Errorf("vault: encrypting: %w", err)
	}

	path := filepath.Join(v.blobDir, id+".bin")
	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return "", "", fmt.Errorf("vault: writing blob: %w", err)
	}

	now := time.Now()
	rec := &store.VaultRecord{
		ID:         id,
		CipherPath: path,
		MediaType:  mediaType,
		Salt:       salt,
		TokenHash:  tokenHash(v.secret, id, token),
		CreatedAt:  now,
		ExpiresAt:  now.Add(v.defaultTTL),
	}
	if err := v.store.CreateVaultRecord(ctx, rec); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("vault: persisting record: %w", err)
	}
	metrics.VaultRecords.WithLabelValues("false").Inc()
	return id, token, nil
}

// Get streams the plaintext for id iff token matches and the record has
// not already been consumed, then atomically marks it consumed. The
// returned media type is the one recorded at Put time.
func (v *Vault) Get(ctx context.Context, id, token string) (io.ReadCloser, string, error) {
	rec, err := v.store.GetVaultRecord(ctx, id)
	if err != nil {
		return nil, "", weavererr.NewVaultError(weavererr.CodeVaultGone, id, "vault record not found")
	}
	if rec.Consumed || time.Now().After(rec.ExpiresAt) {
		return nil, "", weavererr.NewVaultError(weavererr.CodeVaultGone, id, "vault record already consumed or expired")
	}
	if !hmac.Equal(tokenHash(v.secret, id, token), rec.TokenHash) {
		return nil, "", weavererr.NewVaultError(weavererr.CodeVaultDenied, id, "access token does not match")
	}

	key, err := deriveKey(v.secret, rec.Salt)
	if err != nil {
		return nil, "", err
	}
	ciphertext, err := os.ReadFile(rec.CipherPath)
	if err != nil {
		return nil, "", weavererr.NewVaultError(weavererr.CodeVaultGone, id, "vault blob missing")
	}
	plaintext, err := decrypt(key, ciphertext)
	if err != nil {
		return nil, "", fmt.Errorf("vault: decrypting %q: %w", id, err)
	}

	if err := v.store.MarkConsumed(ctx, id); err != nil {
		return nil, "", fmt.Errorf("vault: marking %q consumed: %w", id, err)
	}
	metrics.VaultRecords.WithLabelValues("true").Inc()

	return io.NopCloser(bytes.NewReader(plaintext)), rec.MediaType, nil
}

// Sweep deletes expired, unconsumed records and their ciphertext blobs.
// Intended to run on a periodic timer alongside the job queue's own
// housekeeping.
func (v *Vault) Sweep(ctx context.Context) (int, error) {
	expired, err := v.store.ListExpiredVaultRecords(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range expired {
		os.Remove(rec.CipherPath)
		if err := v.store.DeleteVaultRecord(ctx, rec.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// deriveKey expands the process-level secret with a per-record salt via
// HKDF-SHA256 into a 32-byte AES-256 key. The salt is HKDF's salt
// parameter (info is the fixed label "weaver-vault-record"), so two
// records never share an envelope key even though they share the same
// master secret.
func deriveKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, salt, []byte("weaver-vault-record"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}
	return key, nil
}

// encrypt/decrypt use an AES-256-GCM envelope: a random nonce is
// prepended to the sealed ciphertext.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}

// tokenHash computes the HMAC-SHA256 of id+token under the process
// secret; this is what gets persisted instead of the raw token, and
// what Get compares against in constant time.
func tokenHash(secret []byte, id, token string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

func newID() string {
	b := make([]byte, 16)
	_, _ = io.ReadFull(rand.Reader, b)
	return hex.EncodeToString(b)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("vault: generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
