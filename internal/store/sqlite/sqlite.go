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

// Package sqlite is the durable store.Backend for single-node and small
// cluster weaver deployments. Process/Provider/Job/Vault records are
// serialized as JSON columns over a small relational skeleton, matching
// the way the teacher daemon persists structured records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/weaver/internal/store"
)

// Backend implements store.Backend over a single SQLite database file.
type Backend struct {
	db *sql.DB
}

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file location, e.g. ~/.config/weaver/weaver.db.
	Path string
}

// Open creates or opens the database at cfg.Path and runs migrations.
func Open(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	connStr := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return b, nil
}

var _ store.Backend = (*Backend)(nil)

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS processes (
			id TEXT NOT NULL,
			version TEXT NOT NULL,
			visibility TEXT NOT NULL,
			keywords_json TEXT,
			body_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processes_id ON processes(id)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			body_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			process_id TEXT NOT NULL,
			provider_id TEXT,
			status TEXT NOT NULL,
			tags_json TEXT,
			body_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_process ON jobs(process_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS vault_records (
			id TEXT PRIMARY KEY,
			body_json TEXT NOT NULL,
			consumed INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Process ---

func (b *Backend) CreateProcess(ctx context.Context, p *store.Process) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	keywords, err := json.Marshal(p.Keywords)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO processes (id, version, visibility, keywords_json, body_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Version, string(p.Visibility), string(keywords), string(body),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if isUniqueConstraintErr(err) {
		return store.ErrExists
	}
	return err
}

func (b *Backend) GetProcess(ctx context.Context, id, version string) (*store.Process, error) {
	var row *sql.Row
	if version != "" {
		row = b.db.QueryRowContext(ctx,
			`SELECT body_json FROM processes WHERE id = ? AND version = ?`, id, version)
	} else {
		row = b.db.QueryRowContext(ctx,
			`SELECT body_json FROM processes WHERE id = ? ORDER BY updated_at DESC LIMIT 1`, id)
	}

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var p store.Process
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *Backend) UpdateProcess(ctx context.Context, p *store.Process) error {
	p.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE processes SET visibility = ?, body_json = ?, updated_at = ? WHERE id = ? AND version = ?`,
		string(p.Visibility), string(body), p.UpdatedAt.Format(time.RFC3339Nano), p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) DeleteProcess(ctx context.Context, id, version string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) ListProcesses(ctx context.Context, filter store.ProcessFilter) ([]*store.Process, error) {
	q := `SELECT p.body_json FROM processes p
	      INNER JOIN (SELECT id, MAX(updated_at) AS max_updated FROM processes GROUP BY id) latest
	      ON p.id = latest.id AND p.updated_at = latest.max_updated
	      WHERE 1=1`
	var args []any
	if filter.Visibility != "" {
		q += ` AND p.visibility = ?`
		args = append(args, string(filter.Visibility))
	}
	q += ` ORDER BY p.id`
	if filter.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Process
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p store.Process
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, err
		}
		if !matchesKeywords(p.Keywords, filter.Keywords) {
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func matchesKeywords(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	haveSet := make(map[string]bool, len(have))
	for _, k := range have {
		haveSet[k] = true
	}
	for _, w := range want {
		if !haveSet[w] {
			return false
		}
	}
	return true
}

func (b *Backend) ListRevisions(ctx context.Context, id string) ([]*store.Process, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body_json FROM processes WHERE id = ? ORDER BY updated_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Process
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p store.Process
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

// --- Provider ---

func (b *Backend) CreateProvider(ctx context.Context, p *store.Provider) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO providers (id, body_json, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		p.ID, string(body), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if isUniqueConstraintErr(err) {
		return store.ErrExists
	}
	return err
}

func (b *Backend) GetProvider(ctx context.Context, id string) (*store.Provider, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body_json FROM providers WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p store.Provider
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *Backend) ListProviders(ctx context.Context) ([]*store.Provider, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT body_json FROM providers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Provider
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p store.Provider
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (b *Backend) DeleteProvider(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Job ---

func (b *Backend) CreateJob(ctx context.Context, j *store.Job) error {
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	body, err := json.Marshal(j)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(j.Tags)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO jobs (id, process_id, provider_id, status, tags_json, body_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ProcessID, j.ProviderID, string(j.Status), string(tags), string(body),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if isUniqueConstraintErr(err) {
		return store.ErrExists
	}
	return err
}

func (b *Backend) GetJob(ctx context.Context, id string) (*store.Job, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body_json FROM jobs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j store.Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJob performs the compare-and-set on updated_at required by
// SPEC_FULL.md §5, expressed as a conditional UPDATE rather than a
// round-trip read-then-write.
func (b *Backend) UpdateJob(ctx context.Context, j *store.Job, expectedUpdatedAt int64) error {
	expected := time.Unix(0, expectedUpdatedAt).UTC().Format(time.RFC3339Nano)
	j.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(j)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(j.Tags)
	if err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, tags_json = ?, body_json = ?, updated_at = ?
		 WHERE id = ? AND updated_at = ?`,
		string(j.Status), string(tags), string(body), j.UpdatedAt.Format(time.RFC3339Nano), j.ID, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := b.GetJob(ctx, j.ID); errors.Is(getErr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (b *Backend) DeleteJob(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	q := `SELECT body_json FROM jobs WHERE 1=1`
	var args []any
	if filter.ProcessID != "" {
		q += ` AND process_id = ?`
		args = append(args, filter.ProcessID)
	}
	if filter.ProviderID != "" {
		q += ` AND provider_id = ?`
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	q += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var j store.Job
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			return nil, err
		}
		if !matchesKeywords(j.Tags, filter.Tags) {
			continue
		}
		if filter.MinDuration > 0 || filter.MaxDuration > 0 {
			d := jobDuration(&j)
			if filter.MinDuration > 0 && d < filter.MinDuration {
				continue
			}
			if filter.MaxDuration > 0 && d > filter.MaxDuration {
				continue
			}
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func jobDuration(j *store.Job) time.Duration {
	if j.FinishedAt.IsZero() || j.StartedAt.IsZero() {
		return time.Since(j.CreatedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// --- Vault ---

func (b *Backend) CreateVaultRecord(ctx context.Context, r *store.VaultRecord) error {
	r.CreatedAt = time.Now().UTC()
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var expiresAt any
	if !r.ExpiresAt.IsZero() {
		expiresAt = r.ExpiresAt.Format(time.RFC3339Nano)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO vault_records (id, body_json, consumed, expires_at, created_at) VALUES (?, ?, 0, ?, ?)`,
		r.ID, string(body), expiresAt, r.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueConstraintErr(err) {
		return store.ErrExists
	}
	return err
}

func (b *Backend) GetVaultRecord(ctx context.Context, id string) (*store.VaultRecord, error) {
	var body string
	var consumed int
	err := b.db.QueryRowContext(ctx,
		`SELECT body_json, consumed FROM vault_records WHERE id = ?`, id).Scan(&body, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r store.VaultRecord
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, err
	}
	r.Consumed = consumed != 0
	return &r, nil
}

func (b *Backend) MarkConsumed(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE vault_records SET consumed = 1 WHERE id = ? AND consumed = 0`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := b.GetVaultRecord(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (b *Backend) DeleteVaultRecord(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM vault_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) ListExpiredVaultRecords(ctx context.Context) ([]*store.VaultRecord, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := b.db.QueryContext(ctx,
		`SELECT body_json FROM vault_records WHERE expires_at IS NOT NULL AND expires_at < ? AND consumed = 0`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.VaultRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r store.VaultRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
