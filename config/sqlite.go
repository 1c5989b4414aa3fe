// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package config

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ZaparooProject/go-nowpair"
)

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    section TEXT NOT NULL,
    key     TEXT NOT NULL,
    value   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (section, key)
);
`

const upsertSetting = `
INSERT INTO settings (section, key, value) VALUES (?, ?, ?)
ON CONFLICT (section, key) DO UPDATE SET value = excluded.value
`

// SQLite is a ConfigStore backed by a settings table. Reads are served from
// memory; Persist writes every key changed since the last Persist in one
// transaction.
type SQLite struct {
	*Memory
	db    *sql.DB
	dirty map[[2]string]struct{}
}

// OpenSQLite opens (or creates) the database at path in WAL mode, creates
// the settings table and loads every row. Keys missing from the table read
// as their Defaults until set.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("config: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, ddlSettings); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("config: migrate: %w", err)
	}

	s := &SQLite{db: db, dirty: make(map[[2]string]struct{})}
	loaded, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	values := Defaults()
	for section, kv := range loaded {
		if values[section] == nil {
			values[section] = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			values[section][k] = v
		}
	}
	s.Memory = NewMemory(values)
	return s, nil
}

func (s *SQLite) load(ctx context.Context) (Sections, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT section, key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := Sections{}
	for rows.Next() {
		var section, key, value string
		if err := rows.Scan(&section, &key, &value); err != nil {
			return nil, fmt.Errorf("config: scan: %w", err)
		}
		if out[section] == nil {
			out[section] = make(map[string]string)
		}
		out[section][key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return out, nil
}

// SetValue implements nowpair.ConfigStore.
func (s *SQLite) SetValue(section, key, value string) {
	s.Memory.SetValue(section, key, value)

	s.mu.Lock()
	s.dirty[[2]string{section, key}] = struct{}{}
	s.mu.Unlock()
}

// Persist implements nowpair.ConfigStore.
func (s *SQLite) Persist() error {
	return s.PersistContext(context.Background())
}

// PersistContext writes changed keys within ctx.
func (s *SQLite) PersistContext(ctx context.Context) error {
	if err := s.Memory.Persist(); err != nil {
		return err
	}

	s.mu.Lock()
	pending := make([][2]string, 0, len(s.dirty))
	for k := range s.dirty {
		pending = append(pending, k)
	}
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("config: begin: %w", err)
	}
	for _, k := range pending {
		value := s.GetValue(k[0], k[1])
		if _, err := tx.ExecContext(ctx, upsertSetting, k[0], k[1], value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("config: save %s/%s: %w", k[0], k[1], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("config: commit: %w", err)
	}

	s.mu.Lock()
	for _, k := range pending {
		delete(s.dirty, k)
	}
	s.mu.Unlock()
	nowpair.Debugf("config: saved %d settings", len(pending))
	return nil
}

// Close closes the database. Unpersisted changes are lost.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("config: close: %w", err)
	}
	return nil
}

var _ nowpair.ConfigStore = (*SQLite)(nil)
