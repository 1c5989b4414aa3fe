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

// Package config provides nowpair.ConfigStore implementations: an in-memory
// map, a JSON file in the radio firmware's {"section": {"key": "value"}}
// shape, and a SQLite table.
//
// All stores are safe for concurrent use, since the boss reads the security
// settings from the transport's receive goroutine.
package config

import (
	"maps"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

// Sections maps section name to key to value.
type Sections map[string]map[string]string

// Clone returns a deep copy.
func (s Sections) Clone() Sections {
	out := make(Sections, len(s))
	for section, kv := range s {
		cp := make(map[string]string, len(kv))
		maps.Copy(cp, kv)
		out[section] = cp
	}
	return out
}

// Defaults returns the settings a fresh node starts with.
func Defaults() Sections {
	return Sections{
		nowpair.SectionESPNow: {
			nowpair.KeyBeaconInterval: "10000",
			nowpair.KeyChannel:        "6",
			nowpair.KeyRemoteMAC:      "",
		},
		nowpair.SectionSecurity: {
			nowpair.KeyEncrypt: "false",
			nowpair.KeySecret:  "",
		},
	}
}

// Memory is a ConfigStore that never touches disk. Persist only counts.
type Memory struct {
	persistErr error
	values     Sections
	mu         syncutil.RWMutex
	persists   int
}

// NewMemory returns a store holding a copy of initial, which may be nil.
func NewMemory(initial Sections) *Memory {
	if initial == nil {
		initial = Sections{}
	}
	return &Memory{values: initial.Clone()}
}

// GetValue implements nowpair.ConfigStore.
func (m *Memory) GetValue(section, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[section][key]
}

// SetValue implements nowpair.ConfigStore.
func (m *Memory) SetValue(section, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.values[section]
	if !ok {
		kv = make(map[string]string)
		m.values[section] = kv
	}
	kv[key] = value
}

// Persist implements nowpair.ConfigStore.
func (m *Memory) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists++
	return m.persistErr
}

// PersistCount returns how many times Persist was called.
func (m *Memory) PersistCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persists
}

// SetPersistError makes Persist return err.
func (m *Memory) SetPersistError(err error) {
	m.mu.Lock()
	m.persistErr = err
	m.mu.Unlock()
}

// Snapshot returns a deep copy of every setting.
func (m *Memory) Snapshot() Sections {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values.Clone()
}

var _ nowpair.ConfigStore = (*Memory)(nil)
