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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ZaparooProject/go-nowpair"
)

// File is a ConfigStore backed by a JSON document. Changes stay in memory
// until Persist rewrites the whole file.
type File struct {
	*Memory
	path string
}

// OpenFile loads path. A missing file starts from Defaults and is created
// on the first Persist.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if errors.Is(err, fs.ErrNotExist) {
		return &File{Memory: NewMemory(Defaults()), path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	sections, err := decodeSections(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &File{Memory: NewMemory(sections), path: path}, nil
}

// decodeSections accepts string, number and bool leaves, which hand-edited
// firmware configs contain, and stores them as strings.
func decodeSections(data []byte) (Sections, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}

	sections := make(Sections, len(raw))
	for section, kv := range raw {
		out := make(map[string]string, len(kv))
		for key, v := range kv {
			switch val := v.(type) {
			case string:
				out[key] = val
			case float64:
				out[key] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				out[key] = strconv.FormatBool(val)
			case nil:
				out[key] = ""
			default:
				return nil, fmt.Errorf("%w: %s/%s has type %T", nowpair.ErrInvalidParameter, section, key, v)
			}
		}
		sections[section] = out
	}
	return sections, nil
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

// Persist implements nowpair.ConfigStore. The file is replaced atomically.
func (f *File) Persist() error {
	if err := f.Memory.Persist(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".nowpair-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config %s: %w", f.path, err)
	}
	nowpair.Debugf("config: saved %s (%d bytes)", f.path, len(data)+1)
	return nil
}

var _ nowpair.ConfigStore = (*File)(nil)
