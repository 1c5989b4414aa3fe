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

package nowpair

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	sessionLogFile *os.File
	sessionLogPath string
)

// OpenSessionLog creates a timestamped nowpair_*.log in dir and routes all
// debug output to it until CloseSessionLog. It returns the file path.
func OpenSessionLog(dir string) (string, error) {
	if err := CloseSessionLog(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("nowpair_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path) //nolint:gosec // name is generated, dir is operator supplied
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionLogFile = f
	sessionLogPath = path
	SetDebugOutput(f)
	return path, nil
}

// CloseSessionLog writes a footer and closes the file opened by
// OpenSessionLog. It does nothing when no log is open.
func CloseSessionLog() error {
	if sessionLogFile == nil {
		return nil
	}
	SetDebugOutput(nil)

	_, _ = fmt.Fprintf(sessionLogFile, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))
	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// SessionLogPath returns the open session log, or "".
func SessionLogPath() string {
	return sessionLogPath
}
