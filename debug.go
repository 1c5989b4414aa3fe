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
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

// debugEnabled controls whether debug logging goes to stdout.
var debugEnabled atomic.Bool

// Session log state. Debugf runs on both the receive context and the tick.
var (
	sessionLogMu     syncutil.Mutex
	sessionLogWriter io.Writer
)

func init() {
	if os.Getenv("NOWPAIR_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf prints debug information.
// Always writes to the session log (if set) with a timestamp.
// Only prints to the console when debug mode is enabled.
func Debugf(format string, args ...any) {
	writeDebug(fmt.Sprintf(format, args...))
}

// Debugln prints debug information with fmt.Sprint formatting.
func Debugln(args ...any) {
	writeDebug(fmt.Sprint(args...))
}

func writeDebug(message string) {
	sessionLogMu.Lock()
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", timestamp, message)
	}
	sessionLogMu.Unlock()

	if debugEnabled.Load() {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// SetDebugEnabled allows programmatic control of console debug logging.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug logging is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetDebugOutput routes every debug message, enabled or not, to w.
// A session header is written first. Pass nil to stop.
func SetDebugOutput(w io.Writer) {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()

	sessionLogWriter = w
	if w != nil {
		writeSessionHeader(w)
	}
}

func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprint(w, "=== nowpair debug session ===\n")
	_, _ = fmt.Fprintf(w, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	_, _ = fmt.Fprint(w, "==============================\n\n")
}
