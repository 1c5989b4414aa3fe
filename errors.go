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
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

// Frame errors: the input is malformed and is dropped at the first check.
var (
	ErrFrameTooShort      = errors.New("frame too short")
	ErrUnsupportedVersion = errors.New("unsupported frame version")
)

// Authentication errors: the candidate is rejected, never fatal.
var (
	ErrAuthFailed     = errors.New("authentication failed")
	ErrSecretMismatch = errors.New("shared secret mismatch")
	ErrModeMismatch   = errors.New("security mode mismatch")
	ErrSecretTooShort = errors.New("configured secret too short")
	ErrMissingSecret  = errors.New("no secret configured")
)

// Resource and state errors.
var (
	ErrQueueFull        = errors.New("queue full")
	ErrNotPaired        = errors.New("not paired")
	ErrSniffUnsupported = errors.New("transport cannot listen passively")
	ErrWrongRole        = errors.New("operation not valid for this role")
)

// Transport errors. Timeouts, reads and writes may be retried.
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrFrameCorrupted    = errors.New("frame corrupted")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrDeviceNotFound    = errors.New("radio bridge not found")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrBridgeStatusError = errors.New("radio bridge reported an error")
)

// ErrorType is the retry class of an error.
type ErrorType int

const (
	// ErrorTypeTransient may succeed when repeated.
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent will not succeed when repeated.
	ErrorTypePermanent
	// ErrorTypeTimeout is a transient error caused by a deadline.
	ErrorTypeTimeout
)

// TransportError wraps an adapter failure with the operation and port.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError whose Retryable flag follows errType.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError reports a deadline hit while talking to the bridge.
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError reports a bridge frame that failed structural checks.
func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewChecksumMismatchError reports a bridge frame with a bad checksum.
func NewChecksumMismatchError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrChecksumMismatch, ErrorTypeTransient)
}

// NewTransportWriteError reports a failed write to the bridge.
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewPayloadTooLargeError reports a payload that cannot fit one bridge frame.
func NewPayloadTooLargeError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrPayloadTooLarge, ErrorTypePermanent)
}

// IsRetryable reports whether repeating the failed operation may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsFatal reports whether the bridge is gone and the adapter should stop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // only device-gone errnos matter here
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// IsAuthError reports whether err is one of the candidate rejection reasons.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrSecretMismatch) ||
		errors.Is(err, ErrModeMismatch) ||
		errors.Is(err, ErrSecretTooShort) ||
		errors.Is(err, ErrMissingSecret)
}

// IsMalformed reports whether err means the input bytes were not a frame.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrUnsupportedVersion)
}

// TraceDirection is the direction of a bridge frame relative to the host.
type TraceDirection string

const (
	// TraceTX is host to bridge.
	TraceTX TraceDirection = "TX"
	// TraceRX is bridge to host.
	TraceRX TraceDirection = "RX"
)

// TraceEntry is one recorded bridge frame.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats the entry as "[hh:mm:ss.mmm] TX: AA BB (note)".
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError carries the last bridge frames seen before a failure.
//
//	var te *nowpair.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("bridge trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one frame per line.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Bridge trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	shown := data
	if len(shown) > 32 {
		shown = shown[:32]
	}
	parts := make([]string, len(shown))
	for i, b := range shown {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	out := strings.Join(parts, " ")
	if len(data) > 32 {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer keeps the most recent bridge frames in a fixed window.
// It is not safe for concurrent use; adapters guard it with their own lock.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer returns a buffer that keeps at most maxSize entries.
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a frame sent to the bridge.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records a frame received from the bridge.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}
	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// Len returns the number of recorded entries.
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// WrapError attaches a copy of the trace to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Trace:     append([]TraceEntry(nil), tb.entries...),
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// GetTrace extracts the trace from err, or nil when there is none.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
