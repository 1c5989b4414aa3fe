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

import "sync/atomic"

// Clock supplies monotonic milliseconds since an arbitrary start.
// All interval and timeout arithmetic in the pairing core uses it.
type Clock interface {
	Millis() uint64
}

// SystemClock reads the host monotonic clock relative to its creation.
type SystemClock struct {
	start uint64
}

// NewSystemClock returns a clock that reads zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: monotonicMillis()}
}

// Millis implements Clock.
func (c *SystemClock) Millis() uint64 {
	return monotonicMillis() - c.start
}

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock returns a clock reading start.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Millis implements Clock.
func (c *ManualClock) Millis() uint64 {
	return c.now.Load()
}

// Set jumps to ms.
func (c *ManualClock) Set(ms uint64) {
	c.now.Store(ms)
}

// Advance moves the clock forward by ms and returns the new reading.
func (c *ManualClock) Advance(ms uint64) uint64 {
	return c.now.Add(ms)
}
