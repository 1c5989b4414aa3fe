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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// usbPacketSize is the bulk endpoint size of full-speed USB serial chips.
const usbPacketSize = 64

// JitterConfig shapes how a JitteryConn delivers reads.
type JitterConfig struct {
	// MaxLatency is the upper bound of a random delay before each read.
	MaxLatency time.Duration
	// StallAfterBytes stalls once for StallDuration after this many bytes.
	StallAfterBytes int
	StallDuration   time.Duration
	// MinFragment is the smallest read returned when Fragment is set.
	MinFragment int
	// Seed makes the fragmentation reproducible. Zero picks a random seed.
	Seed uint64
	// Fragment splits reads at random points.
	Fragment bool
	// USBBoundaries splits reads at 64-byte packet boundaries.
	USBBoundaries bool
}

// DefaultJitterConfig is the profile of a CH340 on a busy hub.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  2 * time.Millisecond,
		Fragment:    true,
		MinFragment: 1,
	}
}

// JitteryConn wraps a bridge connection and hands reads back in random
// pieces with random delays, the way USB serial adapters do. Bytes are
// buffered, never lost. Writes pass straight through.
type JitteryConn struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	pending   []byte
	scratch   []byte
	config    JitterConfig
	delivered int
	stalled   bool
}

// NewJitteryConn wraps backend.
func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test jitter
	}
	if config.MinFragment < 1 {
		config.MinFragment = 1
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5EED)), //nolint:gosec // test jitter
		scratch: make([]byte, 512),
	}
}

// Write implements io.Writer.
func (j *JitteryConn) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read implements io.Reader.
func (j *JitteryConn) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		n, err := j.backend.Read(j.scratch)
		if n > 0 {
			j.pending = append(j.pending, j.scratch[:n]...)
		}
		if len(j.pending) == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
	}

	n := min(len(j.pending), len(buf))
	n = j.limitForStall(n)
	if j.config.USBBoundaries {
		if edge := usbPacketSize - j.delivered%usbPacketSize; edge < n {
			n = edge
		}
	}
	if j.config.Fragment && n > j.config.MinFragment {
		n = j.config.MinFragment + j.rng.IntN(n-j.config.MinFragment+1)
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.delivered += n
	return n, nil
}

func (j *JitteryConn) limitForStall(n int) int {
	if j.config.StallAfterBytes <= 0 || j.stalled {
		return n
	}
	if j.delivered >= j.config.StallAfterBytes {
		j.stalled = true
		time.Sleep(j.config.StallDuration)
		return n
	}
	return min(n, j.config.StallAfterBytes-j.delivered)
}

// Buffered returns bytes read from the backend but not yet delivered.
func (j *JitteryConn) Buffered() int {
	return len(j.pending)
}
