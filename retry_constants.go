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

import "time"

// Connection retry constants control opening a bridge port.
const (
	// DefaultConnectionRetries is the number of attempts to open a bridge.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Pairing protocol timing, in clock milliseconds.
const (
	// DefaultBeaconInterval is used when espnow/beaconInterval is unset or out of range.
	DefaultBeaconInterval uint64 = 10000
	// MinBeaconInterval is the smallest accepted configured interval.
	MinBeaconInterval uint64 = 1000
	// MaxBeaconInterval is the largest accepted configured interval.
	MaxBeaconInterval uint64 = 10000

	// PairRetryInterval is the wait between PairRequest sends.
	PairRetryInterval uint64 = 1000
	// PairMaxRetries is the PairRequest budget before the session times out.
	PairMaxRetries = 5
	// HeartbeatInterval is the wait between heartbeats once connected.
	HeartbeatInterval uint64 = 5000

	// DefaultStartupDelay is how long a node stays quiet after start.
	DefaultStartupDelay uint64 = 10000
)

// Bridge I/O timing.
const (
	// BridgeReadTimeout bounds one read from a bridge port.
	BridgeReadTimeout = 50 * time.Millisecond
	// BridgeRequestTimeout bounds a request that expects a reply frame.
	BridgeRequestTimeout = 500 * time.Millisecond
)
