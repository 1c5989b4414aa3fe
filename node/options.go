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

package node

import (
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/beacon"
	"github.com/ZaparooProject/go-nowpair/pairing"
	"github.com/ZaparooProject/go-nowpair/queue"
)

// Role selects which side of the pairing protocol a node plays.
type Role = beacon.Role

// Node roles.
const (
	RoleWorker = beacon.RoleWorker
	RoleBoss   = beacon.RoleBoss
)

// Options configures a Node.
type Options struct {
	// Store holds the espnow and security settings. Required.
	Store nowpair.ConfigStore
	// Transport is the radio. Required; a boss also needs nowpair.Sniffer.
	Transport nowpair.Transport
	// Clock drives every timer. Nil uses a SystemClock.
	Clock nowpair.Clock
	// Beacon overrides the beacon engine settings.
	Beacon *beacon.Config
	// Pairing overrides the handshake timing. LocalMAC and LinkKey are
	// filled in by New when left empty.
	Pairing *pairing.Config
	// Role is RoleWorker or RoleBoss.
	Role Role
	// Channel is the radio channel. Zero reads espnow/channel, falling back
	// to beacon.DefaultChannel.
	Channel uint8
	// StartupDelay is how long after New the node waits before it starts
	// beaconing or listening, in milliseconds.
	StartupDelay uint64
	// QueueCapacity bounds each of the four frame queues.
	QueueCapacity int
	// TickInterval is the Run loop period.
	TickInterval time.Duration
	// SleepThreshold is the gap beyond TickInterval that Run reports as a
	// host sleep. Zero disables the check.
	SleepThreshold time.Duration
}

// DefaultOptions returns options for role with the firmware timings.
func DefaultOptions(role Role) Options {
	return Options{
		Role:           role,
		StartupDelay:   nowpair.DefaultStartupDelay,
		QueueCapacity:  queue.DefaultCapacity,
		TickInterval:   10 * time.Millisecond,
		SleepThreshold: 2 * time.Second,
	}
}
