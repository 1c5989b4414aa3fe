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

package beacon

import (
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/frame"
)

// Status is a snapshot of an Engine for diagnostics.
type Status struct {
	StoredPeer    string
	StoredChannel string
	LastSent      frame.Beacon
	Heard         uint64
	Screened      uint64
	Dropped       uint64
	Rejected      uint64
	Interval      uint64
	Queued        int
	Role          Role
	Sequence      uint8
	Paired        bool
	Broadcasting  bool
}

// Status returns a snapshot. Call it from the tick goroutine.
func (e *Engine) Status() Status {
	return Status{
		Role:          e.role,
		Paired:        e.paired.Load(),
		Broadcasting:  e.broadcasting,
		Sequence:      e.sequence,
		Interval:      e.interval,
		LastSent:      e.lastSent,
		StoredPeer:    e.store.GetValue(nowpair.SectionESPNow, nowpair.KeyRemoteMAC),
		StoredChannel: e.store.GetValue(nowpair.SectionESPNow, nowpair.KeyChannel),
		Queued:        e.candidates.Len(),
		Heard:         e.heard.Load(),
		Screened:      e.screened.Load(),
		Dropped:       e.dropped.Load(),
		Rejected:      e.rejected,
	}
}

// String renders the snapshot as a multi-line report.
func (s Status) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Role: %s\n", s.Role)
	_, _ = fmt.Fprintf(&sb, "Paired: %t\n", s.Paired)
	_, _ = fmt.Fprintf(&sb, "Broadcasting: %t\n", s.Broadcasting)
	_, _ = fmt.Fprintf(&sb, "Sequence ID: %d\n", s.Sequence)
	_, _ = fmt.Fprintf(&sb, "Interval: %dms\n", s.Interval)
	_, _ = fmt.Fprintf(&sb, "Last Beacon MAC: %s\n", s.LastSent.MAC)
	_, _ = fmt.Fprintf(&sb, "Last Shared Secret (hex): % X\n", s.LastSent.SharedSecret[:])
	_, _ = fmt.Fprintf(&sb, "Stored MAC: %s\n", s.StoredPeer)
	_, _ = fmt.Fprintf(&sb, "Stored Channel: %s\n", s.StoredChannel)
	_, _ = fmt.Fprintf(&sb, "Candidates: heard=%d screened=%d dropped=%d rejected=%d queued=%d\n",
		s.Heard, s.Screened, s.Dropped, s.Rejected, s.Queued)
	return sb.String()
}
