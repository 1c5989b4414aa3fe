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
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a 6-byte radio hardware address.
type MAC [6]byte

// BroadcastMAC addresses every station on the channel.
var BroadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// String formats the address as upper-case colon-separated hex,
// the form stored under espnow/remotemac.
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether every byte is zero.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// ParseMAC parses "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or "aabbccddeeff".
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 2*len(m) {
		return m, fmt.Errorf("%w: mac %q", ErrInvalidParameter, s)
	}
	if _, err := hex.Decode(m[:], []byte(clean)); err != nil {
		return m, fmt.Errorf("%w: mac %q: %w", ErrInvalidParameter, s, err)
	}
	return m, nil
}
