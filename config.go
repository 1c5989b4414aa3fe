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
	"strconv"
	"strings"
)

// ConfigStore is the section/key/value settings store the pairing core reads
// and writes. Values are strings; a missing key reads as "".
type ConfigStore interface {
	GetValue(section, key string) string
	SetValue(section, key, value string)
	// Persist writes pending changes to durable storage.
	Persist() error
}

// Configuration sections and keys.
const (
	SectionESPNow   = "espnow"
	SectionSecurity = "security"

	KeyBeaconInterval = "beaconInterval"
	KeyChannel        = "channel"
	KeyRemoteMAC      = "remotemac"
	KeyEncrypt        = "encrypt"
	KeySecret         = "secret"
)

// SecretFieldSize is the width of the cleartext shared-secret field. Shorter
// configured secrets cannot authenticate a peer.
const SecretFieldSize = 8

// SecureMode reports whether security/encrypt is exactly "true".
func SecureMode(cfg ConfigStore) bool {
	return cfg.GetValue(SectionSecurity, KeyEncrypt) == "true"
}

// Secret returns the configured shared secret as raw bytes.
func Secret(cfg ConfigStore) []byte {
	return []byte(cfg.GetValue(SectionSecurity, KeySecret))
}

// BeaconInterval returns espnow/beaconInterval when it parses and lies within
// [MinBeaconInterval, MaxBeaconInterval]; otherwise fallback.
func BeaconInterval(cfg ConfigStore, fallback uint64) uint64 {
	raw := strings.TrimSpace(cfg.GetValue(SectionESPNow, KeyBeaconInterval))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		Debugf("config: ignoring beacon interval %q: %v", raw, err)
		return fallback
	}
	if v < int64(MinBeaconInterval) || v > int64(MaxBeaconInterval) {
		Debugf("config: beacon interval %d outside [%d,%d], keeping %d",
			v, MinBeaconInterval, MaxBeaconInterval, fallback)
		return fallback
	}
	return uint64(v)
}

// StoredPeer returns the peer recorded by a previous pairing, if any.
func StoredPeer(cfg ConfigStore) (MAC, uint8, bool) {
	mac, err := ParseMAC(cfg.GetValue(SectionESPNow, KeyRemoteMAC))
	if err != nil || mac.IsZero() {
		return MAC{}, 0, false
	}
	ch, err := strconv.ParseUint(cfg.GetValue(SectionESPNow, KeyChannel), 10, 8)
	if err != nil {
		return mac, 0, true
	}
	return mac, uint8(ch), true
}

// StorePeer records a paired peer under espnow/remotemac and espnow/channel.
func StorePeer(cfg ConfigStore, mac MAC, channel uint8) {
	cfg.SetValue(SectionESPNow, KeyRemoteMAC, mac.String())
	cfg.SetValue(SectionESPNow, KeyChannel, strconv.Itoa(int(channel)))
}
