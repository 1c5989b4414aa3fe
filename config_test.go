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
	"testing"

	"github.com/stretchr/testify/assert"
)

// mapStore is a minimal ConfigStore for the helpers in this package.
type mapStore map[string]string

func (s mapStore) GetValue(section, key string) string {
	return s[section+"/"+key]
}

func (s mapStore) SetValue(section, key, value string) {
	s[section+"/"+key] = value
}

func (mapStore) Persist() error {
	return nil
}

func TestSecureMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{value: "true", want: true},
		{value: ""},
		{value: "True"},
		{value: "1"},
		{value: "false"},
	}
	for _, tt := range tests {
		cfg := mapStore{"security/encrypt": tt.value}
		assert.Equal(t, tt.want, SecureMode(cfg), "encrypt=%q", tt.value)
	}
}

func TestSecret(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Secret(mapStore{}))
	assert.Equal(t, []byte("hunter22"), Secret(mapStore{"security/secret": "hunter22"}))
}

func TestBeaconInterval(t *testing.T) {
	t.Parallel()

	const fallback = DefaultBeaconInterval

	tests := []struct {
		name  string
		value string
		want  uint64
	}{
		{name: "missing", value: "", want: fallback},
		{name: "in range", value: "2500", want: 2500},
		{name: "lower bound", value: "1000", want: 1000},
		{name: "upper bound", value: "10000", want: 10000},
		{name: "whitespace", value: " 3000 ", want: 3000},
		{name: "too small", value: "999", want: fallback},
		{name: "too large", value: "10001", want: fallback},
		{name: "negative", value: "-5", want: fallback},
		{name: "garbage", value: "soon", want: fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := mapStore{"espnow/beaconInterval": tt.value}
			assert.Equal(t, tt.want, BeaconInterval(cfg, fallback))
		})
	}
}

func TestStorePeerAndStoredPeer(t *testing.T) {
	t.Parallel()

	cfg := mapStore{}
	_, _, ok := StoredPeer(cfg)
	assert.False(t, ok)

	peer := MAC{0x24, 0x0A, 0xC4, 0x00, 0x00, 0x09}
	StorePeer(cfg, peer, 6)
	assert.Equal(t, "24:0A:C4:00:00:09", cfg["espnow/remotemac"])
	assert.Equal(t, "6", cfg["espnow/channel"])

	mac, ch, ok := StoredPeer(cfg)
	assert.True(t, ok)
	assert.Equal(t, peer, mac)
	assert.Equal(t, uint8(6), ch)
}

func TestStoredPeer_Edges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg         mapStore
		name        string
		wantChannel uint8
		wantOK      bool
	}{
		{
			name: "zero mac",
			cfg:  mapStore{"espnow/remotemac": "00:00:00:00:00:00", "espnow/channel": "1"},
		},
		{
			name: "bad mac",
			cfg:  mapStore{"espnow/remotemac": "nope", "espnow/channel": "1"},
		},
		{
			name:   "bad channel keeps peer",
			cfg:    mapStore{"espnow/remotemac": "24:0A:C4:00:00:09", "espnow/channel": "300"},
			wantOK: true,
		},
		{
			name:   "missing channel keeps peer",
			cfg:    mapStore{"espnow/remotemac": "24:0A:C4:00:00:09"},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, ch, ok := StoredPeer(tt.cfg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantChannel, ch)
		})
	}
}
