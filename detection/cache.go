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

package detection

import (
	"time"

	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

// detectionCache holds the last result per transport. Devices are copied
// in and out.
type detectionCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      syncutil.RWMutex
}

func newDetectionCache() *detectionCache {
	return &detectionCache{entries: make(map[string]cacheEntry), now: time.Now}
}

var cache = newDetectionCache()

func (c *detectionCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[transport]
	if !exists || c.now().Sub(entry.timestamp) > ttl {
		return nil, false
	}
	return append([]DeviceInfo(nil), entry.devices...), true
}

func (c *detectionCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[transport] = cacheEntry{
		devices:   append([]DeviceInfo(nil), devices...),
		timestamp: c.now(),
	}
}

func (c *detectionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *detectionCache) clearTransport(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, transport)
}
