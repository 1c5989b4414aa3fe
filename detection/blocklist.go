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
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB IDs that are never opened: the open
// resets the board.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno
		"2341:0001", // Arduino Uno, old bootloader
	}
}

// IsBlocked reports whether vidpid matches an entry in blocklist. Both
// sides may use any form ParseVIDPID accepts.
func IsBlocked(vidpid string, blocklist []string) bool {
	id := ParseVIDPID(vidpid)
	if id == "" {
		return false
	}
	for _, entry := range blocklist {
		if ParseVIDPID(entry) == id {
			return true
		}
	}
	return false
}

// vidpidKeys are the vendor/product label pairs seen in USB descriptors
// and udev output.
var vidpidKeys = [][2]string{
	{"VID:", "PID:"},
	{"VID=", "PID="},
	{"VENDOR=", "PRODUCT="},
	{"ID_VENDOR_ID=", "ID_MODEL_ID="},
}

// ParseVIDPID returns the upper-case "VVVV:PPPP" form of a USB ID written
// as "10c4:ea60", "VID:10C4 PID:EA60" or "vendor=10c4 product=ea60", or ""
// when s holds no ID.
func ParseVIDPID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	for _, keys := range vidpidKeys {
		vid, pid := hexAfter(s, keys[0]), hexAfter(s, keys[1])
		if vid != "" && pid != "" {
			return vid + ":" + pid
		}
	}
	vid, pid, ok := strings.Cut(s, ":")
	if ok && isHex(vid) && isHex(pid) {
		return vid + ":" + pid
	}
	return ""
}

// hexAfter returns the run of hex digits following the first key in s.
func hexAfter(s, key string) string {
	idx := strings.Index(s, key)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(key):]
	end := strings.IndexFunc(rest, func(r rune) bool { return !isHexRune(r) })
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}

func isHex(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) }) < 0
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// IsPathIgnored reports whether devicePath is listed in ignorePaths. Paths
// are cleaned and compared case-insensitively so "COM3" matches "com3".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	want := strings.ToLower(filepath.Clean(devicePath))
	for _, p := range ignorePaths {
		if p != "" && strings.ToLower(filepath.Clean(p)) == want {
			return true
		}
	}
	return false
}
