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

package link

import (
	"github.com/ZaparooProject/go-nowpair"
)

// FindFrameStart returns the offset of the first 00 FF start code in buf,
// or -1.
func FindFrameStart(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartCode1 && buf[i+1] == StartCode2 {
			return i
		}
	}
	return -1
}

// ValidateFrameLength reads the LEN and LCS bytes following the start code
// at off. It returns an ErrFrameCorrupted transport error when buf ends before
// LCS, and shouldRetry when the length checksum does not match, meaning the
// start code was a false positive.
func ValidateFrameLength(
	buf []byte, off int, operation, port string,
) (frameLen int, shouldRetry bool, err error) {
	// Skip the two start code bytes.
	off += 2
	if off < 2 || off+1 >= len(buf) {
		return 0, false, nowpair.NewFrameCorruptedError(operation, port)
	}

	frameLen = int(buf[off])
	lengthChecksum := buf[off+1]
	if ((frameLen + int(lengthChecksum)) & 0xFF) != 0 {
		return 0, true, nil
	}
	if frameLen == 0 {
		return 0, true, nil
	}
	return frameLen, false, nil
}

// ValidateFrameChecksum reports whether buf[start:end] fails the data
// checksum. Out of range bounds count as a failure.
func ValidateFrameChecksum(buf []byte, start, end int) bool {
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return true
	}
	return CalculateChecksum(buf[start:end]) != 0
}
