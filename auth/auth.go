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

// Package auth signs and verifies beacon fields with HMAC-SHA256 and derives
// per-peer link keys from the provisioned secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ZaparooProject/go-nowpair"
)

// TagSize is the HMAC-SHA256 output size.
const TagSize = sha256.Size

// LinkKeySize is the radio's per-peer link key size.
const LinkKeySize = 16

const linkKeyInfo = "nowpair link key v1"

// Sign returns HMAC-SHA256(key, message). An empty key is valid.
func Sign(key, message []byte) [TagSize]byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(message)

	var tag [TagSize]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

// Verify recomputes the tag and compares all TagSize bytes.
//
// The comparison is an ordinary byte loop and exits on the first mismatch,
// so it is not constant time. Radio firmware on the other end compares the
// same way. Replacing it with hmac.Equal does not change which tags are
// accepted.
func Verify(key, message []byte, tag [TagSize]byte) bool {
	expected := Sign(key, message)
	for i := range expected {
		if expected[i] != tag[i] {
			return false
		}
	}
	return true
}

// DeriveLinkKey derives the link key both ends register in secure mode:
// HKDF-SHA256 over the shared secret, salted with the address of the worker
// that beaconed. The boss and the worker therefore derive the same key.
func DeriveLinkKey(secret []byte, worker nowpair.MAC) ([LinkKeySize]byte, error) {
	var key [LinkKeySize]byte
	if len(secret) == 0 {
		return key, nowpair.ErrMissingSecret
	}
	r := hkdf.New(sha256.New, secret, worker[:], []byte(linkKeyInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return [LinkKeySize]byte{}, fmt.Errorf("hkdf read: %w", err)
	}
	return key, nil
}
