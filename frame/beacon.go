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

// Package frame encodes and decodes the two fixed-layout radio frames of the
// pairing protocol: the Beacon, broadcast by a worker for discovery, and the
// Session frame, exchanged once a peer is known.
//
// Both layouts are packed, byte-exact, and little-endian where a field is
// wider than one byte. Decoders reject input that is shorter than the frame
// or carries a version other than Version. Trailing bytes are ignored, since
// radio payloads may be padded.
package frame

import (
	"fmt"

	"github.com/ZaparooProject/go-nowpair"
)

// Version is the only frame format version understood.
const Version = 1

// DeviceTypeNode is the only device class in use.
const DeviceTypeNode = 1

// Beacon field sizes and the packed frame size.
const (
	HMACSize   = 32
	SecretSize = nowpair.SecretFieldSize
	BeaconSize = 51
)

// Beacon field offsets.
const (
	beaconOffVersion     = 0
	beaconOffDeviceType  = 1
	beaconOffMAC         = 2
	beaconOffSequence    = 8
	beaconOffChannel     = 9
	beaconOffHMAC        = 10
	beaconOffUnencrypted = beaconOffHMAC + HMACSize
	beaconOffSecret      = beaconOffUnencrypted + 1
)

// Beacon is a discovery frame.
//
// Exactly one authentication path applies per frame: when Unencrypted is
// false the HMAC over MAC is checked, when it is true SharedSecret is
// compared against the first SecretSize bytes of the configured secret.
type Beacon struct {
	HMAC         [HMACSize]byte
	SharedSecret [SecretSize]byte
	MAC          nowpair.MAC
	Version      uint8
	DeviceType   uint8
	SequenceID   uint8
	Channel      uint8
	Unencrypted  bool
}

// NewBeacon returns a beacon with version and device type filled in.
func NewBeacon(mac nowpair.MAC, seq, channel uint8) Beacon {
	return Beacon{
		Version:    Version,
		DeviceType: DeviceTypeNode,
		MAC:        mac,
		SequenceID: seq,
		Channel:    channel,
	}
}

// Encode returns the BeaconSize wire form.
func (b Beacon) Encode() []byte {
	buf := make([]byte, BeaconSize)
	buf[beaconOffVersion] = b.Version
	buf[beaconOffDeviceType] = b.DeviceType
	copy(buf[beaconOffMAC:], b.MAC[:])
	buf[beaconOffSequence] = b.SequenceID
	buf[beaconOffChannel] = b.Channel
	copy(buf[beaconOffHMAC:], b.HMAC[:])
	if b.Unencrypted {
		buf[beaconOffUnencrypted] = 1
	}
	copy(buf[beaconOffSecret:], b.SharedSecret[:])
	return buf
}

// DecodeBeacon parses the first BeaconSize bytes of data.
// Any non-zero unencrypted byte reads as true.
func DecodeBeacon(data []byte) (Beacon, error) {
	var b Beacon
	if len(data) < BeaconSize {
		return b, fmt.Errorf("%w: beacon needs %d bytes, got %d", nowpair.ErrFrameTooShort, BeaconSize, len(data))
	}
	if data[beaconOffVersion] != Version {
		return b, fmt.Errorf("%w: beacon version %d", nowpair.ErrUnsupportedVersion, data[beaconOffVersion])
	}

	b.Version = data[beaconOffVersion]
	b.DeviceType = data[beaconOffDeviceType]
	copy(b.MAC[:], data[beaconOffMAC:beaconOffSequence])
	b.SequenceID = data[beaconOffSequence]
	b.Channel = data[beaconOffChannel]
	copy(b.HMAC[:], data[beaconOffHMAC:beaconOffUnencrypted])
	b.Unencrypted = data[beaconOffUnencrypted] != 0
	copy(b.SharedSecret[:], data[beaconOffSecret:BeaconSize])
	return b, nil
}

// Mode returns "CLEAR" or "SECURE" for log lines.
func (b Beacon) Mode() string {
	if b.Unencrypted {
		return "CLEAR"
	}
	return "SECURE"
}
