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

// Package link implements the host to radio bridge framing used by the uart,
// spi and i2c adapters. Frames look like
//
//	00 00 FF LEN LCS TYPE DATA... DCS 00
//
// where LEN counts TYPE and DATA, LEN+LCS is zero mod 256, and
// TYPE+sum(DATA)+DCS is zero mod 256.
package link

// Frame markers.
const (
	Preamble   = 0x00 // Frame preamble byte
	StartCode1 = 0x00 // Start code byte 1
	StartCode2 = 0xFF // Start code byte 2
	Postamble  = 0x00 // Frame postamble byte
)

// Frame sizes.
const (
	// MaxBodyLength is the largest LEN value: TYPE plus DATA.
	MaxBodyLength = 255
	// MaxDataLength is the largest DATA field.
	MaxDataLength = MaxBodyLength - 1
	// Overhead is every byte of a frame that is not DATA.
	Overhead = 8
	// MinFrameLength is a frame with no DATA.
	MinFrameLength = Overhead
	// MaxFrameLength is a frame with a full DATA field.
	MaxFrameLength = MaxDataLength + Overhead
	// MaxRadioPayload is the largest payload the host may transmit. The radio
	// takes 250 bytes, but the Received event that carries it at the far end
	// needs 7 bytes of header and must still fit one frame.
	MaxRadioPayload = MaxDataLength - 7
)

// Host to radio frame types.
const (
	TypeTransmit     byte = 0x01
	TypeRegisterPeer byte = 0x02
	TypeSetChannel   byte = 0x03
	TypeSniff        byte = 0x04
	TypeGetMAC       byte = 0x05
)

// Radio to host frame types.
const (
	TypeReceived byte = 0x81
	TypeSniffed  byte = 0x82
	TypeMAC      byte = 0x85
	TypeStatus   byte = 0x8F
)

// Status codes carried by TypeStatus.
const (
	StatusOK       byte = 0x00
	StatusBusy     byte = 0x01
	StatusNoPeer   byte = 0x02
	StatusBadFrame byte = 0x03
	StatusRadio    byte = 0x04
)

// IsEvent reports whether a radio frame type is unsolicited traffic rather
// than the reply to a request.
func IsEvent(typ byte) bool {
	return typ == TypeReceived || typ == TypeSniffed
}
