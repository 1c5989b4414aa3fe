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
	"fmt"

	"github.com/ZaparooProject/go-nowpair"
)

// Received is a radio frame addressed to us or to broadcast.
type Received struct {
	Payload []byte
	Src     nowpair.MAC
	RSSI    int8
}

// Peer is the body of a RegisterPeer request.
type Peer struct {
	LinkKey []byte
	MAC     nowpair.MAC
	Channel uint8
}

// Transmit is the body of a Transmit request.
type Transmit struct {
	Payload []byte
	Dst     nowpair.MAC
}

func short(what string, want, got int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", nowpair.ErrFrameTooShort, what, want, got)
}

// EncodeTransmit builds a Transmit request.
func EncodeTransmit(dst nowpair.MAC, payload []byte) ([]byte, error) {
	if len(payload) > MaxRadioPayload {
		return nil, fmt.Errorf("transmit: %w (%d bytes)", nowpair.ErrPayloadTooLarge, len(payload))
	}
	data := make([]byte, 0, 6+len(payload))
	data = append(data, dst[:]...)
	data = append(data, payload...)
	return Encode(TypeTransmit, data)
}

// ParseTransmit decodes a Transmit request body.
func ParseTransmit(data []byte) (Transmit, error) {
	if len(data) < 6 {
		return Transmit{}, short("transmit", 6, len(data))
	}
	var t Transmit
	copy(t.Dst[:], data[:6])
	t.Payload = append([]byte(nil), data[6:]...)
	return t, nil
}

// EncodeRegisterPeer builds a RegisterPeer request.
func EncodeRegisterPeer(mac nowpair.MAC, channel uint8, linkKey []byte) ([]byte, error) {
	if len(linkKey) > 32 {
		return nil, fmt.Errorf("register peer: link key %w (%d bytes)", nowpair.ErrPayloadTooLarge, len(linkKey))
	}
	data := make([]byte, 0, 8+len(linkKey))
	data = append(data, mac[:]...)
	data = append(data, channel, byte(len(linkKey)))
	data = append(data, linkKey...)
	return Encode(TypeRegisterPeer, data)
}

// ParsePeer decodes a RegisterPeer request body.
func ParsePeer(data []byte) (Peer, error) {
	if len(data) < 8 {
		return Peer{}, short("register peer", 8, len(data))
	}
	keyLen := int(data[7])
	if len(data) < 8+keyLen {
		return Peer{}, short("register peer key", 8+keyLen, len(data))
	}
	p := Peer{Channel: data[6]}
	copy(p.MAC[:], data[:6])
	if keyLen > 0 {
		p.LinkKey = append([]byte(nil), data[8:8+keyLen]...)
	}
	return p, nil
}

// EncodeSetChannel builds a SetChannel request.
func EncodeSetChannel(channel uint8) ([]byte, error) {
	return Encode(TypeSetChannel, []byte{channel})
}

// EncodeSniff builds a request that turns promiscuous capture on or off.
func EncodeSniff(on bool) ([]byte, error) {
	var b byte
	if on {
		b = 1
	}
	return Encode(TypeSniff, []byte{b})
}

// EncodeGetMAC builds a GetMAC request.
func EncodeGetMAC() ([]byte, error) {
	return Encode(TypeGetMAC, nil)
}

// EncodeReceived builds a Received event.
func EncodeReceived(r Received) ([]byte, error) {
	data := make([]byte, 0, 7+len(r.Payload))
	data = append(data, r.Src[:]...)
	data = append(data, byte(r.RSSI))
	data = append(data, r.Payload...)
	return Encode(TypeReceived, data)
}

// ParseReceived decodes a Received event body.
func ParseReceived(data []byte) (Received, error) {
	if len(data) < 7 {
		return Received{}, short("received", 7, len(data))
	}
	r := Received{RSSI: int8(data[6])} //nolint:gosec // two's complement dBm
	copy(r.Src[:], data[:6])
	r.Payload = append([]byte(nil), data[7:]...)
	return r, nil
}

// EncodeSniffed builds a Sniffed event: packet type, RSSI, payload.
func EncodeSniffed(pkt nowpair.SniffedPacket) ([]byte, error) {
	data := make([]byte, 0, 2+len(pkt.Payload))
	data = append(data, byte(pkt.Type), byte(pkt.RSSI))
	data = append(data, pkt.Payload...)
	return Encode(TypeSniffed, data)
}

// ParseSniffed decodes a Sniffed event body.
func ParseSniffed(data []byte) (nowpair.SniffedPacket, error) {
	if len(data) < 2 {
		return nowpair.SniffedPacket{}, short("sniffed", 2, len(data))
	}
	return nowpair.SniffedPacket{
		Type:    nowpair.PacketType(data[0]),
		RSSI:    int8(data[1]), //nolint:gosec // two's complement dBm
		Payload: append([]byte(nil), data[2:]...),
	}, nil
}

// EncodeMAC builds a MAC reply.
func EncodeMAC(mac nowpair.MAC) ([]byte, error) {
	return Encode(TypeMAC, mac[:])
}

// ParseMAC decodes a MAC reply body.
func ParseMAC(data []byte) (nowpair.MAC, error) {
	if len(data) < 6 {
		return nowpair.MAC{}, short("mac", 6, len(data))
	}
	var mac nowpair.MAC
	copy(mac[:], data[:6])
	return mac, nil
}

// EncodeStatus builds a Status reply.
func EncodeStatus(code byte) ([]byte, error) {
	return Encode(TypeStatus, []byte{code})
}

// StatusError maps a Status reply body to an error. StatusOK is nil.
func StatusError(data []byte) error {
	if len(data) < 1 {
		return short("status", 1, 0)
	}
	if data[0] == StatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s", nowpair.ErrBridgeStatusError, StatusText(data[0]))
}

// StatusText names a status code.
func StatusText(code byte) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusBusy:
		return "busy"
	case StatusNoPeer:
		return "no such peer"
	case StatusBadFrame:
		return "bad frame"
	case StatusRadio:
		return "radio error"
	default:
		return fmt.Sprintf("status 0x%02X", code)
	}
}
