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

// Frame is one decoded bridge frame.
type Frame struct {
	Data []byte
	Type byte
}

// Encode builds the wire form of a frame.
func Encode(typ byte, data []byte) ([]byte, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("encode type 0x%02X: %w (%d bytes)", typ, nowpair.ErrPayloadTooLarge, len(data))
	}

	bodyLen := byte(len(data) + 1)
	out := make([]byte, 0, len(data)+Overhead)
	out = append(out, Preamble, StartCode1, StartCode2, bodyLen, complement(bodyLen), typ)
	out = append(out, data...)
	out = append(out, complement(typ+CalculateChecksum(data)), Postamble)
	return out, nil
}

// Decoder reassembles frames from a byte stream that may split frames across
// reads and carry noise between them. It is not safe for concurrent use.
type Decoder struct {
	port      string
	buf       []byte
	corrupted int
}

// NewDecoder returns a decoder whose errors name port.
func NewDecoder(port string) *Decoder {
	return &Decoder{port: port, buf: make([]byte, 0, MaxFrameLength)}
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. Corrupted frames are skipped one byte at a time and counted.
func (d *Decoder) Next() (f Frame, ok bool) {
	for {
		off := FindFrameStart(d.buf)
		if off < 0 {
			d.keepTail()
			return Frame{}, false
		}
		d.buf = d.buf[off:]

		frameLen, retry, err := ValidateFrameLength(d.buf, 0, "decode", d.port)
		if err != nil {
			return Frame{}, false
		}
		if retry {
			d.skip()
			continue
		}

		// 00 FF LEN LCS + body + DCS + postamble
		total := 4 + frameLen + 2
		if len(d.buf) < total {
			return Frame{}, false
		}
		if ValidateFrameChecksum(d.buf, 4, 4+frameLen+1) {
			nowpair.Debugf("link: %v", nowpair.NewChecksumMismatchError("decode", d.port))
			d.skip()
			continue
		}

		f = Frame{Type: d.buf[4], Data: append([]byte(nil), d.buf[5:4+frameLen]...)}
		d.buf = d.buf[total:]
		return f, true
	}
}

// skip drops the current start code and counts a corrupted frame.
func (d *Decoder) skip() {
	d.corrupted++
	d.buf = d.buf[1:]
}

// keepTail discards noise but keeps a trailing 00 that may begin a start code.
func (d *Decoder) keepTail() {
	if n := len(d.buf); n > 0 && d.buf[n-1] == StartCode1 {
		d.buf = append(d.buf[:0], StartCode1)
		return
	}
	d.buf = d.buf[:0]
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Corrupted returns how many bad frames were skipped.
func (d *Decoder) Corrupted() int {
	return d.corrupted
}

// Reset drops buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
