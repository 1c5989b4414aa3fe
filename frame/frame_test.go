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

package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nowpair"
)

var testMAC = nowpair.MAC{0x24, 0x6F, 0x28, 0xAA, 0xBB, 0xCC}

func TestBeacon_EncodeLayout(t *testing.T) {
	t.Parallel()

	b := NewBeacon(testMAC, 7, 6)
	for i := range b.HMAC {
		b.HMAC[i] = byte(0xA0 + i)
	}
	b.Unencrypted = true
	copy(b.SharedSecret[:], "abcdefgh")

	wire := b.Encode()
	require.Len(t, wire, BeaconSize)

	assert.Equal(t, byte(1), wire[0], "version")
	assert.Equal(t, byte(1), wire[1], "device type")
	assert.Equal(t, testMAC[:], wire[2:8], "mac")
	assert.Equal(t, byte(7), wire[8], "sequence")
	assert.Equal(t, byte(6), wire[9], "channel")
	assert.Equal(t, b.HMAC[:], wire[10:42], "hmac")
	assert.Equal(t, byte(1), wire[42], "unencrypted")
	assert.Equal(t, []byte("abcdefgh"), wire[43:51], "shared secret")
}

func TestDecodeBeacon(t *testing.T) {
	t.Parallel()

	valid := NewBeacon(testMAC, 200, 11)
	valid.Unencrypted = true
	copy(valid.SharedSecret[:], "12345678")
	wire := valid.Encode()

	tests := []struct {
		wantErr error
		name    string
		data    []byte
	}{
		{name: "exact size", data: wire},
		{name: "padded tail ignored", data: append(append([]byte(nil), wire...), 0xDE, 0xAD)},
		{name: "empty", data: nil, wantErr: nowpair.ErrFrameTooShort},
		{name: "one byte short", data: wire[:BeaconSize-1], wantErr: nowpair.ErrFrameTooShort},
		{name: "session sized", data: wire[:SessionSize], wantErr: nowpair.ErrFrameTooShort},
		{
			name:    "wrong version",
			data:    append([]byte{2}, wire[1:]...),
			wantErr: nowpair.ErrUnsupportedVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeBeacon(tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, nowpair.IsMalformed(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, got)
		})
	}
}

func TestDecodeBeacon_NonZeroUnencryptedIsTrue(t *testing.T) {
	t.Parallel()

	b := NewBeacon(testMAC, 1, 1)
	wire := b.Encode()
	wire[42] = 0x7F

	got, err := DecodeBeacon(wire)
	require.NoError(t, err)
	assert.True(t, got.Unencrypted)
	assert.Equal(t, "CLEAR", got.Mode())
}

func TestDecodeBeacon_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	b := NewBeacon(testMAC, 1, 1)
	wire := b.Encode()
	got, err := DecodeBeacon(wire)
	require.NoError(t, err)

	wire[2] = 0x00
	assert.Equal(t, testMAC, got.MAC)
}

func TestEncode_OnReturnedValues(t *testing.T) {
	t.Parallel()

	cleartext := func() Beacon {
		b := NewBeacon(testMAC, 3, 9)
		b.Unencrypted = true
		copy(b.SharedSecret[:], "abcdefgh")
		return b
	}

	tests := []struct {
		name   string
		encode func() []byte
		size   int
	}{
		{name: "new beacon", encode: func() []byte { return NewBeacon(testMAC, 3, 9).Encode() }, size: BeaconSize},
		{name: "helper beacon", encode: func() []byte { return cleartext().Encode() }, size: BeaconSize},
		{name: "new session", encode: func() []byte { return NewSession(CmdHeartbeat, 0, 5, testMAC).Encode() }, size: SessionSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wire := tt.encode()
			require.Len(t, wire, tt.size)
			assert.Equal(t, byte(Version), wire[0])
		})
	}

	assert.Equal(t, "CLEAR", cleartext().Mode())
	assert.False(t, NewSession(CmdAck, 0, 1, testMAC).AckRequired())
}

func TestSession_EncodeLayout(t *testing.T) {
	t.Parallel()

	s := NewSession(CmdPairRequest, FlagAckRequired, 0x2A, testMAC)
	s.SetParams(-2, 300)
	wire := s.Encode()
	require.Len(t, wire, SessionSize)

	assert.Equal(t, byte(1), wire[0], "version")
	assert.Equal(t, byte(0x01), wire[1], "command")
	assert.Equal(t, byte(0x01), wire[2], "flags")
	assert.Equal(t, byte(0x2A), wire[3], "seq")
	assert.Equal(t, []byte{0xFE, 0xFF, 0x2C, 0x01}, wire[4:8], "params little endian")
	assert.Equal(t, []byte{0x2A, 0, 0, 0}, wire[8:12], "nonce is seq as u32 LE")
	assert.Equal(t, []byte{0, 0, 0, 0}, wire[12:16], "tag reserved")
	assert.Equal(t, testMAC[:], wire[16:22], "sender")
}

func TestDecodeSession(t *testing.T) {
	t.Parallel()

	valid := NewSession(CmdHeartbeat, 0, 9, testMAC)
	valid.SetParams(1, -1)
	wire := valid.Encode()

	tests := []struct {
		wantErr error
		name    string
		data    []byte
	}{
		{name: "exact size", data: wire},
		{name: "padded tail ignored", data: append(append([]byte(nil), wire...), make([]byte, 8)...)},
		{name: "short", data: wire[:SessionSize-1], wantErr: nowpair.ErrFrameTooShort},
		{name: "version zero", data: append([]byte{0}, wire[1:]...), wantErr: nowpair.ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeSession(tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, got)
			p1, p2 := got.Params()
			assert.Equal(t, int16(1), p1)
			assert.Equal(t, int16(-1), p2)
		})
	}
}

func TestSession_Flags(t *testing.T) {
	t.Parallel()

	s := NewSession(CmdAck, 0, 1, testMAC)
	assert.False(t, s.AckRequired())
	s.Flags = 0x07
	assert.True(t, s.AckRequired())
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want     string
		cmd      Command
		protocol bool
	}{
		{cmd: CmdPairRequest, want: "PairRequest", protocol: true},
		{cmd: CmdPairAccept, want: "PairAccept", protocol: true},
		{cmd: CmdHeartbeat, want: "Heartbeat", protocol: true},
		{cmd: CmdAck, want: "Ack", protocol: true},
		{cmd: 0x00, want: "Command(0x00)"},
		{cmd: 0x42, want: "Command(0x42)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cmd.String())
			assert.Equal(t, tt.protocol, tt.cmd.IsProtocol())
		})
	}
}

// Run with: go test -fuzz=FuzzDecodeBeacon -fuzztime=30s ./frame/
func FuzzDecodeBeacon(f *testing.F) {
	b := NewBeacon(testMAC, 1, 6)
	f.Add(b.Encode())
	f.Add([]byte{})
	f.Add([]byte{0x01})
	f.Add(bytes.Repeat([]byte{0xFF}, BeaconSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		got, err := DecodeBeacon(data)
		if err != nil {
			return
		}
		// A decoded beacon re-encodes to the bytes it came from, apart from
		// the unencrypted flag which normalises to 0/1.
		re := got.Encode()
		want := append([]byte(nil), data[:BeaconSize]...)
		if want[42] != 0 {
			want[42] = 1
		}
		if !bytes.Equal(re, want) {
			t.Fatalf("re-encode mismatch:\n got %X\nwant %X", re, want)
		}
	})
}

// Run with: go test -fuzz=FuzzDecodeSession -fuzztime=30s ./frame/
func FuzzDecodeSession(f *testing.F) {
	s := NewSession(CmdPairAccept, 6, 42, testMAC)
	f.Add(s.Encode())
	f.Add([]byte{})
	f.Add(bytes.Repeat([]byte{0x01}, SessionSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		got, err := DecodeSession(data)
		if err != nil {
			return
		}
		if re := got.Encode(); !bytes.Equal(re, data[:SessionSize]) {
			t.Fatalf("re-encode mismatch:\n got %X\nwant %X", re, data[:SessionSize])
		}
	})
}
