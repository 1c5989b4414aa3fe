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
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-nowpair"
)

// SessionSize is the packed size of a Session frame.
const SessionSize = 22

// Session field offsets.
const (
	sessionOffVersion = 0
	sessionOffCommand = 1
	sessionOffFlags   = 2
	sessionOffSeqID   = 3
	sessionOffPayload = 4
	sessionOffNonce   = 8
	sessionOffTag     = 12
	sessionOffSender  = 16
)

// Command is the Session frame operation.
type Command uint8

// Protocol commands. Values outside this set are application commands and
// pass through the router untouched.
const (
	CmdPairRequest Command = 0x01
	CmdPairAccept  Command = 0x02
	CmdHeartbeat   Command = 0x03
	CmdAck         Command = 0x04
)

func (c Command) String() string {
	switch c {
	case CmdPairRequest:
		return "PairRequest"
	case CmdPairAccept:
		return "PairAccept"
	case CmdHeartbeat:
		return "Heartbeat"
	case CmdAck:
		return "Ack"
	default:
		return fmt.Sprintf("Command(0x%02X)", uint8(c))
	}
}

// IsProtocol reports whether c is one of the pairing protocol commands.
func (c Command) IsProtocol() bool {
	return c >= CmdPairRequest && c <= CmdAck
}

// FlagAckRequired asks the receiver to answer with an Ack.
const FlagAckRequired uint8 = 0x01

// Session is a post-discovery control frame.
type Session struct {
	Payload   [4]byte
	Nonce     [4]byte
	Tag       [4]byte
	SenderMAC nowpair.MAC
	Version   uint8
	Command   Command
	Flags     uint8
	SeqID     uint8
}

// NewSession returns a frame with the version set and the nonce derived
// from seq. The tag is reserved and left zero.
func NewSession(cmd Command, flags, seq uint8, sender nowpair.MAC) Session {
	s := Session{
		Version:   Version,
		Command:   cmd,
		Flags:     flags,
		SenderMAC: sender,
	}
	s.SetSeqID(seq)
	return s
}

// SetSeqID replaces the sequence number and the nonce derived from it.
func (s *Session) SetSeqID(seq uint8) {
	s.SeqID = seq
	binary.LittleEndian.PutUint32(s.Nonce[:], uint32(seq))
}

// AckRequired reports whether bit 0 of Flags is set.
func (s Session) AckRequired() bool {
	return s.Flags&FlagAckRequired != 0
}

// Params views the payload as two little-endian int16 values.
func (s Session) Params() (p1, p2 int16) {
	p1 = int16(binary.LittleEndian.Uint16(s.Payload[0:2])) //nolint:gosec // two's complement view
	p2 = int16(binary.LittleEndian.Uint16(s.Payload[2:4])) //nolint:gosec // two's complement view
	return p1, p2
}

// SetParams stores two int16 values in the payload.
func (s *Session) SetParams(p1, p2 int16) {
	binary.LittleEndian.PutUint16(s.Payload[0:2], uint16(p1)) //nolint:gosec // two's complement view
	binary.LittleEndian.PutUint16(s.Payload[2:4], uint16(p2)) //nolint:gosec // two's complement view
}

// Encode returns the SessionSize wire form.
func (s Session) Encode() []byte {
	buf := make([]byte, SessionSize)
	buf[sessionOffVersion] = s.Version
	buf[sessionOffCommand] = byte(s.Command)
	buf[sessionOffFlags] = s.Flags
	buf[sessionOffSeqID] = s.SeqID
	copy(buf[sessionOffPayload:], s.Payload[:])
	copy(buf[sessionOffNonce:], s.Nonce[:])
	copy(buf[sessionOffTag:], s.Tag[:])
	copy(buf[sessionOffSender:], s.SenderMAC[:])
	return buf
}

// DecodeSession parses the first SessionSize bytes of data.
func DecodeSession(data []byte) (Session, error) {
	var s Session
	if len(data) < SessionSize {
		return s, fmt.Errorf("%w: session needs %d bytes, got %d", nowpair.ErrFrameTooShort, SessionSize, len(data))
	}
	if data[sessionOffVersion] != Version {
		return s, fmt.Errorf("%w: session version %d", nowpair.ErrUnsupportedVersion, data[sessionOffVersion])
	}

	s.Version = data[sessionOffVersion]
	s.Command = Command(data[sessionOffCommand])
	s.Flags = data[sessionOffFlags]
	s.SeqID = data[sessionOffSeqID]
	copy(s.Payload[:], data[sessionOffPayload:sessionOffNonce])
	copy(s.Nonce[:], data[sessionOffNonce:sessionOffTag])
	copy(s.Tag[:], data[sessionOffTag:sessionOffSender])
	copy(s.SenderMAC[:], data[sessionOffSender:SessionSize])
	return s, nil
}
