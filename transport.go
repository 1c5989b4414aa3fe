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

package nowpair

// TransportType names a radio bridge backend.
type TransportType string

const (
	// TransportUART is a radio co-processor on a serial port.
	TransportUART TransportType = "uart"
	// TransportSPI is a radio co-processor on an SPI bus.
	TransportSPI TransportType = "spi"
	// TransportI2C is a radio co-processor on an I2C bus.
	TransportI2C TransportType = "i2c"
	// TransportMock is the in-memory radio used by tests and simulation.
	TransportMock TransportType = "mock"
)

// PacketType classifies a passively captured radio frame.
type PacketType uint8

const (
	// PacketManagement frames carry beacons and vendor action payloads.
	PacketManagement PacketType = iota
	// PacketControl frames are link-layer control traffic.
	PacketControl
	// PacketData frames are ordinary data traffic.
	PacketData
)

func (t PacketType) String() string {
	switch t {
	case PacketManagement:
		return "management"
	case PacketControl:
		return "control"
	case PacketData:
		return "data"
	default:
		return "unknown"
	}
}

// SniffedPacket is one frame captured in passive listen mode.
type SniffedPacket struct {
	Payload []byte
	Type    PacketType
	RSSI    int8
}

// SniffHandler receives captured frames on the transport's own goroutine.
// Implementations must not block.
type SniffHandler interface {
	HandleSniff(pkt SniffedPacket)
}

// SniffFunc adapts a function to SniffHandler.
type SniffFunc func(pkt SniffedPacket)

// HandleSniff calls f(pkt).
func (f SniffFunc) HandleSniff(pkt SniffedPacket) {
	f(pkt)
}

// ReceiveHandler receives addressed frames on the transport's own goroutine.
// Implementations must not block. data is only valid for the call.
type ReceiveHandler interface {
	HandleReceive(src MAC, data []byte)
}

// ReceiveFunc adapts a function to ReceiveHandler.
type ReceiveFunc func(src MAC, data []byte)

// HandleReceive calls f(src, data).
func (f ReceiveFunc) HandleReceive(src MAC, data []byte) {
	f(src, data)
}

// PeerRegistrar adds a unicast peer to the radio's peer table.
// linkKey may be nil for an unencrypted link.
type PeerRegistrar interface {
	RegisterPeer(mac MAC, channel uint8, linkKey []byte) error
}

// Transport is the radio capability the pairing core consumes.
type Transport interface {
	PeerRegistrar

	// Transmit sends data to dst. BroadcastMAC reaches every station.
	Transmit(dst MAC, data []byte) error

	// SetChannel tunes the radio.
	SetChannel(channel uint8) error

	// LocalMAC returns the radio's own address.
	LocalMAC() MAC

	// SetReceiveHandler installs the delivery point for received frames.
	// A nil handler discards them.
	SetReceiveHandler(h ReceiveHandler)

	// Close releases the bridge.
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// Sniffer is implemented by transports that can listen passively for
// management frames, which the boss role needs.
type Sniffer interface {
	StartSniffing(h SniffHandler) error
	StopSniffing() error
}
