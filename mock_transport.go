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

import (
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

// SentFrame records one Transmit call on a MockTransport.
type SentFrame struct {
	Data    []byte
	Dst     MAC
	Channel uint8
}

// PeerEntry records one RegisterPeer call on a MockTransport.
type PeerEntry struct {
	LinkKey []byte
	MAC     MAC
	Channel uint8
}

// MockTransport provides a mock implementation of Transport and Sniffer.
// Standalone it records traffic; joined to an Air it also delivers frames
// to the other stations.
type MockTransport struct {
	recv        ReceiveHandler
	sniff       SniffHandler
	air         *Air
	txErr       error
	registerErr error
	peers       map[MAC]PeerEntry
	sent        []SentFrame
	mu          syncutil.RWMutex
	registered  int
	mac         MAC
	channel     uint8
	closed      bool
}

// NewMockTransport creates a mock radio with the given address.
func NewMockTransport(mac MAC) *MockTransport {
	return &MockTransport{
		mac:   mac,
		peers: make(map[MAC]PeerEntry),
	}
}

// Transmit implements Transport.
func (m *MockTransport) Transmit(dst MAC, data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	if m.txErr != nil {
		err := m.txErr
		m.mu.Unlock()
		return err
	}
	frame := SentFrame{Dst: dst, Data: append([]byte(nil), data...), Channel: m.channel}
	m.sent = append(m.sent, frame)
	air := m.air
	m.mu.Unlock()

	if air != nil {
		air.deliver(m, frame)
	}
	return nil
}

// RegisterPeer implements PeerRegistrar.
func (m *MockTransport) RegisterPeer(mac MAC, channel uint8, linkKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerErr != nil {
		return m.registerErr
	}
	m.peers[mac] = PeerEntry{MAC: mac, Channel: channel, LinkKey: append([]byte(nil), linkKey...)}
	m.registered++
	return nil
}

// SetChannel implements Transport.
func (m *MockTransport) SetChannel(channel uint8) error {
	m.mu.Lock()
	m.channel = channel
	m.mu.Unlock()
	return nil
}

// LocalMAC implements Transport.
func (m *MockTransport) LocalMAC() MAC {
	return m.mac
}

// SetReceiveHandler implements Transport.
func (m *MockTransport) SetReceiveHandler(h ReceiveHandler) {
	m.mu.Lock()
	m.recv = h
	m.mu.Unlock()
}

// StartSniffing implements Sniffer.
func (m *MockTransport) StartSniffing(h SniffHandler) error {
	m.mu.Lock()
	m.sniff = h
	m.mu.Unlock()
	return nil
}

// StopSniffing implements Sniffer.
func (m *MockTransport) StopSniffing() error {
	m.mu.Lock()
	m.sniff = nil
	m.mu.Unlock()
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	air := m.air
	m.mu.Unlock()

	if air != nil {
		air.leave(m)
	}
	return nil
}

// Type implements Transport.
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// InjectReceive delivers data as if it arrived from src.
func (m *MockTransport) InjectReceive(src MAC, data []byte) {
	m.mu.RLock()
	h := m.recv
	m.mu.RUnlock()
	if h != nil {
		h.HandleReceive(src, data)
	}
}

// InjectSniff delivers pkt as if it was captured in listen mode.
// It is dropped when sniffing is off.
func (m *MockTransport) InjectSniff(pkt SniffedPacket) {
	m.mu.RLock()
	h := m.sniff
	m.mu.RUnlock()
	if h != nil {
		h.HandleSniff(pkt)
	}
}

// Sent returns a copy of every transmitted frame, oldest first.
func (m *MockTransport) Sent() []SentFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SentFrame(nil), m.sent...)
}

// ClearSent forgets transmitted frames.
func (m *MockTransport) ClearSent() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// Peer returns the registration for mac.
func (m *MockTransport) Peer(mac MAC) (PeerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[mac]
	return p, ok
}

// RegisterCount returns how many RegisterPeer calls succeeded.
func (m *MockTransport) RegisterCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered
}

// Channel returns the tuned channel.
func (m *MockTransport) Channel() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channel
}

// IsSniffing reports whether a sniff handler is installed.
func (m *MockTransport) IsSniffing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sniff != nil
}

// SetTransmitError makes Transmit fail with err until cleared with nil.
func (m *MockTransport) SetTransmitError(err error) {
	m.mu.Lock()
	m.txErr = err
	m.mu.Unlock()
}

// SetRegisterError makes RegisterPeer fail with err until cleared with nil.
func (m *MockTransport) SetRegisterError(err error) {
	m.mu.Lock()
	m.registerErr = err
	m.mu.Unlock()
}

func (m *MockTransport) handlers() (ReceiveHandler, SniffHandler, uint8) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recv, m.sniff, m.channel
}

// Air is an in-memory radio medium shared by MockTransports. Delivery is
// synchronous on the transmitting goroutine, which then plays the role of
// the receiving station's radio context.
type Air struct {
	intercept func(src, dst MAC, data []byte) []byte
	stations  []*MockTransport
	mu        syncutil.Mutex
}

// NewAir creates an empty medium.
func NewAir() *Air {
	return &Air{}
}

// Join creates a MockTransport with the given address attached to the medium.
func (a *Air) Join(mac MAC) *MockTransport {
	m := NewMockTransport(mac)
	m.air = a

	a.mu.Lock()
	a.stations = append(a.stations, m)
	a.mu.Unlock()
	return m
}

// SetIntercept installs fn on every delivery. fn may return a modified copy
// of data, or nil to drop the frame.
func (a *Air) SetIntercept(fn func(src, dst MAC, data []byte) []byte) {
	a.mu.Lock()
	a.intercept = fn
	a.mu.Unlock()
}

func (a *Air) leave(m *MockTransport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, st := range a.stations {
		if st == m {
			a.stations = append(a.stations[:i], a.stations[i+1:]...)
			return
		}
	}
}

// deliver hands frame to every other station on the same channel. Channel 0
// means "current channel" and matches any. Sniffing stations see every frame
// as management traffic; addressed stations also get it on their receive
// handler.
func (a *Air) deliver(from *MockTransport, frame SentFrame) {
	a.mu.Lock()
	stations := append([]*MockTransport(nil), a.stations...)
	intercept := a.intercept
	a.mu.Unlock()

	data := frame.Data
	if intercept != nil {
		data = intercept(from.mac, frame.Dst, append([]byte(nil), data...))
		if data == nil {
			return
		}
	}

	for _, st := range stations {
		if st == from {
			continue
		}
		recv, sniff, channel := st.handlers()
		if frame.Channel != 0 && channel != 0 && frame.Channel != channel {
			continue
		}
		if sniff != nil {
			sniff.HandleSniff(SniffedPacket{
				Type:    PacketManagement,
				Payload: append([]byte(nil), data...),
				RSSI:    -40,
			})
		}
		if recv != nil && (frame.Dst.IsBroadcast() || frame.Dst == st.mac) {
			recv.HandleReceive(from.mac, append([]byte(nil), data...))
		}
	}
}
