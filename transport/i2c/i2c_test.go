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

package i2c

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/link"
	virt "github.com/ZaparooProject/go-nowpair/internal/testing"
)

var (
	localMAC = nowpair.MAC{0x24, 0x0A, 0xC4, 0x00, 0x03, 0x01}
	peerMAC  = nowpair.MAC{0x24, 0x0A, 0xC4, 0x00, 0x03, 0x02}
)

var errNACK = errors.New("i2c: no ACK from target")

// MockBus plays the bridge's register interface on top of a VirtualBridge.
type MockBus struct {
	sim     *virt.VirtualBridge
	pending []byte
	addr    uint16
	mu      sync.Mutex
	closed  bool
}

func NewMockBus(sim *virt.VirtualBridge, addr uint16) *MockBus {
	return &MockBus{sim: sim, addr: addr}
}

// Tx implements i2c.Bus.
func (m *MockBus) Tx(addr uint16, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("bus closed")
	}
	if addr != m.addr {
		return errNACK
	}
	if len(r) == 0 {
		_, err := m.sim.Write(w)
		return err //nolint:wrapcheck // test double
	}

	switch w[0] {
	case regStatus:
		if len(m.pending) == 0 {
			buf := make([]byte, 255)
			n, err := m.sim.Read(buf)
			if err != nil {
				return err //nolint:wrapcheck // test double
			}
			m.pending = append(m.pending, buf[:n]...)
		}
		r[0] = byte(min(len(m.pending), 255))
	case regData:
		n := copy(r, m.pending)
		m.pending = m.pending[n:]
	}
	return nil
}

func (*MockBus) SetSpeed(_ physic.Frequency) error { return nil }

func (*MockBus) String() string { return "mock-i2c" }

func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockBus) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ i2c.BusCloser = (*MockBus)(nil)

func TestParseI2CPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		bus     string
		addr    uint16
		wantErr bool
	}{
		{path: "/dev/i2c-1", bus: "/dev/i2c-1", addr: DefaultAddr},
		{path: "/dev/i2c-1:0x24", bus: "/dev/i2c-1", addr: 0x24},
		{path: "1:66", bus: "1", addr: 66},
		{path: "/dev/i2c-1:0x80", wantErr: true},
		{path: "/dev/i2c-1:zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			bus, addr, err := parseI2CPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bus, bus)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func TestI2C_OpenAndRequests(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualBridge(localMAC)
	tr, err := NewFromBus(NewMockBus(sim, DefaultAddr), "/dev/i2c-1", DefaultAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, localMAC, tr.LocalMAC())
	assert.Equal(t, nowpair.TransportI2C, tr.Type())

	require.NoError(t, tr.SetChannel(3))
	require.NoError(t, tr.RegisterPeer(peerMAC, 3, nil))
	require.NoError(t, tr.Transmit(peerMAC, []byte("hi")))

	st := sim.State()
	assert.Equal(t, uint8(3), st.Channel)
	assert.Contains(t, st.Peers, peerMAC)
	require.Len(t, st.Transmitted, 1)

	sim.FailNext(link.StatusBusy)
	err = tr.Transmit(peerMAC, []byte("again"))
	require.ErrorIs(t, err, nowpair.ErrBridgeStatusError)
	assert.Equal(t, "I2C", nowpair.GetTrace(err).Transport)
}

func TestI2C_WrongAddressFailsOpen(t *testing.T) {
	t.Parallel()

	bus := NewMockBus(virt.NewVirtualBridge(localMAC), 0x24)
	_, err := NewFromBus(bus, "/dev/i2c-1", DefaultAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/i2c-1")
	assert.True(t, bus.isClosed())
}

func TestI2C_ReceiveAndClose(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualBridge(localMAC)
	bus := NewMockBus(sim, DefaultAddr)
	tr, err := NewFromBus(bus, "/dev/i2c-1", DefaultAddr)
	require.NoError(t, err)

	got := make(chan []byte, 1)
	tr.SetReceiveHandler(nowpair.ReceiveFunc(func(_ nowpair.MAC, data []byte) {
		got <- append([]byte(nil), data...)
	}))
	sim.InjectReceived(peerMAC, -60, []byte("over i2c"))

	select {
	case data := <-got:
		assert.Equal(t, []byte("over i2c"), data)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, bus.isClosed())
	require.ErrorIs(t, tr.SetChannel(1), nowpair.ErrTransportClosed)
}
