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

package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/link"
	virt "github.com/ZaparooProject/go-nowpair/internal/testing"
)

var (
	macA = nowpair.MAC{0x24, 0x0A, 0xC4, 0x10, 0x20, 0x30}
	macB = nowpair.MAC{0x24, 0x0A, 0xC4, 0x40, 0x50, 0x60}
)

func newClient(t *testing.T, v *virt.VirtualBridge) *Client {
	t.Helper()
	c := New(v, Options{Port: "virtual", Transport: "TEST", RequestTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type received struct {
	data []byte
	src  nowpair.MAC
}

func collect(c *Client) chan received {
	ch := make(chan received, 8)
	c.SetReceiveHandler(nowpair.ReceiveFunc(func(src nowpair.MAC, data []byte) {
		ch <- received{src: src, data: append([]byte(nil), data...)}
	}))
	return ch
}

func TestClient_Requests(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)

	mac, err := c.LocalMAC()
	require.NoError(t, err)
	assert.Equal(t, macA, mac)

	require.NoError(t, c.SetChannel(6))
	require.NoError(t, c.RegisterPeer(macB, 6, []byte("0123456789abcdef")))

	st := v.State()
	assert.Equal(t, uint8(6), st.Channel)
	require.Contains(t, st.Peers, macB)
	assert.Equal(t, []byte("0123456789abcdef"), st.Peers[macB].LinkKey)
}

func TestClient_TransmitBetweenLinkedBridges(t *testing.T) {
	t.Parallel()

	va, vb := virt.NewVirtualBridge(macA), virt.NewVirtualBridge(macB)
	virt.Link(va, vb)
	a, b := newClient(t, va), newClient(t, vb)
	got := collect(b)

	require.NoError(t, a.Transmit(nowpair.BroadcastMAC, []byte("beacon")))

	select {
	case r := <-got:
		assert.Equal(t, macA, r.src)
		assert.Equal(t, []byte("beacon"), r.data)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	assert.Equal(t, uint64(1), b.Stats().Events)
}

func TestClient_Sniffing(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)

	got := make(chan nowpair.SniffedPacket, 4)
	require.NoError(t, c.StartSniffing(nowpair.SniffFunc(func(pkt nowpair.SniffedPacket) {
		got <- pkt
	})))
	assert.True(t, v.State().Sniffing)

	v.InjectSniffed(nowpair.SniffedPacket{Type: nowpair.PacketManagement, RSSI: -70, Payload: []byte{1, 2}})
	select {
	case pkt := <-got:
		assert.Equal(t, int8(-70), pkt.RSSI)
		assert.Equal(t, []byte{1, 2}, pkt.Payload)
	case <-time.After(time.Second):
		t.Fatal("no sniffed frame")
	}

	require.NoError(t, c.StopSniffing())
	assert.False(t, v.State().Sniffing)
}

func TestClient_StartSniffingFailureClearsHandler(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)
	v.FailNext(link.StatusRadio)

	called := make(chan struct{}, 1)
	err := c.StartSniffing(nowpair.SniffFunc(func(nowpair.SniffedPacket) { called <- struct{}{} }))
	require.ErrorIs(t, err, nowpair.ErrBridgeStatusError)

	v.InjectSniffed(nowpair.SniffedPacket{Payload: []byte{1}})
	require.Eventually(t, func() bool { return c.Stats().Events == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, called)
}

func TestClient_StatusErrorCarriesTrace(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)
	v.FailNext(link.StatusNoPeer)

	err := c.Transmit(macB, []byte("x"))
	require.ErrorIs(t, err, nowpair.ErrBridgeStatusError)
	assert.Contains(t, err.Error(), "no such peer")
	assert.False(t, nowpair.IsFatal(err))

	trace := nowpair.GetTrace(err)
	require.NotNil(t, trace)
	assert.Equal(t, "TEST", trace.Transport)
	require.Len(t, trace.Trace, 2)
	assert.Equal(t, nowpair.TraceTX, trace.Trace[0].Direction)
	assert.Equal(t, nowpair.TraceRX, trace.Trace[1].Direction)

	require.NoError(t, c.Transmit(macB, []byte("x")))
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)
	v.SetSilent(true)

	start := time.Now()
	err := c.SetChannel(1)
	require.ErrorIs(t, err, nowpair.ErrTransportTimeout)
	assert.True(t, nowpair.IsRetryable(err))
	assert.False(t, nowpair.IsFatal(err))
	assert.NotNil(t, nowpair.GetTrace(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	v.SetSilent(false)
	require.NoError(t, c.SetChannel(2))
}

func TestClient_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	c := newClient(t, virt.NewVirtualBridge(macA))
	err := c.Transmit(macB, make([]byte, link.MaxRadioPayload+1))
	require.ErrorIs(t, err, nowpair.ErrPayloadTooLarge)
	assert.False(t, nowpair.IsRetryable(err))

	err = c.RegisterPeer(macB, 1, make([]byte, 33))
	require.ErrorIs(t, err, nowpair.ErrPayloadTooLarge)
}

func TestClient_BadEventBody(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)

	raw, err := link.Encode(link.TypeReceived, []byte{1, 2})
	require.NoError(t, err)
	v.InjectRaw(raw)

	require.Eventually(t, func() bool { return c.Stats().BadEvents == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SetChannel(3))
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := New(v, Options{Port: "virtual"})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.SetChannel(1)
	require.ErrorIs(t, err, nowpair.ErrTransportClosed)
	assert.True(t, nowpair.IsFatal(err))
}

func TestClient_ReaderFailureIsFatal(t *testing.T) {
	t.Parallel()

	v := virt.NewVirtualBridge(macA)
	c := newClient(t, v)
	require.NoError(t, v.Close())

	require.Eventually(t, func() bool {
		return errors.Is(c.SetChannel(1), nowpair.ErrTransportRead)
	}, time.Second, 5*time.Millisecond)

	err := c.SetChannel(1)
	require.ErrorIs(t, err, nowpair.ErrTransportRead)
	assert.True(t, nowpair.IsFatal(err))
}

func TestClient_OverJitteryConnection(t *testing.T) {
	t.Parallel()

	va, vb := virt.NewVirtualBridge(macA), virt.NewVirtualBridge(macB)
	virt.Link(va, vb)
	cfg := virt.DefaultJitterConfig()
	cfg.Seed = 42
	a := New(virt.NewJitteryConn(va, cfg), Options{Port: "a"})
	b := New(virt.NewJitteryConn(vb, cfg), Options{Port: "b"})
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	got := collect(b)

	for i := range 10 {
		require.NoError(t, a.Transmit(macB, []byte{byte(i), 0xAA, 0x55}))
	}
	for i := range 10 {
		select {
		case r := <-got:
			assert.Equal(t, []byte{byte(i), 0xAA, 0x55}, r.data)
		case <-time.After(time.Second):
			t.Fatalf("frame %d missing", i)
		}
	}
}

func TestIsInterruptedSystemCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil},
		{name: "other error", err: assert.AnError},
		{name: "interrupted", err: errString("read /dev/ttyUSB0: interrupted system call"), want: true},
		{name: "errno name", err: errString("EINTR"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsInterruptedSystemCall(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
