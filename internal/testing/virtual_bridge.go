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

// Package testing provides wire-level doubles for the bridge adapters: a
// virtual radio co-processor that speaks the link framing, and a connection
// wrapper that fragments and delays reads the way USB serial adapters do.
package testing

import (
	"bytes"
	"io"
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/link"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

// defaultReadWait is how long Read waits for output before returning zero
// bytes, like a serial port with a read timeout.
const defaultReadWait = 5 * time.Millisecond

// BridgeState is a snapshot of a VirtualBridge.
type BridgeState struct {
	Peers       map[nowpair.MAC]link.Peer
	Transmitted []link.Transmit
	Commands    int
	Corrupted   int
	MAC         nowpair.MAC
	Channel     uint8
	Sniffing    bool
}

// VirtualBridge simulates a radio co-processor on the far end of a serial
// or SPI link. The host writes request frames; the bridge answers each one
// with a Status or MAC frame and also emits Received and Sniffed events.
//
// Two bridges joined with Link deliver each other's transmissions, so two
// adapters can pair over them.
type VirtualBridge struct {
	decoder     *link.Decoder
	peer        *VirtualBridge
	notify      chan struct{}
	peers       map[nowpair.MAC]link.Peer
	failures    []byte
	transmitted []link.Transmit
	tx          bytes.Buffer
	readWait    time.Duration
	commands    int
	mu          syncutil.Mutex
	mac         nowpair.MAC
	channel     uint8
	sniffing    bool
	silent      bool
	closed      bool
}

// NewVirtualBridge creates a bridge with the given radio address.
func NewVirtualBridge(mac nowpair.MAC) *VirtualBridge {
	return &VirtualBridge{
		mac:      mac,
		decoder:  link.NewDecoder("virtual"),
		notify:   make(chan struct{}, 1),
		peers:    make(map[nowpair.MAC]link.Peer),
		readWait: defaultReadWait,
	}
}

// Link joins a and b on the same air: each delivers its Transmit requests to
// the other when they share a channel.
func Link(a, b *VirtualBridge) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// Write implements io.Writer. It decodes complete request frames and queues
// the replies.
func (v *VirtualBridge) Write(data []byte) (int, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	_, _ = v.decoder.Write(data)

	var deliveries []link.Transmit
	var target *VirtualBridge
	for {
		f, ok := v.decoder.Next()
		if !ok {
			break
		}
		v.commands++
		if tx, deliver := v.handle(f); deliver {
			deliveries = append(deliveries, tx)
			target = v.peer
		}
	}
	channel := v.channel
	v.mu.Unlock()

	// Delivered outside our lock; the peer takes its own.
	if target != nil {
		for _, tx := range deliveries {
			target.hear(v.mac, channel, tx)
		}
	}
	return len(data), nil
}

// handle runs one request with v.mu held.
func (v *VirtualBridge) handle(f link.Frame) (link.Transmit, bool) {
	if len(v.failures) > 0 {
		code := v.failures[0]
		v.failures = v.failures[1:]
		v.reply(link.EncodeStatus(code))
		return link.Transmit{}, false
	}

	switch f.Type {
	case link.TypeGetMAC:
		v.reply(link.EncodeMAC(v.mac))
	case link.TypeSetChannel:
		if len(f.Data) < 1 {
			v.reply(link.EncodeStatus(link.StatusBadFrame))
			break
		}
		v.channel = f.Data[0]
		v.reply(link.EncodeStatus(link.StatusOK))
	case link.TypeSniff:
		if len(f.Data) < 1 {
			v.reply(link.EncodeStatus(link.StatusBadFrame))
			break
		}
		v.sniffing = f.Data[0] != 0
		v.reply(link.EncodeStatus(link.StatusOK))
	case link.TypeRegisterPeer:
		p, err := link.ParsePeer(f.Data)
		if err != nil {
			v.reply(link.EncodeStatus(link.StatusBadFrame))
			break
		}
		v.peers[p.MAC] = p
		v.reply(link.EncodeStatus(link.StatusOK))
	case link.TypeTransmit:
		tx, err := link.ParseTransmit(f.Data)
		if err != nil {
			v.reply(link.EncodeStatus(link.StatusBadFrame))
			break
		}
		v.transmitted = append(v.transmitted, tx)
		v.reply(link.EncodeStatus(link.StatusOK))
		return tx, true
	default:
		v.reply(link.EncodeStatus(link.StatusBadFrame))
	}
	return link.Transmit{}, false
}

// hear takes a transmission from a linked bridge.
func (v *VirtualBridge) hear(src nowpair.MAC, channel uint8, tx link.Transmit) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || (channel != 0 && v.channel != 0 && channel != v.channel) {
		return
	}
	if v.sniffing {
		v.emit(link.EncodeSniffed(nowpair.SniffedPacket{
			Type:    nowpair.PacketManagement,
			RSSI:    -40,
			Payload: tx.Payload,
		}))
	}
	if tx.Dst.IsBroadcast() || tx.Dst == v.mac {
		v.emit(link.EncodeReceived(link.Received{Src: src, RSSI: -40, Payload: tx.Payload}))
	}
}

func (v *VirtualBridge) reply(raw []byte, err error) {
	if v.silent {
		return
	}
	v.emit(raw, err)
}

func (v *VirtualBridge) emit(raw []byte, err error) {
	if err != nil {
		return
	}
	v.tx.Write(raw)
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Read implements io.Reader. With nothing to send it waits briefly and then
// returns zero bytes.
func (v *VirtualBridge) Read(buf []byte) (int, error) {
	deadline := time.NewTimer(v.readWait)
	defer deadline.Stop()

	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return 0, io.EOF
		}
		if v.tx.Len() > 0 {
			n, _ := v.tx.Read(buf)
			v.mu.Unlock()
			return n, nil
		}
		v.mu.Unlock()

		select {
		case <-v.notify:
		case <-deadline.C:
			return 0, nil
		}
	}
}

// InjectReceived queues a Received event as if src sent payload to us.
func (v *VirtualBridge) InjectReceived(src nowpair.MAC, rssi int8, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emit(link.EncodeReceived(link.Received{Src: src, RSSI: rssi, Payload: payload}))
}

// InjectSniffed queues a Sniffed event. It is queued even when sniffing is
// off, which real bridges do for a short while after the host turns it off.
func (v *VirtualBridge) InjectSniffed(pkt nowpair.SniffedPacket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emit(link.EncodeSniffed(pkt))
}

// InjectRaw queues arbitrary bytes on the wire to the host.
func (v *VirtualBridge) InjectRaw(raw []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emit(raw, nil)
}

// FailNext makes the next requests answer with the given status codes
// instead of running.
func (v *VirtualBridge) FailNext(codes ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = append(v.failures, codes...)
}

// SetSilent stops replies to requests. Events are still sent.
func (v *VirtualBridge) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// Close makes further reads return io.EOF, as an unplugged adapter does.
func (v *VirtualBridge) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	select {
	case v.notify <- struct{}{}:
	default:
	}
	return nil
}

// State returns a copy of the bridge state.
func (v *VirtualBridge) State() BridgeState {
	v.mu.Lock()
	defer v.mu.Unlock()

	peers := make(map[nowpair.MAC]link.Peer, len(v.peers))
	for k, p := range v.peers {
		peers[k] = p
	}
	return BridgeState{
		MAC:         v.mac,
		Channel:     v.channel,
		Sniffing:    v.sniffing,
		Peers:       peers,
		Transmitted: append([]link.Transmit(nil), v.transmitted...),
		Commands:    v.commands,
		Corrupted:   v.decoder.Corrupted(),
	}
}
