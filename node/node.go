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

// Package node wires the pairing components into one host: a beacon engine,
// a frame router, the worker handshake or the boss responder, and the
// transmit drain, all advanced by a single non-blocking Tick.
package node

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/auth"
	"github.com/ZaparooProject/go-nowpair/beacon"
	"github.com/ZaparooProject/go-nowpair/frame"
	"github.com/ZaparooProject/go-nowpair/pairing"
	"github.com/ZaparooProject/go-nowpair/queue"
	"github.com/ZaparooProject/go-nowpair/router"
)

// Node is one end of a pairing. Tick and every method except the transport
// receive callback belong to a single goroutine.
type Node struct {
	store     nowpair.ConfigStore
	transport nowpair.Transport
	clock     nowpair.Clock
	engine    *beacon.Engine
	pairing   *pairing.Manager
	responder *responder
	router    *router.Router[frame.Session]
	app       *queue.Bounded[frame.Session]

	// Written from the receive goroutine.
	received  atomic.Uint64
	malformed atomic.Uint64
	spoofed   atomic.Uint64
	overflow  atomic.Uint64

	tickInterval   time.Duration
	sleepThreshold time.Duration
	createdAt      uint64
	startupDelay   uint64
	lastSequence   uint8
	role           Role
	channel        uint8
	started        bool
}

// New builds a node for opts.Role and installs its receive handler on the
// transport. Nothing is transmitted until the startup delay has passed.
func New(opts Options) (*Node, error) {
	if opts.Store == nil || opts.Transport == nil {
		return nil, fmt.Errorf("%w: store and transport are required", nowpair.ErrInvalidParameter)
	}
	if opts.Role != RoleWorker && opts.Role != RoleBoss {
		return nil, fmt.Errorf("%w: role %s", nowpair.ErrInvalidParameter, opts.Role)
	}
	if opts.Role == RoleBoss {
		if _, ok := opts.Transport.(nowpair.Sniffer); !ok {
			return nil, fmt.Errorf("%w: %s", nowpair.ErrSniffUnsupported, opts.Transport.Type())
		}
	}
	if opts.Clock == nil {
		opts.Clock = nowpair.NewSystemClock()
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = queue.DefaultCapacity
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultOptions(opts.Role).TickInterval
	}

	n := &Node{
		store:        opts.Store,
		transport:    opts.Transport,
		clock:        opts.Clock,
		role:         opts.Role,
		channel:      resolveChannel(opts),
		startupDelay: opts.StartupDelay,
		createdAt:    opts.Clock.Millis(),
		app:          queue.New[frame.Session](opts.QueueCapacity),

		tickInterval:   opts.TickInterval,
		sleepThreshold: opts.SleepThreshold,
	}
	n.router = router.New(
		queue.New[frame.Session](opts.QueueCapacity),
		queue.New[frame.Session](opts.QueueCapacity),
		queue.New[frame.Session](opts.QueueCapacity),
	)
	n.engine = beacon.NewEngine(opts.Store, opts.Transport, opts.Clock, opts.Beacon)

	switch opts.Role {
	case RoleWorker:
		n.pairing = pairing.NewManager(n.router, opts.Transport, opts.Clock, n.pairingConfig(opts.Pairing))
	case RoleBoss:
		n.responder = newResponder(n.engine, n.router, opts.Clock, opts.Transport.LocalMAC(), n.channel)
	}

	opts.Transport.SetReceiveHandler(nowpair.ReceiveFunc(n.handleReceive))
	return n, nil
}

func resolveChannel(opts Options) uint8 {
	if opts.Channel != 0 {
		return opts.Channel
	}
	ch, err := strconv.ParseUint(opts.Store.GetValue(nowpair.SectionESPNow, nowpair.KeyChannel), 10, 8)
	if err != nil || ch == 0 {
		return beacon.DefaultChannel
	}
	return uint8(ch)
}

// pairingConfig fills in the local address and, in secure mode, a link key
// salted with our own address, which is the one the boss saw in our beacon.
func (n *Node) pairingConfig(base *pairing.Config) *pairing.Config {
	cfg := pairing.DefaultConfig()
	if base != nil {
		c := *base
		cfg = &c
	}
	local := n.transport.LocalMAC()
	if cfg.LocalMAC.IsZero() {
		cfg.LocalMAC = local
	}
	if cfg.LinkKey == nil {
		cfg.LinkKey = func(nowpair.MAC) []byte {
			if !nowpair.SecureMode(n.store) {
				return nil
			}
			key, err := auth.DeriveLinkKey(nowpair.Secret(n.store), local)
			if err != nil {
				return nil
			}
			return key[:]
		}
	}
	return cfg
}

// handleReceive runs on the transport's receive goroutine. It keeps Session
// frames whose sender field matches the link-layer source and drops the
// rest, including beacons that happen to be addressed to broadcast.
func (n *Node) handleReceive(src nowpair.MAC, data []byte) {
	pkt, err := frame.DecodeSession(data)
	if err != nil {
		n.malformed.Add(1)
		return
	}
	if pkt.SenderMAC != src {
		n.spoofed.Add(1)
		return
	}
	if !n.router.ReceiveQueue().Push(pkt) {
		n.overflow.Add(1)
		return
	}
	n.received.Add(1)
}

// Tick advances the node by one step. It never blocks. The only error is a
// failure to start the radio once the startup delay has passed; Tick retries
// the start on the next call.
func (n *Node) Tick() error {
	if !n.started {
		if n.clock.Millis()-n.createdAt < n.startupDelay {
			return nil
		}
		if err := n.start(); err != nil {
			return err
		}
	}

	n.engine.Tick()
	if n.role == RoleWorker {
		n.openPairingWindow()
	}

	n.router.Tick()
	n.dispatchOne()

	if n.pairing != nil {
		n.pairing.Tick()
		if n.pairing.IsPaired() && n.engine.IsBroadcasting() {
			n.engine.StopBroadcasting()
			nowpair.Debugf("node: connected to %s, beacons stopped", n.pairing.PeerMAC())
		}
	}

	n.drainOne()
	return nil
}

func (n *Node) start() error {
	switch n.role {
	case RoleWorker:
		if err := n.engine.Begin(n.channel); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	case RoleBoss:
		if err := n.transport.SetChannel(n.channel); err != nil {
			return fmt.Errorf("start boss: set channel %d: %w", n.channel, err)
		}
		if err := n.engine.BeginPairing(); err != nil {
			return fmt.Errorf("start boss: %w", err)
		}
	}
	n.started = true
	nowpair.Debugf("node: %s started on channel %d", n.role, n.channel)
	return nil
}

// openPairingWindow starts a handshake after each beacon while no session is
// in progress, so a boss that only just heard us gets a PairRequest soon.
func (n *Node) openPairingWindow() {
	seq := n.engine.Sequence()
	if seq == n.lastSequence {
		return
	}
	n.lastSequence = seq
	switch n.pairing.State() {
	case pairing.StateIdle, pairing.StateTimeout:
		n.pairing.BeginPairing()
	default:
	}
}

func (n *Node) dispatchOne() {
	pkt, ok := n.router.HandlerQueue().Pop()
	if !ok {
		return
	}

	var consumed bool
	switch n.role {
	case RoleWorker:
		consumed = n.pairing.HandlePacket(pkt)
	case RoleBoss:
		consumed = n.responder.handle(pkt)
	}
	if consumed {
		return
	}
	if !n.app.Push(pkt) {
		nowpair.Debugf("node: application queue full, dropped %s #%d", pkt.Command, pkt.SeqID)
	}
}

func (n *Node) drainOne() {
	pkt, ok := n.router.TransmitQueue().Pop()
	if !ok {
		return
	}
	dst, known := n.Peer()
	if !known {
		dst = nowpair.BroadcastMAC
	}
	if err := n.transport.Transmit(dst, pkt.Encode()); err != nil {
		nowpair.Debugf("node: transmit %s #%d to %s: %v", pkt.Command, pkt.SeqID, dst, err)
	}
}

// Send queues an application frame for the peer. The sender address is
// filled in. It fails with ErrNotPaired before the link is up and with
// ErrQueueFull when the transmit queue is full.
func (n *Node) Send(pkt frame.Session) error {
	if !n.IsPaired() {
		return nowpair.ErrNotPaired
	}
	pkt.SenderMAC = n.transport.LocalMAC()
	if pkt.Version == 0 {
		pkt.Version = frame.Version
	}
	if !n.router.Enqueue(pkt) {
		return nowpair.ErrQueueFull
	}
	return nil
}

// Receive pops the next application frame.
func (n *Node) Receive() (frame.Session, bool) {
	return n.app.Pop()
}

// IsPaired reports whether the link is up: a worker whose handshake is
// connected, or a boss that accepted a beacon.
func (n *Node) IsPaired() bool {
	if n.role == RoleWorker {
		return n.pairing.IsPaired()
	}
	return n.engine.IsPaired()
}

// Peer returns the address of the other end once it is known.
func (n *Node) Peer() (nowpair.MAC, bool) {
	if n.role == RoleWorker {
		if !n.pairing.IsPaired() {
			return nowpair.MAC{}, false
		}
		return n.pairing.PeerMAC(), true
	}
	mac, _, ok := n.engine.Peer()
	return mac, ok
}

// PeerAlive returns the clock reading of the last heartbeat from the worker.
// Always zero on a worker.
func (n *Node) PeerAlive() uint64 {
	if n.responder == nil {
		return 0
	}
	return n.responder.peerAlive
}

// Started reports whether the startup delay has passed and the radio is up.
func (n *Node) Started() bool {
	return n.started
}

// Role returns the node's role.
func (n *Node) Role() Role {
	return n.role
}

// Channel returns the radio channel the node runs on.
func (n *Node) Channel() uint8 {
	return n.channel
}

// Engine exposes the beacon engine.
func (n *Node) Engine() *beacon.Engine {
	return n.engine
}

// Pairing exposes the worker handshake. Nil on a boss.
func (n *Node) Pairing() *pairing.Manager {
	return n.pairing
}

// Stats counts what the receive callback did with incoming frames.
type Stats struct {
	Received  uint64
	Malformed uint64
	Spoofed   uint64
	Overflow  uint64
}

// Stats returns the receive counters.
func (n *Node) Stats() Stats {
	return Stats{
		Received:  n.received.Load(),
		Malformed: n.malformed.Load(),
		Spoofed:   n.spoofed.Load(),
		Overflow:  n.overflow.Load(),
	}
}
