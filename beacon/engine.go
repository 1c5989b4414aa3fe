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

// Package beacon implements discovery: a worker broadcasts signed beacons on a
// fixed interval, and a boss listens passively, screens what it hears, and
// accepts the first candidate that authenticates.
//
// Screening is split across two contexts. HandleSniff runs on the
// transport's receive goroutine and only decodes the frame and checks that
// its security mode matches the configuration before queueing it. Tick runs
// on the host loop and does the cryptographic check, at most one acceptance
// per call.
package beacon

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/auth"
	"github.com/ZaparooProject/go-nowpair/frame"
	"github.com/ZaparooProject/go-nowpair/queue"
)

// Role selects which half of discovery an Engine performs.
type Role int

const (
	// RoleNone is an engine that has not been started.
	RoleNone Role = iota
	// RoleWorker broadcasts beacons.
	RoleWorker
	// RoleBoss listens for beacons.
	RoleBoss
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleWorker:
		return "worker"
	case RoleBoss:
		return "boss"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// DefaultChannel is the radio channel used when none is configured.
const DefaultChannel uint8 = 6

// Config holds construction-time settings for an Engine.
type Config struct {
	// QueueCapacity bounds the candidate beacon queue.
	QueueCapacity int
	// DefaultInterval is the beacon period kept when espnow/beaconInterval
	// is missing or out of range.
	DefaultInterval uint64
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueCapacity:   queue.DefaultCapacity,
		DefaultInterval: nowpair.DefaultBeaconInterval,
	}
}

// Engine is the beacon engine for one node. A node is either a worker or a
// boss for the lifetime of a pairing attempt.
type Engine struct {
	store      nowpair.ConfigStore
	transport  nowpair.Transport
	clock      nowpair.Clock
	sniffer    nowpair.Sniffer
	candidates *queue.Bounded[frame.Beacon]
	config     *Config

	lastSent frame.Beacon

	// Read from the receive goroutine.
	paired    atomic.Bool
	listening atomic.Bool
	heard     atomic.Uint64
	screened  atomic.Uint64
	dropped   atomic.Uint64

	rejected     uint64
	lastBeacon   uint64
	interval     uint64
	role         Role
	peer         nowpair.MAC
	peerChannel  uint8
	channel      uint8
	sequence     uint8
	broadcasting bool
}

// NewEngine creates an idle engine. A nil config uses DefaultConfig.
func NewEngine(store nowpair.ConfigStore, transport nowpair.Transport, clock nowpair.Clock, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		store:      store,
		transport:  transport,
		clock:      clock,
		config:     config,
		candidates: queue.New[frame.Beacon](config.QueueCapacity),
		interval:   config.DefaultInterval,
		channel:    DefaultChannel,
	}
}

// Begin starts the worker role on channel: it reads the beacon interval,
// tunes the radio and starts broadcasting. It fails with ErrWrongRole on an
// engine already started as a boss.
func (e *Engine) Begin(channel uint8) error {
	if e.role == RoleBoss {
		return fmt.Errorf("%w: begin worker on a %s engine", nowpair.ErrWrongRole, e.role)
	}
	e.role = RoleWorker
	e.channel = channel
	e.paired.Store(false)
	e.broadcasting = true
	e.interval = nowpair.BeaconInterval(e.store, e.config.DefaultInterval)

	if err := e.transport.SetChannel(channel); err != nil {
		return fmt.Errorf("set channel %d: %w", channel, err)
	}
	nowpair.Debugf("beacon: worker started on channel %d, interval %dms", channel, e.interval)
	return nil
}

// BeginPairing starts the boss role. The transport must also implement
// nowpair.Sniffer; the engine installs itself as the sniff handler. It fails
// with ErrWrongRole on an engine already started as a worker.
func (e *Engine) BeginPairing() error {
	if e.role == RoleWorker {
		return fmt.Errorf("%w: begin pairing on a %s engine", nowpair.ErrWrongRole, e.role)
	}
	sniffer, ok := e.transport.(nowpair.Sniffer)
	if !ok {
		return fmt.Errorf("%w: %s", nowpair.ErrSniffUnsupported, e.transport.Type())
	}

	e.role = RoleBoss
	e.sniffer = sniffer
	e.broadcasting = false
	e.paired.Store(false)
	e.candidates.Clear()
	e.listening.Store(true)

	if err := sniffer.StartSniffing(e); err != nil {
		e.listening.Store(false)
		return fmt.Errorf("start sniffing: %w", err)
	}
	nowpair.Debugln("beacon: boss is listening for beacons")
	return nil
}

// HandleSniff implements nowpair.SniffHandler. It runs on the transport's
// receive goroutine: it never blocks and never touches tick-owned state.
func (e *Engine) HandleSniff(pkt nowpair.SniffedPacket) {
	if !e.listening.Load() || e.paired.Load() || pkt.Type != nowpair.PacketManagement {
		return
	}

	candidate, err := frame.DecodeBeacon(pkt.Payload)
	if err != nil {
		return
	}
	e.heard.Add(1)

	expectSecure := nowpair.SecureMode(e.store)
	if expectSecure && candidate.Unencrypted {
		e.screened.Add(1)
		nowpair.Debugf("beacon: reject %s #%d: cleartext beacon while secure mode is on",
			candidate.MAC, candidate.SequenceID)
		return
	}
	if !expectSecure && !candidate.Unencrypted {
		e.screened.Add(1)
		nowpair.Debugf("beacon: reject %s #%d: secure beacon while secure mode is off",
			candidate.MAC, candidate.SequenceID)
		return
	}

	if !e.candidates.Push(candidate) {
		e.dropped.Add(1)
	}
}

// Tick advances the engine. A worker sends a beacon when one is due; an
// unpaired boss drains the candidate queue. It never blocks.
func (e *Engine) Tick() {
	switch e.role {
	case RoleBoss:
		if !e.paired.Load() {
			e.ProcessQueue()
		}
	case RoleWorker:
		if !e.broadcasting {
			return
		}
		now := e.clock.Millis()
		if now < e.lastBeacon || now-e.lastBeacon < e.interval {
			return
		}
		e.lastBeacon = now
		if err := e.SendBeacon(); err != nil {
			nowpair.Debugf("beacon: send failed: %v", err)
		}
	case RoleNone:
	}
}

// SendBeacon builds and broadcasts one beacon with the next sequence number.
// Only a started worker broadcasts.
func (e *Engine) SendBeacon() error {
	if e.role != RoleWorker {
		return fmt.Errorf("%w: send beacon on a %s engine", nowpair.ErrWrongRole, e.role)
	}
	e.sequence++
	b := frame.NewBeacon(e.transport.LocalMAC(), e.sequence, e.channel)

	secret := nowpair.Secret(e.store)
	secure := nowpair.SecureMode(e.store)
	b.Unencrypted = !secure

	if secure && len(secret) > 0 {
		b.HMAC = auth.Sign(secret, b.MAC[:])
	} else {
		copy(b.SharedSecret[:], secret)
	}

	err := e.transport.Transmit(nowpair.BroadcastMAC, b.Encode())
	e.lastSent = b
	if err != nil {
		return fmt.Errorf("transmit beacon #%d: %w", b.SequenceID, err)
	}
	nowpair.Debugf("beacon: sent #%d mode %s", b.SequenceID, b.Mode())
	return nil
}

// ProcessQueue pops candidates in arrival order until one authenticates.
// It accepts at most one and reports whether it did. Once paired it does
// nothing.
func (e *Engine) ProcessQueue() bool {
	if e.role != RoleBoss || e.paired.Load() {
		return false
	}

	for {
		candidate, ok := e.candidates.Pop()
		if !ok {
			return false
		}
		if err := e.authenticate(&candidate); err != nil {
			e.rejected++
			nowpair.Debugf("beacon: reject %s #%d (%s): %v",
				candidate.MAC, candidate.SequenceID, candidate.Mode(), err)
			continue
		}
		e.accept(&candidate)
		return true
	}
}

func (e *Engine) authenticate(b *frame.Beacon) error {
	secret := nowpair.Secret(e.store)
	if len(secret) < frame.SecretSize {
		return fmt.Errorf("%w: %d bytes", nowpair.ErrSecretTooShort, len(secret))
	}

	if !b.Unencrypted {
		if !auth.Verify(secret, b.MAC[:], b.HMAC) {
			return nowpair.ErrAuthFailed
		}
		return nil
	}

	// Re-checked here because the configuration may change after queueing.
	if nowpair.SecureMode(e.store) {
		return nowpair.ErrModeMismatch
	}
	if !bytes.Equal(b.SharedSecret[:], secret[:frame.SecretSize]) {
		return nowpair.ErrSecretMismatch
	}
	return nil
}

func (e *Engine) accept(b *frame.Beacon) {
	nowpair.StorePeer(e.store, b.MAC, b.Channel)
	if err := e.store.Persist(); err != nil {
		nowpair.Debugf("beacon: persist peer %s: %v", b.MAC, err)
	}

	var linkKey []byte
	if !b.Unencrypted {
		key, err := auth.DeriveLinkKey(nowpair.Secret(e.store), b.MAC)
		if err == nil {
			linkKey = key[:]
		}
	}
	if err := e.transport.RegisterPeer(b.MAC, b.Channel, linkKey); err != nil {
		nowpair.Debugf("beacon: register peer %s: %v", b.MAC, err)
	}

	e.peer = b.MAC
	e.peerChannel = b.Channel
	e.paired.Store(true)
	e.broadcasting = false
	e.listening.Store(false)

	if e.sniffer != nil {
		if err := e.sniffer.StopSniffing(); err != nil {
			nowpair.Debugf("beacon: stop sniffing: %v", err)
		}
	}
	nowpair.Debugf("beacon: paired with %s on channel %d", b.MAC, b.Channel)
}

// StopBroadcasting ends the worker beacon loop.
func (e *Engine) StopBroadcasting() {
	e.broadcasting = false
}

// IsPaired reports whether the boss accepted a candidate.
func (e *Engine) IsPaired() bool {
	return e.paired.Load()
}

// IsBroadcasting reports whether the worker is still sending beacons.
func (e *Engine) IsBroadcasting() bool {
	return e.broadcasting
}

// Sequence returns the sequence number of the last beacon sent.
func (e *Engine) Sequence() uint8 {
	return e.sequence
}

// Interval returns the beacon period in milliseconds.
func (e *Engine) Interval() uint64 {
	return e.interval
}

// Role returns the role chosen by Begin or BeginPairing.
func (e *Engine) Role() Role {
	return e.role
}

// Peer returns the accepted peer and its channel.
func (e *Engine) Peer() (nowpair.MAC, uint8, bool) {
	return e.peer, e.peerChannel, e.paired.Load()
}

// Queued returns the number of candidates waiting for Tick.
func (e *Engine) Queued() int {
	return e.candidates.Len()
}
