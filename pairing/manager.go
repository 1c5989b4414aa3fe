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

// Package pairing drives the worker side of the post-discovery handshake:
// PairRequest with retry until a PairAccept or Ack arrives, then periodic
// heartbeats. Everything is tick driven and nothing blocks.
package pairing

import (
	"fmt"
	"math/rand/v2"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/frame"
)

// State is a pairing session state.
type State int

// Session states. Idle is the initial state. Discovering and Paired are part
// of the protocol's vocabulary but no transition enters them: discovery is
// the beacon engine's job, and an accepted peer goes straight to Connected.
const (
	StateIdle State = iota
	StateDiscovering
	StateRequestingPair
	StateWaitingAck
	StatePaired
	StateConnected
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateRequestingPair:
		return "requestingPair"
	case StateWaitingAck:
		return "waitingAck"
	case StatePaired:
		return "paired"
	case StateConnected:
		return "connected"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outbox accepts frames for transmission. A false return means the frame
// was dropped.
type Outbox interface {
	Enqueue(f frame.Session) bool
}

// Config holds pairing timing and identity.
type Config struct {
	// LinkKey, when set, returns the key registered for an accepted peer.
	LinkKey func(peer nowpair.MAC) []byte
	// Rand picks the session nonce. Nil uses the global source.
	Rand *rand.Rand
	// RetryInterval is the wait between PairRequests, in milliseconds.
	RetryInterval uint64
	// HeartbeatInterval is the wait between heartbeats once connected.
	HeartbeatInterval uint64
	// MaxRetries is the PairRequest budget in one state before timeout.
	MaxRetries int
	// LocalMAC is stamped into every outgoing frame.
	LocalMAC nowpair.MAC
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		RetryInterval:     nowpair.PairRetryInterval,
		HeartbeatInterval: nowpair.HeartbeatInterval,
		MaxRetries:        nowpair.PairMaxRetries,
	}
}

// Session is the mutable state of one handshake.
type Session struct {
	LastAction       uint64
	RetryCount       int
	State            State
	PeerMAC          nowpair.MAC
	PairSequence     uint8
	PeerLastSequence uint8
}

// Manager owns one Session and mutates it only from its own methods.
// All methods are for the tick goroutine.
type Manager struct {
	out     Outbox
	radio   nowpair.PeerRegistrar
	clock   nowpair.Clock
	config  *Config
	session Session
}

// NewManager returns an idle manager. A nil config uses DefaultConfig.
func NewManager(out Outbox, radio nowpair.PeerRegistrar, clock nowpair.Clock, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		out:    out,
		radio:  radio,
		clock:  clock,
		config: config,
	}
}

// BeginPairing starts a new session: fresh nonce in [1,250], retry budget
// reset, state requestingPair. It abandons any session in progress.
func (m *Manager) BeginPairing() {
	m.session.PairSequence = m.pickSequence()
	m.transition(StateRequestingPair)
	nowpair.Debugf("pairing: begin, sequence %d", m.session.PairSequence)
}

func (m *Manager) pickSequence() uint8 {
	if m.config.Rand != nil {
		return uint8(m.config.Rand.IntN(250) + 1) //nolint:gosec // 1..250
	}
	return uint8(rand.IntN(250) + 1) //nolint:gosec // 1..250
}

// transition enters next and, as a side effect, resets the retry budget and
// stamps lastAction.
func (m *Manager) transition(next State) {
	if m.session.State != next {
		nowpair.Debugf("pairing: %s -> %s", m.session.State, next)
	}
	m.session.State = next
	m.session.LastAction = m.clock.Millis()
	m.session.RetryCount = 0
}

func (m *Manager) elapsed(now uint64) uint64 {
	if now < m.session.LastAction {
		return 0
	}
	return now - m.session.LastAction
}

// Tick runs the retry, timeout and heartbeat timers.
func (m *Manager) Tick() {
	now := m.clock.Millis()

	switch m.session.State {
	case StateRequestingPair, StateWaitingAck:
		if m.elapsed(now) < m.config.RetryInterval {
			return
		}
		if m.session.RetryCount >= m.config.MaxRetries {
			m.transition(StateTimeout)
			return
		}
		m.sendPairRequest()
		if m.session.State == StateRequestingPair {
			m.transition(StateWaitingAck)
		}
	case StateConnected:
		if m.elapsed(now) >= m.config.HeartbeatInterval {
			m.sendHeartbeat()
		}
	case StateIdle, StateDiscovering, StatePaired, StateTimeout:
	}
}

func (m *Manager) makePacket(cmd frame.Command) frame.Session {
	m.session.PeerLastSequence++
	return frame.NewSession(cmd, 0, m.session.PeerLastSequence, m.config.LocalMAC)
}

func (m *Manager) sendPairRequest() {
	pkt := m.makePacket(frame.CmdPairRequest)
	pkt.SetSeqID(m.session.PairSequence)
	pkt.Flags |= frame.FlagAckRequired
	m.enqueue(pkt)
	m.session.LastAction = m.clock.Millis()
	m.session.RetryCount++
}

func (m *Manager) sendHeartbeat() {
	m.enqueue(m.makePacket(frame.CmdHeartbeat))
	m.session.LastAction = m.clock.Millis()
}

func (m *Manager) enqueue(pkt frame.Session) {
	if m.out == nil || !m.out.Enqueue(pkt) {
		nowpair.Debugf("pairing: dropped %s #%d: %v", pkt.Command, pkt.SeqID, nowpair.ErrQueueFull)
	}
}

// HandlePacket feeds one received frame to the session and reports whether
// it was a pairing frame.
//
// PairAccept and Ack are accepted in every state, including idle and
// timeout. The peer is registered with the frame's flags byte as its
// channel, which is how the boss side of the protocol reports its channel.
func (m *Manager) HandlePacket(pkt frame.Session) bool {
	switch pkt.Command {
	case frame.CmdPairAccept, frame.CmdAck:
		m.session.PeerMAC = pkt.SenderMAC
		m.session.PeerLastSequence = pkt.SeqID

		if m.radio != nil {
			var key []byte
			if m.config.LinkKey != nil {
				key = m.config.LinkKey(pkt.SenderMAC)
			}
			if err := m.radio.RegisterPeer(pkt.SenderMAC, pkt.Flags, key); err != nil {
				nowpair.Debugf("pairing: register peer %s: %v", pkt.SenderMAC, err)
			}
		}
		m.transition(StateConnected)
		return true
	case frame.CmdHeartbeat:
		m.session.LastAction = m.clock.Millis()
		return true
	default:
		return false
	}
}

// IsPaired reports whether the session is connected.
func (m *Manager) IsPaired() bool {
	return m.session.State == StateConnected
}

// PeerMAC returns the address adopted from the last PairAccept or Ack.
func (m *Manager) PeerMAC() nowpair.MAC {
	return m.session.PeerMAC
}

// State returns the current state.
func (m *Manager) State() State {
	return m.session.State
}

// Session returns a copy of the session.
func (m *Manager) Session() Session {
	return m.session
}

// String summarises the session for logs.
func (s Session) String() string {
	return fmt.Sprintf("state=%s retries=%d seq=%d peerSeq=%d peer=%s",
		s.State, s.RetryCount, s.PairSequence, s.PeerLastSequence, s.PeerMAC)
}
