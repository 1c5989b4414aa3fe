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

package node

import (
	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/beacon"
	"github.com/ZaparooProject/go-nowpair/frame"
	"github.com/ZaparooProject/go-nowpair/pairing"
)

// responder is the boss half of the handshake. It only talks to the worker
// the beacon engine accepted.
type responder struct {
	engine    *beacon.Engine
	out       pairing.Outbox
	clock     nowpair.Clock
	peerAlive uint64
	local     nowpair.MAC
	channel   uint8
}

func newResponder(engine *beacon.Engine, out pairing.Outbox, clock nowpair.Clock, local nowpair.MAC, channel uint8) *responder {
	return &responder{
		engine:  engine,
		out:     out,
		clock:   clock,
		local:   local,
		channel: channel,
	}
}

// handle answers one frame and reports whether it was a protocol frame.
// Application frames are acked when asked and left for the application.
//
// Replies carry the boss channel in the flags byte. An odd channel also sets
// the ack-required bit; workers ignore it on PairAccept and Ack.
func (r *responder) handle(pkt frame.Session) bool {
	peer, _, paired := r.engine.Peer()
	if !paired || pkt.SenderMAC != peer {
		if pkt.Command.IsProtocol() {
			nowpair.Debugf("node: ignoring %s from %s: %v", pkt.Command, pkt.SenderMAC, nowpair.ErrNotPaired)
			return true
		}
		return false
	}

	switch pkt.Command {
	case frame.CmdPairRequest:
		r.reply(frame.CmdPairAccept, pkt.SeqID)
		return true
	case frame.CmdHeartbeat:
		r.peerAlive = r.clock.Millis()
		if pkt.AckRequired() {
			r.reply(frame.CmdAck, pkt.SeqID)
		}
		return true
	case frame.CmdPairAccept, frame.CmdAck:
		return true
	default:
		if pkt.AckRequired() {
			r.reply(frame.CmdAck, pkt.SeqID)
		}
		return false
	}
}

func (r *responder) reply(cmd frame.Command, seq uint8) {
	out := frame.NewSession(cmd, r.channel, seq, r.local)
	if !r.out.Enqueue(out) {
		nowpair.Debugf("node: dropped %s #%d: %v", cmd, seq, nowpair.ErrQueueFull)
	}
}
