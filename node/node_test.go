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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/config"
	"github.com/ZaparooProject/go-nowpair/frame"
	"github.com/ZaparooProject/go-nowpair/pairing"
)

var (
	workerMAC = nowpair.MAC{0x24, 0x0A, 0xC4, 0x00, 0x00, 0x01}
	bossMAC   = nowpair.MAC{0x24, 0x0A, 0xC4, 0x00, 0x00, 0x02}
	otherMAC  = nowpair.MAC{0x24, 0x0A, 0xC4, 0x00, 0x00, 0x03}
)

func newStore(secure bool, secret string) *config.Memory {
	sections := config.Defaults()
	if secure {
		sections[nowpair.SectionSecurity][nowpair.KeyEncrypt] = "true"
	}
	sections[nowpair.SectionSecurity][nowpair.KeySecret] = secret
	sections[nowpair.SectionESPNow][nowpair.KeyBeaconInterval] = "1000"
	return config.NewMemory(sections)
}

type link struct {
	clock    *nowpair.ManualClock
	air      *nowpair.Air
	worker   *Node
	boss     *Node
	workerTr *nowpair.MockTransport
	bossTr   *nowpair.MockTransport
}

type linkOpts struct {
	workerSecret string
	bossSecret   string
	delay        uint64
	secure       bool
}

func newLink(t *testing.T, lo linkOpts) *link {
	t.Helper()

	l := &link{air: nowpair.NewAir(), clock: nowpair.NewManualClock(0)}
	l.workerTr = l.air.Join(workerMAC)
	l.bossTr = l.air.Join(bossMAC)

	wopts := DefaultOptions(RoleWorker)
	wopts.Store = newStore(lo.secure, lo.workerSecret)
	wopts.Transport = l.workerTr
	wopts.Clock = l.clock
	wopts.StartupDelay = lo.delay

	bopts := DefaultOptions(RoleBoss)
	bopts.Store = newStore(lo.secure, lo.bossSecret)
	bopts.Transport = l.bossTr
	bopts.Clock = l.clock
	bopts.StartupDelay = lo.delay

	var err error
	l.worker, err = New(wopts)
	require.NoError(t, err)
	l.boss, err = New(bopts)
	require.NoError(t, err)
	return l
}

// until ticks both nodes every 100ms up to deadline and stops early once
// cond holds. It reports whether cond held.
func (l *link) until(deadline uint64, cond func() bool) bool {
	for now := l.clock.Millis(); now <= deadline; now += 100 {
		l.clock.Set(now)
		_ = l.worker.Tick()
		_ = l.boss.Tick()
		if cond != nil && cond() {
			return true
		}
	}
	return false
}

func (l *link) paired() bool {
	return l.worker.IsPaired() && l.boss.IsPaired()
}

func beaconsSent(tr *nowpair.MockTransport) int {
	n := 0
	for _, f := range tr.Sent() {
		if len(f.Data) == frame.BeaconSize {
			n++
		}
	}
	return n
}

func TestNode_CleartextPairingEndToEnd(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh"})
	require.True(t, l.until(10000, l.paired))
	assert.Less(t, l.clock.Millis(), uint64(5000), "pairs within a few beacon intervals")

	peer, ok := l.worker.Peer()
	require.True(t, ok)
	assert.Equal(t, bossMAC, peer)
	peer, ok = l.boss.Peer()
	require.True(t, ok)
	assert.Equal(t, workerMAC, peer)

	wEntry, ok := l.workerTr.Peer(bossMAC)
	require.True(t, ok)
	assert.Equal(t, uint8(6), wEntry.Channel, "channel comes from the PairAccept flags")
	assert.Nil(t, wEntry.LinkKey)

	bEntry, ok := l.bossTr.Peer(workerMAC)
	require.True(t, ok)
	assert.Equal(t, uint8(6), bEntry.Channel)
	assert.False(t, l.bossTr.IsSniffing())

	assert.Equal(t, pairing.StateConnected, l.worker.Pairing().State())
	assert.False(t, l.worker.Engine().IsBroadcasting())

	beacons := beaconsSent(l.workerTr)
	l.until(l.clock.Millis()+5000, nil)
	assert.Equal(t, beacons, beaconsSent(l.workerTr), "no beacons once connected")
}

func TestNode_SecurePairingSharesLinkKey(t *testing.T) {
	t.Parallel()

	secret := "a long provisioned secret"
	l := newLink(t, linkOpts{secure: true, workerSecret: secret, bossSecret: secret})
	require.True(t, l.until(10000, l.paired))

	wEntry, ok := l.workerTr.Peer(bossMAC)
	require.True(t, ok)
	bEntry, ok := l.bossTr.Peer(workerMAC)
	require.True(t, ok)

	require.Len(t, wEntry.LinkKey, 16)
	assert.Equal(t, wEntry.LinkKey, bEntry.LinkKey, "both ends derive the same key")
}

func TestNode_WrongSecretNeverPairs(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgX"})
	assert.False(t, l.until(30000, l.paired))

	assert.False(t, l.worker.IsPaired())
	assert.False(t, l.boss.IsPaired())
	assert.True(t, l.worker.Engine().IsBroadcasting(), "worker keeps beaconing")
	assert.True(t, l.bossTr.IsSniffing(), "boss keeps listening")

	_, ok := l.boss.Receive()
	assert.False(t, ok, "stray PairRequests are not application traffic")
	assert.Zero(t, l.bossTr.RegisterCount())
}

func TestNode_WorkerRetriesAfterTimeout(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgX"})
	l.until(8000, nil)
	assert.Equal(t, pairing.StateTimeout, l.worker.Pairing().State())

	// The next beacon opens a new handshake.
	l.until(9000, nil)
	assert.Equal(t, pairing.StateRequestingPair, l.worker.Pairing().State())
}

func TestNode_StartupDelay(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh", delay: nowpair.DefaultStartupDelay})

	l.until(9900, nil)
	assert.False(t, l.worker.Started())
	assert.False(t, l.boss.Started())
	assert.Empty(t, l.workerTr.Sent())
	assert.False(t, l.bossTr.IsSniffing())

	l.until(10000, nil)
	assert.True(t, l.worker.Started())
	assert.True(t, l.boss.Started())
	assert.True(t, l.bossTr.IsSniffing())
	assert.Equal(t, uint8(6), l.workerTr.Channel())

	assert.True(t, l.until(20000, l.paired))
}

func TestNode_ApplicationTraffic(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh"})
	require.True(t, l.until(10000, l.paired))

	up := frame.NewSession(frame.Command(0x20), frame.FlagAckRequired, 7, nowpair.MAC{})
	up.SetParams(-5, 300)
	require.NoError(t, l.worker.Send(up))

	down := frame.NewSession(frame.Command(0x21), 0, 9, nowpair.MAC{})
	require.NoError(t, l.boss.Send(down))

	l.until(l.clock.Millis()+500, nil)

	got, ok := l.boss.Receive()
	require.True(t, ok)
	assert.Equal(t, frame.Command(0x20), got.Command)
	assert.Equal(t, workerMAC, got.SenderMAC)
	p1, p2 := got.Params()
	assert.Equal(t, int16(-5), p1)
	assert.Equal(t, int16(300), p2)

	got, ok = l.worker.Receive()
	require.True(t, ok)
	assert.Equal(t, frame.Command(0x21), got.Command)
	assert.Equal(t, bossMAC, got.SenderMAC)

	// The boss acked the worker's frame; the worker's handshake consumed it.
	var acked bool
	for _, f := range l.bossTr.Sent() {
		s, err := frame.DecodeSession(f.Data)
		if err == nil && s.Command == frame.CmdAck && s.SeqID == 7 {
			acked = true
			assert.Equal(t, workerMAC, f.Dst)
		}
	}
	assert.True(t, acked)
	_, ok = l.worker.Receive()
	assert.False(t, ok)
	assert.True(t, l.worker.IsPaired())
}

func TestNode_HeartbeatsReachBoss(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh"})
	require.True(t, l.until(10000, l.paired))
	assert.Zero(t, l.boss.PeerAlive())

	connectedAt := l.clock.Millis()
	l.until(connectedAt+nowpair.HeartbeatInterval+200, nil)

	alive := l.boss.PeerAlive()
	assert.GreaterOrEqual(t, alive, connectedAt+nowpair.HeartbeatInterval)
	assert.Zero(t, l.worker.PeerAlive())
}

func TestNode_SendBeforePaired(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh"})
	pkt := frame.NewSession(frame.Command(0x20), 0, 1, nowpair.MAC{})
	require.ErrorIs(t, l.worker.Send(pkt), nowpair.ErrNotPaired)
	require.ErrorIs(t, l.boss.Send(pkt), nowpair.ErrNotPaired)
}

func TestNode_SendQueueFull(t *testing.T) {
	t.Parallel()

	l := newLink(t, linkOpts{workerSecret: "abcdefgh", bossSecret: "abcdefgh"})
	require.True(t, l.until(10000, l.paired))

	pkt := frame.NewSession(frame.Command(0x20), 0, 1, nowpair.MAC{})
	var err error
	for i := 0; i < 20 && err == nil; i++ {
		err = l.boss.Send(pkt)
	}
	require.ErrorIs(t, err, nowpair.ErrQueueFull)
}

func TestNode_ReceiveFiltering(t *testing.T) {
	t.Parallel()

	tr := nowpair.NewMockTransport(bossMAC)
	opts := DefaultOptions(RoleBoss)
	opts.Store = newStore(false, "abcdefgh")
	opts.Transport = tr
	opts.Clock = nowpair.NewManualClock(0)
	n, err := New(opts)
	require.NoError(t, err)

	good := frame.NewSession(frame.CmdHeartbeat, 0, 1, workerMAC)
	tr.InjectReceive(workerMAC, good.Encode())
	tr.InjectReceive(otherMAC, good.Encode())
	tr.InjectReceive(workerMAC, good.Encode()[:10])

	beacon := frame.NewBeacon(workerMAC, 1, 6)
	beacon.Unencrypted = true
	tr.InjectReceive(workerMAC, beacon.Encode())

	stats := n.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(2), stats.Spoofed, "sender field must match the source")
	assert.Zero(t, stats.Overflow)
}

type plainTransport struct {
	nowpair.Transport
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	store := newStore(false, "abcdefgh")
	tests := []struct {
		wantErr error
		name    string
		opts    Options
	}{
		{
			name:    "missing store",
			opts:    Options{Role: RoleWorker, Transport: nowpair.NewMockTransport(workerMAC)},
			wantErr: nowpair.ErrInvalidParameter,
		},
		{
			name:    "missing transport",
			opts:    Options{Role: RoleWorker, Store: store},
			wantErr: nowpair.ErrInvalidParameter,
		},
		{
			name:    "no role",
			opts:    Options{Store: store, Transport: nowpair.NewMockTransport(workerMAC)},
			wantErr: nowpair.ErrInvalidParameter,
		},
		{
			name:    "boss without sniffing",
			opts:    Options{Role: RoleBoss, Store: store, Transport: plainTransport{nowpair.NewMockTransport(bossMAC)}},
			wantErr: nowpair.ErrSniffUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.opts)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_Channel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stored string
		opt    uint8
		want   uint8
	}{
		{name: "option wins", opt: 11, stored: "3", want: 11},
		{name: "stored", stored: "3", want: 3},
		{name: "default", stored: "", want: 6},
		{name: "garbage", stored: "x", want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newStore(false, "abcdefgh")
			store.SetValue(nowpair.SectionESPNow, nowpair.KeyChannel, tt.stored)

			opts := DefaultOptions(RoleWorker)
			opts.Store = store
			opts.Transport = nowpair.NewMockTransport(workerMAC)
			opts.Channel = tt.opt
			n, err := New(opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Channel())
		})
	}
}

func TestNode_DetectSleep(t *testing.T) {
	t.Parallel()

	n := &Node{tickInterval: 10 * time.Millisecond, sleepThreshold: 2 * time.Second}
	assert.False(t, n.detectSleep(10*time.Millisecond))
	assert.False(t, n.detectSleep(2010*time.Millisecond))
	assert.True(t, n.detectSleep(2011*time.Millisecond))

	n.sleepThreshold = 0
	assert.False(t, n.detectSleep(time.Hour))
}

func TestRunner_PairsInBackground(t *testing.T) {
	t.Parallel()

	air := nowpair.NewAir()
	clock := nowpair.NewManualClock(0)
	workerTr := air.Join(workerMAC)
	bossTr := air.Join(bossMAC)

	build := func(role Role, tr *nowpair.MockTransport) *Node {
		opts := DefaultOptions(role)
		opts.Store = newStore(false, "abcdefgh")
		opts.Transport = tr
		opts.Clock = clock
		opts.StartupDelay = 0
		opts.TickInterval = time.Millisecond
		n, err := New(opts)
		require.NoError(t, err)
		return n
	}

	worker := NewRunner(build(RoleWorker, workerTr))
	boss := NewRunner(build(RoleBoss, bossTr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	boss.Start(ctx)
	assert.True(t, worker.Running())

	require.Eventually(t, func() bool {
		clock.Advance(50)
		_, w := workerTr.Peer(bossMAC)
		_, b := bossTr.Peer(workerMAC)
		return w && b
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, worker.Stop())
	require.NoError(t, boss.Stop())
	assert.False(t, worker.Running())
	assert.False(t, boss.Running())
}

func TestRun_StopsOnContext(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions(RoleWorker)
	opts.Store = newStore(false, "abcdefgh")
	opts.Transport = nowpair.NewMockTransport(workerMAC)
	opts.Clock = nowpair.NewManualClock(0)
	n, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.Run(ctx), context.Canceled)
}

func TestRunner_StopWithoutStart(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewRunner(&Node{}).Stop())
}

func TestRunWith_TwoNodesOnOwnGoroutines(t *testing.T) {
	t.Parallel()

	air := nowpair.NewAir()
	clock := nowpair.NewManualClock(0)

	build := func(role Role, mac nowpair.MAC) *Node {
		opts := DefaultOptions(role)
		opts.Store = newStore(false, "abcdefgh")
		opts.Transport = air.Join(mac)
		opts.Clock = clock
		opts.StartupDelay = 0
		opts.TickInterval = time.Millisecond
		n, err := New(opts)
		require.NoError(t, err)
		return n
	}

	type result struct {
		peer     atomic.Value
		paired   atomic.Bool
		received atomic.Uint32
	}
	// Each hook reads its node between ticks and sends one frame per tick
	// once paired. Only the results cross goroutines.
	hook := func(n *Node, res *result) func(time.Time) error {
		var seq uint8
		return func(time.Time) error {
			clock.Advance(10)
			if !n.IsPaired() {
				return nil
			}
			if peer, ok := n.Peer(); ok {
				res.peer.Store(peer)
			}
			res.paired.Store(true)
			for {
				if _, ok := n.Receive(); !ok {
					break
				}
				res.received.Add(1)
			}
			seq++
			_ = n.Send(frame.NewSession(0x10, 0, seq, nowpair.MAC{}))
			return nil
		}
	}

	worker, boss := build(RoleWorker, workerMAC), build(RoleBoss, bossMAC)
	var workerRes, bossRes result

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- worker.RunWith(ctx, hook(worker, &workerRes)) }()
	go func() { errs <- boss.RunWith(ctx, hook(boss, &bossRes)) }()

	require.Eventually(t, func() bool {
		return workerRes.paired.Load() && bossRes.paired.Load() &&
			workerRes.received.Load() > 0 && bossRes.received.Load() > 0
	}, 10*time.Second, 5*time.Millisecond)
	cancel()

	for range 2 {
		require.ErrorIs(t, <-errs, context.Canceled)
	}
	assert.Equal(t, bossMAC, workerRes.peer.Load())
	assert.Equal(t, workerMAC, bossRes.peer.Load())
}

func TestRunWith_Stops(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		hook    func(time.Time) error
		name    string
		cancel  bool
	}{
		{name: "hook error", hook: func(time.Time) error { return assert.AnError }, wantErr: assert.AnError},
		{name: "cancelled with hook", hook: func(time.Time) error { return nil }, cancel: true, wantErr: context.Canceled},
		{name: "cancelled without hook", cancel: true, wantErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions(RoleWorker)
			opts.Store = newStore(false, "abcdefgh")
			opts.Transport = nowpair.NewMockTransport(workerMAC)
			opts.Clock = nowpair.NewManualClock(0)
			opts.TickInterval = time.Millisecond
			n, err := New(opts)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}
			require.ErrorIs(t, n.RunWith(ctx, tt.hook), tt.wantErr)
		})
	}
}
