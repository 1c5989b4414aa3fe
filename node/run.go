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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nowpair"
)

// Run ticks the node every TickInterval until ctx ends. Start errors that
// IsFatal classifies as a vanished device end the loop; others are retried
// on the next tick.
func (n *Node) Run(ctx context.Context) error {
	return n.RunWith(ctx, nil)
}

// RunWith is Run with a hook called after every Tick on the same goroutine,
// so the hook may use every Node method. A hook error ends the loop and is
// returned.
func (n *Node) RunWith(ctx context.Context, after func(now time.Time) error) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n.detectSleep(now.Sub(last)) {
				nowpair.Debugf("node: %s between ticks, host probably slept", now.Sub(last).Round(time.Millisecond))
			}
			last = now

			if err := n.Tick(); err != nil {
				if nowpair.IsFatal(err) {
					return err
				}
				nowpair.Debugf("node: %v", err)
			}
			if after == nil {
				continue
			}
			if err := after(now); err != nil {
				return err
			}
		}
	}
}

// detectSleep reports whether elapsed exceeds the tick interval by more
// than the sleep threshold.
func (n *Node) detectSleep(elapsed time.Duration) bool {
	if n.sleepThreshold <= 0 {
		return false
	}
	return elapsed > n.tickInterval+n.sleepThreshold
}

// Runner runs a Node on its own goroutine.
type Runner struct {
	node    *Node
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	mu      sync.Mutex
	running atomic.Bool
}

// NewRunner wraps n.
func NewRunner(n *Node) *Runner {
	return &Runner{node: n}
}

// Start launches the loop. Calling Start on a running Runner does nothing.
func (r *Runner) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.err = nil
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.node.Run(runCtx)

		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.running.Store(false)
	}()
}

// Stop cancels the loop and waits for it to exit. It returns the loop's
// error unless that error is only the cancellation itself.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(r.err, context.Canceled) {
		return nil
	}
	return r.err
}

// Running reports whether the loop goroutine is alive.
func (r *Runner) Running() bool {
	return r.running.Load()
}
