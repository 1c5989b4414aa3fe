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

package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/config"
	"github.com/ZaparooProject/go-nowpair/node"
)

var (
	simWorkerMAC = nowpair.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	simBossMAC   = nowpair.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// runSim pairs a worker and a boss over an in-memory medium. The worker
// uses store; the boss gets a fresh store with the same security settings
// so both ends agree on the mode and secret.
func runSim(ctx context.Context, opts *options, store nowpair.ConfigStore, log *zap.Logger) error {
	bossStore := config.NewMemory(config.Defaults())
	for _, key := range []string{nowpair.KeyEncrypt, nowpair.KeySecret} {
		bossStore.SetValue(nowpair.SectionSecurity, key, store.GetValue(nowpair.SectionSecurity, key))
	}
	bossStore.SetValue(nowpair.SectionESPNow, nowpair.KeyBeaconInterval,
		store.GetValue(nowpair.SectionESPNow, nowpair.KeyBeaconInterval))

	air := nowpair.NewAir()
	nodes := make([]*node.Node, 0, 2)
	for _, st := range []struct {
		store nowpair.ConfigStore
		role  node.Role
		mac   nowpair.MAC
	}{
		{store: store, role: node.RoleWorker, mac: simWorkerMAC},
		{store: bossStore, role: node.RoleBoss, mac: simBossMAC},
	} {
		n, err := node.New(nodeOptions(opts, st.role, st.store, air.Join(st.mac)))
		if err != nil {
			return fmt.Errorf("create %s node: %w", st.role, err)
		}
		nodes = append(nodes, n)
	}
	log.Info("simulation started",
		zap.Stringer("worker", simWorkerMAC),
		zap.Stringer("boss", simBossMAC),
		zap.Bool("secure", nowpair.SecureMode(store)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(nodes))
	for _, n := range nodes {
		go func(n *node.Node) {
			errs <- serve(ctx, n, opts.ping, log)
		}(n)
	}

	var first error
	for range nodes {
		err := <-errs
		cancel()
		if first == nil && err != nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	if first != nil {
		return first
	}
	return ctx.Err()
}
