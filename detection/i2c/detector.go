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

// Package i2c registers a detector for radio bridges on I2C buses. Every
// /dev/i2c-* bus is tried at the bridge's default address, plus the one
// named by NOWPAIR_I2C_DEVICE. Passive detection finds nothing: a bus has
// no descriptor to match without talking to it.
package i2c

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-nowpair/detection"
	"github.com/ZaparooProject/go-nowpair/transport/i2c"
)

// EnvDevice names an I2C bus, optionally with ":addr", to try.
const EnvDevice = "NOWPAIR_I2C_DEVICE"

type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Replaced in tests.
var (
	busGlob       = "/dev/i2c-*"
	probeDeviceFn = probeDevice
)

func candidates() []string {
	var paths []string
	if env := os.Getenv(EnvDevice); env != "" {
		paths = append(paths, env)
	}
	matches, _ := filepath.Glob(busGlob)
	for _, m := range matches {
		paths = append(paths, fmt.Sprintf("%s:0x%02X", m, i2c.DefaultAddr))
	}
	return paths
}

// Detect probes each candidate bus.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if opts.Mode == detection.Passive {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, path := range candidates() {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}
		if detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		mac, ok := probeDeviceFn(probeCtx, path, opts.Mode)
		cancel()
		if !ok {
			continue
		}
		devices = append(devices, detection.DeviceInfo{
			Transport:  "i2c",
			Path:       path,
			Name:       fmt.Sprintf("I2C bridge at %s", path),
			Confidence: detection.High,
			Metadata:   map[string]string{"mac": mac},
		})
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func probeDevice(_ context.Context, path string, mode detection.Mode) (string, bool) {
	transport, err := i2c.New(path)
	if err != nil {
		return "", false
	}
	mac, ok := detection.Probe(transport, mode)
	if !ok {
		return "", false
	}
	return mac.String(), true
}
