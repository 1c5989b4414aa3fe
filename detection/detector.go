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

// Package detection finds radio bridges attached to the host. Each
// transport registers a Detector from its own subpackage; import the ones
// you need for their side effect:
//
//	import _ "github.com/ZaparooProject/go-nowpair/detection/uart"
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

// Mode represents the level of invasiveness for device detection
type Mode int

const (
	// Passive mode only checks device descriptors without any communication
	Passive Mode = iota
	// Safe mode opens the port and asks the bridge for its radio address
	Safe
	// Full mode also checks that the bridge accepts commands
	Full
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence: the port exists but nothing suggests a bridge
	Low Confidence = iota
	// Medium confidence: USB descriptors match a known bridge board
	Medium
	// High confidence: the bridge answered
	High
)

// DeviceInfo represents a detected bridge.
type DeviceInfo struct {
	// Additional metadata, e.g. "vidpid" for USB devices and "mac" once probed
	Metadata map[string]string
	// Transport type: "uart" or "spi"
	Transport string
	// Connection path (e.g., "/dev/ttyUSB0", "/dev/spidev0.0")
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	confidence := "unknown"
	switch d.Confidence {
	case Low:
		confidence = "low"
	case Medium:
		confidence = "medium"
	case High:
		confidence = "high"
	}
	return fmt.Sprintf("%s bridge at %s (confidence: %s)", d.Transport, d.Path, confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no bridges were detected
	ErrNoDevicesFound = errors.New("no radio bridge found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors indicates no detector is registered for the requested transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var (
	registry   []Detector
	registryMu syncutil.Mutex
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// getDetectors returns detectors filtered by transport types
func getDetectors(transports []string) []Detector {
	registryMu.Lock()
	defer registryMu.Unlock()

	if len(transports) == 0 {
		return append([]Detector(nil), registry...)
	}

	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every matching detector in parallel. Devices are returned
// even when some detectors fail.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func(d Detector) {
			results <- runSingleDetector(ctx, d, opts)
		}(d)
	}
	return collectDetectionResults(ctx, results, len(detectors))
}

// DetectFirst returns the highest-confidence bridge DetectAll finds.
func DetectFirst(ctx context.Context, opts *Options) (DeviceInfo, error) {
	devices, err := DetectAll(ctx, opts)
	if err != nil {
		return DeviceInfo{}, err
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, nil
}

func runSingleDetector(ctx context.Context, detector Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, found := cache.get(detector.Transport(), opts.CacheTTL); found {
			// cached results bypassed Detect, so filter them again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := detector.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			cache.set(detector.Transport(), devices)
		} else {
			// a bridge that was unplugged must not linger until TTL expiry
			cache.clearTransport(detector.Transport())
		}
	}

	return detectionResult{devices: devices}
}

func collectDetectionResults(
	ctx context.Context,
	results chan detectionResult,
	numDetectors int,
) ([]DeviceInfo, error) {
	var allDevices []DeviceInfo
	var errs []error

	for range numDetectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				allDevices = append(allDevices, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(allDevices) > 0 {
		return allDevices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

// filterDevices applies IgnorePaths and Blocklist filtering to a device list.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	cache.clear()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	cache.clearTransport(transport)
}

// Bridge is the part of an opened transport a probe talks to.
type Bridge interface {
	LocalMAC() nowpair.MAC
	StopSniffing() error
	Close() error
}

// Probe checks an opened bridge at the given mode and closes it. Opening
// the transport already asked the bridge for its address, so Safe only
// checks that the address is usable. Full also sends a harmless command.
func Probe(b Bridge, mode Mode) (nowpair.MAC, bool) {
	defer func() { _ = b.Close() }()

	mac := b.LocalMAC()
	if mode == Passive || mac.IsBroadcast() || mac.IsZero() {
		return nowpair.MAC{}, false
	}
	if mode == Full {
		if err := b.StopSniffing(); err != nil {
			nowpair.Debugf("probe %s: command check failed: %v", mac, err)
			return nowpair.MAC{}, false
		}
	}
	return mac, true
}
