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

// Package uart registers a detector for serial-attached radio bridges.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-nowpair/detection"
	"github.com/ZaparooProject/go-nowpair/transport/uart"
)

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
	IsUSB        bool
}

// listPortsFn and probeDeviceFn are replaced in tests.
var (
	listPortsFn   = listPorts
	probeDeviceFn = probeDevice
)

func listPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{Path: d.Name, Name: d.Name, IsUSB: d.IsUSB}
		if d.IsUSB {
			port.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
			port.Product = d.Product
			port.SerialNumber = d.SerialNumber
			if d.Product != "" {
				port.Name = d.Product
			}
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// Detect searches for bridges on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPortsFn()
	if err != nil {
		return nil, err
	}

	ports = d.filterPorts(ports, opts)

	var devices []detection.DeviceInfo
	for i := range ports {
		select {
		case <-ctx.Done():
			return devices, nil
		default:
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts drops blocked and ignored ports, and built-in ports with no
// USB descriptor since a bridge board always has one.
func (*detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	filtered := ports[:0:0]
	for _, port := range ports {
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if !port.IsUSB && !matchesGoodPatterns(&port) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// matchesGoodPatterns checks device names that USB-serial drivers use on
// platforms where the enumerator reports no descriptor.
func matchesGoodPatterns(port *serialPort) bool {
	goodPatterns := []string{
		"usbserial",      // FTDI and similar USB-serial adapters
		"slab_usbtouart", // Silicon Labs CP210x
		"usbmodem",       // native USB on ESP32-S3 and C3
		"wchusbserial",   // QinHeng CH34x
		"ttyusb",
		"ttyacm",
	}

	lowerName := strings.ToLower(port.Name)
	lowerPath := strings.ToLower(port.Path)
	for _, pattern := range goodPatterns {
		if strings.Contains(lowerName, pattern) || strings.Contains(lowerPath, pattern) {
			return true
		}
	}
	return false
}

// isLikelyBridge reports whether the USB descriptor matches a board the
// bridge firmware is commonly flashed on.
func isLikelyBridge(port *serialPort) bool {
	knownBridges := []string{
		"10C4:EA60", // Silicon Labs CP210x (ESP32 DevKitC)
		"1A86:7523", // QinHeng CH340
		"1A86:55D4", // QinHeng CH9102
		"303A:1001", // Espressif native USB-Serial/JTAG
		"0403:6001", // FTDI FT232
	}

	upperVIDPID := strings.ToUpper(port.VIDPID)
	for _, known := range knownBridges {
		if upperVIDPID == known {
			return true
		}
	}

	lowerProduct := strings.ToLower(port.Product)
	for _, keyword := range []string{"esp32", "espressif", "cp210", "ch340", "ch910"} {
		if strings.Contains(lowerProduct, keyword) {
			return true
		}
	}
	return false
}

// processPort handles a single port's detection logic
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyBridge(port)

	switch opts.Mode {
	case detection.Passive:
		if !likely {
			return detection.DeviceInfo{}, false
		}
		return d.createDeviceInfo(port, detection.Medium), true

	case detection.Safe, detection.Full:
		confidence := detection.Low
		if likely {
			confidence = detection.Medium
		}
		device := d.createDeviceInfo(port, confidence)

		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		mac, ok := probeDeviceFn(probeCtx, port.Path, opts.Mode)
		if !ok {
			// a likely board that does not answer runs other firmware
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.High
		device.Metadata["mac"] = mac
		return device, true

	default:
		return detection.DeviceInfo{}, false
	}
}

// createDeviceInfo builds a DeviceInfo struct from port data
func (*detector) createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// probeDevice opens the port and asks the bridge for its address. ctx
// bounds the open retries on a busy port.
func probeDevice(ctx context.Context, path string, mode detection.Mode) (string, bool) {
	transport, err := uart.Open(ctx, path)
	if err != nil {
		return "", false
	}
	mac, ok := detection.Probe(transport, mode)
	if !ok {
		return "", false
	}
	return mac.String(), true
}
