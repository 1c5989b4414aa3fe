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

// Package spi registers a detector for radio bridges on SPI buses.
//
// SPI has no enumeration, so candidates come from, in order: a JSON config
// file, the NOWPAIR_SPI_DEVICE environment variable, and the spidev nodes
// present on Linux.
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/detection"
	"github.com/ZaparooProject/go-nowpair/transport/spi"
)

// EnvDevice names an SPI port to try.
const EnvDevice = "NOWPAIR_SPI_DEVICE"

// Config represents SPI device configuration
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Replaced in tests.
var (
	configPaths   = defaultConfigPaths
	spidevGlob    = "/dev/spidev*"
	probeDeviceFn = probeDevice
)

func defaultConfigPaths() []string {
	paths := []string{"nowpair-spi.json"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "nowpair", "spi.json"))
	}
	return append(paths, "/etc/nowpair/spi.json")
}

// Detect searches for bridges on SPI buses
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, config := range gatherConfigs() {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if opts.Mode != detection.Passive {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			mac, ok := probeDeviceFn(probeCtx, config.Device, opts.Mode)
			cancel()
			if !ok {
				continue
			}
			device.Confidence = detection.High
			device.Metadata["mac"] = mac
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherConfigs collects SPI configurations from all sources
func gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile()...)
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}
	if runtime.GOOS == "linux" {
		configs = append(configs, detectSpidevNodes()...)
	}
	return deduplicateConfigs(configs)
}

// createDeviceInfo creates a DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string, len(config.Metadata)+1),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if device.Name == "" {
		device.Name = fmt.Sprintf("SPI device at %s", config.Device)
	}
	return device
}

// loadConfigFile reads the first config file found. It holds either a
// list of configs or a single one.
func loadConfigFile() []Config {
	for _, path := range configPaths() {
		data, err := os.ReadFile(path) //nolint:gosec // fixed search path
		if err != nil {
			continue
		}

		var configs []Config
		if err := json.Unmarshal(data, &configs); err == nil {
			return configs
		}
		var config Config
		if err := json.Unmarshal(data, &config); err == nil && config.Device != "" {
			return []Config{config}
		}
		nowpair.Debugf("spi detect: ignoring malformed %s", path)
	}
	return nil
}

func loadEnvConfig() *Config {
	device := os.Getenv(EnvDevice)
	if device == "" {
		return nil
	}
	return &Config{Device: device, Name: "SPI device from environment"}
}

func detectSpidevNodes() []Config {
	matches, err := filepath.Glob(spidevGlob)
	if err != nil {
		return nil
	}

	configs := make([]Config, 0, len(matches))
	for _, path := range matches {
		configs = append(configs, Config{
			Device: path,
			Name:   fmt.Sprintf("SPI device %s", filepath.Base(path)),
		})
	}
	return configs
}

// deduplicateConfigs keeps the first config per device.
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if config.Device == "" || seen[config.Device] {
			continue
		}
		seen[config.Device] = true
		unique = append(unique, config)
	}
	return unique
}

// probeDevice opens the port and asks the bridge for its address.
func probeDevice(_ context.Context, device string, mode detection.Mode) (string, bool) {
	transport, err := spi.New(device)
	if err != nil {
		return "", false
	}
	mac, ok := detection.Probe(transport, mode)
	if !ok {
		return "", false
	}
	return mac.String(), true
}
