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

//nolint:paralleltest // tests swap package-level hooks
package uart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nowpair/detection"
)

func stubProbe(t *testing.T, fn func(context.Context, string, detection.Mode) (string, bool)) {
	t.Helper()
	orig := probeDeviceFn
	probeDeviceFn = fn
	t.Cleanup(func() { probeDeviceFn = orig })
}

func stubPorts(t *testing.T, ports []serialPort, err error) {
	t.Helper()
	orig := listPortsFn
	listPortsFn = func() ([]serialPort, error) { return ports, err }
	t.Cleanup(func() { listPortsFn = orig })
}

func TestProcessPort_SafeMode_FailedProbeDiscardsLikelyDevice(t *testing.T) {
	// A CH340 board running other firmware must not be reported, or it
	// hides a real bridge that enumerates later.
	stubProbe(t, func(context.Context, string, detection.Mode) (string, bool) {
		return "", false
	})

	det := &detector{}
	port := &serialPort{Path: "/dev/ttyUSB0", Name: "USB Serial", VIDPID: "1A86:7523", IsUSB: true}
	opts := &detection.Options{Mode: detection.Safe}

	_, included := det.processPort(context.Background(), port, opts)
	assert.False(t, included)
}

func TestProcessPort_SafeMode_SuccessfulProbeReturnsDevice(t *testing.T) {
	stubProbe(t, func(context.Context, string, detection.Mode) (string, bool) {
		return "24:0a:c4:00:01:02", true
	})

	det := &detector{}
	port := &serialPort{Path: "/dev/ttyUSB0", Name: "CP2102", VIDPID: "10C4:EA60", IsUSB: true}
	opts := &detection.Options{Mode: detection.Safe}

	device, included := det.processPort(context.Background(), port, opts)
	require.True(t, included)
	assert.Equal(t, detection.High, device.Confidence)
	assert.Equal(t, "24:0a:c4:00:01:02", device.Metadata["mac"])
	assert.Equal(t, "10C4:EA60", device.Metadata["vidpid"])
}

func TestProcessPort_PassiveMode(t *testing.T) {
	stubProbe(t, func(context.Context, string, detection.Mode) (string, bool) {
		t.Fatal("passive mode must not open the port")
		return "", false
	})

	det := &detector{}
	opts := &detection.Options{Mode: detection.Passive}

	device, included := det.processPort(context.Background(),
		&serialPort{Path: "/dev/ttyACM0", Product: "Espressif USB JTAG/serial debug unit", IsUSB: true}, opts)
	require.True(t, included)
	assert.Equal(t, detection.Medium, device.Confidence)

	_, included = det.processPort(context.Background(),
		&serialPort{Path: "/dev/ttyUSB3", VIDPID: "AAAA:BBBB", IsUSB: true}, opts)
	assert.False(t, included)
}

func TestProcessPort_FullModePassesMode(t *testing.T) {
	var gotMode detection.Mode
	stubProbe(t, func(_ context.Context, _ string, mode detection.Mode) (string, bool) {
		gotMode = mode
		return "24:0a:c4:00:01:02", true
	})

	det := &detector{}
	_, included := det.processPort(context.Background(),
		&serialPort{Path: "/dev/ttyUSB0", VIDPID: "AAAA:BBBB", IsUSB: true},
		&detection.Options{Mode: detection.Full})
	assert.True(t, included)
	assert.Equal(t, detection.Full, gotMode)
}

func TestDetect_FiltersPorts(t *testing.T) {
	stubPorts(t, []serialPort{
		{Path: "/dev/ttyS0", Name: "ttyS0"},
		{Path: "/dev/ttyUSB0", VIDPID: "10C4:EA60", IsUSB: true},
		{Path: "/dev/ttyUSB1", VIDPID: "2341:0043", IsUSB: true},
		{Path: "/dev/ttyUSB2", VIDPID: "1A86:7523", IsUSB: true},
	}, nil)

	var probed []string
	stubProbe(t, func(_ context.Context, path string, _ detection.Mode) (string, bool) {
		probed = append(probed, path)
		return "24:0a:c4:00:01:02", true
	})

	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{"/dev/ttyUSB2"}
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyUSB0", devices[0].Path)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, probed, "built-in, blocked and ignored ports are not opened")
}

func TestDetect_NoDevices(t *testing.T) {
	stubPorts(t, nil, nil)
	opts := detection.DefaultOptions()
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)

	boom := errors.New("enumerator failed")
	stubPorts(t, nil, boom)
	_, err = New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, boom)
}

func TestMatchesGoodPatterns(t *testing.T) {
	tests := []struct {
		port serialPort
		want bool
	}{
		{port: serialPort{Path: "/dev/cu.usbserial-0001"}, want: true},
		{port: serialPort{Path: "/dev/cu.SLAB_USBtoUART"}, want: true},
		{port: serialPort{Path: "/dev/cu.wchusbserial14230"}, want: true},
		{port: serialPort{Path: "/dev/ttyACM0"}, want: true},
		{port: serialPort{Path: "/dev/ttyS0"}},
		{port: serialPort{Path: "COM1"}},
	}
	for _, tt := range tests {
		t.Run(tt.port.Path, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesGoodPatterns(&tt.port))
		})
	}
}

func TestIsLikelyBridge(t *testing.T) {
	assert.True(t, isLikelyBridge(&serialPort{VIDPID: "303a:1001"}))
	assert.True(t, isLikelyBridge(&serialPort{Product: "CP2102N USB to UART Bridge Controller"}))
	assert.False(t, isLikelyBridge(&serialPort{VIDPID: "067B:2303", Product: "USB-Serial Controller"}))
}
