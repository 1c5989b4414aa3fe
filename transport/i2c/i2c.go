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

// Package i2c drives a radio co-processor acting as an I2C target. Frames
// are written as plain I2C writes. Reads go through two registers: a
// status register holding the number of pending reply bytes, and a data
// register that drains them.
package i2c

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/bridge"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

const (
	// DefaultAddr is the bridge firmware's 7-bit target address.
	DefaultAddr = 0x42

	regStatus = 0x02
	regData   = 0x03

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// maxRead bounds one data-register read; the status byte can report up
	// to 255 pending bytes.
	maxRead      = 255
	pollInterval = 2 * time.Millisecond
)

// Transport implements nowpair.Transport and nowpair.Sniffer over an I2C
// bridge.
type Transport struct {
	bus     *bus
	client  *bridge.Client
	busName string
	mac     nowpair.MAC
}

// parseI2CPath splits "/dev/i2c-1:0x42" into bus and address. A bare bus
// uses DefaultAddr.
func parseI2CPath(path string) (string, uint16, error) {
	busName, addrText, found := strings.Cut(path, ":")
	if !found {
		return busName, DefaultAddr, nil
	}
	addr, err := strconv.ParseUint(addrText, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", addrText, err)
	}
	return busName, uint16(addr), nil
}

// New opens the bus named by path, e.g. "/dev/i2c-1" or "1:0x42".
func New(path string) (*Transport, error) {
	busName, addr, err := parseI2CPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	if err := b.SetSpeed(maxClockFreq); err != nil {
		nowpair.Debugf("i2c %s: keeping default speed: %v", busName, err)
	}
	return NewFromBus(b, path, addr)
}

// NewFromBus talks to the bridge at addr on an open bus and asks it for
// its address. The bus is closed on failure.
func NewFromBus(b i2c.BusCloser, name string, addr uint16) (*Transport, error) {
	target := &bus{
		dev:         &i2c.Dev{Addr: addr, Bus: b},
		closer:      b,
		readTimeout: nowpair.BridgeReadTimeout,
	}
	t := &Transport{bus: target, busName: name}
	t.client = bridge.New(target, bridge.Options{Port: name, Transport: "I2C"})

	mac, err := t.client.LocalMAC()
	if err != nil {
		_ = t.client.Close()
		return nil, fmt.Errorf("I2C bridge on %s did not answer: %w", name, err)
	}
	t.mac = mac
	nowpair.Debugf("i2c %s: bridge radio %s at 0x%02X", name, mac, addr)
	return t, nil
}

// bus turns the register interface into a byte stream for the bridge
// client.
type bus struct {
	dev         *i2c.Dev
	closer      i2c.BusCloser
	readTimeout time.Duration
	mu          syncutil.Mutex
	closed      atomic.Bool
}

func (b *bus) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, nowpair.ErrTransportClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dev.Tx(p, nil); err != nil {
		return 0, fmt.Errorf("I2C write failed: %w", err)
	}
	return len(p), nil
}

// Read polls the status register until the bridge has output or the read
// timeout passes. Zero bytes means none yet.
func (b *bus) Read(p []byte) (int, error) {
	deadline := time.Now().Add(b.readTimeout)
	for {
		if b.closed.Load() {
			return 0, nowpair.ErrTransportClosed
		}
		n, err := b.readOnce(p)
		if err != nil || n > 0 {
			return n, err
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(pollInterval)
	}
}

func (b *bus) readOnce(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := make([]byte, 1)
	if err := b.dev.Tx([]byte{regStatus}, status); err != nil {
		return 0, fmt.Errorf("I2C status read failed: %w", err)
	}
	pending := min(int(status[0]), len(p), maxRead)
	if pending == 0 {
		return 0, nil
	}
	if err := b.dev.Tx([]byte{regData}, p[:pending]); err != nil {
		return 0, fmt.Errorf("I2C data read failed: %w", err)
	}
	return pending, nil
}

func (b *bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.closer.Close() //nolint:wrapcheck // wrapped by Transport.Close
}

// Transmit implements nowpair.Transport.
func (t *Transport) Transmit(dst nowpair.MAC, data []byte) error {
	return t.client.Transmit(dst, data) //nolint:wrapcheck // carries port and trace
}

// RegisterPeer implements nowpair.PeerRegistrar.
func (t *Transport) RegisterPeer(mac nowpair.MAC, channel uint8, linkKey []byte) error {
	return t.client.RegisterPeer(mac, channel, linkKey) //nolint:wrapcheck // carries port and trace
}

// SetChannel implements nowpair.Transport.
func (t *Transport) SetChannel(channel uint8) error {
	return t.client.SetChannel(channel) //nolint:wrapcheck // carries port and trace
}

// LocalMAC returns the address the bridge reported when it was opened.
func (t *Transport) LocalMAC() nowpair.MAC {
	return t.mac
}

// SetReceiveHandler implements nowpair.Transport.
func (t *Transport) SetReceiveHandler(h nowpair.ReceiveHandler) {
	t.client.SetReceiveHandler(h)
}

// StartSniffing implements nowpair.Sniffer.
func (t *Transport) StartSniffing(h nowpair.SniffHandler) error {
	return t.client.StartSniffing(h) //nolint:wrapcheck // carries port and trace
}

// StopSniffing implements nowpair.Sniffer.
func (t *Transport) StopSniffing() error {
	return t.client.StopSniffing() //nolint:wrapcheck // carries port and trace
}

// Stats returns the bridge reader counters.
func (t *Transport) Stats() bridge.Stats {
	return t.client.Stats()
}

// Close releases the bus.
func (t *Transport) Close() error {
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("I2C close failed: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() nowpair.TransportType {
	return nowpair.TransportI2C
}

var (
	_ nowpair.Transport = (*Transport)(nil)
	_ nowpair.Sniffer   = (*Transport)(nil)
)
