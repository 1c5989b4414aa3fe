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

// Package spi drives a radio co-processor on an SPI bus. The bridge is the
// SPI target: the host pushes request frames with a data-write transaction
// and polls a status byte that says how many reply bytes are waiting.
package spi

import (
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/bridge"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

const (
	// SPI protocol constants
	spiDataWrite = 0x01
	spiStatRead  = 0x02
	spiDataRead  = 0x03

	// Default SPI settings
	defaultFreq = 4 * physic.MegaHertz
	mode        = spi.Mode0

	pollInterval = 2 * time.Millisecond
)

// Transport implements nowpair.Transport and nowpair.Sniffer over an SPI
// bridge.
type Transport struct {
	bus      *bus
	client   *bridge.Client
	portName string
	mac      nowpair.MAC
}

// New opens the SPI port by name, e.g. "/dev/spidev0.0" or "SPI0.0".
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	return NewFromPort(port, portName)
}

// NewFromPort connects to an open port and asks the bridge for its address.
// The port is closed on failure.
func NewFromPort(port spi.PortCloser, portName string) (*Transport, error) {
	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	b := &bus{conn: conn, port: port, readTimeout: nowpair.BridgeReadTimeout}
	t := &Transport{bus: b, portName: portName}
	t.client = bridge.New(b, bridge.Options{Port: portName, Transport: "SPI"})

	mac, err := t.client.LocalMAC()
	if err != nil {
		_ = t.client.Close()
		return nil, fmt.Errorf("SPI bridge on %s did not answer: %w", portName, err)
	}
	t.mac = mac
	nowpair.Debugf("spi %s: bridge radio %s", portName, mac)
	return t, nil
}

// bus turns the polled SPI target into a byte stream for the bridge
// client. Transactions are serialized; Read and Write come from different
// goroutines.
type bus struct {
	conn        spi.Conn
	port        spi.PortCloser
	readTimeout time.Duration
	mu          syncutil.Mutex
	closed      atomic.Bool
}

// Write sends p in one data-write transaction.
func (b *bus) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, nowpair.ErrTransportClosed
	}
	w := make([]byte, 0, len(p)+1)
	w = append(w, spiDataWrite)
	w = append(w, p...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.Tx(w, nil); err != nil {
		return 0, fmt.Errorf("SPI data write failed: %w", err)
	}
	return len(p), nil
}

// Read polls the status byte until the bridge has output or the read
// timeout passes, then returns what it has. Zero bytes means none yet.
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

	status := make([]byte, 2)
	if err := b.conn.Tx([]byte{spiStatRead, 0x00}, status); err != nil {
		return 0, fmt.Errorf("SPI status read failed: %w", err)
	}
	pending := min(int(status[1]), len(p))
	if pending == 0 {
		return 0, nil
	}

	w := make([]byte, pending+1)
	w[0] = spiDataRead
	r := make([]byte, pending+1)
	if err := b.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("SPI data read failed: %w", err)
	}
	return copy(p, r[1:]), nil
}

// Close releases the port.
func (b *bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.port.Close() //nolint:wrapcheck // wrapped by Transport.Close
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

// Close closes the transport connection
func (t *Transport) Close() error {
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() nowpair.TransportType {
	return nowpair.TransportSPI
}

var (
	_ nowpair.Transport = (*Transport)(nil)
	_ nowpair.Sniffer   = (*Transport)(nil)
)
