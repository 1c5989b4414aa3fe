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

// Package uart drives a radio co-processor attached to a serial port, such
// as an ESP32 running the bridge firmware behind a CP210x or CH340 adapter.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/bridge"
)

// BaudRate is the bridge firmware's fixed line rate.
const BaudRate = 115200

// Transport implements nowpair.Transport and nowpair.Sniffer over a serial
// bridge.
type Transport struct {
	port     serial.Port
	client   *bridge.Client
	portName string
	mac      nowpair.MAC
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getReadTimeout returns the per-read timeout. Windows USB serial drivers
// need longer.
func getReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return nowpair.BridgeReadTimeout
}

// New opens portName and asks the bridge for its address.
func New(portName string) (*Transport, error) {
	return Open(context.Background(), portName)
}

// Open is New with a context bounding the open retries.
func Open(ctx context.Context, portName string) (*Transport, error) {
	var port serial.Port
	err := nowpair.RetryWithConfig(ctx, nowpair.ConnectRetryConfig(), func() error {
		p, err := serial.Open(portName, &serial.Mode{
			BaudRate: BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return openError(portName, err)
		}
		port = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(getReadTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return NewFromPort(port, portName)
}

// openError classifies a serial.Open failure. A busy port may free up; a
// missing one will not.
func openError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() { //nolint:exhaustive // only the retryable code matters
		case serial.PortBusy:
			return nowpair.NewTransportError("open", portName, err, nowpair.ErrorTypeTransient)
		case serial.PortNotFound:
			return nowpair.NewTransportError("open", portName,
				fmt.Errorf("%w: %w", nowpair.ErrDeviceNotFound, err), nowpair.ErrorTypePermanent)
		default:
			return nowpair.NewTransportError("open", portName, err, nowpair.ErrorTypePermanent)
		}
	}
	return nowpair.NewTransportError("open", portName, err, nowpair.ErrorTypeTransient)
}

// NewFromPort takes over an already open port. The port is closed if the
// bridge does not answer.
func NewFromPort(port serial.Port, portName string) (*Transport, error) {
	if err := port.ResetInputBuffer(); err != nil {
		nowpair.Debugf("uart %s: reset input buffer: %v", portName, err)
	}

	t := &Transport{port: port, portName: portName}
	t.client = bridge.New(port, bridge.Options{
		Port:      portName,
		Transport: "UART",
		Flush:     func() error { return t.drainWithRetry("request") },
	})

	mac, err := t.client.LocalMAC()
	if err != nil {
		_ = t.client.Close()
		return nil, fmt.Errorf("UART bridge on %s did not answer: %w", portName, err)
	}
	t.mac = mac
	nowpair.Debugf("uart %s: bridge radio %s", portName, mac)
	return t, nil
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if !bridge.IsInterruptedSystemCall(err) || attempt == maxRetries-1 {
			return fmt.Errorf("UART %s drain failed: %w", operation, err)
		}
		time.Sleep(baseDelay << attempt)
	}
	return nil
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

// PortName returns the serial device path.
func (t *Transport) PortName() string {
	return t.portName
}

// Close closes the transport connection
func (t *Transport) Close() error {
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() nowpair.TransportType {
	return nowpair.TransportUART
}

var (
	_ nowpair.Transport = (*Transport)(nil)
	_ nowpair.Sniffer   = (*Transport)(nil)
)
