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

// Package bridge runs the host side of a radio co-processor link. A Client
// owns one reader goroutine that splits the incoming stream into replies,
// which go back to the pending request, and events, which go to the
// installed receive and sniff handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/internal/link"
	"github.com/ZaparooProject/go-nowpair/internal/syncutil"
)

const traceSize = 16

// Options configures a Client.
type Options struct {
	// Flush runs after every request write. The UART adapter drains the
	// port here.
	Flush func() error
	// Port names the device in errors and traces.
	Port string
	// Transport names the adapter in traces, e.g. "UART".
	Transport string
	// RequestTimeout bounds the wait for a reply. Zero means
	// nowpair.BridgeRequestTimeout.
	RequestTimeout time.Duration
}

// Stats counts reader activity.
type Stats struct {
	// Events is the number of Received and Sniffed frames dispatched.
	Events uint64
	// Stray is the number of replies nobody was waiting for.
	Stray uint64
	// BadEvents is the number of event frames whose body did not parse.
	BadEvents uint64
}

// Client speaks the bridge protocol over rw. Requests are serialized; the
// handlers run on the reader goroutine and must not call back into the
// Client.
type Client struct {
	rw        io.ReadWriter
	flush     func() error
	replies   chan link.Frame
	done      chan struct{}
	failed    chan struct{}
	recv      nowpair.ReceiveHandler
	sniff     nowpair.SniffHandler
	readErr   error
	trace     *nowpair.TraceBuffer
	port      string
	timeout   time.Duration
	wg        sync.WaitGroup
	closeOnce sync.Once
	reqMu     syncutil.Mutex
	mu        syncutil.Mutex
	events    atomic.Uint64
	stray     atomic.Uint64
	badEvents atomic.Uint64
	closed    atomic.Bool
}

// New starts a Client reading from rw. If rw is an io.Closer, Close
// closes it.
func New(rw io.ReadWriter, opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = nowpair.BridgeRequestTimeout
	}
	c := &Client{
		rw:      rw,
		flush:   opts.Flush,
		port:    opts.Port,
		timeout: timeout,
		trace:   nowpair.NewTraceBuffer(opts.Transport, opts.Port, traceSize),
		replies: make(chan link.Frame, 4),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// IsInterruptedSystemCall reports whether err is an EINTR surfaced by the
// serial driver, which is safe to repeat.
func IsInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "interrupted system call") || strings.Contains(msg, "eintr")
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	decoder := link.NewDecoder(c.port)
	buf := make([]byte, link.MaxFrameLength)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.rw.Read(buf)
		if err != nil {
			if c.closed.Load() {
				return
			}
			if IsInterruptedSystemCall(err) {
				continue
			}
			c.fail(err)
			return
		}
		if n == 0 {
			continue
		}

		_, _ = decoder.Write(buf[:n])
		for {
			f, ok := decoder.Next()
			if !ok {
				break
			}
			c.dispatch(f)
		}
	}
}

func (c *Client) fail(err error) {
	nowpair.Debugf("bridge %s: reader stopped: %v", c.port, err)
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	close(c.failed)
}

func (c *Client) dispatch(f link.Frame) {
	switch f.Type {
	case link.TypeReceived:
		r, err := link.ParseReceived(f.Data)
		if err != nil {
			c.badEvents.Add(1)
			nowpair.Debugf("bridge %s: bad received event: %v", c.port, err)
			return
		}
		c.events.Add(1)
		c.mu.Lock()
		h := c.recv
		c.mu.Unlock()
		if h != nil {
			h.HandleReceive(r.Src, r.Payload)
		}
	case link.TypeSniffed:
		pkt, err := link.ParseSniffed(f.Data)
		if err != nil {
			c.badEvents.Add(1)
			nowpair.Debugf("bridge %s: bad sniffed event: %v", c.port, err)
			return
		}
		c.events.Add(1)
		c.mu.Lock()
		h := c.sniff
		c.mu.Unlock()
		if h != nil {
			h.HandleSniff(pkt)
		}
	default:
		c.mu.Lock()
		c.trace.RecordRX(f.Data, fmt.Sprintf("type 0x%02X", f.Type))
		c.mu.Unlock()
		select {
		case c.replies <- f:
		default:
			c.stray.Add(1)
		}
	}
}

// Request writes raw and returns the next reply frame.
func (c *Client) Request(op string, raw []byte) (link.Frame, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.usable(op); err != nil {
		return link.Frame{}, err
	}
	c.dropStale()

	c.mu.Lock()
	c.trace.RecordTX(raw, op)
	c.mu.Unlock()

	err := nowpair.RetryWithConfig(context.Background(), nowpair.DefaultRetryConfig(), func() error {
		return c.write(op, raw)
	})
	if err != nil {
		return link.Frame{}, c.wrap(err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case f := <-c.replies:
		return f, nil
	case <-timer.C:
		return link.Frame{}, c.wrap(nowpair.NewTimeoutError(op, c.port))
	case <-c.failed:
		return link.Frame{}, c.wrap(c.readFailure(op))
	case <-c.done:
		return link.Frame{}, nowpair.NewTransportError(op, c.port, nowpair.ErrTransportClosed, nowpair.ErrorTypePermanent)
	}
}

// Exec sends a request that is answered with a Status frame.
func (c *Client) Exec(op string, raw []byte) error {
	f, err := c.Request(op, raw)
	if err != nil {
		return err
	}
	if f.Type != link.TypeStatus {
		return c.wrap(c.unexpected(op, f))
	}
	if err := link.StatusError(f.Data); err != nil {
		return c.wrap(nowpair.NewTransportError(op, c.port, err, nowpair.ErrorTypeTransient))
	}
	return nil
}

func (c *Client) write(op string, raw []byte) error {
	n, err := c.rw.Write(raw)
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return nowpair.NewTransportError(op, c.port, err, nowpair.ErrorTypePermanent)
		}
		return nowpair.NewTransportError(op, c.port, fmt.Errorf("%w: %w", nowpair.ErrTransportWrite, err),
			nowpair.ErrorTypeTransient)
	}
	if n != len(raw) {
		return nowpair.NewTransportWriteError(op, c.port)
	}
	if c.flush != nil {
		if err := c.flush(); err != nil {
			return nowpair.NewTransportError(op, c.port, err, nowpair.ErrorTypeTransient)
		}
	}
	return nil
}

func (c *Client) usable(op string) error {
	if c.closed.Load() {
		return nowpair.NewTransportError(op, c.port, nowpair.ErrTransportClosed, nowpair.ErrorTypePermanent)
	}
	select {
	case <-c.failed:
		return c.readFailure(op)
	default:
		return nil
	}
}

func (c *Client) readFailure(op string) error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	return nowpair.NewTransportError(op, c.port, fmt.Errorf("%w: %w", nowpair.ErrTransportRead, err),
		nowpair.ErrorTypePermanent)
}

func (c *Client) unexpected(op string, f link.Frame) error {
	return nowpair.NewTransportError(op, c.port,
		fmt.Errorf("%w: unexpected reply type 0x%02X", nowpair.ErrFrameCorrupted, f.Type),
		nowpair.ErrorTypeTransient)
}

// dropStale discards replies that arrived after an earlier request gave up.
func (c *Client) dropStale() {
	for {
		select {
		case <-c.replies:
			c.stray.Add(1)
		default:
			return
		}
	}
}

//nolint:wrapcheck // WrapError attaches the trace
func (c *Client) wrap(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace.WrapError(err)
}

// LocalMAC asks the bridge for its radio address.
func (c *Client) LocalMAC() (nowpair.MAC, error) {
	raw, err := link.EncodeGetMAC()
	if err != nil {
		return nowpair.MAC{}, err
	}
	f, err := c.Request("getMAC", raw)
	if err != nil {
		return nowpair.MAC{}, err
	}
	switch f.Type {
	case link.TypeMAC:
		return link.ParseMAC(f.Data)
	case link.TypeStatus:
		if err := link.StatusError(f.Data); err != nil {
			return nowpair.MAC{}, c.wrap(nowpair.NewTransportError("getMAC", c.port, err, nowpair.ErrorTypeTransient))
		}
	}
	return nowpair.MAC{}, c.wrap(c.unexpected("getMAC", f))
}

// Transmit sends data to dst over the air.
func (c *Client) Transmit(dst nowpair.MAC, data []byte) error {
	raw, err := link.EncodeTransmit(dst, data)
	if err != nil {
		return nowpair.NewTransportError("transmit", c.port, err, nowpair.ErrorTypePermanent)
	}
	return c.Exec("transmit", raw)
}

// RegisterPeer adds mac to the bridge's peer table.
func (c *Client) RegisterPeer(mac nowpair.MAC, channel uint8, linkKey []byte) error {
	raw, err := link.EncodeRegisterPeer(mac, channel, linkKey)
	if err != nil {
		return nowpair.NewTransportError("registerPeer", c.port, err, nowpair.ErrorTypePermanent)
	}
	return c.Exec("registerPeer", raw)
}

// SetChannel tunes the radio.
func (c *Client) SetChannel(channel uint8) error {
	raw, err := link.EncodeSetChannel(channel)
	if err != nil {
		return err
	}
	return c.Exec("setChannel", raw)
}

// SetReceiveHandler installs the handler for Received events.
func (c *Client) SetReceiveHandler(h nowpair.ReceiveHandler) {
	c.mu.Lock()
	c.recv = h
	c.mu.Unlock()
}

// StartSniffing installs h and turns on passive capture.
func (c *Client) StartSniffing(h nowpair.SniffHandler) error {
	c.mu.Lock()
	c.sniff = h
	c.mu.Unlock()

	raw, err := link.EncodeSniff(true)
	if err != nil {
		return err
	}
	if err := c.Exec("sniff", raw); err != nil {
		c.mu.Lock()
		c.sniff = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// StopSniffing turns passive capture off. Late Sniffed events are dropped.
func (c *Client) StopSniffing() error {
	c.mu.Lock()
	c.sniff = nil
	c.mu.Unlock()

	raw, err := link.EncodeSniff(false)
	if err != nil {
		return err
	}
	return c.Exec("sniff", raw)
}

// Stats returns the reader counters.
func (c *Client) Stats() Stats {
	return Stats{
		Events:    c.events.Load(),
		Stray:     c.stray.Load(),
		BadEvents: c.badEvents.Load(),
	}
}

// Close stops the reader and closes rw when it can be closed. It is safe
// to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
		c.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("bridge %s close: %w", c.port, err)
	}
	return nil
}
