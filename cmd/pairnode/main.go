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

// Command pairnode runs one end of the pairing protocol against a radio
// bridge, or both ends against a simulated medium.
//
//	pairnode -role worker -port /dev/ttyUSB0
//	pairnode -role boss -port auto -config boss.db
//	pairnode -role sim -duration 30s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/ZaparooProject/go-nowpair"
	"github.com/ZaparooProject/go-nowpair/config"
	"github.com/ZaparooProject/go-nowpair/detection"
	_ "github.com/ZaparooProject/go-nowpair/detection/i2c"
	_ "github.com/ZaparooProject/go-nowpair/detection/spi"
	_ "github.com/ZaparooProject/go-nowpair/detection/uart"
	"github.com/ZaparooProject/go-nowpair/frame"
	"github.com/ZaparooProject/go-nowpair/node"
	"github.com/ZaparooProject/go-nowpair/transport/i2c"
	"github.com/ZaparooProject/go-nowpair/transport/spi"
	"github.com/ZaparooProject/go-nowpair/transport/uart"
)

// cmdPing is the application command pairnode exchanges once paired.
const cmdPing frame.Command = 0x10

type options struct {
	role       string
	port       string
	transport  string
	configPath string
	sessionLog string
	ping       time.Duration
	duration   time.Duration
	startup    time.Duration
	channel    uint
	debug      bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.role, "role", "worker", "worker, boss or sim")
	fs.StringVar(&opts.port, "port", "auto", "bridge port, or auto to detect one")
	fs.StringVar(&opts.transport, "transport", "", "uart, spi or i2c (guessed from the port when empty)")
	fs.StringVar(&opts.configPath, "config", "", "settings file: .json, or .db for SQLite (in memory when empty)")
	fs.StringVar(&opts.sessionLog, "session-log", "", "directory to write a debug session log to")
	fs.DurationVar(&opts.ping, "ping", 2*time.Second, "interval between pings once paired, 0 to disable")
	fs.DurationVar(&opts.duration, "duration", 0, "stop after this long, 0 to run until interrupted")
	fs.DurationVar(&opts.startup, "startup-delay",
		time.Duration(nowpair.DefaultStartupDelay)*time.Millisecond, "quiet period before beaconing or listening")
	fs.UintVar(&opts.channel, "channel", 0, "radio channel, 0 to use the stored one")
	fs.BoolVar(&opts.debug, "debug", false, "log protocol debug output")
	if err := fs.Parse(args); err != nil {
		return nil, err //nolint:wrapcheck // flag already printed it
	}

	switch opts.role {
	case "worker", "boss", "sim":
	default:
		return nil, fmt.Errorf("unknown role %q", opts.role)
	}
	if opts.channel > 14 {
		return nil, fmt.Errorf("channel %d out of range 0-14", opts.channel)
	}
	return opts, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

// openStore picks the ConfigStore by file extension. The returned close
// function is never nil.
func openStore(ctx context.Context, path string) (nowpair.ConfigStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return config.NewMemory(config.Defaults()), noop, nil
		}
		fallthrough
	case ".json":
		f, err := config.OpenFile(path)
		if err != nil {
			return nil, noop, err //nolint:wrapcheck // carries the path
		}
		return f, noop, nil
	case ".db", ".sqlite", ".sqlite3":
		s, err := config.OpenSQLite(ctx, path)
		if err != nil {
			return nil, noop, err //nolint:wrapcheck // carries the path
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported config file %s", path)
	}
}

// radio is what pairnode needs from a bridge transport.
type radio interface {
	nowpair.Transport
	nowpair.Sniffer
}

// transportKind guesses the adapter from the port name.
func transportKind(port, explicit string) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	lower := strings.ToLower(port)
	switch {
	case strings.Contains(lower, "i2c"):
		return "i2c"
	case strings.Contains(lower, "spi"):
		return "spi"
	}
	return "uart"
}

func openRadio(ctx context.Context, opts *options, log *zap.Logger) (radio, error) {
	port, kind := opts.port, transportKind(opts.port, opts.transport)
	if port == "" || port == "auto" {
		detectOpts := detection.DefaultOptions()
		if opts.transport != "" {
			detectOpts.Transports = []string{kind}
		}
		device, err := detection.DetectFirst(ctx, &detectOpts)
		if err != nil {
			return nil, fmt.Errorf("auto-detect: %w", err)
		}
		log.Info("bridge detected",
			zap.String("transport", device.Transport),
			zap.String("path", device.Path),
			zap.String("mac", device.Metadata["mac"]))
		port, kind = device.Path, device.Transport
	}

	switch kind {
	case "uart":
		t, err := uart.Open(ctx, port)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return t, nil
	case "spi":
		t, err := spi.New(port)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return t, nil
	case "i2c":
		t, err := i2c.New(port)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}
}

func nodeRole(role string) node.Role {
	if role == "boss" {
		return node.RoleBoss
	}
	return node.RoleWorker
}

func nodeOptions(opts *options, role node.Role, store nowpair.ConfigStore, tr nowpair.Transport) node.Options {
	nodeOpts := node.DefaultOptions(role)
	nodeOpts.Store = store
	nodeOpts.Transport = tr
	nodeOpts.Channel = uint8(opts.channel) //nolint:gosec // range checked in parseFlags
	nodeOpts.StartupDelay = uint64(opts.startup.Milliseconds()) //nolint:gosec // flag durations are positive
	return nodeOpts
}

func run(ctx context.Context, opts *options, log *zap.Logger) error {
	store, closeStore, err := openStore(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close config", zap.Error(err))
		}
	}()

	if opts.role == "sim" {
		return runSim(ctx, opts, store, log)
	}

	tr, err := openRadio(ctx, opts, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.Warn("close transport", zap.Error(err))
		}
	}()
	log.Info("bridge open", zap.Stringer("mac", tr.LocalMAC()))

	n, err := node.New(nodeOptions(opts, nodeRole(opts.role), store, tr))
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return serve(ctx, n, opts.ping, log)
}

// serve runs n until ctx ends, logging link changes and exchanging pings.
// The node is ticked and read from the calling goroutine only.
func serve(ctx context.Context, n *node.Node, ping time.Duration, log *zap.Logger) error {
	log = log.With(zap.String("role", n.Role().String()))

	var (
		paired   bool
		lastPing time.Time
		seq      uint8
	)
	err := n.RunWith(ctx, func(now time.Time) error {
		if up := n.IsPaired(); up != paired {
			paired = up
			peer, _ := n.Peer()
			if up {
				log.Info("paired", zap.Stringer("peer", peer), zap.Uint8("channel", n.Channel()))
			} else {
				log.Warn("link lost")
			}
		}

		for {
			pkt, ok := n.Receive()
			if !ok {
				break
			}
			p1, p2 := pkt.Params()
			log.Info("frame",
				zap.Stringer("command", pkt.Command),
				zap.Uint8("seq", pkt.SeqID),
				zap.Int16("p1", p1),
				zap.Int16("p2", p2),
				zap.Stringer("from", pkt.SenderMAC))
		}

		if paired && ping > 0 && now.Sub(lastPing) >= ping {
			lastPing = now
			seq++
			pkt := frame.NewSession(cmdPing, 0, seq, nowpair.MAC{})
			pkt.SetParams(int16(seq), int16(n.Channel()))
			if err := n.Send(pkt); err != nil {
				log.Debug("ping not sent", zap.Error(err))
			}
		}
		return nil
	})

	st := n.Stats()
	log.Info("stopped",
		zap.Uint64("received", st.Received),
		zap.Uint64("malformed", st.Malformed),
		zap.Uint64("spoofed", st.Spoofed),
		zap.Uint64("overflow", st.Overflow))
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("node stopped: %w", err)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	opts, err := parseFlags(flag.NewFlagSet("pairnode", flag.ContinueOnError), args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	log, err := newLogger(opts.debug)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	// The session log, when asked for, takes the library debug output.
	switch {
	case opts.sessionLog != "":
		path, err := nowpair.OpenSessionLog(opts.sessionLog)
		if err != nil {
			log.Error("session log", zap.Error(err))
			return 1
		}
		log.Info("writing session log", zap.String("path", path))
		defer func() { _ = nowpair.CloseSessionLog() }()
	case opts.debug:
		w := &zapio.Writer{Log: log.Named("nowpair"), Level: zapcore.DebugLevel}
		defer func() { _ = w.Close() }()
		nowpair.SetDebugOutput(w)
		defer nowpair.SetDebugOutput(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if err := run(ctx, opts, log); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0
		}
		log.Error("pairnode failed", zap.Error(err))
		return 1
	}
	return 0
}
