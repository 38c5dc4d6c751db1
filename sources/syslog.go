// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	syslog "github.com/leodido/go-syslog/v4"
	"github.com/leodido/go-syslog/v4/rfc3164"
	"github.com/leodido/go-syslog/v4/rfc5424"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
)

const (
	// syslogReadTimeout is how often blocked reads wake to check for stop.
	syslogReadTimeout = time.Second
	maxDatagramBytes  = 64 * 1024
)

// SyslogDriver listens on UDP or TCP and turns each frame into a record.
// Frames the RFC machine cannot parse still ingest as raw content at level
// UNKNOWN. UDP never blocks on a full buffer; it drops and counts.
type SyslogDriver struct {
	cfg    *Config
	sink   RecordSink
	logger logs.StructuredLogger

	mu       sync.Mutex
	addr     net.Addr
	closers  []func()
	ready    chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	dropped int64
}

// NewSyslogDriver builds the driver for one SYSLOG source.
func NewSyslogDriver(cfg *Config, sink RecordSink, logger logs.StructuredLogger) (*SyslogDriver, error) {
	if cfg.Syslog == nil {
		return nil, fmt.Errorf("sources: %q has no syslog settings", cfg.Name)
	}
	return &SyslogDriver{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// newMachine builds a best-effort parser for the source's configured RFC.
// Machines are stateful, so each read loop gets its own.
func (d *SyslogDriver) newMachine() syslog.Machine {
	if d.cfg.Syslog.Format == "RFC5424" {
		return rfc5424.NewMachine(rfc5424.WithBestEffort())
	}
	return rfc3164.NewMachine(rfc3164.WithBestEffort())
}

// Addr returns the bound listen address once Run has opened it. Blocks
// until the listener is ready or the driver stops.
func (d *SyslogDriver) Addr() net.Addr {
	<-d.ready
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Run opens the listener and serves until stopped.
func (d *SyslogDriver) Run(ctx context.Context) error {
	defer close(d.doneCh)
	if d.cfg.Syslog.Protocol == "TCP" {
		return d.runTCP(ctx)
	}
	return d.runUDP(ctx)
}

// Stop closes the listener and halts the read loops.
func (d *SyslogDriver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.mu.Lock()
		for _, closeFn := range d.closers {
			closeFn()
		}
		d.mu.Unlock()
	})
	<-d.doneCh
}

func (d *SyslogDriver) runUDP(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", d.cfg.Syslog.Port))
	if err != nil {
		close(d.ready)
		return fmt.Errorf("sources: %q: opening udp port %d: %w", d.cfg.Name, d.cfg.Syslog.Port, err)
	}
	d.mu.Lock()
	d.addr = pc.LocalAddr()
	d.closers = append(d.closers, func() { pc.Close() })
	d.mu.Unlock()
	close(d.ready)
	defer pc.Close()

	machine := d.newMachine()
	buf := make([]byte, maxDatagramBytes)
	for {
		if d.stopped(ctx) {
			return nil
		}
		pc.SetReadDeadline(time.Now().Add(syslogReadTimeout))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if d.stopped(ctx) {
				return nil
			}
			return fmt.Errorf("sources: %q: udp read: %w", d.cfg.Name, err)
		}
		if n == 0 {
			continue
		}
		r := d.buildRecord(machine, strings.TrimRight(string(buf[:n]), "\r\n"))
		// UDP cannot wait for buffer space.
		if !d.sink.TryAdd(r) {
			d.dropped++
			telemetry.BufferDropped.Inc()
		} else {
			telemetry.IngestRecords.WithLabelValues("syslog").Inc()
			telemetry.IngestBytes.WithLabelValues("syslog").Add(float64(n))
		}
	}
}

func (d *SyslogDriver) runTCP(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.Syslog.Port))
	if err != nil {
		close(d.ready)
		return fmt.Errorf("sources: %q: opening tcp port %d: %w", d.cfg.Name, d.cfg.Syslog.Port, err)
	}
	d.mu.Lock()
	d.addr = ln.Addr()
	d.closers = append(d.closers, func() { ln.Close() })
	d.mu.Unlock()
	close(d.ready)
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if d.stopped(ctx) {
				return nil
			}
			return fmt.Errorf("sources: %q: accept: %w", d.cfg.Name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.serveConn(ctx, conn)
		}()
	}
}

// serveConn reads newline-framed messages from one TCP connection. A read
// deadline that fires mid-frame must not split the frame: bytes read so far
// are carried into the next read until a newline or EOF completes them.
func (d *SyslogDriver) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	machine := d.newMachine()
	reader := bufio.NewReaderSize(conn, 4096)
	var partial []byte
	emit := func(frame []byte) {
		line := strings.TrimSpace(string(frame))
		if line == "" {
			return
		}
		r := d.buildRecord(machine, line)
		d.sink.Add(r)
		telemetry.IngestRecords.WithLabelValues("syslog").Inc()
		telemetry.IngestBytes.WithLabelValues("syslog").Add(float64(len(line)))
	}
	for {
		if d.stopped(ctx) {
			return
		}
		conn.SetReadDeadline(time.Now().Add(syslogReadTimeout))
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if err != nil {
			if isTimeout(err) {
				if len(partial) > maxDatagramBytes {
					emit(partial)
					partial = partial[:0]
				}
				continue
			}
			if len(partial) > 0 {
				emit(partial)
			}
			return
		}
		emit(partial)
		partial = partial[:0]
	}
}

// buildRecord parses one frame. Best-effort parsing may return a partial
// message alongside an error; anything with a message body is used, and
// total failures keep the payload as raw content at level UNKNOWN.
func (d *SyslogDriver) buildRecord(machine syslog.Machine, payload string) *record.LogRecord {
	r := record.New(payload, "syslog:"+d.cfg.ID)
	r.Metadata["source_type"] = "syslog"
	r.Metadata["source_id"] = d.cfg.ID
	r.Metadata["log_format"] = strings.ToLower(d.cfg.Syslog.Format)

	msg, err := machine.Parse([]byte(payload))
	base := baseOf(msg)
	if base == nil || (err != nil && base.Message == nil) {
		r.Level = record.LevelUnknown
		return r
	}
	if base.Message != nil {
		r.Message = *base.Message
	}
	if base.Severity != nil {
		r.Level = severityLevel(*base.Severity)
		r.Metadata["log_level"] = string(r.Level)
	}
	if base.Timestamp != nil {
		r.Timestamp = record.TimeToMillis(*base.Timestamp)
		r.Metadata["timestamp"] = base.Timestamp.Format(time.RFC3339)
	}
	if base.Hostname != nil {
		r.Metadata["server"] = *base.Hostname
	}
	if base.Appname != nil {
		r.Metadata["app_name"] = *base.Appname
	}
	if base.ProcID != nil {
		r.Metadata["process_id"] = *base.ProcID
	}
	return r
}

// baseOf extracts the common header fields from either RFC's message.
func baseOf(msg syslog.Message) *syslog.Base {
	switch m := msg.(type) {
	case *rfc3164.SyslogMessage:
		return &m.Base
	case *rfc5424.SyslogMessage:
		return &m.Base
	}
	return nil
}

// severityLevel maps syslog severity (0..7) onto the normalized levels.
func severityLevel(severity uint8) record.Level {
	switch severity {
	case 0, 1, 2:
		return record.LevelFatal
	case 3:
		return record.LevelError
	case 4:
		return record.LevelWarn
	case 5, 6:
		return record.LevelInfo
	case 7:
		return record.LevelDebug
	}
	return record.LevelUnknown
}

func (d *SyslogDriver) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
