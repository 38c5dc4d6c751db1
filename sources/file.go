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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/parsers"
)

// FileDriver polls a directory glob and tails every matching file,
// resuming from checkpointed offsets across restarts. Truncation or an
// inode change resets a file to offset zero.
type FileDriver struct {
	cfg         *Config
	chain       *parsers.Chain
	sink        RecordSink
	checkpoints *Checkpoints
	logger      logs.StructuredLogger
	clock       clock.Clock

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFileDriver builds the driver for one FILE source.
func NewFileDriver(cfg *Config, chain *parsers.Chain, sink RecordSink, checkpoints *Checkpoints, logger logs.StructuredLogger, clk clock.Clock) (*FileDriver, error) {
	if cfg.File == nil {
		return nil, fmt.Errorf("sources: %q has no file settings", cfg.Name)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FileDriver{
		cfg:         cfg,
		chain:       chain,
		sink:        sink,
		checkpoints: checkpoints,
		logger:      logger,
		clock:       clk,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Run scans immediately, then on every interval until stopped.
func (d *FileDriver) Run(ctx context.Context) error {
	defer close(d.doneCh)
	interval := time.Duration(d.cfg.File.ScanIntervalSeconds) * time.Second
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	d.Scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stopCh:
			return nil
		case <-ticker.C:
			d.Scan()
		}
	}
}

// Stop halts the scan loop.
func (d *FileDriver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

// Scan runs one pass over the glob: every new or grown file is tailed
// from its checkpoint. Checkpoints flush once per pass.
func (d *FileDriver) Scan() {
	pattern := filepath.Join(d.cfg.File.DirectoryPath, d.cfg.File.FilePattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		d.logger.Errorf("sources: %q: bad glob %q: %v", d.cfg.Name, pattern, err)
		return
	}
	for _, path := range matches {
		if err := d.tailFile(path); err != nil {
			d.logger.Warnf("sources: %q: tailing %s: %v", d.cfg.Name, path, err)
		}
	}
	if err := d.checkpoints.Flush(); err != nil {
		d.logger.Warnf("sources: %q: flushing checkpoints: %v", d.cfg.Name, err)
	}
}

// tailFile reads the lines appended since the file's checkpoint.
func (d *FileDriver) tailFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	inode := fileInode(info)

	offset := int64(0)
	if cp, ok := d.checkpoints.Get(path); ok {
		offset = cp.Offset
		// Rotation or truncation: start over from the top.
		if (inode != 0 && cp.Inode != 0 && inode != cp.Inode) || info.Size() < cp.Offset {
			offset = 0
		}
	}
	if info.Size() == offset {
		d.checkpoints.Set(path, offset, inode)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// A partial trailing line stays unread until the writer
			// finishes it.
			break
		}
		if err != nil {
			return err
		}
		read += int64(len(line))
		text := trimLine(line)
		if text == "" {
			continue
		}
		r := d.chain.ParseLine(text, path)
		r.Metadata["source_type"] = "file"
		r.Metadata["source_id"] = d.cfg.ID
		telemetry.IngestRecords.WithLabelValues("file").Inc()
		telemetry.IngestBytes.WithLabelValues("file").Add(float64(len(line)))
		d.sink.Add(r)
	}
	d.checkpoints.Set(path, read, inode)
	return nil
}

func trimLine(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
