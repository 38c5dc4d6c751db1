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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
)

// Puller fetches the provider log entries newer than since. Implementations
// return records in ascending event time so the driver can advance its
// watermark from the tail.
type Puller interface {
	Pull(ctx context.Context, since time.Time) ([]*record.LogRecord, error)
	Close() error
}

// PullerFactory builds the puller for a provider named in CloudSettings.
type PullerFactory func(ctx context.Context, cfg *Config) (Puller, error)

// CloudDriver polls a provider on the configured interval. Each poll asks
// for entries past the watermark; the watermark only moves forward when a
// poll succeeds, so a transient provider error re-fetches rather than
// skips. Duplicate delivery across a retried window is acceptable.
type CloudDriver struct {
	cfg     *Config
	factory PullerFactory
	sink    RecordSink
	logger  logs.StructuredLogger
	clock   clock.Clock

	watermark time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCloudDriver builds the driver for one CLOUD source. The puller itself
// is constructed inside Run so credential failures surface through the
// registry's driver-exit logging instead of blocking startup.
func NewCloudDriver(cfg *Config, factory PullerFactory, sink RecordSink, logger logs.StructuredLogger, clk clock.Clock) (*CloudDriver, error) {
	if cfg.Cloud == nil {
		return nil, fmt.Errorf("sources: %q has no cloud settings", cfg.Name)
	}
	if factory == nil {
		return nil, fmt.Errorf("sources: %q: no puller registered for provider %s", cfg.Name, cfg.Cloud.Provider)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CloudDriver{
		cfg:       cfg,
		factory:   factory,
		sink:      sink,
		logger:    logger,
		clock:     clk,
		watermark: clk.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Run polls until stopped.
func (d *CloudDriver) Run(ctx context.Context) error {
	defer close(d.doneCh)
	puller, err := d.factory(ctx, d.cfg)
	if err != nil {
		return fmt.Errorf("sources: %q: building %s puller: %w", d.cfg.Name, d.cfg.Cloud.Provider, err)
	}
	defer puller.Close()

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0

	interval := time.Duration(d.cfg.Cloud.PollIntervalSeconds) * time.Second
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	d.poll(ctx, puller, retry)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stopCh:
			return nil
		case <-ticker.C:
			d.poll(ctx, puller, retry)
		}
	}
}

// Stop halts the poll loop.
func (d *CloudDriver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *CloudDriver) poll(ctx context.Context, puller Puller, retry *backoff.ExponentialBackOff) {
	records, err := puller.Pull(ctx, d.watermark)
	if err != nil {
		next := retry.NextBackOff()
		d.logger.Warnf("sources: %q: pulling %s logs (next attempt in %s): %v", d.cfg.Name, d.cfg.Cloud.Provider, next, err)
		select {
		case <-ctx.Done():
		case <-d.stopCh:
		case <-d.clock.After(next):
		}
		return
	}
	retry.Reset()
	for _, r := range records {
		r.Metadata["source_type"] = "cloud"
		r.Metadata["source_id"] = d.cfg.ID
		r.Metadata["cloud_provider"] = d.cfg.Cloud.Provider
		telemetry.IngestRecords.WithLabelValues("cloud").Inc()
		telemetry.IngestBytes.WithLabelValues("cloud").Add(float64(len(r.RawContent)))
		d.sink.Add(r)
		if t := r.Time(); t.After(d.watermark) {
			d.watermark = t
		}
	}
}
