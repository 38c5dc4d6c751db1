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

// Package buffer holds parsed records between the ingestion drivers and
// the index. The buffer is bounded; it drains on a timer, when it fills,
// and on demand. A failed drain drops its batch: the pipeline trades
// durability for never wedging ingestion.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
	"go.uber.org/atomic"
)

const (
	DefaultMaxSize       = 1000
	DefaultFlushInterval = 5 * time.Second

	// backpressureSlice bounds how long one Add blocks while a flush is
	// draining a full buffer.
	backpressureSlice  = time.Millisecond
	backpressureSlices = 10
)

// Indexer receives drained batches and reports how many records it
// committed. The index engine implements it.
type Indexer interface {
	Index(ctx context.Context, batch []*record.LogRecord) (int, error)
}

// Buffer is a bounded queue of records with a periodic flusher.
type Buffer struct {
	maxSize       int
	flushInterval time.Duration
	sink          Indexer
	logger        logs.StructuredLogger
	clock         clock.Clock

	mu       sync.Mutex
	records  []*record.LogRecord
	flushing bool

	flushNow chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	totalAdded    atomic.Int64
	totalFlushed  atomic.Int64
	totalDropped  atomic.Int64
	flushFailures atomic.Int64
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(b *Buffer) { b.clock = c }
}

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

func New(sink Indexer, logger logs.StructuredLogger, options ...Option) *Buffer {
	b := &Buffer{
		maxSize:       DefaultMaxSize,
		flushInterval: DefaultFlushInterval,
		sink:          sink,
		logger:        logger,
		clock:         clock.New(),
		flushNow:      make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(b)
	}
	b.records = make([]*record.LogRecord, 0, b.maxSize)
	return b
}

// Start launches the periodic flusher. It returns immediately.
func (b *Buffer) Start(ctx context.Context) {
	go b.runFlusher(ctx)
}

// Stop halts the flusher and drains whatever is left.
func (b *Buffer) Stop(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	b.Flush(ctx)
}

func (b *Buffer) runFlusher(ctx context.Context) {
	defer close(b.doneCh)
	ticker := b.clock.Ticker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.flushNow:
			b.Flush(ctx)
		}
	}
}

// Add appends one record. When the buffer reaches capacity the calling
// goroutine drains it synchronously. If another flush is already draining,
// Add waits in short slices for space instead of stacking a second flush.
func (b *Buffer) Add(r *record.LogRecord) bool {
	if r == nil {
		return false
	}
	b.mu.Lock()
	for i := 0; len(b.records) >= b.maxSize && b.flushing && i < backpressureSlices; i++ {
		b.mu.Unlock()
		b.clock.Sleep(backpressureSlice)
		b.mu.Lock()
	}
	b.records = append(b.records, r)
	size := len(b.records)
	b.mu.Unlock()

	b.totalAdded.Inc()
	telemetry.BufferSize.Set(float64(size))
	if size >= b.maxSize {
		b.Flush(context.Background())
	}
	return true
}

// TryAdd appends one record only if there is space right now. Listeners
// that must not block (syslog UDP) use it and drop on false.
func (b *Buffer) TryAdd(r *record.LogRecord) bool {
	if r == nil {
		return false
	}
	b.mu.Lock()
	if len(b.records) >= b.maxSize {
		b.mu.Unlock()
		// Nudge the flusher so the next datagram finds room.
		select {
		case b.flushNow <- struct{}{}:
		default:
		}
		return false
	}
	b.records = append(b.records, r)
	size := len(b.records)
	b.mu.Unlock()

	b.totalAdded.Inc()
	telemetry.BufferSize.Set(float64(size))
	return true
}

// AddAll appends records preserving their order relative to each other and
// returns how many were accepted.
func (b *Buffer) AddAll(records []*record.LogRecord) int {
	added := 0
	full := false
	b.mu.Lock()
	for _, r := range records {
		if r == nil {
			continue
		}
		b.records = append(b.records, r)
		added++
		if len(b.records) >= b.maxSize {
			full = true
		}
	}
	size := len(b.records)
	b.mu.Unlock()

	b.totalAdded.Add(int64(added))
	telemetry.BufferSize.Set(float64(size))
	if full {
		b.Flush(context.Background())
	}
	return added
}

// Flush drains the buffer into the indexer as one batch and returns the
// number of records committed. A failing batch is dropped, not retried.
func (b *Buffer) Flush(ctx context.Context) int {
	b.mu.Lock()
	if len(b.records) == 0 || b.flushing {
		b.mu.Unlock()
		return 0
	}
	b.flushing = true
	batch := b.records
	b.records = make([]*record.LogRecord, 0, b.maxSize)
	b.mu.Unlock()

	telemetry.BufferSize.Set(0)
	telemetry.BufferFlushes.Inc()
	n, err := b.sink.Index(ctx, batch)

	b.mu.Lock()
	b.flushing = false
	b.mu.Unlock()

	if err != nil {
		// A partial failure still committed n records; only the rest is
		// dropped.
		dropped := len(batch) - n
		b.flushFailures.Inc()
		b.totalDropped.Add(int64(dropped))
		telemetry.BufferFlushFailures.Inc()
		telemetry.BufferDropped.Add(float64(dropped))
		b.logger.Errorf("buffer flush dropped %d of %d records: %v", dropped, len(batch), err)
	}
	b.totalFlushed.Add(int64(n))
	return n
}

// Size returns the number of buffered records.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Stats is a point-in-time snapshot of the buffer counters.
type Stats struct {
	Size          int   `json:"size"`
	Capacity      int   `json:"capacity"`
	TotalAdded    int64 `json:"total_added"`
	TotalFlushed  int64 `json:"total_flushed"`
	TotalDropped  int64 `json:"total_dropped"`
	FlushFailures int64 `json:"flush_failures"`
}

func (b *Buffer) Stats() Stats {
	return Stats{
		Size:          b.Size(),
		Capacity:      b.maxSize,
		TotalAdded:    b.totalAdded.Load(),
		TotalFlushed:  b.totalFlushed.Load(),
		TotalDropped:  b.totalDropped.Load(),
		FlushFailures: b.flushFailures.Load(),
	}
}
