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

// Package index implements the time-partitioned inverted index over log
// records, the search cache in front of it, retention, and partition
// housekeeping.
package index

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxResultsPerPartition = 10000
	DefaultMaxActivePartitions    = 30
	DefaultHousekeepingInterval   = time.Minute
)

// PartitionConfig describes how the index buckets records over time.
type PartitionConfig struct {
	// Type selects the bucket size. Ignored when Enabled is false, in
	// which case everything lands in a single partition.
	Type          PartitionType
	BaseDirectory string
	// MaxActivePartitions bounds how many partitions stay open; the
	// housekeeper evicts the oldest beyond it.
	MaxActivePartitions int
	// AutoArchive hands evicted or expired partitions to the archive
	// store before their directories are removed.
	AutoArchive bool
	Enabled     bool
}

// Config carries the engine knobs.
type Config struct {
	Partition              PartitionConfig
	MaxResultsPerPartition int
	SearchParallelism      int
	HousekeepingInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxResultsPerPartition <= 0 {
		c.MaxResultsPerPartition = DefaultMaxResultsPerPartition
	}
	if c.SearchParallelism <= 0 {
		c.SearchParallelism = runtime.NumCPU()
	}
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if c.Partition.MaxActivePartitions <= 0 {
		c.Partition.MaxActivePartitions = DefaultMaxActivePartitions
	}
	if c.Partition.Type == "" {
		c.Partition.Type = Daily
	}
}

// Archiver stores records that are about to be deleted. The archive store
// implements it; a nil Archiver disables archiving regardless of config.
type Archiver interface {
	ArchiveBeforeDeletion(ctx context.Context, records []*record.LogRecord) bool
}

// EventType tags engine events.
type EventType string

const (
	EventIndexed EventType = "indexed"
	EventDeleted EventType = "deleted"
)

// Event notifies subscribers of index mutations. Records holds the
// affected records for EventIndexed; for EventDeleted only Count is set.
type Event struct {
	Type    EventType
	Records []*record.LogRecord
	Count   int64
}

// EventSink receives engine events. Implementations must not block; the
// engine calls Publish synchronously on the write path.
type EventSink interface {
	Publish(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SearchRequest is one index query. Non-positive Start/End leave that side
// of the time range unbounded.
type SearchRequest struct {
	Query string
	Regex bool
	Start int64
	End   int64
}

// Engine is the partitioned index. All methods are safe for concurrent
// use.
type Engine struct {
	cfg      Config
	logger   logs.StructuredLogger
	clock    clock.Clock
	cache    *Cache
	archiver Archiver
	sink     EventSink

	mu         sync.RWMutex
	partitions map[string]*Partition
	closed     bool

	housekeeping atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Open loads every partition under the base directory and returns a ready
// engine. cache may be disabled but not nil; archiver and sink may be nil.
func Open(cfg Config, cache *Cache, archiver Archiver, sink EventSink, logger logs.StructuredLogger, options ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.Partition.BaseDirectory == "" {
		return nil, fmt.Errorf("index: base directory must be set")
	}
	if sink == nil {
		sink = NopSink{}
	}
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		clock:      clock.New(),
		cache:      cache,
		archiver:   archiver,
		sink:       sink,
		partitions: map[string]*Partition{},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}

	if err := os.MkdirAll(cfg.Partition.BaseDirectory, 0755); err != nil {
		return nil, fmt.Errorf("index: creating %s: %w", cfg.Partition.BaseDirectory, err)
	}
	entries, err := os.ReadDir(cfg.Partition.BaseDirectory)
	if err != nil {
		return nil, fmt.Errorf("index: reading %s: %w", cfg.Partition.BaseDirectory, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), partitionDirPrefix) {
			continue
		}
		key := strings.TrimPrefix(entry.Name(), partitionDirPrefix)
		p, skipped, err := openPartition(cfg.Partition.BaseDirectory, key, cfg.Partition.Type)
		if err != nil {
			logger.Errorf("index: skipping unreadable partition %s: %v", key, err)
			continue
		}
		if len(skipped) > 0 {
			logger.Warnf("index: partition %s: dropped %d unreadable lines during replay", key, len(skipped))
		}
		e.partitions[key] = p
		logger.Infof("index: opened partition %s with %d records", key, p.Count())
	}
	telemetry.IndexPartitions.Set(float64(len(e.partitions)))
	return e, nil
}

// StartHousekeeping launches the partition housekeeper.
func (e *Engine) StartHousekeeping(ctx context.Context) {
	if !e.housekeeping.CompareAndSwap(false, true) {
		return
	}
	go e.runHousekeeper(ctx)
}

func (e *Engine) runHousekeeper(ctx context.Context) {
	defer close(e.doneCh)
	ticker := e.clock.Ticker(e.cfg.HousekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.enforceMaxPartitions(ctx)
		}
	}
}

// enforceMaxPartitions evicts the oldest partitions until the count is
// back under the configured bound, archiving them first when enabled.
func (e *Engine) enforceMaxPartitions(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.partitions) <= e.cfg.Partition.MaxActivePartitions {
			e.mu.Unlock()
			return
		}
		oldest := e.oldestPartitionLocked()
		delete(e.partitions, oldest.key)
		e.mu.Unlock()

		records := oldest.snapshot()
		if e.cfg.Partition.AutoArchive && e.archiver != nil && len(records) > 0 {
			if !e.archiver.ArchiveBeforeDeletion(ctx, records) {
				e.logger.Errorf("index: archiving partition %s failed; deleting anyway per housekeeping policy", oldest.key)
			}
		}
		if err := oldest.destroy(); err != nil {
			e.logger.Errorf("index: removing partition %s: %v", oldest.key, err)
		}
		e.cache.InvalidateRange(oldest.startMs, oldest.endMs-1)
		telemetry.IndexPartitions.Set(float64(e.partitionCount()))
		e.logger.Infof("index: evicted partition %s (%d records) over partition budget", oldest.key, len(records))
	}
}

func (e *Engine) oldestPartitionLocked() *Partition {
	var oldest *Partition
	for _, p := range e.partitions {
		if oldest == nil || p.startMs < oldest.startMs {
			oldest = p
		}
	}
	return oldest
}

func (e *Engine) partitionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.partitions)
}

// partitionFor returns the partition for an event timestamp, creating it
// on first use.
func (e *Engine) partitionFor(ts int64) (*Partition, error) {
	key := allPartitionKey
	ptype := e.cfg.Partition.Type
	if e.cfg.Partition.Enabled {
		key = partitionKey(ts, ptype)
	}

	e.mu.RLock()
	p, ok := e.partitions[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.partitions[key]; ok {
		return p, nil
	}
	if e.closed {
		return nil, fmt.Errorf("index: engine is closed")
	}
	p, skipped, err := openPartition(e.cfg.Partition.BaseDirectory, key, ptype)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		e.logger.Warnf("index: partition %s: dropped %d unreadable lines during replay", key, len(skipped))
	}
	e.partitions[key] = p
	telemetry.IndexPartitions.Set(float64(len(e.partitions)))
	return p, nil
}

// Index writes a batch, routing each record to the partition its timestamp
// belongs to. It returns how many records were committed. Before anything
// is written, cached results overlapping the batch's time range are
// invalidated.
func (e *Engine) Index(ctx context.Context, batch []*record.LogRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	var minTs, maxTs int64
	groups := map[*Partition][]*record.LogRecord{}
	var errs error
	for _, r := range batch {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			e.logger.Warnf("index: skipping invalid record: %v", err)
			continue
		}
		p, err := e.partitionFor(r.Timestamp)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		groups[p] = append(groups[p], r)
		if minTs == 0 || r.Timestamp < minTs {
			minTs = r.Timestamp
		}
		if r.Timestamp > maxTs {
			maxTs = r.Timestamp
		}
	}
	if len(groups) == 0 {
		return 0, errs
	}

	e.cache.InvalidateRange(minTs, maxTs)

	written := 0
	var indexed []*record.LogRecord
	for p, records := range groups {
		n, err := p.appendBatch(records)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		written += n
		indexed = append(indexed, records...)
	}

	if written > 0 {
		telemetry.IndexedRecords.Add(float64(written))
		e.sink.Publish(Event{Type: EventIndexed, Records: indexed, Count: int64(written)})
	}
	return written, errs
}

// Search runs one query across every partition intersecting the request's
// time range. Partitions are searched in parallel; a failing partition
// contributes nothing and the query still succeeds.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]*record.LogRecord, error) {
	start := e.clock.Now()
	defer func() {
		telemetry.SearchDuration.Observe(e.clock.Since(start).Seconds())
	}()
	telemetry.Searches.Inc()

	key := CacheKey(req)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	q, err := compileQuery(req.Query, req.Regex)
	if err != nil {
		return nil, err
	}

	targets := e.overlappingPartitions(req.Start, req.End)

	var (
		mu     sync.Mutex
		merged []*record.LogRecord
		g      errgroup.Group
	)
	g.SetLimit(e.cfg.SearchParallelism)
	for _, p := range targets {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results := p.search(q, req.Start, req.End, e.cfg.MaxResultsPerPartition)
			mu.Lock()
			merged = append(merged, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; partition-level
		// failures are absorbed above.
		return nil, err
	}

	sortNewestFirst(merged)
	e.cache.Put(key, merged)
	return merged, nil
}

func (e *Engine) overlappingPartitions(start, end int64) []*Partition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Partition
	for _, p := range e.partitions {
		if p.overlaps(start, end) {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) allPartitions() []*Partition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Partition, 0, len(e.partitions))
	for _, p := range e.partitions {
		out = append(out, p)
	}
	return out
}

// FindByID returns the record with the given id, or nil.
func (e *Engine) FindByID(id string) *record.LogRecord {
	for _, p := range e.allPartitions() {
		if r := p.findByID(id); r != nil {
			return r
		}
	}
	return nil
}

// FindByLevel returns records at exactly the given level, newest first.
func (e *Engine) FindByLevel(level record.Level) []*record.LogRecord {
	var out []*record.LogRecord
	for _, p := range e.allPartitions() {
		out = append(out, p.findByField("level", string(level), e.cfg.MaxResultsPerPartition)...)
	}
	sortNewestFirst(out)
	return out
}

// FindBySource returns records from exactly the given source, newest first.
func (e *Engine) FindBySource(source string) []*record.LogRecord {
	var out []*record.LogRecord
	for _, p := range e.allPartitions() {
		out = append(out, p.findByField("source", source, e.cfg.MaxResultsPerPartition)...)
	}
	sortNewestFirst(out)
	return out
}

// DeleteLogsOlderThan enforces retention. Partitions entirely before the
// cutoff are archived (when enabled) and their directories removed;
// partitions straddling it are rewritten in place. Returns the number of
// records removed.
func (e *Engine) DeleteLogsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	partitions := e.allPartitions()
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].startMs < partitions[j].startMs })

	var removed int64
	var errs error
	for _, p := range partitions {
		switch {
		case p.endMs <= cutoffMs:
			records := p.snapshot()
			if !e.archiveForRetention(ctx, p.key, records) {
				errs = multierror.Append(errs, fmt.Errorf("index: partition %s not deleted: archiving failed", p.key))
				continue
			}
			e.mu.Lock()
			delete(e.partitions, p.key)
			e.mu.Unlock()
			if err := p.destroy(); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			removed += int64(len(records))
			e.logger.Infof("index: retention removed partition %s (%d records)", p.key, len(records))

		case p.startMs < cutoffMs:
			expiring := p.snapshotBefore(cutoffMs)
			if len(expiring) == 0 {
				continue
			}
			if !e.archiveForRetention(ctx, p.key, expiring) {
				errs = multierror.Append(errs, fmt.Errorf("index: partition %s not rewritten: archiving failed", p.key))
				continue
			}
			deleted, err := p.deleteBefore(cutoffMs)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			removed += int64(len(deleted))
			e.logger.Infof("index: retention removed %d records from partition %s", len(deleted), p.key)
		}
	}

	if removed > 0 {
		e.cache.InvalidateRange(0, cutoffMs)
		telemetry.IndexPartitions.Set(float64(e.partitionCount()))
		e.sink.Publish(Event{Type: EventDeleted, Count: removed})
	}
	return removed, errs
}

// archiveForRetention hands records to the archiver when auto-archive is
// on. It returns false only when archiving was required and failed.
func (e *Engine) archiveForRetention(ctx context.Context, key string, records []*record.LogRecord) bool {
	if !e.cfg.Partition.AutoArchive || e.archiver == nil || len(records) == 0 {
		return true
	}
	if !e.archiver.ArchiveBeforeDeletion(ctx, records) {
		e.logger.Errorf("index: archiving %d records from partition %s failed", len(records), key)
		return false
	}
	return true
}

// Stats summarizes the engine for admin surfaces.
type EngineStats struct {
	Partitions int        `json:"partitions"`
	Records    int64      `json:"records"`
	Cache      CacheStats `json:"cache"`
}

func (e *Engine) Stats() EngineStats {
	stats := EngineStats{Cache: e.cache.Stats()}
	for _, p := range e.allPartitions() {
		stats.Partitions++
		stats.Records += int64(p.Count())
	}
	return stats
}

// PartitionKeys lists open partitions sorted by bucket start.
func (e *Engine) PartitionKeys() []string {
	partitions := e.allPartitions()
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].startMs < partitions[j].startMs })
	keys := make([]string, len(partitions))
	for i, p := range partitions {
		keys[i] = p.key
	}
	return keys
}

// Close stops the housekeeper and releases every partition.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.housekeeping.Load() {
		<-e.doneCh
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs error
	for _, p := range e.partitions {
		if err := p.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
