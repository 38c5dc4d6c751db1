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

package index

import (
	"time"

	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/atomic"
)

const (
	DefaultCacheSize = 100
	DefaultCacheTTL  = time.Minute
)

// CacheKey identifies one search. Non-positive Start/End mean unbounded.
type CacheKey struct {
	Query string
	Regex bool
	Start int64
	End   int64
}

// Cache memoizes search results with an LRU bounded by size and a
// per-entry TTL. Results are deep-copied in both directions so cached
// records never alias caller-visible ones.
type Cache struct {
	enabled bool
	maxSize int
	ttl     time.Duration
	lru     *expirable.LRU[CacheKey, []*record.LogRecord]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCache builds a search cache. A disabled cache accepts every call and
// does nothing.
func NewCache(enabled bool, maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		enabled: enabled,
		maxSize: maxSize,
		ttl:     ttl,
	}
	if enabled {
		c.lru = expirable.NewLRU[CacheKey, []*record.LogRecord](maxSize, func(CacheKey, []*record.LogRecord) {
			c.evictions.Inc()
		}, ttl)
	}
	return c
}

// Get returns a copy of the cached result set for key.
func (c *Cache) Get(key CacheKey) ([]*record.LogRecord, bool) {
	if !c.enabled {
		return nil, false
	}
	value, ok := c.lru.Get(key)
	if !ok {
		c.misses.Inc()
		telemetry.CacheMisses.Inc()
		return nil, false
	}
	c.hits.Inc()
	telemetry.CacheHits.Inc()
	return record.CloneAll(value), true
}

// Put stores a copy of results under key.
func (c *Cache) Put(key CacheKey, results []*record.LogRecord) {
	if !c.enabled {
		return
	}
	c.lru.Add(key, record.CloneAll(results))
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}
	c.lru.Purge()
}

// InvalidateRange drops entries whose time range overlaps [startMs, endMs].
// Entries with an unbounded side always overlap.
func (c *Cache) InvalidateRange(startMs, endMs int64) {
	if !c.enabled {
		return
	}
	for _, key := range c.lru.Keys() {
		startsBeforeEnd := key.Start <= 0 || endMs <= 0 || key.Start <= endMs
		endsAfterStart := key.End <= 0 || startMs <= 0 || key.End >= startMs
		if startsBeforeEnd && endsAfterStart {
			c.lru.Remove(key)
		}
	}
}

// CacheStats reports cache effectiveness. Evictions counts TTL and LRU
// evictions as well as invalidations.
type CacheStats struct {
	Enabled      bool    `json:"enabled"`
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	ExpirationMs int64   `json:"expiration_ms"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	HitRatio     float64 `json:"hit_ratio"`
}

func (c *Cache) Stats() CacheStats {
	stats := CacheStats{
		Enabled:      c.enabled,
		MaxSize:      c.maxSize,
		ExpirationMs: c.ttl.Milliseconds(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
	}
	if c.enabled {
		stats.Size = c.lru.Len()
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}
	return stats
}
