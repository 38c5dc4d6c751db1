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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grepwise/grepwise/record"
)

// PartitionType selects the time bucket each partition covers.
type PartitionType string

const (
	Daily   PartitionType = "DAILY"
	Weekly  PartitionType = "WEEKLY"
	Monthly PartitionType = "MONTHLY"
)

const (
	partitionDirPrefix = "partition_"
	recordsFileName    = "records.jsonl"

	// allPartitionKey is the single bucket used when partitioning is
	// disabled.
	allPartitionKey = "all"

	dailyKeyLayout   = "2006-01-02"
	monthlyKeyLayout = "2006-01"
)

// partitionKey buckets an event timestamp. Weekly partitions are keyed by
// the Monday of their ISO week.
func partitionKey(ts int64, ptype PartitionType) string {
	t := record.MillisToTime(ts)
	switch ptype {
	case Monthly:
		return t.Format(monthlyKeyLayout)
	case Weekly:
		monday := t.AddDate(0, 0, -int((t.Weekday()+6)%7))
		return monday.Format(dailyKeyLayout)
	default:
		return t.Format(dailyKeyLayout)
	}
}

// bucketRange returns the half-open interval [start, end) in epoch
// milliseconds covered by a partition key.
func bucketRange(key string, ptype PartitionType) (int64, int64, error) {
	if key == allPartitionKey {
		return 1, 1<<63 - 1, nil
	}
	switch ptype {
	case Monthly:
		start, err := time.Parse(monthlyKeyLayout, key)
		if err != nil {
			return 0, 0, fmt.Errorf("bad monthly partition key %q: %w", key, err)
		}
		return record.TimeToMillis(start), record.TimeToMillis(start.AddDate(0, 1, 0)), nil
	case Weekly:
		start, err := time.Parse(dailyKeyLayout, key)
		if err != nil {
			return 0, 0, fmt.Errorf("bad weekly partition key %q: %w", key, err)
		}
		return record.TimeToMillis(start), record.TimeToMillis(start.AddDate(0, 0, 7)), nil
	default:
		start, err := time.Parse(dailyKeyLayout, key)
		if err != nil {
			return 0, 0, fmt.Errorf("bad daily partition key %q: %w", key, err)
		}
		return record.TimeToMillis(start), record.TimeToMillis(start.AddDate(0, 0, 1)), nil
	}
}

// Partition is one time bucket of the index: an append-only records.jsonl
// on disk plus in-memory postings rebuilt from it on open. Writes serialize
// on the write lock; readers share the read lock, so a batch becomes
// visible all at once.
type Partition struct {
	key     string
	dir     string
	startMs int64
	endMs   int64
	mu      sync.RWMutex
	file    *os.File
	records []*record.LogRecord
	byID    map[string]int
	tokens  map[string][]int
	fields  map[string][]int
}

// fieldPostingKey builds the postings key for a structured field filter.
func fieldPostingKey(name, value string) string {
	return name + "\x00" + strings.ToLower(value)
}

// openPartition creates or reopens the partition directory and replays
// records.jsonl into memory. Unreadable trailing lines are skipped so a
// crash mid-append loses at most the unsynced tail.
func openPartition(baseDir, key string, ptype PartitionType) (*Partition, []string, error) {
	start, end, err := bucketRange(key, ptype)
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Join(baseDir, partitionDirPrefix+key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating partition directory %s: %w", dir, err)
	}
	p := &Partition{
		key:     key,
		dir:     dir,
		startMs: start,
		endMs:   end,
		byID:    map[string]int{},
		tokens:  map[string][]int{},
		fields:  map[string][]int{},
	}

	var skipped []string
	path := filepath.Join(dir, recordsFileName)
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var r record.LogRecord
			if err := json.Unmarshal(line, &r); err != nil {
				skipped = append(skipped, string(line))
				continue
			}
			p.insert(&r)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, nil, fmt.Errorf("replaying %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	p.file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s for append: %w", path, err)
	}
	return p, skipped, nil
}

// insert adds a record to the in-memory structures. Callers hold the write
// lock (or own the partition exclusively during open).
func (p *Partition) insert(r *record.LogRecord) {
	i := len(p.records)
	p.records = append(p.records, r)
	p.byID[r.ID] = i
	for _, tok := range tokenize(r.Message + " " + r.RawContent) {
		p.tokens[tok] = appendPosting(p.tokens[tok], i)
	}
	p.fields[fieldPostingKey("level", string(r.Level))] = append(p.fields[fieldPostingKey("level", string(r.Level))], i)
	p.fields[fieldPostingKey("source", r.Source)] = append(p.fields[fieldPostingKey("source", r.Source)], i)
	for k, v := range r.Metadata {
		p.fields[fieldPostingKey(k, v)] = append(p.fields[fieldPostingKey(k, v)], i)
	}
}

// appendPosting adds i to a sorted postings list, skipping duplicates from
// repeated tokens within one record.
func appendPosting(list []int, i int) []int {
	if n := len(list); n > 0 && list[n-1] == i {
		return list
	}
	return append(list, i)
}

// appendBatch writes the batch to disk, fsyncs, then publishes it to
// readers under the write lock. It returns how many records were written.
func (p *Partition) appendBatch(batch []*record.LogRecord) (int, error) {
	var buf []byte
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encoding record %s: %w", r.ID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return 0, fmt.Errorf("partition %s is closed", p.key)
	}
	if _, err := p.file.Write(buf); err != nil {
		return 0, fmt.Errorf("appending to partition %s: %w", p.key, err)
	}
	if err := p.file.Sync(); err != nil {
		return 0, fmt.Errorf("syncing partition %s: %w", p.key, err)
	}
	for _, r := range batch {
		p.insert(r)
	}
	return len(batch), nil
}

// Count returns the number of records in the partition.
func (p *Partition) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Key returns the partition's bucket key.
func (p *Partition) Key() string {
	return p.key
}

// overlaps reports whether the partition's bucket intersects [start, end].
// Non-positive bounds are unbounded.
func (p *Partition) overlaps(start, end int64) bool {
	if start > 0 && p.endMs <= start {
		return false
	}
	if end > 0 && p.startMs > end {
		return false
	}
	return true
}

// search returns records matching q within [start, end], newest first,
// capped at limit.
func (p *Partition) search(q *compiledQuery, start, end int64, limit int) []*record.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*record.LogRecord
	collect := func(i int) {
		r := p.records[i]
		if start > 0 && r.Timestamp < start {
			return
		}
		if end > 0 && r.Timestamp > end {
			return
		}
		if q.matches(r) {
			out = append(out, r)
		}
	}

	if idxs, ok := q.candidates(p); ok {
		for _, i := range idxs {
			collect(i)
		}
	} else {
		for i := range p.records {
			collect(i)
		}
	}

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// findByID looks a record up by id.
func (p *Partition) findByID(id string) *record.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i, ok := p.byID[id]; ok {
		return p.records[i]
	}
	return nil
}

// findByField returns records whose field exactly matches value.
func (p *Partition) findByField(name, value string, limit int) []*record.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idxs := p.fields[fieldPostingKey(name, value)]
	out := make([]*record.LogRecord, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, p.records[i])
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// snapshot returns every record in the partition. The archive path uses it
// before deletion.
func (p *Partition) snapshot() []*record.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*record.LogRecord, len(p.records))
	copy(out, p.records)
	return out
}

// snapshotBefore returns the records older than cutoff.
func (p *Partition) snapshotBefore(cutoffMs int64) []*record.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*record.LogRecord
	for _, r := range p.records {
		if r.Timestamp < cutoffMs {
			out = append(out, r)
		}
	}
	return out
}

// deleteBefore removes records older than cutoff, rewriting records.jsonl
// atomically and rebuilding the postings. It returns the removed records.
func (p *Partition) deleteBefore(cutoffMs int64) ([]*record.LogRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var kept, removed []*record.LogRecord
	for _, r := range p.records {
		if r.Timestamp < cutoffMs {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	path := filepath.Join(p.dir, recordsFileName)
	tmp := path + ".tmp"
	var buf []byte
	for _, r := range kept {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return nil, fmt.Errorf("rewriting partition %s: %w", p.key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replacing partition %s records: %w", p.key, err)
	}

	if err := p.file.Close(); err != nil {
		return nil, fmt.Errorf("closing partition %s: %w", p.key, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("reopening partition %s: %w", p.key, err)
	}
	p.file = f

	p.records = nil
	p.byID = map[string]int{}
	p.tokens = map[string][]int{}
	p.fields = map[string][]int{}
	for _, r := range kept {
		p.insert(r)
	}
	return removed, nil
}

// close releases the append handle.
func (p *Partition) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// destroy closes the partition and removes its directory.
func (p *Partition) destroy() error {
	if err := p.close(); err != nil {
		return err
	}
	return os.RemoveAll(p.dir)
}

func sortNewestFirst(records []*record.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
}
