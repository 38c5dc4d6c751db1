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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const checkpointVersion = 1

// checkpointTTL drops entries for files not seen in this long, so deleted
// logs do not grow the registry forever.
const checkpointTTL = 7 * 24 * time.Hour

// Checkpoint is the tail position of one file.
type Checkpoint struct {
	Offset     int64 `json:"offset"`
	Inode      uint64 `json:"inode"`
	LastSeenMs int64 `json:"last_seen_ms"`
}

// checkpointFile is the on-disk registry shape.
type checkpointFile struct {
	Version int                   `json:"version"`
	Entries map[string]Checkpoint `json:"entries"`
}

// Checkpoints persists per-file tail offsets so file sources resume where
// they left off after a restart.
type Checkpoints struct {
	path string

	mu      sync.Mutex
	entries map[string]Checkpoint
	dirty   bool
}

// OpenCheckpoints loads (or creates) the registry at path. A registry
// with an unknown version is discarded and rebuilt.
func OpenCheckpoints(path string) (*Checkpoints, error) {
	c := &Checkpoints{path: path, entries: map[string]Checkpoint{}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var stored checkpointFile
		if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil && stored.Version == checkpointVersion {
			c.entries = stored.Entries
			if c.entries == nil {
				c.entries = map[string]Checkpoint{}
			}
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("sources: creating %s: %w", filepath.Dir(path), err)
		}
	default:
		return nil, fmt.Errorf("sources: reading checkpoints %s: %w", path, err)
	}
	return c, nil
}

// Get returns the checkpoint for a file path.
func (c *Checkpoints) Get(path string) (Checkpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.entries[path]
	return cp, ok
}

// Set records a file's tail position.
func (c *Checkpoints) Set(path string, offset int64, inode uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = Checkpoint{
		Offset:     offset,
		Inode:      inode,
		LastSeenMs: time.Now().UnixMilli(),
	}
	c.dirty = true
}

// Flush writes the registry when anything changed since the last flush,
// expiring stale entries on the way out.
func (c *Checkpoints) Flush() error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	cutoff := time.Now().Add(-checkpointTTL).UnixMilli()
	for path, cp := range c.entries {
		if cp.LastSeenMs < cutoff {
			delete(c.entries, path)
		}
	}
	stored := checkpointFile{Version: checkpointVersion, Entries: make(map[string]Checkpoint, len(c.entries))}
	for path, cp := range c.entries {
		stored.Entries[path] = cp
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("sources: encoding checkpoints: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("sources: writing checkpoints: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("sources: replacing checkpoints: %w", err)
	}
	return nil
}
