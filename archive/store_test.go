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

package archive_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grepwise/grepwise/archive"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/record"
	"gotest.tools/v3/assert"
)

func makeRecords(n int, baseTs int64) []*record.LogRecord {
	out := make([]*record.LogRecord, n)
	for i := range out {
		r := record.New(fmt.Sprintf("archived message %d", i), "test")
		r.Timestamp = baseTs + int64(i)*1000
		out[i] = r
	}
	return out
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewStore(dir, true, logs.DiscardLogger())
	assert.NilError(t, err)

	records := makeRecords(5, 1_700_000_000_000)
	assert.Assert(t, store.ArchiveBeforeDeletion(context.Background(), records))

	archives, err := store.List()
	assert.NilError(t, err)
	assert.Equal(t, len(archives), 1)
	meta := archives[0]
	assert.Equal(t, meta.LogCount, 5)
	assert.Equal(t, meta.TimeRangeStart, records[0].Timestamp)
	assert.Equal(t, meta.TimeRangeEnd, records[4].Timestamp)
	assert.Assert(t, meta.SizeBytes > 0)
	assert.Assert(t, strings.HasPrefix(meta.Filename, "archive_"))
	assert.Assert(t, strings.HasSuffix(meta.Filename, ".zip"))

	restored, err := store.Read(meta.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(restored), 5)

	sort.Slice(restored, func(i, j int) bool { return restored[i].Timestamp < restored[j].Timestamp })
	for i, r := range restored {
		assert.Equal(t, r.ID, records[i].ID)
		assert.Equal(t, r.Message, records[i].Message)
		assert.Equal(t, r.Timestamp, records[i].Timestamp)
	}
}

func TestDisabledStoreWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewStore(dir, false, logs.DiscardLogger())
	assert.NilError(t, err)

	// Disabled archiving reports success so retention can proceed.
	assert.Assert(t, store.ArchiveBeforeDeletion(context.Background(), makeRecords(3, 1_700_000_000_000)))

	entries, err := os.ReadDir(dir)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestDeleteRemovesFileAndMetadata(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewStore(dir, true, logs.DiscardLogger())
	assert.NilError(t, err)

	assert.Assert(t, store.ArchiveBeforeDeletion(context.Background(), makeRecords(2, 1_700_000_000_000)))
	archives, err := store.List()
	assert.NilError(t, err)
	assert.Equal(t, len(archives), 1)

	assert.NilError(t, store.Delete(archives[0].ID))

	archives, err = store.List()
	assert.NilError(t, err)
	assert.Equal(t, len(archives), 0)
	entries, err := os.ReadDir(dir)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestListRecoversFromMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewStore(dir, true, logs.DiscardLogger())
	assert.NilError(t, err)

	records := makeRecords(4, 1_700_000_000_000)
	assert.Assert(t, store.ArchiveBeforeDeletion(context.Background(), records))

	// Drop the sidecar; List should rebuild metadata from the embedded
	// manifest.
	entries, err := os.ReadDir(dir)
	assert.NilError(t, err)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".meta.json") {
			assert.NilError(t, os.Remove(filepath.Join(dir, entry.Name())))
		}
	}

	archives, err := store.List()
	assert.NilError(t, err)
	assert.Equal(t, len(archives), 1)
	assert.Equal(t, archives[0].LogCount, 4)
}

func TestReadUnknownArchive(t *testing.T) {
	store, err := archive.NewStore(t.TempDir(), true, logs.DiscardLogger())
	assert.NilError(t, err)

	_, err = store.Read("no-such-archive")
	assert.ErrorContains(t, err, "no-such-archive")
}
