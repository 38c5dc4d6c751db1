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

// Package archive stores records evicted from the index as compressed ZIP
// files with a metadata sidecar, and can read them back for reindexing.
package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
	"github.com/klauspost/compress/flate"
)

const (
	manifestName     = "manifest.json"
	recordsDirName   = "records"
	metaSuffix       = ".meta.json"
	filenameTime     = "20060102150405"
	maxWriteAttempts = 3
)

// Metadata describes one archive file.
type Metadata struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	CreatedAt      int64  `json:"created_at"`
	LogCount       int    `json:"log_count"`
	SizeBytes      int64  `json:"size_bytes"`
	TimeRangeStart int64  `json:"time_range_start"`
	TimeRangeEnd   int64  `json:"time_range_end"`
}

// Store writes and reads archives under a single directory. A disabled
// store accepts every archive request and writes nothing.
type Store struct {
	directory string
	enabled   bool
	logger    logs.StructuredLogger
	clock     clock.Clock

	// writeMu serializes archive creation so two retention passes cannot
	// race on temp files.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore builds an archive store rooted at directory.
func NewStore(directory string, enabled bool, logger logs.StructuredLogger, options ...Option) (*Store, error) {
	s := &Store{
		directory: directory,
		enabled:   enabled,
		logger:    logger,
		clock:     clock.New(),
	}
	for _, opt := range options {
		opt(s)
	}
	if enabled {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return nil, fmt.Errorf("archive: creating %s: %w", directory, err)
		}
	}
	return s, nil
}

// Enabled reports whether the store writes archives.
func (s *Store) Enabled() bool {
	return s.enabled
}

// ArchiveBeforeDeletion writes records as one archive. It returns true on
// success or when archiving is disabled, false when the archive could not
// be written; the caller decides whether deletion proceeds. Writes retry
// with backoff since the temp-file-and-rename sequence is idempotent.
func (s *Store) ArchiveBeforeDeletion(ctx context.Context, records []*record.LogRecord) bool {
	if !s.enabled || len(records) == 0 {
		return true
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxWriteAttempts-1), ctx)
	err := backoff.Retry(func() error {
		return s.writeArchive(records)
	}, policy)
	if err != nil {
		s.logger.Errorf("archive: writing %d records failed: %v", len(records), err)
		return false
	}
	return true
}

func (s *Store) writeArchive(records []*record.LogRecord) error {
	now := s.clock.Now()
	id := uuid.NewString()
	filename := fmt.Sprintf("archive_%s_%s.zip", now.UTC().Format(filenameTime), id)
	path := filepath.Join(s.directory, filename)

	meta := Metadata{
		ID:        id,
		Filename:  filename,
		CreatedAt: record.TimeToMillis(now),
		LogCount:  len(records),
	}
	for _, r := range records {
		if meta.TimeRangeStart == 0 || r.Timestamp < meta.TimeRangeStart {
			meta.TimeRangeStart = r.Timestamp
		}
		if r.Timestamp > meta.TimeRangeEnd {
			meta.TimeRangeEnd = r.Timestamp
		}
	}

	tmp, err := os.CreateTemp(s.directory, ".archive-*.zip.tmp")
	if err != nil {
		return fmt.Errorf("archive: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeZip(tmp, meta, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: syncing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: closing %s: %w", tmp.Name(), err)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", tmp.Name(), err)
	}
	meta.SizeBytes = info.Size()

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("archive: publishing %s: %w", filename, err)
	}
	if err := s.writeMetadata(meta); err != nil {
		// The zip exists without its sidecar; List rebuilds metadata from
		// the manifest on demand, so log and move on.
		s.logger.Warnf("archive: %s written but metadata sidecar failed: %v", filename, err)
	}

	telemetry.ArchivesCreated.Inc()
	s.logger.Infof("archive: wrote %s (%d records, %d bytes)", filename, meta.LogCount, meta.SizeBytes)
	return nil
}

// writeZip lays the archive out as manifest.json plus one JSON document per
// record under records/. Entries compress with klauspost deflate.
func writeZip(w io.Writer, meta Metadata, records []*record.LogRecord) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	manifest, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("archive: creating manifest entry: %w", err)
	}
	if err := json.NewEncoder(manifest).Encode(meta); err != nil {
		return fmt.Errorf("archive: encoding manifest: %w", err)
	}

	for _, r := range records {
		entry, err := zw.Create(fmt.Sprintf("%s/%s.json", recordsDirName, r.ID))
		if err != nil {
			return fmt.Errorf("archive: creating entry for record %s: %w", r.ID, err)
		}
		if err := json.NewEncoder(entry).Encode(r); err != nil {
			return fmt.Errorf("archive: encoding record %s: %w", r.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finalizing zip: %w", err)
	}
	return nil
}

func (s *Store) writeMetadata(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.directory, meta.Filename+metaSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// List returns metadata for every archive, newest first. Archives whose
// sidecar is missing are recovered from their embedded manifest.
func (s *Store) List() ([]Metadata, error) {
	if !s.enabled {
		return nil, nil
	}
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", s.directory, err)
	}
	var out []Metadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "archive_") || !strings.HasSuffix(name, ".zip") {
			continue
		}
		meta, err := s.readMetadata(name)
		if err != nil {
			s.logger.Warnf("archive: skipping unreadable archive %s: %v", name, err)
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (s *Store) readMetadata(filename string) (Metadata, error) {
	sidecar := filepath.Join(s.directory, filename+metaSuffix)
	if data, err := os.ReadFile(sidecar); err == nil {
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err == nil {
			return meta, nil
		}
	}

	// Sidecar missing or corrupt; fall back to the manifest inside the zip.
	zr, err := zip.OpenReader(filepath.Join(s.directory, filename))
	if err != nil {
		return Metadata{}, err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Metadata{}, err
		}
		defer rc.Close()
		var meta Metadata
		if err := json.NewDecoder(rc).Decode(&meta); err != nil {
			return Metadata{}, err
		}
		meta.Filename = filename
		return meta, nil
	}
	return Metadata{}, fmt.Errorf("archive %s has no manifest", filename)
}

// find resolves an archive id to its metadata.
func (s *Store) find(id string) (Metadata, error) {
	archives, err := s.List()
	if err != nil {
		return Metadata{}, err
	}
	for _, meta := range archives {
		if meta.ID == id {
			return meta, nil
		}
	}
	return Metadata{}, fmt.Errorf("archive %s: %w", id, os.ErrNotExist)
}

// Read returns every record stored in the archive with the given id.
func (s *Store) Read(id string) ([]*record.LogRecord, error) {
	meta, err := s.find(id)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(filepath.Join(s.directory, meta.Filename))
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", meta.Filename, err)
	}
	defer zr.Close()

	var out []*record.LogRecord
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, recordsDirName+"/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: opening entry %s: %w", f.Name, err)
		}
		var r record.LogRecord
		decodeErr := json.NewDecoder(rc).Decode(&r)
		rc.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("archive: decoding entry %s: %w", f.Name, decodeErr)
		}
		out = append(out, &r)
	}
	telemetry.ArchivesRestored.Inc()
	return out, nil
}

// Delete removes an archive and its metadata. The zip goes first; a
// missing sidecar after that means the archive is gone.
func (s *Store) Delete(id string) error {
	meta, err := s.find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.directory, meta.Filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: deleting %s: %w", meta.Filename, err)
	}
	if err := os.Remove(filepath.Join(s.directory, meta.Filename+metaSuffix)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: deleting metadata for %s: %w", meta.Filename, err)
	}
	s.logger.Infof("archive: deleted %s", meta.Filename)
	return nil
}
