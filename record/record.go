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

// Package record defines the normalized log record that flows through the
// ingestion pipeline, the index, and every query surface.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// LogRecord is one normalized log event. Records are treated as immutable
// once handed to the buffer; anything that needs to mutate one (the eval
// query stage, the search cache) works on a Clone.
type LogRecord struct {
	// ID is assigned at ingestion and is unique within an index generation.
	ID string `json:"id"`
	// Timestamp is the event time in epoch milliseconds. Parsers fill it
	// from the line when they can; otherwise it equals RecordTime.
	Timestamp int64 `json:"timestamp"`
	// RecordTime is the ingestion time in epoch milliseconds.
	RecordTime int64 `json:"record_time"`
	Level      Level  `json:"level"`
	Message    string `json:"message"`
	// Source names where the record came from, e.g. a file path or
	// "http:<sourceId>".
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// RawContent preserves the original line exactly as received.
	RawContent string `json:"raw_content"`
}

// New returns a record for message from source with a fresh id. Timestamp
// and RecordTime are both set to now; callers overwrite Timestamp when the
// event carries its own time.
func New(message, source string) *LogRecord {
	now := TimeToMillis(time.Now())
	return &LogRecord{
		ID:         uuid.NewString(),
		Timestamp:  now,
		RecordTime: now,
		Level:      LevelUnknown,
		Message:    message,
		Source:     source,
		Metadata:   map[string]string{},
		RawContent: message,
	}
}

// Clone returns a deep copy. The metadata map is copied so the caller can
// mutate the result without aliasing the original.
func (r *LogRecord) Clone() *LogRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CloneAll deep-copies a result set.
func CloneAll(records []*LogRecord) []*LogRecord {
	if records == nil {
		return nil
	}
	out := make([]*LogRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Validate reports every invariant violation at once.
func (r *LogRecord) Validate() error {
	var errs error
	if r.ID == "" {
		errs = multierror.Append(errs, fmt.Errorf("record id must not be empty"))
	}
	if r.Timestamp <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("record timestamp must be positive, got %d", r.Timestamp))
	}
	if !r.Level.Valid() {
		errs = multierror.Append(errs, fmt.Errorf("record level %q is not a normalized level", r.Level))
	}
	return errs
}

// Time returns the event time as a time.Time.
func (r *LogRecord) Time() time.Time {
	return MillisToTime(r.Timestamp)
}

// Field resolves a queryable field on the record: the built-in names
// id, timestamp, level, message, source and raw_content, then metadata keys.
// The second return is false when the record has no such field.
func (r *LogRecord) Field(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "timestamp":
		return fmt.Sprintf("%d", r.Timestamp), true
	case "level":
		return string(r.Level), true
	case "message":
		return r.Message, true
	case "source":
		return r.Source, true
	case "raw_content":
		return r.RawContent, true
	}
	v, ok := r.Metadata[name]
	return v, ok
}

// TimeToMillis converts a time.Time to epoch milliseconds.
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// MillisToTime converts epoch milliseconds to a time.Time in UTC.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
