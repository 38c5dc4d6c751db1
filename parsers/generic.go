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

package parsers

import (
	"regexp"
	"strings"
	"time"

	"github.com/grepwise/grepwise/record"
)

// genericTimestampRegex matches the timestamp prefixes we can interpret:
// ISO-8601 with optional fraction and offset, the slashed variant, and the
// classic syslog date.
var genericTimestampRegex = regexp.MustCompile(`^(?:\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,9})?(?:Z|[+-]\d{2}:?\d{2})?|[A-Z][a-z]{2} {1,2}\d{1,2} \d{2}:\d{2}:\d{2})`)

var genericTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// syslogTimeLayout carries no year; parseGenericTimestamp fills in the
// current one.
const syslogTimeLayout = "Jan _2 15:04:05"

// genericParser accepts any line. It pulls out a leading timestamp and a
// severity token when it can find them and otherwise passes the line
// through untouched.
type genericParser struct{}

func NewGenericParser() Parser {
	return genericParser{}
}

func (genericParser) Name() string {
	return "generic"
}

func (genericParser) Recognizes(line string) bool {
	return true
}

func (p genericParser) Parse(line, source string) (*record.LogRecord, error) {
	r := record.New(line, source)
	r.Metadata[MetaLogFormat] = FormatGeneric

	rest := line
	if raw := genericTimestampRegex.FindString(line); raw != "" {
		r.Metadata[MetaTimestamp] = raw
		if ts, ok := parseGenericTimestamp(raw); ok {
			r.Timestamp = record.TimeToMillis(ts)
		}
		rest = strings.TrimLeft(line[len(raw):], " \t")
	}

	if token, level := findLevelToken(rest); level != record.LevelUnknown {
		r.Level = level
		r.Metadata[MetaLogLevel] = token
	}

	if msg := stripLeadingLevel(rest); msg != "" {
		r.Message = msg
	}
	return r, nil
}

func parseGenericTimestamp(raw string) (time.Time, bool) {
	// Go cannot parse comma fractions.
	candidate := strings.Replace(raw, ",", ".", 1)
	for _, layout := range genericTimeLayouts {
		if ts, err := time.Parse(layout, candidate); err == nil {
			return ts, true
		}
	}
	if ts, err := time.Parse(syslogTimeLayout, candidate); err == nil {
		now := time.Now()
		return ts.AddDate(now.Year(), 0, 0), true
	}
	return time.Time{}, false
}

const levelTokenCutset = "[](){}<>:,;|="

// findLevelToken scans the first few tokens of a line for a recognizable
// severity. Returns the raw token (punctuation trimmed) and its level.
func findLevelToken(line string) (string, record.Level) {
	fields := strings.Fields(line)
	limit := 4
	if len(fields) < limit {
		limit = len(fields)
	}
	for _, token := range fields[:limit] {
		trimmed := strings.Trim(token, levelTokenCutset)
		if trimmed == "" {
			continue
		}
		if level := record.NormalizeLevel(trimmed); level != record.LevelUnknown {
			return trimmed, level
		}
	}
	return "", record.LevelUnknown
}

// stripLeadingLevel removes a severity token only when it is the very first
// token, so "connecting to ERROR-HOST" keeps its message intact.
func stripLeadingLevel(line string) string {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return line
	}
	trimmed := strings.Trim(fields[0], levelTokenCutset)
	if trimmed != "" && record.NormalizeLevel(trimmed) != record.LevelUnknown {
		if len(fields) == 2 {
			return strings.TrimLeft(fields[1], " \t-:")
		}
		return ""
	}
	return line
}
