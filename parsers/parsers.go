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

// Package parsers turns raw log lines into normalized records. Parsers are
// pure and stateless; a Chain tries them in a fixed priority order and the
// generic parser guarantees every line yields a record.
package parsers

import (
	"regexp"
	"strings"

	"github.com/grepwise/grepwise/internal/telemetry"
	"github.com/grepwise/grepwise/record"
)

// Parser recognizes and parses one log line format.
type Parser interface {
	Name() string
	// Recognizes reports whether line is in this parser's format. When it
	// returns true, Parse must succeed on the same line.
	Recognizes(line string) bool
	// Parse builds a record from line. The record's RawContent is always
	// the unmodified line.
	Parse(line, source string) (*record.LogRecord, error)
}

// Chain tries parsers in priority order: Apache error, Apache combined,
// Apache common, Nginx error, Nginx combined, Nginx common, generic. When
// the source hint names nginx, the nginx parsers are tried before their
// Apache twins, since the access grammars are identical and the hint is the
// only way to tell them apart.
type Chain struct {
	apacheFirst []Parser
	nginxFirst  []Parser
	generic     Parser
}

// NewChain returns the default parser chain.
func NewChain() *Chain {
	apacheError := NewApacheErrorParser()
	apacheCombined := NewApacheCombinedParser()
	apacheCommon := NewApacheCommonParser()
	nginxError := NewNginxErrorParser()
	nginxCombined := NewNginxCombinedParser()
	nginxCommon := NewNginxCommonParser()
	return &Chain{
		apacheFirst: []Parser{apacheError, apacheCombined, apacheCommon, nginxError, nginxCombined, nginxCommon},
		nginxFirst:  []Parser{nginxError, nginxCombined, nginxCommon, apacheError, apacheCombined, apacheCommon},
		generic:     NewGenericParser(),
	}
}

// Parsers returns the chain's parsers in priority order, generic last.
func (c *Chain) Parsers() []Parser {
	out := make([]Parser, 0, len(c.apacheFirst)+1)
	out = append(out, c.apacheFirst...)
	return append(out, c.generic)
}

// ParseLine never fails: the first recognizing parser wins, the generic
// parser takes everything else, and a raw record backstops even that.
func (c *Chain) ParseLine(line, source string) *record.LogRecord {
	order := c.apacheFirst
	if strings.Contains(strings.ToLower(source), "nginx") {
		order = c.nginxFirst
	}
	for _, p := range order {
		if p.Recognizes(line) {
			if r, err := p.Parse(line, source); err == nil {
				return r
			}
		}
	}
	telemetry.ParseFallbacks.WithLabelValues(FormatGeneric).Inc()
	if r, err := c.generic.Parse(line, source); err == nil {
		return r
	}
	r := record.New(line, source)
	r.Metadata[MetaLogFormat] = FormatGeneric
	return r
}

// Metadata keys written by the parsers.
const (
	MetaLogFormat    = "log_format"
	MetaIPAddress    = "ip_address"
	MetaUserID       = "user_id"
	MetaMethod       = "method"
	MetaPath         = "path"
	MetaProtocol     = "protocol"
	MetaStatusCode   = "status_code"
	MetaBytes        = "bytes"
	MetaReferer      = "referer"
	MetaUserAgent    = "user_agent"
	MetaTimestamp    = "timestamp"
	MetaLogLevel     = "log_level"
	MetaProcessID    = "process_id"
	MetaClientIP     = "client_ip"
	MetaServer       = "server"
	MetaErrorMessage = "error_message"
)

// log_format values.
const (
	FormatApacheCombined = "apache_combined"
	FormatApacheCommon   = "apache_common"
	FormatApacheError    = "apache_error"
	FormatNginxCombined  = "nginx_combined"
	FormatNginxCommon    = "nginx_common"
	FormatNginxError     = "nginx_error"
	FormatGeneric        = "generic"
)

// captures runs re against line and returns the named groups that
// participated in the match. Optional groups that did not participate are
// left out entirely.
func captures(re *regexp.Regexp, line string) (map[string]string, bool) {
	idx := re.FindStringSubmatchIndex(line)
	if idx == nil {
		return nil, false
	}
	caps := map[string]string{}
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		start, end := idx[2*i], idx[2*i+1]
		if start < 0 {
			continue
		}
		caps[name] = line[start:end]
	}
	return caps, true
}

// setIfPresent copies a capture into record metadata, skipping empty values
// so absent optional fields stay absent.
func setIfPresent(md map[string]string, key, value string) {
	if value != "" {
		md[key] = value
	}
}
