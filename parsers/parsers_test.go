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

package parsers_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grepwise/grepwise/parsers"
	"github.com/grepwise/grepwise/record"
	"gotest.tools/v3/assert"
)

const (
	apacheCombinedLine = `127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /x HTTP/1.0" 200 2326 "http://e/" "M"`
	apacheCommonLine   = `127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326`
	apacheErrorLine    = `[Thu Jun 27 11:55:44.341347 2019] [mpm_event:notice] [pid 14529:tid 140299059542848] AH00489: Apache/2.4.38 (Debian) configured -- resuming normal operations`
	nginxErrorLine     = `2019/06/27 11:55:44 [warn] 12345#12345: *7 upstream server temporarily disabled while reading response header from upstream, client: 127.0.0.1, server: localhost`
)

func TestApacheCombinedParse(t *testing.T) {
	p := parsers.NewApacheCombinedParser()
	assert.Assert(t, p.Recognizes(apacheCombinedLine))

	r, err := p.Parse(apacheCombinedLine, "access.log")
	assert.NilError(t, err)

	assert.Equal(t, r.Level, record.LevelInfo)
	assert.Equal(t, r.RawContent, apacheCombinedLine)
	assert.Equal(t, r.Timestamp, int64(971211336000))
	want := map[string]string{
		"log_format":  "apache_combined",
		"ip_address":  "127.0.0.1",
		"user_id":     "frank",
		"method":      "GET",
		"path":        "/x",
		"protocol":    "HTTP/1.0",
		"status_code": "200",
		"bytes":       "2326",
		"referer":     "http://e/",
		"user_agent":  "M",
		"timestamp":   "10/Oct/2000:13:55:36 -0700",
	}
	assert.DeepEqual(t, r.Metadata, want)
}

func TestApacheCommonParse(t *testing.T) {
	p := parsers.NewApacheCommonParser()
	assert.Assert(t, p.Recognizes(apacheCommonLine))
	assert.Assert(t, !p.Recognizes(apacheCombinedLine))

	r, err := p.Parse(apacheCommonLine, "access.log")
	assert.NilError(t, err)

	assert.Equal(t, r.Metadata["log_format"], "apache_common")
	assert.Equal(t, r.Metadata["path"], "/apache_pb.gif")
	_, hasReferer := r.Metadata["referer"]
	assert.Assert(t, !hasReferer)
}

func TestAccessLevelsAndBytes(t *testing.T) {
	for _, test := range []struct {
		name      string
		line      string
		wantLevel record.Level
		wantBytes string
	}{
		{
			name:      "not found is a warning",
			line:      `10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET /missing HTTP/1.1" 404 153`,
			wantLevel: record.LevelWarn,
			wantBytes: "153",
		},
		{
			name:      "server error",
			line:      `10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "POST /api HTTP/1.1" 500 -`,
			wantLevel: record.LevelError,
			wantBytes: "0",
		},
		{
			name:      "redirect is info",
			line:      `10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET / HTTP/1.1" 302 0`,
			wantLevel: record.LevelInfo,
			wantBytes: "0",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := parsers.NewApacheCommonParser()
			assert.Assert(t, p.Recognizes(test.line))
			r, err := p.Parse(test.line, "access.log")
			assert.NilError(t, err)
			assert.Equal(t, r.Level, test.wantLevel)
			assert.Equal(t, r.Metadata["bytes"], test.wantBytes)
		})
	}
}

func TestApacheErrorParse(t *testing.T) {
	p := parsers.NewApacheErrorParser()
	assert.Assert(t, p.Recognizes(apacheErrorLine))

	r, err := p.Parse(apacheErrorLine, "error.log")
	assert.NilError(t, err)

	assert.Equal(t, r.Level, record.LevelInfo) // notice normalizes to INFO
	assert.Equal(t, r.Metadata["log_format"], "apache_error")
	assert.Equal(t, r.Metadata["log_level"], "notice")
	assert.Equal(t, r.Metadata["process_id"], "14529")
	assert.Equal(t, r.Message, "Apache/2.4.38 (Debian) configured -- resuming normal operations")
	assert.Equal(t, r.Timestamp, int64(1561636544341))
}

func TestApacheErrorParseWithClient(t *testing.T) {
	line := `[Sat Jun 25 09:23:30.248579 2022] [php7:error] [pid 12345] [client 1.2.3.4:5678] PHP Parse error: syntax error`
	p := parsers.NewApacheErrorParser()
	assert.Assert(t, p.Recognizes(line))

	r, err := p.Parse(line, "error.log")
	assert.NilError(t, err)

	assert.Equal(t, r.Level, record.LevelError)
	assert.Equal(t, r.Metadata["client_ip"], "1.2.3.4:5678")
	assert.Equal(t, r.Metadata["error_message"], "PHP Parse error: syntax error")
}

func TestNginxErrorParse(t *testing.T) {
	p := parsers.NewNginxErrorParser()
	assert.Assert(t, p.Recognizes(nginxErrorLine))

	r, err := p.Parse(nginxErrorLine, "error.log")
	assert.NilError(t, err)

	assert.Equal(t, r.Level, record.LevelWarn)
	assert.Equal(t, r.Metadata["log_format"], "nginx_error")
	assert.Equal(t, r.Metadata["process_id"], "12345")
	assert.Equal(t, r.Metadata["client_ip"], "127.0.0.1")
	assert.Equal(t, r.Metadata["server"], "localhost")
	assert.Equal(t, r.Message, "upstream server temporarily disabled while reading response header from upstream")
	assert.Equal(t, r.Timestamp, int64(1561636544000))
}

func TestGenericParse(t *testing.T) {
	p := parsers.NewGenericParser()

	for _, test := range []struct {
		name          string
		line          string
		wantLevel     record.Level
		wantMessage   string
		wantTimestamp int64 // 0 means "equals record time"
	}{
		{
			name:          "iso timestamp with level",
			line:          "2024-03-01T10:00:00Z ERROR connection refused",
			wantLevel:     record.LevelError,
			wantMessage:   "connection refused",
			wantTimestamp: 1709287200000,
		},
		{
			name:          "bracketed level",
			line:          "2024-03-01 10:00:00 [WARN] disk almost full",
			wantLevel:     record.LevelWarn,
			wantMessage:   "disk almost full",
			wantTimestamp: 1709287200000,
		},
		{
			name:        "no timestamp no level",
			line:        "plain text line",
			wantLevel:   record.LevelUnknown,
			wantMessage: "plain text line",
		},
		{
			name:        "level word mid-sentence stays in message",
			line:        "connecting to upstream",
			wantLevel:   record.LevelUnknown,
			wantMessage: "connecting to upstream",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Assert(t, p.Recognizes(test.line))
			r, err := p.Parse(test.line, "app.log")
			assert.NilError(t, err)
			assert.Equal(t, r.Level, test.wantLevel)
			assert.Equal(t, r.Message, test.wantMessage)
			assert.Equal(t, r.RawContent, test.line)
			assert.Equal(t, r.Metadata["log_format"], "generic")
			if test.wantTimestamp != 0 {
				assert.Equal(t, r.Timestamp, test.wantTimestamp)
			} else {
				assert.Equal(t, r.Timestamp, r.RecordTime)
			}
		})
	}
}

// Every parser that recognizes a line must parse it and preserve the raw
// content byte for byte.
func TestRecognizeImpliesParse(t *testing.T) {
	lines := []string{
		apacheCombinedLine,
		apacheCommonLine,
		apacheErrorLine,
		nginxErrorLine,
		"2024-03-01T10:00:00Z INFO it works",
		"free-form text",
		"",
	}
	chain := parsers.NewChain()
	for _, p := range chain.Parsers() {
		for _, line := range lines {
			if !p.Recognizes(line) {
				continue
			}
			r, err := p.Parse(line, "src")
			assert.NilError(t, err, "parser %s on %q", p.Name(), line)
			assert.Equal(t, r.RawContent, line, "parser %s", p.Name())
			assert.NilError(t, r.Validate())
		}
	}
}

func TestChainPriority(t *testing.T) {
	chain := parsers.NewChain()

	// The combined access grammar is shared; without a hint Apache wins.
	r := chain.ParseLine(apacheCombinedLine, "/var/log/httpd/access.log")
	assert.Equal(t, r.Metadata["log_format"], "apache_combined")

	// A nginx source hint flips the tie the other way.
	r = chain.ParseLine(apacheCombinedLine, "/var/log/nginx/access.log")
	assert.Equal(t, r.Metadata["log_format"], "nginx_combined")

	// Error formats are structurally distinct regardless of hints.
	r = chain.ParseLine(nginxErrorLine, "/var/log/httpd/error.log")
	assert.Equal(t, r.Metadata["log_format"], "nginx_error")

	// Anything else falls through to generic.
	r = chain.ParseLine("some message", "whatever.log")
	assert.Equal(t, r.Metadata["log_format"], "generic")
}

func TestChainNeverReturnsNil(t *testing.T) {
	chain := parsers.NewChain()
	for _, line := range []string{"", "   ", "\t", "x"} {
		r := chain.ParseLine(line, "src")
		assert.Assert(t, r != nil)
		assert.Equal(t, r.RawContent, line)
	}
}

func TestParsedRecordsDiffer(t *testing.T) {
	chain := parsers.NewChain()
	a := chain.ParseLine(apacheCombinedLine, "x")
	b := chain.ParseLine(apacheCombinedLine, "x")
	assert.Assert(t, a.ID != b.ID)
	assert.Assert(t, cmp.Diff(a.Metadata, b.Metadata) == "")
}
