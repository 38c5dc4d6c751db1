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
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/grepwise/grepwise/record"
)

// accessLogRegex covers both the Apache/Nginx "common" and "combined"
// access formats; combined adds the trailing quoted referer and user agent.
// Sample "common" line: 127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326
// Sample "combined" line: ::1 - - [26/Aug/2021:16:49:43 +0000] "GET / HTTP/1.1" 200 10701 "-" "curl/7.64.0"
var accessLogRegex = regexp.MustCompile(`^(?P<remote_ip>[^ ]*) (?P<host>[^ ]*) (?P<user>[^ ]*) \[(?P<time>[^\]]*)\] "(?P<method>\S+)(?: +(?P<path>[^"]*?)(?: +(?P<protocol>\S+))?)?" (?P<status>[^ ]*) (?P<bytes>[^ ]*)(?: "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)")?$`)

const accessTimeLayout = "02/Jan/2006:15:04:05 -0700"

// accessParser parses HTTP access lines. The combined flag selects between
// the combined format (referer/user agent present) and the common format
// (absent); both share accessLogRegex.
type accessParser struct {
	name     string
	format   string
	combined bool
}

func NewApacheCombinedParser() Parser {
	return &accessParser{name: "apache-combined", format: FormatApacheCombined, combined: true}
}

func NewApacheCommonParser() Parser {
	return &accessParser{name: "apache-common", format: FormatApacheCommon}
}

func NewNginxCombinedParser() Parser {
	return &accessParser{name: "nginx-combined", format: FormatNginxCombined, combined: true}
}

func NewNginxCommonParser() Parser {
	return &accessParser{name: "nginx-common", format: FormatNginxCommon}
}

func (p *accessParser) Name() string {
	return p.name
}

func (p *accessParser) Recognizes(line string) bool {
	caps, ok := captures(accessLogRegex, line)
	if !ok {
		return false
	}
	_, hasTail := caps["user_agent"]
	return hasTail == p.combined
}

func (p *accessParser) Parse(line, source string) (*record.LogRecord, error) {
	caps, ok := captures(accessLogRegex, line)
	if !ok {
		return nil, fmt.Errorf("%s: line does not match access log format", p.name)
	}

	r := record.New(line, source)
	md := r.Metadata
	md[MetaLogFormat] = p.format
	setIfPresent(md, MetaIPAddress, caps["remote_ip"])
	setIfPresent(md, MetaUserID, caps["user"])
	setIfPresent(md, MetaMethod, caps["method"])
	setIfPresent(md, MetaPath, caps["path"])
	setIfPresent(md, MetaProtocol, caps["protocol"])
	setIfPresent(md, MetaStatusCode, caps["status"])
	setIfPresent(md, MetaTimestamp, caps["time"])
	if p.combined {
		setIfPresent(md, MetaReferer, caps["referer"])
		setIfPresent(md, MetaUserAgent, caps["user_agent"])
	}

	if bytes := caps["bytes"]; bytes != "" {
		if bytes == "-" {
			bytes = "0"
		}
		md[MetaBytes] = bytes
	}

	r.Level = record.LevelInfo
	if status, err := strconv.Atoi(caps["status"]); err == nil {
		r.Level = record.LevelFromStatusCode(status)
	}

	if ts, err := time.Parse(accessTimeLayout, caps["time"]); err == nil {
		r.Timestamp = record.TimeToMillis(ts)
	}
	return r, nil
}
