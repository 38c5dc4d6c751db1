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
	"time"

	"github.com/grepwise/grepwise/record"
)

// Sample line: [Thu Jun 27 11:55:44.341347 2019] [mpm_event:notice] [pid 14529:tid 140299059542848] AH00489: Apache/2.4.38 (Debian) configured
var apacheErrorRegex = regexp.MustCompile(`^\[(?P<time>[^\]]+)\] \[(?:(?P<module>\w+):)?(?P<level>[\w\d]+)\](?: \[pid (?P<pid>\d+)(?::tid (?P<tid>[0-9]+))?\])?(?: (?P<errorcode>[^\[:]*):?)?(?: \[client (?P<client>[^\]]*)\])? (?P<message>.*)$`)

// Sample line: 2019/06/27 11:55:44 [warn] 12345#12345: *7 upstream server temporarily disabled while reading response header from upstream, client: 127.0.0.1, server: localhost
var nginxErrorRegex = regexp.MustCompile(`^(?P<time>[0-9]+[./-][0-9]+[./-][0-9]+[- ][0-9]+:[0-9]+:[0-9]+) \[(?P<level>[^\]]*)\] (?P<pid>[0-9]+)#(?P<tid>[0-9]+):(?: \*(?P<connection>[0-9]+))? (?P<message>.*?)(?:, client: (?P<client>[^,]+))?(?:, server: (?P<server>[^,]+))?(?:, request: "(?P<request>[^"]*)")?(?:, subrequest: "(?P<subrequest>[^"]*)")?(?:, upstream: "(?P<upstream>[^"]*)")?(?:, host: "(?P<host>[^"]*)")?(?:, referrer: "(?P<referer>[^"]*)")?$`)

const (
	apacheErrorTimeLayout = "Mon Jan 02 15:04:05.000000 2006"
	nginxErrorTimeLayout  = "2006/01/02 15:04:05"
)

type apacheErrorParser struct{}

func NewApacheErrorParser() Parser {
	return apacheErrorParser{}
}

func (apacheErrorParser) Name() string {
	return "apache-error"
}

func (apacheErrorParser) Recognizes(line string) bool {
	_, ok := captures(apacheErrorRegex, line)
	return ok
}

func (p apacheErrorParser) Parse(line, source string) (*record.LogRecord, error) {
	caps, ok := captures(apacheErrorRegex, line)
	if !ok {
		return nil, fmt.Errorf("%s: line does not match apache error format", p.Name())
	}

	r := record.New(line, source)
	md := r.Metadata
	md[MetaLogFormat] = FormatApacheError
	setIfPresent(md, MetaTimestamp, caps["time"])
	setIfPresent(md, MetaLogLevel, caps["level"])
	setIfPresent(md, MetaProcessID, caps["pid"])
	setIfPresent(md, MetaClientIP, caps["client"])
	setIfPresent(md, MetaErrorMessage, caps["message"])

	r.Level = record.NormalizeLevel(caps["level"])
	if msg := caps["message"]; msg != "" {
		r.Message = msg
	}
	if ts, err := time.Parse(apacheErrorTimeLayout, caps["time"]); err == nil {
		r.Timestamp = record.TimeToMillis(ts)
	}
	return r, nil
}

type nginxErrorParser struct{}

func NewNginxErrorParser() Parser {
	return nginxErrorParser{}
}

func (nginxErrorParser) Name() string {
	return "nginx-error"
}

func (nginxErrorParser) Recognizes(line string) bool {
	_, ok := captures(nginxErrorRegex, line)
	return ok
}

func (p nginxErrorParser) Parse(line, source string) (*record.LogRecord, error) {
	caps, ok := captures(nginxErrorRegex, line)
	if !ok {
		return nil, fmt.Errorf("%s: line does not match nginx error format", p.Name())
	}

	r := record.New(line, source)
	md := r.Metadata
	md[MetaLogFormat] = FormatNginxError
	setIfPresent(md, MetaTimestamp, caps["time"])
	setIfPresent(md, MetaLogLevel, caps["level"])
	setIfPresent(md, MetaProcessID, caps["pid"])
	setIfPresent(md, MetaClientIP, caps["client"])
	setIfPresent(md, MetaServer, caps["server"])
	setIfPresent(md, MetaReferer, caps["referer"])
	setIfPresent(md, MetaErrorMessage, caps["message"])

	r.Level = record.NormalizeLevel(caps["level"])
	if msg := caps["message"]; msg != "" {
		r.Message = msg
	}
	if ts, err := time.Parse(nginxErrorTimeLayout, caps["time"]); err == nil {
		r.Timestamp = record.TimeToMillis(ts)
	}
	return r, nil
}
