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

package sources_test

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/record"
	"github.com/grepwise/grepwise/sources"
)

// startSyslog runs a driver on an ephemeral port and tears it down with
// the test.
func startSyslog(t *testing.T, protocol, format string) (*sources.SyslogDriver, *fakeSink) {
	t.Helper()
	cfg := &sources.Config{
		ID:      "sl1",
		Name:    "syslog source",
		Type:    sources.Syslog,
		Enabled: true,
		Syslog:  &sources.SyslogSettings{Port: 0, Protocol: protocol, Format: format},
	}
	sink := &fakeSink{}
	driver, err := sources.NewSyslogDriver(cfg, sink, logs.DiscardLogger())
	assert.NilError(t, err)
	go driver.Run(context.Background())
	t.Cleanup(driver.Stop)
	return driver, sink
}

func waitForRecords(t *testing.T, sink *fakeSink, n int) []*record.LogRecord {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if sink.len() >= n {
			return poll.Success()
		}
		return poll.Continue("have %d records, want %d", sink.len(), n)
	}, poll.WithTimeout(5*time.Second))
	return sink.all()
}

func TestSyslogUDPRFC3164(t *testing.T) {
	driver, sink := startSyslog(t, "UDP", "RFC3164")

	conn, err := net.Dial("udp", driver.Addr().String())
	assert.NilError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<34>Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8"))
	assert.NilError(t, err)

	got := waitForRecords(t, sink, 1)
	// Priority 34 is facility 4, severity 2.
	assert.Equal(t, string(got[0].Level), "FATAL")
	assert.Equal(t, got[0].Metadata["server"], "mymachine")
	assert.Equal(t, got[0].Metadata["app_name"], "su")
	assert.Equal(t, got[0].Source, "syslog:sl1")
	assert.Equal(t, got[0].Metadata["source_type"], "syslog")
}

func TestSyslogUDPUnparseableKeepsRaw(t *testing.T) {
	driver, sink := startSyslog(t, "UDP", "RFC5424")

	conn, err := net.Dial("udp", driver.Addr().String())
	assert.NilError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("this is not syslog at all"))
	assert.NilError(t, err)

	got := waitForRecords(t, sink, 1)
	assert.Equal(t, string(got[0].Level), "UNKNOWN")
	assert.Equal(t, got[0].RawContent, "this is not syslog at all")
}

func TestSyslogTCPRFC5424(t *testing.T) {
	driver, sink := startSyslog(t, "TCP", "RFC5424")

	conn, err := net.Dial("tcp", driver.Addr().String())
	assert.NilError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog 111 ID47 - An application event\n"))
	assert.NilError(t, err)

	got := waitForRecords(t, sink, 1)
	// Severity 5 (notice) normalizes to INFO.
	assert.Equal(t, string(got[0].Level), "INFO")
	assert.Equal(t, got[0].Message, "An application event")
	assert.Equal(t, got[0].Metadata["app_name"], "evntslog")
	assert.Equal(t, got[0].Metadata["process_id"], "111")
	assert.Equal(t, got[0].Timestamp, record.TimeToMillis(time.Date(2003, 10, 11, 22, 14, 15, 3_000_000, time.UTC)))
}

func TestSyslogTCPSlowWriterKeepsFrameWhole(t *testing.T) {
	driver, sink := startSyslog(t, "TCP", "RFC5424")

	conn, err := net.Dial("tcp", driver.Addr().String())
	assert.NilError(t, err)
	defer conn.Close()

	// Pause long enough for the driver's read deadline to fire between the
	// two halves of the frame.
	_, err = conn.Write([]byte("this is not syslog "))
	assert.NilError(t, err)
	time.Sleep(2500 * time.Millisecond)
	_, err = conn.Write([]byte("at all\n"))
	assert.NilError(t, err)

	got := waitForRecords(t, sink, 1)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].RawContent, "this is not syslog at all")
}

func TestSyslogTCPMultipleFrames(t *testing.T) {
	driver, sink := startSyslog(t, "TCP", "RFC3164")

	conn, err := net.Dial("tcp", driver.Addr().String())
	assert.NilError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<13>Feb  5 17:32:18 host app: first\n<13>Feb  5 17:32:19 host app: second\n"))
	assert.NilError(t, err)

	got := waitForRecords(t, sink, 2)
	assert.Equal(t, got[0].Message, "first")
	assert.Equal(t, got[1].Message, "second")
}
