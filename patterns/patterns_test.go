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

package patterns_test

import (
	"testing"

	"github.com/grepwise/grepwise/patterns"
	"github.com/grepwise/grepwise/record"
	"gotest.tools/v3/assert"
)

func newRecognizer(t *testing.T) *patterns.Recognizer {
	t.Helper()
	rec, err := patterns.NewRecognizer(0)
	assert.NilError(t, err)
	return rec
}

func TestExtractShapes(t *testing.T) {
	rec := newRecognizer(t)
	tests := []struct {
		name     string
		message  string
		template string
	}{
		{
			name:     "uuid",
			message:  "session 550e8400-e29b-41d4-a716-446655440000 expired",
			template: "session {{UUID}} expired",
		},
		{
			name:     "ip address",
			message:  "refused connection from 192.168.1.50",
			template: "refused connection from {{IP_ADDRESS}}",
		},
		{
			name:     "email",
			message:  "password reset for admin@example.com requested",
			template: "password reset for {{EMAIL}} requested",
		},
		{
			name:     "url",
			message:  "fetching https://example.com/api/v1/items failed",
			template: "fetching {{URL}} failed",
		},
		{
			name:     "timestamp",
			message:  "job started at 2024-05-01T12:30:45Z",
			template: "job started at {{TIMESTAMP}}",
		},
		{
			name:     "number",
			message:  "served 1532 requests in 2.5 seconds",
			template: "served {{NUMBER}} requests in {{NUMBER}} seconds",
		},
		{
			name:     "mixed",
			message:  "user 42 logged in from 10.0.0.7",
			template: "user {{NUMBER}} logged in from {{IP_ADDRESS}}",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, rec.Extract(test.message).Template, test.template)
		})
	}
}

func TestExtractKeepsOriginals(t *testing.T) {
	rec := newRecognizer(t)
	out := rec.Extract("user 42 retried 7 times from 10.0.0.7")
	assert.DeepEqual(t, out.Variables[patterns.Number], []string{"42", "7"})
	assert.DeepEqual(t, out.Variables[patterns.IPAddress], []string{"10.0.0.7"})
}

func TestExtractIsMemoized(t *testing.T) {
	rec := newRecognizer(t)
	first := rec.Extract("user 42 logged in")
	second := rec.Extract("user 42 logged in")
	// Same pointer back means the memo hit.
	assert.Assert(t, first == second)
}

func TestAggregateGroupsByTemplate(t *testing.T) {
	rec := newRecognizer(t)
	records := []*record.LogRecord{
		record.New("user 1 logged in from 10.0.0.1", "auth.log"),
		record.New("user 2 logged in from 10.0.0.2", "auth.log"),
		record.New("user 3 logged in from 10.0.0.3", "auth.log"),
		record.New("disk almost full", "sys.log"),
	}
	groups := rec.Aggregate(records)
	assert.Equal(t, len(groups), 2)
	assert.Equal(t, groups[0].Template, "user {{NUMBER}} logged in from {{IP_ADDRESS}}")
	assert.Equal(t, groups[0].Count, int64(3))
	assert.Equal(t, groups[0].Sample, "user 1 logged in from 10.0.0.1")
	assert.Equal(t, groups[1].Count, int64(1))
}
