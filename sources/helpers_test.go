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
	"sync"

	"github.com/grepwise/grepwise/record"
)

// fakeSink collects records in arrival order.
type fakeSink struct {
	mu      sync.Mutex
	records []*record.LogRecord
	reject  bool
}

func (s *fakeSink) Add(r *record.LogRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.records = append(s.records, r)
	return true
}

func (s *fakeSink) TryAdd(r *record.LogRecord) bool {
	return s.Add(r)
}

func (s *fakeSink) AddAll(records []*record.LogRecord) int {
	n := 0
	for _, r := range records {
		if s.Add(r) {
			n++
		}
	}
	return n
}

func (s *fakeSink) all() []*record.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*record.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *fakeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
