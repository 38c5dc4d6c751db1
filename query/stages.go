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

package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/record"
)

// ResultType tags the shape of a pipeline result.
type ResultType string

const (
	LogEntries ResultType = "LOG_ENTRIES"
	Statistics ResultType = "STATISTICS"
)

// Result is the tagged union a pipeline produces: a record stream until a
// stats stage runs, a statistics table afterwards.
type Result struct {
	Type    ResultType           `json:"type"`
	Entries []*record.LogRecord  `json:"entries,omitempty"`
	Stats   *StatisticsResult    `json:"statistics,omitempty"`
}

// StatisticsResult is the output of a stats stage: a total count, or per
// group counts when `by field` was given.
type StatisticsResult struct {
	Count      int64            `json:"count"`
	GroupField string           `json:"group_field,omitempty"`
	Groups     map[string]int64 `json:"groups,omitempty"`
}

// Searcher is the slice of the index engine the language needs.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) ([]*record.LogRecord, error)
	FindByLevel(level record.Level) []*record.LogRecord
	FindBySource(source string) []*record.LogRecord
}

// execContext carries the time range every search in the pipeline scopes
// itself to.
type execContext struct {
	ctx      context.Context
	searcher Searcher
	start    int64
	end      int64
}

type stage interface {
	apply(ec *execContext, in Result) (Result, error)
}

// Execute runs the pipeline over [start, end] (non-positive bounds are
// unbounded) and returns the final result.
func (p *Pipeline) Execute(ctx context.Context, searcher Searcher, start, end int64) (Result, error) {
	ec := &execContext{ctx: ctx, searcher: searcher, start: start, end: end}
	result := Result{Type: LogEntries}
	var err error
	for _, st := range p.stages {
		result, err = st.apply(ec, result)
		if err != nil {
			return Result{}, fmt.Errorf("query: executing %q: %w", p.source, err)
		}
	}
	return result, nil
}

// searchStage seeds the record stream. Each plan is one `or` alternative;
// their results union by record id.
type searchStage struct {
	matchAll bool
	plans    []searchPlan
}

func (s *searchStage) apply(ec *execContext, _ Result) (Result, error) {
	if s.matchAll {
		entries, err := ec.searcher.Search(ec.ctx, index.SearchRequest{Query: "*", Start: ec.start, End: ec.end})
		if err != nil {
			return Result{}, err
		}
		return Result{Type: LogEntries, Entries: entries}, nil
	}

	seen := map[string]bool{}
	var merged []*record.LogRecord
	for _, plan := range s.plans {
		var results []*record.LogRecord
		var err error
		switch {
		case plan.byLevel != nil:
			results = filterRange(ec.searcher.FindByLevel(*plan.byLevel), ec.start, ec.end)
		case plan.bySource != nil:
			results = filterRange(ec.searcher.FindBySource(*plan.bySource), ec.start, ec.end)
		default:
			results, err = ec.searcher.Search(ec.ctx, index.SearchRequest{Query: plan.native, Start: ec.start, End: ec.end})
			if err != nil {
				return Result{}, err
			}
		}
		for _, r := range results {
			if !seen[r.ID] {
				seen[r.ID] = true
				merged = append(merged, r)
			}
		}
	}
	sortByTimestampDesc(merged)
	return Result{Type: LogEntries, Entries: merged}, nil
}

func filterRange(records []*record.LogRecord, start, end int64) []*record.LogRecord {
	var out []*record.LogRecord
	for _, r := range records {
		if start > 0 && r.Timestamp < start {
			continue
		}
		if end > 0 && r.Timestamp > end {
			continue
		}
		out = append(out, r)
	}
	return out
}

// whereStage filters the stream in memory. Connectors join comparisons
// left-associatively, so a and b or c reads as (a and b) or c.
type whereStage struct {
	comparisons []comparison
	connectors  []string
}

type comparison struct {
	field string
	op    string
	value string
}

func (c comparison) matches(r *record.LogRecord) bool {
	actual, ok := r.Field(c.field)
	if !ok {
		return c.op == "!="
	}
	if fn, fv, numeric := asNumbers(actual, c.value); numeric {
		switch c.op {
		case "=", "==":
			return fn == fv
		case "!=":
			return fn != fv
		case ">":
			return fn > fv
		case ">=":
			return fn >= fv
		case "<":
			return fn < fv
		case "<=":
			return fn <= fv
		}
	}
	switch c.op {
	case "=", "==":
		return strings.EqualFold(actual, c.value)
	case "!=":
		return !strings.EqualFold(actual, c.value)
	case ">":
		return actual > c.value
	case ">=":
		return actual >= c.value
	case "<":
		return actual < c.value
	case "<=":
		return actual <= c.value
	}
	return false
}

func asNumbers(a, b string) (float64, float64, bool) {
	fa, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, false
	}
	fb, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, false
	}
	return fa, fb, true
}

func (s *whereStage) matches(r *record.LogRecord) bool {
	result := s.comparisons[0].matches(r)
	for i, connector := range s.connectors {
		next := s.comparisons[i+1].matches(r)
		if connector == "and" {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result
}

func (s *whereStage) apply(_ *execContext, in Result) (Result, error) {
	if in.Type != LogEntries {
		return in, nil
	}
	var kept []*record.LogRecord
	for _, r := range in.Entries {
		if s.matches(r) {
			kept = append(kept, r)
		}
	}
	return Result{Type: LogEntries, Entries: kept}, nil
}

// statsStage replaces the stream with counts.
type statsStage struct {
	by *string
}

func (s *statsStage) apply(_ *execContext, in Result) (Result, error) {
	if in.Type != LogEntries {
		return in, nil
	}
	stats := &StatisticsResult{Count: int64(len(in.Entries))}
	if s.by != nil {
		stats.GroupField = *s.by
		stats.Groups = map[string]int64{}
		for _, r := range in.Entries {
			value, ok := r.Field(*s.by)
			if !ok {
				continue
			}
			stats.Groups[value]++
		}
	}
	return Result{Type: Statistics, Stats: stats}, nil
}

// sortStage orders records by a field, ties broken by timestamp descending.
type sortStage struct {
	field      string
	descending bool
}

func (s *sortStage) apply(_ *execContext, in Result) (Result, error) {
	if in.Type != LogEntries {
		return in, nil
	}
	entries := make([]*record.LogRecord, len(in.Entries))
	copy(entries, in.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		a, _ := entries[i].Field(s.field)
		b, _ := entries[j].Field(s.field)
		if a != b {
			if fa, fb, numeric := asNumbers(a, b); numeric {
				if s.descending {
					return fa > fb
				}
				return fa < fb
			}
			if s.descending {
				return a > b
			}
			return a < b
		}
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return Result{Type: LogEntries, Entries: entries}, nil
}

// limitStage is head and tail.
type limitStage struct {
	fromEnd bool
	count   int
}

func (s *limitStage) apply(_ *execContext, in Result) (Result, error) {
	if in.Type != LogEntries || len(in.Entries) <= s.count {
		return in, nil
	}
	if s.fromEnd {
		return Result{Type: LogEntries, Entries: in.Entries[len(in.Entries)-s.count:]}, nil
	}
	return Result{Type: LogEntries, Entries: in.Entries[:s.count]}, nil
}

// evalStage derives a new field per record. Evaluation failures leave the
// field absent; they never fail the query.
type evalStage struct {
	field   string
	program *vm.Program
	source  string
}

func (s *evalStage) apply(_ *execContext, in Result) (Result, error) {
	if in.Type != LogEntries {
		return in, nil
	}
	out := make([]*record.LogRecord, len(in.Entries))
	for i, r := range in.Entries {
		clone := r.Clone()
		if value, err := vm.Run(s.program, evalEnv(r)); err == nil {
			if clone.Metadata == nil {
				clone.Metadata = map[string]string{}
			}
			clone.Metadata[s.field] = fmt.Sprint(value)
		}
		out[i] = clone
	}
	return Result{Type: LogEntries, Entries: out}, nil
}

// evalEnv exposes the record to the expression: metadata keys first, then
// the built-in fields, which shadow same-named metadata.
func evalEnv(r *record.LogRecord) map[string]any {
	env := make(map[string]any, len(r.Metadata)+6)
	for k, v := range r.Metadata {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			env[k] = n
		} else {
			env[k] = v
		}
	}
	env["id"] = r.ID
	env["timestamp"] = r.Timestamp
	env["level"] = string(r.Level)
	env["message"] = r.Message
	env["source"] = r.Source
	env["raw_content"] = r.RawContent
	return env
}

func sortByTimestampDesc(records []*record.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
}
