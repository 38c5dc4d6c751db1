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

// Package patterns extracts message templates by collapsing variable
// shapes (ids, addresses, timestamps, numbers) into placeholders, so that
// "user 4281 logged in from 10.0.0.7" and "user 9 logged in from 10.1.2.3"
// group under one template.
package patterns

import (
	"context"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/grepwise/grepwise/index"
	"github.com/grepwise/grepwise/record"
)

const DefaultCacheSize = 4096

// VariableType names one recognized variable shape.
type VariableType string

const (
	UUID      VariableType = "UUID"
	IPAddress VariableType = "IP_ADDRESS"
	Email     VariableType = "EMAIL"
	URL       VariableType = "URL"
	Timestamp VariableType = "TIMESTAMP"
	Number    VariableType = "NUMBER"
)

// shape couples a variable type with its matcher. Order matters: earlier
// shapes claim their text before later ones see it, so an IP is never
// reported as four numbers.
type shape struct {
	typ VariableType
	re  *regexp.Regexp
}

var shapes = []shape{
	{UUID, regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}\b`)},
	{IPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{Email, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{URL, regexp.MustCompile(`https?://[^\s"']+`)},
	{Timestamp, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+\-]\d{2}:?\d{2})?\b`)},
	{Number, regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)},
}

// Extraction is a template plus the original strings each placeholder
// replaced, keyed by variable type.
type Extraction struct {
	Template  string
	Variables map[VariableType][]string
}

// Recognizer memoizes message-to-template extraction with a bounded LRU.
type Recognizer struct {
	cache *lru.Cache[string, *Extraction]
}

// NewRecognizer builds a recognizer with the given memo size.
func NewRecognizer(cacheSize int) (*Recognizer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Extraction](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Recognizer{cache: cache}, nil
}

// Extract collapses every recognized variable in message into its
// placeholder and returns the template with the captured originals.
func (rec *Recognizer) Extract(message string) *Extraction {
	if cached, ok := rec.cache.Get(message); ok {
		return cached
	}
	out := extract(message)
	rec.cache.Add(message, out)
	return out
}

func extract(message string) *Extraction {
	out := &Extraction{Template: message, Variables: map[VariableType][]string{}}
	for _, s := range shapes {
		matches := s.re.FindAllString(out.Template, -1)
		if len(matches) == 0 {
			continue
		}
		out.Variables[s.typ] = append(out.Variables[s.typ], matches...)
		out.Template = s.re.ReplaceAllString(out.Template, "{{"+string(s.typ)+"}}")
	}
	return out
}

// PatternCount is one template and how often it occurred, with a sample
// message for display.
type PatternCount struct {
	Template string `json:"template"`
	Count    int64  `json:"count"`
	Sample   string `json:"sample"`
}

// Aggregate groups records by extracted template and counts each group,
// most frequent first.
func (rec *Recognizer) Aggregate(records []*record.LogRecord) []PatternCount {
	counts := map[string]*PatternCount{}
	for _, r := range records {
		template := rec.Extract(r.Message).Template
		pc, ok := counts[template]
		if !ok {
			pc = &PatternCount{Template: template, Sample: r.Message}
			counts[template] = pc
		}
		pc.Count++
	}
	out := make([]PatternCount, 0, len(counts))
	for _, pc := range counts {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Template < out[j].Template
	})
	return out
}

// Searcher is the slice of the index engine pattern aggregation reads.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) ([]*record.LogRecord, error)
}

// MostCommonPatterns queries [start, end] and returns the topN templates by
// frequency.
func (rec *Recognizer) MostCommonPatterns(ctx context.Context, searcher Searcher, start, end int64, topN int) ([]PatternCount, error) {
	records, err := searcher.Search(ctx, index.SearchRequest{Query: "*", Start: start, End: end})
	if err != nil {
		return nil, err
	}
	all := rec.Aggregate(records)
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	return all, nil
}
