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

package index

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/grepwise/grepwise/record"
)

// The native query form: whitespace-separated parts ANDed together. A part
// is a bare term, a "quoted phrase" matched as a substring, or a
// field:value filter where field is level, source or any metadata key.
// A lone * (or an empty query) matches everything.

type fieldFilter struct {
	name  string
	value string
}

type compiledQuery struct {
	matchAll bool
	terms    []string
	phrases  []string
	filters  []fieldFilter
	regex    *regexp.Regexp
}

// compileQuery parses the native query form, or wraps the whole string as
// a regular expression over message and raw content when isRegex is set.
func compileQuery(q string, isRegex bool) (*compiledQuery, error) {
	if isRegex {
		re, err := regexp.Compile(q)
		if err != nil {
			return nil, fmt.Errorf("invalid regex query: %w", err)
		}
		return &compiledQuery{regex: re}, nil
	}

	cq := &compiledQuery{}
	parts := splitQueryParts(q)
	for _, part := range parts {
		switch {
		case part.quoted:
			cq.phrases = append(cq.phrases, part.text)
		case part.field != "":
			name := part.field
			value := part.text
			if strings.EqualFold(name, "level") {
				value = string(record.NormalizeLevel(value))
			}
			cq.filters = append(cq.filters, fieldFilter{name: name, value: value})
		case part.text == "*":
			// A bare star is "match all"; it adds no constraint.
		default:
			cq.terms = append(cq.terms, tokenize(part.text)...)
		}
	}
	if len(cq.terms) == 0 && len(cq.phrases) == 0 && len(cq.filters) == 0 {
		cq.matchAll = true
	}
	return cq, nil
}

type queryPart struct {
	text   string
	quoted bool
	field  string
}

// splitQueryParts splits on whitespace while honoring double quotes, both
// around bare phrases and around filter values (path:"/a b").
func splitQueryParts(q string) []queryPart {
	var parts []queryPart
	i := 0
	n := len(q)
	for i < n {
		for i < n && unicode.IsSpace(rune(q[i])) {
			i++
		}
		if i >= n {
			break
		}
		if q[i] == '"' {
			end := strings.IndexByte(q[i+1:], '"')
			if end < 0 {
				parts = append(parts, queryPart{text: q[i+1:], quoted: true})
				break
			}
			parts = append(parts, queryPart{text: q[i+1 : i+1+end], quoted: true})
			i += end + 2
			continue
		}
		start := i
		colon := -1
		for i < n && !unicode.IsSpace(rune(q[i])) {
			if q[i] == ':' && colon < 0 {
				colon = i
				// A filter value may be quoted; consume through the
				// closing quote including any spaces.
				if i+1 < n && q[i+1] == '"' {
					end := strings.IndexByte(q[i+2:], '"')
					if end < 0 {
						i = n
						break
					}
					i += end + 3
					break
				}
			}
			i++
		}
		word := q[start:i]
		if colon >= 0 && colon > start {
			name := q[start:colon]
			value := strings.Trim(q[colon+1:i], `"`)
			parts = append(parts, queryPart{text: value, field: name})
			continue
		}
		parts = append(parts, queryPart{text: word})
	}
	return parts
}

// tokenize lowercases s and splits it into letter/digit runs. It is the
// single tokenizer for both indexing and querying.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// matches verifies a record against the full query. It is used both to
// confirm postings candidates and to scan when no postings apply.
func (q *compiledQuery) matches(r *record.LogRecord) bool {
	if q.regex != nil {
		return q.regex.MatchString(r.Message) || q.regex.MatchString(r.RawContent)
	}
	if q.matchAll {
		return true
	}
	if len(q.terms) > 0 {
		tokens := map[string]bool{}
		for _, tok := range tokenize(r.Message + " " + r.RawContent) {
			tokens[tok] = true
		}
		for _, term := range q.terms {
			if !tokens[term] {
				return false
			}
		}
	}
	for _, phrase := range q.phrases {
		haystackMsg := strings.ToLower(r.Message)
		haystackRaw := strings.ToLower(r.RawContent)
		needle := strings.ToLower(phrase)
		if !strings.Contains(haystackMsg, needle) && !strings.Contains(haystackRaw, needle) {
			return false
		}
	}
	for _, f := range q.filters {
		v, ok := r.Field(f.name)
		if !ok || !strings.EqualFold(v, f.value) {
			return false
		}
	}
	return true
}

// candidates narrows the search to postings-list intersections. The second
// return is false when the query cannot use postings (regex, match-all, or
// a phrase with no indexable tokens) and the caller must scan.
func (q *compiledQuery) candidates(p *Partition) ([]int, bool) {
	if q.regex != nil || q.matchAll {
		return nil, false
	}
	var lists [][]int
	for _, term := range q.terms {
		lists = append(lists, p.tokens[term])
	}
	for _, f := range q.filters {
		lists = append(lists, p.fields[fieldPostingKey(f.name, f.value)])
	}
	for _, phrase := range q.phrases {
		toks := tokenize(phrase)
		if len(toks) == 0 {
			return nil, false
		}
		for _, tok := range toks {
			lists = append(lists, p.tokens[tok])
		}
	}
	if len(lists) == 0 {
		return nil, false
	}
	result := lists[0]
	for _, list := range lists[1:] {
		result = intersectPostings(result, list)
		if len(result) == 0 {
			return nil, true
		}
	}
	return result, true
}

// intersectPostings intersects two sorted postings lists.
func intersectPostings(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
