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

// Package query implements the pipelined search language: stages separated
// by | that compose over the index engine. search seeds the record stream;
// where, sort, head, tail and eval transform it; stats replaces it with a
// statistics result. Unknown stages are skipped with a warning rather than
// failing the whole query.
package query

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/expr-lang/expr"
	"github.com/grepwise/grepwise/internal/logs"
	"github.com/grepwise/grepwise/record"
)

// queryLexer tokenizes the whole language. Strings are double-quoted and
// may contain spaces; idents cover field names, bare search terms, and
// stage keywords.
var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\"|[^"])*"`},
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][\w.\-/:@]*`},
	{Name: "Operator", Pattern: `!=|<=|>=|==|=|<|>|\+|-|\*|/|\(|\)|,|\.`},
	{Name: "Pipe", Pattern: `\|`},
	{Name: "whitespace", Pattern: `\s+`},
})

var (
	whereParser = participle.MustBuild[whereStageAST](
		participle.Lexer(queryLexer),
		participle.Elide("whitespace"),
		participle.Unquote("String"))
	statsParser = participle.MustBuild[statsStageAST](
		participle.Lexer(queryLexer),
		participle.Elide("whitespace"))
	sortParser = participle.MustBuild[sortStageAST](
		participle.Lexer(queryLexer),
		participle.Elide("whitespace"))
	limitParser = participle.MustBuild[limitStageAST](
		participle.Lexer(queryLexer),
		participle.Elide("whitespace"))
)

// whereStageAST parses `where <comparison> ((and|or) <comparison>)*`.
// Chains evaluate left-associatively.
type whereStageAST struct {
	First *comparisonAST  `parser:"'where' @@"`
	Rest  []*chainLinkAST `parser:"@@*"`
}

type chainLinkAST struct {
	Op   string         `parser:"@('and' | 'or')"`
	Comp *comparisonAST `parser:"@@"`
}

type comparisonAST struct {
	Field string    `parser:"@Ident"`
	Op    string    `parser:"@('!=' | '<=' | '>=' | '==' | '=' | '<' | '>')"`
	Value *valueAST `parser:"@@"`
}

type valueAST struct {
	Str   *string  `parser:"@String"`
	Num   *float64 `parser:"| @Number"`
	Ident *string  `parser:"| @Ident"`
}

func (v *valueAST) text() string {
	switch {
	case v.Str != nil:
		return *v.Str
	case v.Num != nil:
		return trimFloat(*v.Num)
	case v.Ident != nil:
		return *v.Ident
	}
	return ""
}

type statsStageAST struct {
	Func string  `parser:"'stats' @'count'"`
	By   *string `parser:"('by' @Ident)?"`
}

type sortStageAST struct {
	Sign  string `parser:"'sort' @('+' | '-')?"`
	Field string `parser:"@Ident"`
}

type limitStageAST struct {
	Command string `parser:"@('head' | 'tail')"`
	Count   int    `parser:"@Number"`
}

// Pipeline is a parsed and compiled query ready to execute.
type Pipeline struct {
	source string
	stages []stage
}

// Parse compiles a pipeline query. Stage payloads that fail to parse are an
// error; stage names nobody knows are skipped with a warning.
func Parse(queryStr string, logger logs.StructuredLogger) (*Pipeline, error) {
	segments, err := splitStages(queryStr)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{source: queryStr}
	for i, segment := range segments {
		text := strings.TrimSpace(segment)
		if text == "" {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("query: empty stage after pipe %d", i)
		}
		command := strings.ToLower(strings.Fields(text)[0])
		switch command {
		case "search":
			st, err := compileSearch(strings.TrimSpace(text[len("search"):]))
			if err != nil {
				return nil, err
			}
			p.stages = append(p.stages, st)
		case "where":
			ast, err := whereParser.ParseString("", text)
			if err != nil {
				return nil, fmt.Errorf("query: parsing where stage: %w", err)
			}
			p.stages = append(p.stages, compileWhere(ast))
		case "stats":
			ast, err := statsParser.ParseString("", text)
			if err != nil {
				return nil, fmt.Errorf("query: parsing stats stage: %w", err)
			}
			p.stages = append(p.stages, &statsStage{by: ast.By})
		case "sort":
			ast, err := sortParser.ParseString("", text)
			if err != nil {
				return nil, fmt.Errorf("query: parsing sort stage: %w", err)
			}
			p.stages = append(p.stages, &sortStage{field: ast.Field, descending: ast.Sign == "-"})
		case "head", "tail":
			ast, err := limitParser.ParseString("", text)
			if err != nil {
				return nil, fmt.Errorf("query: parsing %s stage: %w", command, err)
			}
			p.stages = append(p.stages, &limitStage{fromEnd: ast.Command == "tail", count: ast.Count})
		case "eval":
			st, err := compileEval(strings.TrimSpace(text[len("eval"):]))
			if err != nil {
				return nil, err
			}
			p.stages = append(p.stages, st)
		default:
			logger.Warnf("query: skipping unknown stage %q", command)
		}
	}
	// A pipeline that never searches still needs an initial record set.
	if len(p.stages) == 0 || !isSearch(p.stages[0]) {
		p.stages = append([]stage{&searchStage{matchAll: true}}, p.stages...)
	}
	return p, nil
}

func isSearch(s stage) bool {
	_, ok := s.(*searchStage)
	return ok
}

// splitStages slices the raw query on top-level pipes. The lexer handles
// quoting, so a | inside a quoted string never splits.
func splitStages(queryStr string) ([]string, error) {
	lx, err := queryLexer.LexString("", queryStr)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	pipeType := queryLexer.Symbols()["Pipe"]
	var segments []string
	prev := 0
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		if tok.EOF() {
			break
		}
		if tok.Type == pipeType {
			segments = append(segments, queryStr[prev:tok.Pos.Offset])
			prev = tok.Pos.Offset + 1
		}
	}
	segments = append(segments, queryStr[prev:])
	return segments, nil
}

// compileSearch translates the search expression into dispatch plans for
// the engine. Alternatives separated by top-level `or` run as separate
// searches and union; within an alternative, `and` is the engine's implicit
// conjunction and `field=value` becomes the native field:value filter.
func compileSearch(exprText string) (*searchStage, error) {
	if exprText == "" || exprText == "*" {
		return &searchStage{matchAll: true}, nil
	}
	st := &searchStage{}
	for _, alt := range splitOnOr(exprText) {
		plan, err := compileSearchAlternative(alt)
		if err != nil {
			return nil, err
		}
		st.plans = append(st.plans, plan)
	}
	return st, nil
}

type exprToken struct {
	typ  lexer.TokenType
	text string
	raw  string
}

func lexAll(text string) ([]exprToken, error) {
	lx, err := queryLexer.LexString("", text)
	if err != nil {
		return nil, err
	}
	wsType := queryLexer.Symbols()["whitespace"]
	var out []exprToken
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		if tok.EOF() {
			break
		}
		if tok.Type == wsType {
			continue
		}
		out = append(out, exprToken{typ: tok.Type, text: tok.Value, raw: tok.Value})
	}
	return out, nil
}

// splitOnOr splits a search expression on the bare word `or`, honoring
// quotes via the lexer. On a lexing error the whole text is one
// alternative; the engine's own compiler reports the problem.
func splitOnOr(text string) []string {
	toks, err := lexAll(text)
	if err != nil {
		return []string{text}
	}
	identType := queryLexer.Symbols()["Ident"]
	var alts []string
	var current []exprToken
	for _, tok := range toks {
		if tok.typ == identType && strings.EqualFold(tok.text, "or") {
			alts = append(alts, joinTokens(current))
			current = nil
			continue
		}
		current = append(current, tok)
	}
	alts = append(alts, joinTokens(current))
	return alts
}

func joinTokens(toks []exprToken) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.raw
	}
	return strings.Join(parts, " ")
}

// searchPlan is one alternative of the search expression.
type searchPlan struct {
	// byLevel / bySource dispatch to the engine's exact-match lookups when
	// the alternative is a single level= or source= filter.
	byLevel  *record.Level
	bySource *string
	// native is the engine's query form for everything else.
	native string
}

func compileSearchAlternative(alt string) (searchPlan, error) {
	toks, err := lexAll(alt)
	if err != nil {
		return searchPlan{}, fmt.Errorf("query: lexing search expression: %w", err)
	}
	identType := queryLexer.Symbols()["Ident"]
	stringType := queryLexer.Symbols()["String"]

	var parts []string
	var filters int
	var onlyFilter *[2]string
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		// field=value folds into the native field:value form.
		if tok.typ == identType && i+2 < len(toks) && toks[i+1].text == "=" {
			value := toks[i+2].text
			if toks[i+2].typ == stringType {
				parts = append(parts, fmt.Sprintf("%s:%s", tok.text, toks[i+2].raw))
			} else {
				parts = append(parts, fmt.Sprintf("%s:%s", tok.text, value))
			}
			filters++
			unq := strings.Trim(toks[i+2].raw, `"`)
			onlyFilter = &[2]string{strings.ToLower(tok.text), unq}
			i += 2
			continue
		}
		if tok.typ == identType && strings.EqualFold(tok.text, "and") {
			continue
		}
		parts = append(parts, tok.raw)
		onlyFilter = nil
	}

	if filters == 1 && onlyFilter != nil && len(parts) == 1 {
		switch onlyFilter[0] {
		case "level":
			level := record.NormalizeLevel(onlyFilter[1])
			return searchPlan{byLevel: &level}, nil
		case "source":
			source := onlyFilter[1]
			return searchPlan{bySource: &source}, nil
		}
	}
	return searchPlan{native: strings.Join(parts, " ")}, nil
}

// compileEval parses `eval field=<expr>` and compiles the expression.
func compileEval(text string) (*evalStage, error) {
	eq := indexOutsideQuotes(text, '=')
	if eq <= 0 {
		return nil, fmt.Errorf("query: eval stage needs field=<expression>")
	}
	field := strings.TrimSpace(text[:eq])
	if field == "" || strings.ContainsAny(field, " \t") {
		return nil, fmt.Errorf("query: invalid eval field %q", field)
	}
	src := strings.TrimSpace(text[eq+1:])
	if src == "" {
		return nil, fmt.Errorf("query: eval stage has an empty expression")
	}
	program, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("query: compiling eval expression %q: %w", src, err)
	}
	return &evalStage{field: field, program: program, source: src}, nil
}

func indexOutsideQuotes(s string, c byte) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			inQuote = !inQuote
		case s[i] == c && !inQuote:
			return i
		}
	}
	return -1
}

func compileWhere(ast *whereStageAST) *whereStage {
	st := &whereStage{}
	st.comparisons = append(st.comparisons, comparison{
		field: ast.First.Field,
		op:    ast.First.Op,
		value: ast.First.Value.text(),
	})
	for _, link := range ast.Rest {
		st.connectors = append(st.connectors, strings.ToLower(link.Op))
		st.comparisons = append(st.comparisons, comparison{
			field: link.Comp.Field,
			op:    link.Comp.Op,
			value: link.Comp.Value.text(),
		})
	}
	return st
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
