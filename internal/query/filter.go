// Package query filters API documents with JMESPath expressions.
package query

import (
	"kickoff/internal/types"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

// Predicate is a compiled boolean expression over a single document.
type Predicate struct {
	expr   *jmespath.JMESPath
	negate bool
}

// Compile parses expr. A leading "!" negates the whole expression.
func Compile(expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)
	negate := false
	if strings.HasPrefix(expr, "!(") && strings.HasSuffix(expr, ")") {
		negate = true
		expr = expr[2 : len(expr)-1]
	}
	if expr == "" {
		return nil, types.Err(types.ErrInvalidInput, nil, "empty filter expression")
	}
	c, err := jmespath.Compile(expr)
	if err != nil {
		return nil, types.Err(types.ErrInvalidInput, err, "filter %q", expr)
	}
	return &Predicate{expr: c, negate: negate}, nil
}

// Match is false when the expression errors or selects a non-boolean.
func (p *Predicate) Match(doc any) bool {
	v, err := p.expr.Search(doc)
	if err != nil {
		return false
	}
	matched, ok := v.(bool)
	if !ok {
		return false
	}
	if p.negate {
		return !matched
	}
	return matched
}

// FilterFixtures keeps the fixtures whose JSON form satisfies expr, in order.
// An empty expression keeps everything.
func FilterFixtures(fixtures []types.Fixture, expr string) ([]types.Fixture, error) {
	if strings.TrimSpace(expr) == "" {
		return fixtures, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	out := make([]types.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		doc, err := toDocument(f)
		if err != nil {
			return nil, err
		}
		if p.Match(doc) {
			out = append(out, f)
		}
	}
	return out, nil
}

// toDocument turns a typed value into the generic JSON shape JMESPath walks.
func toDocument(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
