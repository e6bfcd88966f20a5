package query

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/codegrok/internal/domain"
	"github.com/sha1n/codegrok/internal/index"
)

// contentAnalyzer is the analyzer the content field is indexed with
var contentAnalyzer = index.NewMapping().AnalyzerNamed(standard.Name)

// Compile translates a parsed expression into a bleve query tree.
// Content terms that analyze to no tokens (stop words, punctuation) are
// dropped; an expression left with no clauses matches nothing.
func Compile(n Node) bq.Query {
	if q, ok := compile(n); ok {
		return q
	}
	return bleve.NewMatchNoneQuery()
}

// compile returns false when n contributes no clause to the query
func compile(n Node) (bq.Query, bool) {
	switch n := n.(type) {
	case *Term:
		return compileTerm(n)
	case *Phrase:
		if n.Field == FieldContent && !analyzes(n.Text) {
			return nil, false
		}
		q := bleve.NewMatchPhraseQuery(n.Text)
		q.SetField(indexField(n.Field))
		return q, true
	case *And:
		return compileAnd(n)
	case *Or:
		var children []bq.Query
		for _, c := range n.Children {
			if q, ok := compile(c); ok {
				children = append(children, q)
			}
		}
		if len(children) == 0 {
			return nil, false
		}
		return bleve.NewDisjunctionQuery(children...), true
	case *Not:
		child, ok := compile(n.Child)
		if !ok {
			return nil, false
		}
		return bq.NewBooleanQuery(
			[]bq.Query{bleve.NewMatchAllQuery()},
			nil,
			[]bq.Query{child}), true
	default:
		return nil, false
	}
}

func compileTerm(t *Term) (bq.Query, bool) {
	switch t.Field {
	case FieldLanguage:
		q := bleve.NewTermQuery(t.Text)
		q.SetField(domain.FieldLanguage)
		return q, true
	case FieldPath:
		pattern := t.Text
		if !t.IsWildcard() {
			pattern = "*" + pattern + "*"
		}
		q := bleve.NewWildcardQuery(pattern)
		q.SetField(domain.FieldPath)
		return q, true
	}

	if t.IsWildcard() {
		// Wildcards bypass the analyzer, so match the lowercased terms it emits
		q := bleve.NewWildcardQuery(strings.ToLower(t.Text))
		q.SetField(domain.FieldContent)
		return q, true
	}
	if !analyzes(t.Text) {
		return nil, false
	}
	q := bleve.NewMatchQuery(t.Text)
	q.SetField(domain.FieldContent)
	q.SetOperator(bq.MatchQueryOperatorAnd)
	return q, true
}

// compileAnd folds negated children into the must-not clause of one boolean query
func compileAnd(a *And) (bq.Query, bool) {
	var must, mustNot []bq.Query
	for _, c := range a.Children {
		if not, ok := c.(*Not); ok {
			if q, ok := compile(not.Child); ok {
				mustNot = append(mustNot, q)
			}
			continue
		}
		if q, ok := compile(c); ok {
			must = append(must, q)
		}
	}
	switch {
	case len(must) == 0 && len(mustNot) == 0:
		return nil, false
	case len(mustNot) == 0:
		if len(must) == 1 {
			return must[0], true
		}
		return bleve.NewConjunctionQuery(must...), true
	case len(must) == 0:
		must = []bq.Query{bleve.NewMatchAllQuery()}
	}
	return bq.NewBooleanQuery(must, nil, mustNot), true
}

// analyzes reports whether text yields at least one content token
func analyzes(text string) bool {
	return len(tokens(contentAnalyzer, text)) > 0
}

func tokens(a analysis.Analyzer, text string) analysis.TokenStream {
	if a == nil {
		return analysis.TokenStream{&analysis.Token{Term: []byte(text)}}
	}
	return a.Analyze([]byte(text))
}

func indexField(field string) string {
	switch field {
	case FieldLanguage:
		return domain.FieldLanguage
	case FieldPath:
		return domain.FieldPath
	default:
		return domain.FieldContent
	}
}
