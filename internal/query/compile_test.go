package query

import (
	"testing"

	bq "github.com/blevesearch/bleve/v2/search/query"
)

func mustCompile(t *testing.T, input string) bq.Query {
	t.Helper()
	node, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return Compile(node)
}

func TestCompile_Shapes(t *testing.T) {
	if _, ok := mustCompile(t, "hello").(*bq.MatchQuery); !ok {
		t.Error("Expected a single term to compile to a match query")
	}
	if _, ok := mustCompile(t, "hello world").(*bq.ConjunctionQuery); !ok {
		t.Error("Expected implicit AND to compile to a conjunction")
	}
	if _, ok := mustCompile(t, "hello OR world").(*bq.DisjunctionQuery); !ok {
		t.Error("Expected OR to compile to a disjunction")
	}
	if _, ok := mustCompile(t, "hello -world").(*bq.BooleanQuery); !ok {
		t.Error("Expected a negated child to compile to a boolean query")
	}
	if _, ok := mustCompile(t, "NOT hello").(*bq.BooleanQuery); !ok {
		t.Error("Expected NOT to compile to a boolean query")
	}
	if _, ok := mustCompile(t, "language:python").(*bq.TermQuery); !ok {
		t.Error("Expected a language filter to compile to a term query")
	}
	if _, ok := mustCompile(t, "path:util").(*bq.WildcardQuery); !ok {
		t.Error("Expected a path filter to compile to a wildcard query")
	}
}

func TestCompile_DropsTermsWithoutTokens(t *testing.T) {
	// "if" is a stop word and "=" yields no token, leaving only x
	if _, ok := mustCompile(t, "if x =").(*bq.MatchQuery); !ok {
		t.Error("Expected only the remaining term to be compiled")
	}
	for _, input := range []string{"the", "=", `"the"`, "the OR a", "NOT the"} {
		if _, ok := mustCompile(t, input).(*bq.MatchNoneQuery); !ok {
			t.Errorf("Expected %q to match nothing", input)
		}
	}
}
