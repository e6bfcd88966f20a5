package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrQuerySyntax is matched by every query parse failure.
var ErrQuerySyntax = errors.New("query syntax error")

// SyntaxError describes where a query failed to parse.
type SyntaxError struct {
	Pos int // byte offset into the query text
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax error at position %d: %s", e.Pos, e.Msg)
}

// Is reports whether target is ErrQuerySyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrQuerySyntax
}

// Field names accepted in field:value terms
const (
	FieldContent  = "content"
	FieldLanguage = "language"
	FieldPath     = "path"
)

var fieldAliases = map[string]string{
	"content":  FieldContent,
	"language": FieldLanguage,
	"lang":     FieldLanguage,
	"path":     FieldPath,
}

// Node is a parsed query expression.
type Node interface {
	String() string
}

// Term matches a single word, or a wildcard pattern when it contains * or ?.
type Term struct {
	Field string
	Text  string
}

// Phrase matches an exact sequence of words.
type Phrase struct {
	Field string
	Text  string
}

// And matches documents matching every child.
type And struct {
	Children []Node
}

// Or matches documents matching any child.
type Or struct {
	Children []Node
}

// Not matches documents that do not match Child.
type Not struct {
	Child Node
}

func (t *Term) String() string {
	if t.Field == FieldContent {
		return t.Text
	}
	return t.Field + ":" + t.Text
}

func (p *Phrase) String() string {
	q := `"` + p.Text + `"`
	if p.Field == FieldContent {
		return q
	}
	return p.Field + ":" + q
}

func (a *And) String() string { return joinNodes(a.Children, " AND ") }
func (o *Or) String() string  { return joinNodes(o.Children, " OR ") }
func (n *Not) String() string { return "NOT " + n.Child.String() }

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// IsWildcard reports whether the term text contains wildcard characters.
func (t *Term) IsWildcard() bool {
	return strings.ContainsAny(t.Text, "*?")
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokPhrase
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
	end  int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokPhrase:
		return fmt.Sprintf("phrase %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// lex splits query text into tokens
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		r := rune(input[i])
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i, end: i + 1})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i, end: i + 1})
			i++
		case r == '"':
			closing := strings.IndexByte(input[i+1:], '"')
			if closing < 0 {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated phrase"}
			}
			text := input[i+1 : i+1+closing]
			tokens = append(tokens, token{kind: tokPhrase, text: text, pos: i, end: i + closing + 2})
			i += closing + 2
		case r == '-' && i+1 < len(input) && startsOperand(input[i+1]):
			tokens = append(tokens, token{kind: tokMinus, text: "-", pos: i, end: i + 1})
			i++
		default:
			start := i
			for i < len(input) && !isDelimiter(input[i]) {
				i++
			}
			word := input[start:i]
			kind := tokWord
			switch word {
			case "AND":
				kind = tokAnd
			case "OR":
				kind = tokOr
			case "NOT":
				kind = tokNot
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: start, end: i})
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input), end: len(input)})
	return tokens, nil
}

func isDelimiter(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' ||
		c == '(' || c == ')' || c == '"'
}

// startsOperand reports whether a '-' followed by c negates the next operand
func startsOperand(c byte) bool {
	return c == '(' || c == '"' || (!isDelimiter(c) && c != '-')
}

type parser struct {
	tokens []token
	pos    int
}

// Parse parses query text. Bare terms are joined with an implicit AND;
// AND, OR and NOT are recognized in upper case only; "-term" negates;
// "quoted text" is a phrase; * and ? make a wildcard term; and
// language:, lang:, path: and content: restrict a term to a field.
func Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + tok.describe()}
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Or{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for {
		tok := p.peek()
		if tok.kind == tokAnd {
			p.next()
		} else if !canStartOperand(tok.kind) {
			break
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &And{Children: children}, nil
}

func canStartOperand(k tokenKind) bool {
	switch k {
	case tokWord, tokPhrase, tokLParen, tokNot, tokMinus:
		return true
	}
	return false
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokNot || tok.kind == tokMinus {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "empty group"}
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "unbalanced parenthesis"}
		}
		return node, nil
	case tokPhrase:
		return newPhrase(FieldContent, tok)
	case tokWord:
		return p.parseWord(tok)
	case tokEOF:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "expected a term but reached end of query"}
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + tok.describe()}
	}
}

// parseWord turns a word token into a term, splitting a known field prefix
func (p *parser) parseWord(tok token) (Node, error) {
	colon := strings.IndexByte(tok.text, ':')
	if colon <= 0 {
		return &Term{Field: FieldContent, Text: tok.text}, nil
	}

	field, ok := fieldAliases[strings.ToLower(tok.text[:colon])]
	if !ok {
		// Not a field reference, e.g. std::vector
		return &Term{Field: FieldContent, Text: tok.text}, nil
	}

	value := tok.text[colon+1:]
	if value != "" {
		if field == FieldLanguage {
			value = strings.ToLower(value)
		}
		return &Term{Field: field, Text: value}, nil
	}

	// field:"some phrase"
	if next := p.peek(); next.kind == tokPhrase && next.pos == tok.end {
		p.next()
		return newPhrase(field, next)
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("missing value for field %q", field)}
}

func newPhrase(field string, tok token) (Node, error) {
	if strings.TrimSpace(tok.text) == "" {
		return nil, &SyntaxError{Pos: tok.pos, Msg: "empty phrase"}
	}
	return &Phrase{Field: field, Text: tok.text}, nil
}
