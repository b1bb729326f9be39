// Package filter implements the row predicate language used by dataset scans.
//
// The grammar is a small SQL WHERE-clause subset:
//
//	expr    := or
//	or      := and ("OR" and)*
//	and     := not ("AND" not)*
//	not     := "NOT" not | pred
//	pred    := operand [cmpop operand]
//	         | operand "IS" ["NOT"] "NULL"
//	         | operand ["NOT"] "IN" "(" operand ("," operand)* ")"
//	cmpop   := "=" | "==" | "!=" | "<>" | "<" | "<=" | ">" | ">="
//	operand := identifier | `quoted identifier` | number | 'string' | "string"
//	         | TRUE | FALSE | "(" expr ")"
//
// Keywords are case-insensitive. Predicates evaluate with three-valued
// logic and a row is kept only when the predicate is true.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// token kinds beyond text/scanner's
const (
	tokOp rune = -(iota + 100)
	tokSQLString
)

type token struct {
	kind rune
	text string
	pos  scanner.Position
}

type lexer struct {
	s      scanner.Scanner
	tok    token
	errMsg string
}

func newLexer(src string) *lexer {
	l := &lexer{}
	l.s.Init(strings.NewReader(src))
	l.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanRawStrings | scanner.SkipComments
	l.s.Error = func(s *scanner.Scanner, msg string) {
		if l.errMsg == "" {
			l.errMsg = fmt.Sprintf("%s at %s", msg, s.Pos())
		}
	}
	l.next()
	return l
}

func (l *lexer) next() {
	r := l.s.Scan()
	pos := l.s.Position
	switch r {
	case '=':
		if l.s.Peek() == '=' {
			l.s.Next()
		}
		l.tok = token{tokOp, "=", pos}
	case '!':
		if l.s.Peek() != '=' {
			l.fail(pos, "expected '=' after '!'")
			return
		}
		l.s.Next()
		l.tok = token{tokOp, "!=", pos}
	case '<':
		switch l.s.Peek() {
		case '=':
			l.s.Next()
			l.tok = token{tokOp, "<=", pos}
		case '>':
			l.s.Next()
			l.tok = token{tokOp, "!=", pos}
		default:
			l.tok = token{tokOp, "<", pos}
		}
	case '>':
		if l.s.Peek() == '=' {
			l.s.Next()
			l.tok = token{tokOp, ">=", pos}
			return
		}
		l.tok = token{tokOp, ">", pos}
	case '\'':
		l.tok = token{tokSQLString, l.sqlString(pos), pos}
	default:
		l.tok = token{r, l.s.TokenText(), pos}
	}
}

// sqlString reads the body of a single quoted literal; '' escapes a quote.
func (l *lexer) sqlString(pos scanner.Position) string {
	var sb strings.Builder
	for {
		ch := l.s.Next()
		switch ch {
		case scanner.EOF:
			l.fail(pos, "unterminated string literal")
			return ""
		case '\'':
			if l.s.Peek() != '\'' {
				return sb.String()
			}
			l.s.Next()
		}
		sb.WriteRune(ch)
	}
}

func (l *lexer) fail(pos scanner.Position, msg string) {
	if l.errMsg == "" {
		l.errMsg = fmt.Sprintf("%s at %s", msg, pos)
	}
	l.tok = token{scanner.EOF, "", pos}
}

func (l *lexer) keyword(kw string) bool {
	return l.tok.kind == scanner.Ident && strings.EqualFold(l.tok.text, kw)
}

type parser struct {
	lex *lexer
}

// Parse compiles a predicate. The result can be bound to many schemas.
func Parse(src string) (*Predicate, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "empty filter")
	}
	p := &parser{lex: newLexer(src)}
	root, err := p.parseOr()
	if err == nil && p.lex.errMsg == "" && p.lex.tok.kind != scanner.EOF {
		err = p.errorf("unexpected %q", p.lex.tok.text)
	}
	if p.lex.errMsg != "" {
		err = fmt.Errorf("%s", p.lex.errMsg)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "parse filter").WithDetail("filter", src)
	}
	return &Predicate{src: src, root: root}, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format+" at %s", append(args, p.lex.tok.pos)...)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.lex.keyword("OR") {
		p.lex.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logical{fn: "or_kleene", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.lex.keyword("AND") {
		p.lex.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logical{fn: "and_kleene", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.lex.keyword("NOT") {
		p.lex.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &not{x: x}, nil
	}
	return p.parsePred()
}

var cmpFuncs = map[string]string{
	"=":  "equal",
	"!=": "not_equal",
	"<":  "less",
	"<=": "less_equal",
	">":  "greater",
	">=": "greater_equal",
}

func (p *parser) parsePred() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch {
	case p.lex.tok.kind == tokOp:
		fn := cmpFuncs[p.lex.tok.text]
		p.lex.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compare{fn: fn, l: left, r: right}, nil

	case p.lex.keyword("IS"):
		p.lex.next()
		negate := false
		if p.lex.keyword("NOT") {
			negate = true
			p.lex.next()
		}
		if !p.lex.keyword("NULL") {
			return nil, p.errorf("expected NULL")
		}
		p.lex.next()
		return &isNull{x: left, negate: negate}, nil

	case p.lex.keyword("IN"):
		return p.parseIn(left, false)

	case p.lex.keyword("NOT"):
		p.lex.next()
		if !p.lex.keyword("IN") {
			return nil, p.errorf("expected IN after NOT")
		}
		return p.parseIn(left, true)
	}
	return left, nil
}

// parseIn desugars x IN (a, b) to x = a OR x = b.
func (p *parser) parseIn(left node, negate bool) (node, error) {
	p.lex.next()
	if p.lex.tok.kind != '(' {
		return nil, p.errorf("expected '(' after IN")
	}
	p.lex.next()

	var out node
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		eq := &compare{fn: "equal", l: left, r: item}
		if out == nil {
			out = eq
		} else {
			out = &logical{fn: "or_kleene", l: out, r: eq}
		}
		if p.lex.tok.kind == ',' {
			p.lex.next()
			continue
		}
		if p.lex.tok.kind != ')' {
			return nil, p.errorf("expected ',' or ')' in IN list")
		}
		p.lex.next()
		break
	}
	if negate {
		return &not{x: out}, nil
	}
	return out, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.lex.tok
	switch tok.kind {
	case '(':
		p.lex.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.lex.tok.kind != ')' {
			return nil, p.errorf("expected ')'")
		}
		p.lex.next()
		return inner, nil

	case '-':
		p.lex.next()
		lit, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		l, ok := lit.(*literal)
		if !ok {
			return nil, p.errorf("unary minus needs a number")
		}
		switch v := l.value.(type) {
		case *scalar.Int64:
			return &literal{value: scalar.NewInt64Scalar(-v.Value)}, nil
		case *scalar.Float64:
			return &literal{value: scalar.NewFloat64Scalar(-v.Value)}, nil
		}
		return nil, p.errorf("unary minus needs a number")

	case scanner.Int:
		p.lex.next()
		v, err := strconv.ParseInt(tok.text, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q: %w", tok.text, err)
		}
		return &literal{value: scalar.NewInt64Scalar(v)}, nil

	case scanner.Float:
		p.lex.next()
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", tok.text, err)
		}
		return &literal{value: scalar.NewFloat64Scalar(v)}, nil

	case scanner.String:
		p.lex.next()
		v, err := strconv.Unquote(tok.text)
		if err != nil {
			return nil, fmt.Errorf("bad string %s: %w", tok.text, err)
		}
		return &literal{value: scalar.NewStringScalar(v)}, nil

	case tokSQLString:
		p.lex.next()
		return &literal{value: scalar.NewStringScalar(tok.text)}, nil

	case scanner.RawString:
		p.lex.next()
		return &column{name: strings.Trim(tok.text, "`")}, nil

	case scanner.Ident:
		switch {
		case strings.EqualFold(tok.text, "TRUE"):
			p.lex.next()
			return &literal{value: scalar.NewBooleanScalar(true)}, nil
		case strings.EqualFold(tok.text, "FALSE"):
			p.lex.next()
			return &literal{value: scalar.NewBooleanScalar(false)}, nil
		case strings.EqualFold(tok.text, "NULL"):
			return nil, p.errorf("NULL is only valid in IS [NOT] NULL")
		}
		for _, kw := range []string{"AND", "OR", "NOT", "IS", "IN"} {
			if strings.EqualFold(tok.text, kw) {
				return nil, p.errorf("unexpected keyword %s", kw)
			}
		}
		p.lex.next()
		return &column{name: tok.text}, nil

	case scanner.EOF:
		return nil, p.errorf("unexpected end of filter")
	}
	return nil, p.errorf("unexpected %q", tok.text)
}
