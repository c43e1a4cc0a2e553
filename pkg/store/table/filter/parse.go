package filter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var ErrSyntax = errors.New("filter syntax error")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokLiteral
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	val  any
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '\'':
		s, err := l.quoted()
		if err != nil {
			return token{}, err
		}
		return token{kind: tokLiteral, val: s, pos: start}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		return l.number()
	case c == '_' || unicode.IsLetter(rune(c)):
		for l.pos < len(l.src) && (l.src[l.pos] == '_' || isAlnum(l.src[l.pos])) {
			l.pos++
		}
		word := l.src[start:l.pos]
		// typed literal: datetime'..', guid'..', X'..', binary'..'
		if l.pos < len(l.src) && l.src[l.pos] == '\'' {
			raw, err := l.quoted()
			if err != nil {
				return token{}, err
			}
			v, err := typedLiteral(word, raw)
			if err != nil {
				return token{}, l.errorf(start, "%v", err)
			}
			return token{kind: tokLiteral, val: v, pos: start}, nil
		}
		switch strings.ToLower(word) {
		case "true":
			return token{kind: tokLiteral, val: true, pos: start}, nil
		case "false":
			return token{kind: tokLiteral, val: false, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected %q", c)
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// quoted reads a single-quoted string where '' stands for one quote.
func (l *lexer) quoted() (string, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return "", l.errorf(start, "unterminated string")
}

func (l *lexer) number() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	isFloat := false
scan:
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
		case (c == '+' || c == '-') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E'):
		default:
			break scan
		}
		l.pos++
	}
	text := l.src[start:l.pos]
	if l.pos < len(l.src) && (l.src[l.pos] == 'L' || l.src[l.pos] == 'l') && !isFloat {
		l.pos++
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return token{}, l.errorf(start, "bad long %q", text)
		}
		return token{kind: tokLiteral, val: v, pos: start}, nil
	}
	if isFloat {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, l.errorf(start, "bad double %q", text)
		}
		return token{kind: tokLiteral, val: v, pos: start}, nil
	}
	v, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		// out of int32 range without the L suffix reads as a long
		wide, werr := strconv.ParseInt(text, 10, 64)
		if werr != nil {
			return token{}, l.errorf(start, "bad int %q", text)
		}
		return token{kind: tokLiteral, val: wide, pos: start}, nil
	}
	return token{kind: tokLiteral, val: int32(v), pos: start}, nil
}

func typedLiteral(prefix, raw string) (any, error) {
	switch strings.ToLower(prefix) {
	case "datetime":
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("bad datetime %q", raw)
		}
		return t, nil
	case "guid":
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bad guid %q", raw)
		}
		return u, nil
	case "x", "binary":
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad binary %q", raw)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown literal type %q", prefix)
}

type parser struct {
	lex *lexer
	tok token
}

// Compile parses a filter string. The empty string compiles to a filter
// that matches everything.
func Compile(expr string) (*Expr, error) {
	if strings.TrimSpace(expr) == "" {
		return &Expr{src: expr}, nil
	}
	p := &parser{lex: &lexer{src: expr}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lex.errorf(p.tok.pos, "unexpected trailing input")
	}
	return &Expr{src: expr, root: root}, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) keyword(word string) bool {
	return p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, word)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.keyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	if p.tok.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.lex.errorf(p.tok.pos, "expected )")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	if p.tok.kind != tokIdent {
		return nil, p.lex.errorf(p.tok.pos, "expected property name")
	}
	prop := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, p.lex.errorf(p.tok.pos, "expected operator after %s", prop)
	}
	op := strings.ToLower(p.tok.text)
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
	default:
		return nil, p.lex.errorf(p.tok.pos, "unknown operator %q", p.tok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokLiteral {
		return nil, p.lex.errorf(p.tok.pos, "expected literal after %s %s", prop, op)
	}
	lit := p.tok.val
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &cmpNode{prop: prop, op: op, lit: lit}, nil
}
