package parse

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/orq/internal/qerr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInteger
	tokDecimal
	tokNamedParam
	tokPositionalParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return fmt.Sprintf("'%s'", t.text)
	case tokNamedParam:
		return ":" + t.text
	case tokPositionalParam:
		return "?" + t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// is reports whether the token is the given keyword or punctuation.
// Keyword comparison is case-insensitive.
func (t token) is(s string) bool {
	switch t.kind {
	case tokIdent:
		return strings.EqualFold(t.text, s)
	case tokPunct:
		return t.text == s
	}
	return false
}

// lex splits the query text into tokens.
func lex(src string) ([]token, error) {
	l := &lexer{src: src, line: 1, col: 1}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func (l *lexer) peekRune() rune {
	if l.off >= len(l.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.off:])
	return r
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	l.off += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) errorf(pos Pos, code qerr.Code, format string, args ...any) error {
	return qerr.New(code, fmt.Sprintf("%d:%d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...)),
		qerr.Field("line", pos.Line), qerr.Field("column", pos.Column))
}

func (l *lexer) next() (token, error) {
	for l.off < len(l.src) && unicode.IsSpace(l.peekRune()) {
		l.advance()
	}
	pos := Pos{Line: l.line, Column: l.col}
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: pos}, nil
	}

	r := l.peekRune()
	switch {
	case isIdentStart(r):
		start := l.off
		for l.off < len(l.src) && isIdentPart(l.peekRune()) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.off], pos: pos}, nil

	case unicode.IsDigit(r):
		return l.number(pos), nil

	case r == '\'':
		return l.stringLit(pos)

	case r == ':':
		l.advance()
		start := l.off
		for l.off < len(l.src) && isIdentPart(l.peekRune()) {
			l.advance()
		}
		if start == l.off {
			return token{}, l.errorf(pos, qerr.CodeParseSyntax, "expected parameter name after ':'")
		}
		return token{kind: tokNamedParam, text: l.src[start:l.off], pos: pos}, nil

	case r == '?':
		l.advance()
		start := l.off
		for l.off < len(l.src) && unicode.IsDigit(l.peekRune()) {
			l.advance()
		}
		if start == l.off {
			return token{}, l.errorf(pos, qerr.CodeParseSyntax, "ordinal parameters need a position (?1)")
		}
		return token{kind: tokPositionalParam, text: l.src[start:l.off], pos: pos}, nil
	}

	// Two-character punctuation first.
	if l.off+1 < len(l.src) {
		two := l.src[l.off : l.off+2]
		switch two {
		case "<=", ">=", "<>", "!=", "||":
			l.advance()
			l.advance()
			if two == "!=" {
				two = "<>"
			}
			return token{kind: tokPunct, text: two, pos: pos}, nil
		}
	}
	switch r {
	case '.', ',', '(', ')', '{', '}', '=', '<', '>', '+', '-', '*', '/':
		l.advance()
		return token{kind: tokPunct, text: string(r), pos: pos}, nil
	}
	return token{}, l.errorf(pos, qerr.CodeParseSyntax, "unexpected character %q", r)
}

func (l *lexer) number(pos Pos) token {
	start := l.off
	for l.off < len(l.src) && unicode.IsDigit(l.peekRune()) {
		l.advance()
	}
	kind := tokInteger
	if l.peekRune() == '.' && l.off+1 < len(l.src) && unicode.IsDigit(rune(l.src[l.off+1])) {
		kind = tokDecimal
		l.advance()
		for l.off < len(l.src) && unicode.IsDigit(l.peekRune()) {
			l.advance()
		}
	}
	return token{kind: kind, text: l.src[start:l.off], pos: pos}
}

func (l *lexer) stringLit(pos Pos) (token, error) {
	l.advance() // opening quote
	var b strings.Builder
	for {
		if l.off >= len(l.src) {
			return token{}, l.errorf(pos, qerr.CodeParseUnterminated, "unterminated string literal")
		}
		r := l.advance()
		if r == '\'' {
			if l.peekRune() == '\'' {
				l.advance()
				b.WriteRune('\'')
				continue
			}
			return token{kind: tokString, text: b.String(), pos: pos}, nil
		}
		b.WriteRune(r)
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
