package kdl

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenBare
	tokenString
	tokenLBrace
	tokenRBrace
	// tokenTerminator ends a node: a newline or an explicit ';'.
	tokenTerminator
)

type token struct {
	kind  tokenKind
	value string
	line  int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '\n':
			l.pos++
			l.line++
			return token{kind: tokenTerminator, line: l.line - 1}, nil
		case c == ';':
			l.pos++
			return token{kind: tokenTerminator, line: l.line}, nil
		case c == '{':
			l.pos++
			return token{kind: tokenLBrace, line: l.line}, nil
		case c == '}':
			l.pos++
			return token{kind: tokenRBrace, line: l.line}, nil
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			l.skipLineComment()
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			if err := l.skipBlockComment(); err != nil {
				return token{}, err
			}
		case c == '"':
			return l.lexString()
		default:
			return l.lexBareword(), nil
		}
	}
	return token{kind: tokenEOF, line: l.line}, nil
}

func (l *lexer) skipLineComment() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) skipBlockComment() error {
	start := l.line
	l.pos += 2
	for l.pos+1 < len(l.src) {
		if l.src[l.pos] == '\n' {
			l.line++
		}
		if l.src[l.pos] == '*' && l.src[l.pos+1] == '/' {
			l.pos += 2
			return nil
		}
		l.pos++
	}
	return &ParseError{Line: start, Message: "unterminated block comment"}
}

func (l *lexer) lexString() (token, error) {
	start := l.line
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokenString, value: sb.String(), line: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, &ParseError{Line: start, Message: "unterminated string escape"}
			}
			l.pos++
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\', '/':
				sb.WriteByte(esc)
			default:
				return token{}, &ParseError{Line: start, Message: fmt.Sprintf("unknown string escape '\\%c'", esc)}
			}
			l.pos++
		case '\n':
			return token{}, &ParseError{Line: start, Message: "unterminated string literal"}
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, &ParseError{Line: start, Message: "unterminated string literal"}
}

func (l *lexer) lexBareword() token {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '{' || c == '}' || c == ';' || c == '"' {
			break
		}
		l.pos++
	}
	return token{kind: tokenBare, value: l.src[start:l.pos], line: l.line}
}
