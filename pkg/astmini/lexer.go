package astmini

import (
	"strconv"
	"strings"

	"github.com/minz/c2wasm/pkg/cerr"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkInt
	tkFloat
	tkString
	tkPunct
)

type token struct {
	kind tokenKind
	text string
	ival int64
	fval float64
	uns  bool
	long bool
	f32  bool
	pos  Position
}

// lexer turns source text into a flat token slice up front, the same way
// the teacher's simpler hand-rolled scanners (pkg/mir, pkg/z80asm) work
// rather than producing tokens lazily.
type lexer struct {
	src  string
	i    int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekByte() byte {
	if l.i >= len(l.src) {
		return 0
	}
	return l.src[l.i]
}

func (l *lexer) advance() byte {
	b := l.src[l.i]
	l.i++
	if b == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return b
}

func (l *lexer) pos() Position { return Position{Line: l.line, Col: l.col} }

var puncts3 = []string{"<<=", ">>="}
var puncts2 = []string{"==", "!=", "<=", ">=", "&&", "||", "<<", ">>", "->"}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
func isIdentCont(b byte) bool { return isIdentStart(b) || (b >= '0' && b <= '9') }
func isDigit(b byte) bool     { return b >= '0' && b <= '9' }

func tokenize(src string) ([]token, error) {
	l := newLexer(src)
	var toks []token
	for {
		l.skipSpaceAndComments()
		if l.i >= len(l.src) {
			toks = append(toks, token{kind: tkEOF, pos: l.pos()})
			return toks, nil
		}
		start := l.pos()
		b := l.peekByte()
		switch {
		case isIdentStart(b):
			toks = append(toks, l.lexIdent(start))
		case isDigit(b):
			tok, err := l.lexNumber(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case b == '"':
			tok, err := l.lexString(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case b == '\'':
			tok, err := l.lexChar(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		default:
			toks = append(toks, l.lexPunct(start))
		}
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.i < len(l.src) {
		b := l.peekByte()
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			l.advance()
		case b == '/' && l.i+1 < len(l.src) && l.src[l.i+1] == '/':
			for l.i < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
		case b == '/' && l.i+1 < len(l.src) && l.src[l.i+1] == '*':
			l.advance()
			l.advance()
			for l.i < len(l.src) && !(l.peekByte() == '*' && l.i+1 < len(l.src) && l.src[l.i+1] == '/') {
				l.advance()
			}
			if l.i < len(l.src) {
				l.advance()
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *lexer) lexIdent(start Position) token {
	begin := l.i
	for l.i < len(l.src) && isIdentCont(l.peekByte()) {
		l.advance()
	}
	return token{kind: tkIdent, text: l.src[begin:l.i], pos: start}
}

func (l *lexer) lexNumber(start Position) (token, error) {
	begin := l.i
	isFloat := false
	for l.i < len(l.src) && isDigit(l.peekByte()) {
		l.advance()
	}
	if l.peekByte() == '.' {
		isFloat = true
		l.advance()
		for l.i < len(l.src) && isDigit(l.peekByte()) {
			l.advance()
		}
	}
	if l.peekByte() == 'e' || l.peekByte() == 'E' {
		isFloat = true
		l.advance()
		if l.peekByte() == '+' || l.peekByte() == '-' {
			l.advance()
		}
		for l.i < len(l.src) && isDigit(l.peekByte()) {
			l.advance()
		}
	}
	digits := l.src[begin:l.i]

	var uns, long, f32 bool
	for {
		switch l.peekByte() {
		case 'u', 'U':
			uns = true
			l.advance()
		case 'l', 'L':
			long = true
			l.advance()
		case 'f', 'F':
			f32 = true
			l.advance()
		default:
			goto done
		}
	}
done:
	if isFloat || f32 {
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return token{}, cerr.AtPosition(cerr.KindInvalidConstantExpression, "", start.Line, start.Col, "invalid floating constant %q", digits)
		}
		return token{kind: tkFloat, fval: v, f32: f32, pos: start}, nil
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		uv, uerr := strconv.ParseUint(digits, 10, 64)
		if uerr != nil {
			return token{}, cerr.AtPosition(cerr.KindInvalidConstantExpression, "", start.Line, start.Col, "invalid integer constant %q", digits)
		}
		v = int64(uv)
		uns = true
	}
	return token{kind: tkInt, ival: v, uns: uns, long: long, pos: start}, nil
}

func (l *lexer) lexString(start Position) (token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.i >= len(l.src) {
			return token{}, cerr.AtPosition(cerr.KindInvalidConstantExpression, "", start.Line, start.Col, "unterminated string literal")
		}
		b := l.advance()
		if b == '"' {
			break
		}
		if b == '\\' {
			sb.WriteByte(unescape(l.advance()))
			continue
		}
		sb.WriteByte(b)
	}
	return token{kind: tkString, text: sb.String(), pos: start}, nil
}

func (l *lexer) lexChar(start Position) (token, error) {
	l.advance() // opening quote
	if l.i >= len(l.src) {
		return token{}, cerr.AtPosition(cerr.KindInvalidConstantExpression, "", start.Line, start.Col, "unterminated character constant")
	}
	b := l.advance()
	if b == '\\' {
		b = unescape(l.advance())
	}
	if l.peekByte() == '\'' {
		l.advance()
	}
	return token{kind: tkInt, ival: int64(b), pos: start}, nil
}

func unescape(b byte) byte {
	switch b {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	case '\\', '\'', '"':
		return b
	default:
		return b
	}
}

func (l *lexer) lexPunct(start Position) token {
	for _, p := range puncts3 {
		if strings.HasPrefix(l.src[l.i:], p) {
			for range p {
				l.advance()
			}
			return token{kind: tkPunct, text: p, pos: start}
		}
	}
	for _, p := range puncts2 {
		if strings.HasPrefix(l.src[l.i:], p) {
			for range p {
				l.advance()
			}
			return token{kind: tkPunct, text: p, pos: start}
		}
	}
	b := l.advance()
	return token{kind: tkPunct, text: string(b), pos: start}
}
