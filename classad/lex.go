package classad

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind int

const (
	tEOF tokKind = iota
	tLBrack
	tRBrack
	tLBrace
	tRBrace
	tSemi
	tComma
	tAssign
	tIdent
	tInt
	tReal
	tString
	tOp
)

type token struct {
	kind tokKind
	text string
	pos  int
	end  int
}

// ParseError reports a syntax error with its byte offset.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("classad: offset %d: %s", e.Pos, e.Msg)
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("classad: "+format, args...)
}

var multiOps = []string{"=?=", "=!=", "==", "!=", "<=", ">=", "&&", "||", "?.", "??", "**", ".."}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue
		case strings.HasPrefix(src[i:], "//"):
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				i = len(src)
			} else {
				i += j + 1
			}
			continue
		case strings.HasPrefix(src[i:], "/*"):
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				return nil, &ParseError{Pos: i, Msg: "unterminated comment"}
			}
			i += j + 4
			continue
		}
		start := i
		var kind tokKind
		switch {
		case c == '[':
			kind, i = tLBrack, i+1
		case c == ']':
			kind, i = tRBrack, i+1
		case c == '{':
			kind, i = tLBrace, i+1
		case c == '}':
			kind, i = tRBrace, i+1
		case c == ';':
			kind, i = tSemi, i+1
		case c == ',':
			kind, i = tComma, i+1
		case c == '"':
			j, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			kind, i = tString, j
		case c >= '0' && c <= '9':
			kind, i = scanNumber(src, i)
		case c == '_' || isLetter(src[i:]):
			i++
			for i < len(src) && (src[i] == '_' || (src[i] >= '0' && src[i] <= '9') || isLetter(src[i:])) {
				_, n := utf8.DecodeRuneInString(src[i:])
				i += n
			}
			kind = tIdent
		default:
			kind = tOp
			matched := false
			for _, op := range multiOps {
				if strings.HasPrefix(src[i:], op) {
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				if c == '=' {
					kind = tAssign
				}
				_, n := utf8.DecodeRuneInString(src[i:])
				i += n
			}
		}
		toks = append(toks, token{kind: kind, text: src[start:i], pos: start, end: i})
	}
	toks = append(toks, token{kind: tEOF, pos: len(src), end: len(src)})
	return toks, nil
}

func isLetter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}

func scanString(src string, i int) (int, error) {
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case '"':
			return j + 1, nil
		case '\n':
			return 0, &ParseError{Pos: i, Msg: "newline in string"}
		}
		j++
	}
	return 0, &ParseError{Pos: i, Msg: "unterminated string"}
}

func scanNumber(src string, i int) (tokKind, int) {
	kind := tInt
	for i < len(src) && src[i] >= '0' && src[i] <= '9' {
		i++
	}
	if i+1 < len(src) && src[i] == '.' && src[i+1] >= '0' && src[i+1] <= '9' {
		kind = tReal
		i++
		for i < len(src) && src[i] >= '0' && src[i] <= '9' {
			i++
		}
	} else if i < len(src) && src[i] == '.' && (i+1 == len(src) || src[i+1] != '.') {
		// "8." is a real; "1..3" is a range
		kind = tReal
		i++
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			kind = tReal
			i = j
			for i < len(src) && src[i] >= '0' && src[i] <= '9' {
				i++
			}
		}
	}
	return kind, i
}
