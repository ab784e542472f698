package classad

import (
	"strconv"
	"strings"
)

type parser struct {
	src  string
	toks []token
	i    int
}

// Parse parses the text form of an ad.
func Parse(text string) (*Ad, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	ad, err := p.parseAd()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, &ParseError{Pos: t.pos, Msg: "trailing input " + strconv.Quote(t.text)}
	}
	return ad, nil
}

// ParseExpr parses a single value or expression.
func ParseExpr(text string) (*Expr, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	e, err := p.parseValue(tEOF)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func newParser(text string) (*parser, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	return &parser{src: text, toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tEOF {
		p.i++
	}
	return t
}

func (p *parser) expect(k tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != k {
		return t, p.unexpected(t, what)
	}
	return t, nil
}

func (p *parser) unexpected(t token, what string) error {
	if t.kind == tEOF {
		return &ParseError{Pos: t.pos, Msg: "unexpected end of input, expected " + what}
	}
	return &ParseError{Pos: t.pos, Msg: "unexpected " + strconv.Quote(t.text) + ", expected " + what}
}

func (p *parser) parseAd() (*Ad, error) {
	if _, err := p.expect(tLBrack, "'['"); err != nil {
		return nil, err
	}
	ad := New()
	for {
		t := p.next()
		switch t.kind {
		case tRBrack:
			return ad, nil
		case tIdent:
		default:
			return nil, p.unexpected(t, "attribute name or ']'")
		}
		if _, err := p.expect(tAssign, "'='"); err != nil {
			return nil, err
		}
		v, err := p.parseValue(tSemi, tRBrack)
		if err != nil {
			return nil, err
		}
		ad.Insert(t.text, v)
		if p.peek().kind == tSemi {
			p.next()
		}
	}
}

func isStop(k tokKind, stops []tokKind) bool {
	for _, s := range stops {
		if k == s {
			return true
		}
	}
	return false
}

// parseValue parses up to, but not including, one of stops at nesting
// depth zero.
func (p *parser) parseValue(stops ...tokKind) (*Expr, error) {
	start := p.i
	switch p.peek().kind {
	case tLBrack:
		ad, err := p.parseAd()
		if err == nil && isStop(p.peek().kind, stops) {
			return AdValue(ad), nil
		}
		p.i = start
	case tLBrace:
		l, err := p.parseList()
		if err == nil && isStop(p.peek().kind, stops) {
			return l, nil
		}
		p.i = start
	}
	depth := 0
	for {
		t := p.peek()
		if t.kind == tEOF {
			if depth > 0 || !isStop(tEOF, stops) {
				return nil, p.unexpected(t, "end of value")
			}
			break
		}
		if depth == 0 && isStop(t.kind, stops) {
			break
		}
		switch {
		case t.kind == tLBrack || t.kind == tLBrace || (t.kind == tOp && t.text == "("):
			depth++
		case t.kind == tRBrack || t.kind == tRBrace || (t.kind == tOp && t.text == ")"):
			depth--
			if depth < 0 {
				return nil, p.unexpected(t, "value")
			}
		}
		p.next()
	}
	toks := p.toks[start:p.i]
	if len(toks) == 0 {
		return nil, p.unexpected(p.peek(), "value")
	}
	return p.fromTokens(toks)
}

func (p *parser) parseList() (*Expr, error) {
	if _, err := p.expect(tLBrace, "'{'"); err != nil {
		return nil, err
	}
	var items []*Expr
	if p.peek().kind == tRBrace {
		p.next()
		return List(), nil
	}
	for {
		v, err := p.parseValue(tComma, tRBrace)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		t := p.next()
		switch t.kind {
		case tComma:
		case tRBrace:
			return List(items...), nil
		default:
			return nil, p.unexpected(t, "',' or '}'")
		}
	}
}

func (p *parser) fromTokens(toks []token) (*Expr, error) {
	if len(toks) == 1 {
		if e, ok, err := literal(toks[0], false); ok || err != nil {
			return e, err
		}
	}
	if len(toks) == 2 && toks[0].kind == tOp && toks[0].text == "-" {
		if e, ok, err := literal(toks[1], true); ok || err != nil {
			return e, err
		}
	}
	src := p.src[toks[0].pos:toks[len(toks)-1].end]
	return compile(src, exprSource(toks))
}

func literal(t token, neg bool) (*Expr, bool, error) {
	switch t.kind {
	case tInt:
		i, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, false, &ParseError{Pos: t.pos, Msg: err.Error()}
		}
		if neg {
			i = -i
		}
		return Int(i), true, nil
	case tReal:
		r, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, false, &ParseError{Pos: t.pos, Msg: err.Error()}
		}
		if neg {
			r = -r
		}
		return Real(r), true, nil
	case tString:
		if neg {
			return nil, false, nil
		}
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, false, &ParseError{Pos: t.pos, Msg: "bad string " + t.text}
		}
		return String(s), true, nil
	case tIdent:
		if neg {
			return nil, false, nil
		}
		switch fold(t.text) {
		case "true":
			return Bool(true), true, nil
		case "false":
			return Bool(false), true, nil
		case "undefined":
			return Undefined(), true, nil
		}
	}
	return nil, false, nil
}

// exprSource rewrites ad expression tokens into expr-lang syntax.
func exprSource(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch t.kind {
		case tLBrace:
			b.WriteByte('[')
		case tRBrace:
			b.WriteByte(']')
		case tString:
			if s, err := strconv.Unquote(t.text); err == nil {
				b.WriteString(strconv.Quote(s))
			} else {
				b.WriteString(t.text)
			}
		case tReal:
			r, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				b.WriteString(t.text)
				break
			}
			s := strconv.FormatFloat(r, 'f', -1, 64)
			if !strings.Contains(s, ".") {
				s += ".0"
			}
			b.WriteString(s)
		case tOp:
			switch t.text {
			case "=?=":
				b.WriteString("==")
			case "=!=":
				b.WriteString("!=")
			default:
				b.WriteString(t.text)
			}
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}
