package mask

import (
	"fmt"
	"strings"

	"voxedit/internal/world"
)

// ParseError reports malformed mask text.
type ParseError struct {
	Input string
	Token string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid mask %q at %d: %s", e.Input, e.Pos, e.Msg)
	}
	return fmt.Sprintf("invalid mask %q: %s near %q", e.Input, e.Msg, e.Token)
}

// Parse builds a mask from text. Operators, loosest first: '|', '^', '&'.
// '!' negates the following operand and parentheses group. Operands are
// "#solid", "#air" (also "#existing" and "#empty") or a comma separated list
// of block types such as "stone,dirt,oak_log[axis=y]".
func Parse(text string) (*Mask, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{input: text, tokens: tokens}
	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected token")
	}
	return m, nil
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokComma
	tokAnd
	tokOr
	tokXor
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(text string) ([]token, error) {
	var out []token
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == ' ' || c == '\t':
			i++
			continue
		case strings.IndexByte("&|^!(),", c) >= 0:
			kind := map[byte]tokenKind{'&': tokAnd, '|': tokOr, '^': tokXor, '!': tokNot, '(': tokLParen, ')': tokRParen, ',': tokComma}[c]
			out = append(out, token{kind: kind, text: string(c), pos: i})
			i++
			continue
		}
		start := i
		for i < len(text) && strings.IndexByte("&|^!(), \t", text[i]) < 0 {
			if text[i] == '[' {
				end := strings.IndexByte(text[i:], ']')
				if end < 0 {
					return nil, &ParseError{Input: text, Token: text[start:], Pos: start, Msg: "unterminated block state"}
				}
				i += end
			}
			i++
		}
		out = append(out, token{kind: tokIdent, text: text[start:i], pos: start})
	}
	out = append(out, token{kind: tokEOF, pos: len(text)})
	return out, nil
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &ParseError{Input: p.input, Token: tok.text, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseBinary(op tokenKind, build func(...*Mask) *Mask, operand func() (*Mask, error)) (*Mask, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	children := []*Mask{first}
	for p.peek().kind == op {
		p.next()
		child, err := operand()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return first, nil
	}
	return build(children...), nil
}

func (p *parser) parseOr() (*Mask, error) {
	return p.parseBinary(tokOr, Or, p.parseXor)
}

func (p *parser) parseXor() (*Mask, error) {
	return p.parseBinary(tokXor, Xor, p.parseAnd)
}

func (p *parser) parseAnd() (*Mask, error) {
	return p.parseBinary(tokAnd, And, p.parseUnary)
}

func (p *parser) parseUnary() (*Mask, error) {
	tok := p.next()
	switch tok.kind {
	case tokNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return inner, nil
	case tokIdent:
		return p.parseAtom(tok)
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	default:
		return nil, p.errorf(tok, "expected operand")
	}
}

func (p *parser) parseAtom(first token) (*Mask, error) {
	if strings.HasPrefix(first.text, "#") {
		switch strings.ToLower(first.text) {
		case "#solid", "#existing":
			return Solid(), nil
		case "#air", "#empty":
			return Air(), nil
		default:
			return nil, p.errorf(first, "unknown mask keyword")
		}
	}
	blocks := []world.Block{world.ParseBlock(first.text)}
	for p.peek().kind == tokComma {
		p.next()
		tok := p.next()
		if tok.kind != tokIdent || strings.HasPrefix(tok.text, "#") {
			return nil, p.errorf(tok, "expected block type after ','")
		}
		blocks = append(blocks, world.ParseBlock(tok.text))
	}
	for _, b := range blocks {
		if b.Material == "" {
			return nil, p.errorf(first, "empty block type")
		}
	}
	return Types(blocks...), nil
}
