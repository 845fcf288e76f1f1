package expr

import "github.com/shopspring/decimal"

// Parse compiles a predicate source string into an AST. Parsing is the only
// point at which this package can fail — evaluation is total. warnings holds
// advisory messages (e.g. "==" used on price) that callers should log but
// need not treat as fatal.
func Parse(src string) (Node, []string, error) {
	toks, lexErr := tokenize(src)
	if lexErr != nil {
		return nil, nil, lexErr
	}
	p := &parser{toks: toks}
	node, err := p.parseExpr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, newParseError(t.pos, "unexpected trailing input %q", t.text)
	}
	return node, p.warnings, nil
}

func tokenize(src string) ([]token, *ParseError) {
	l := newLexer(src)
	var toks []token
	for {
		t, ok := l.next()
		if !ok {
			return nil, newParseError(l.pos, "invalid token")
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

type parser struct {
	toks     []token
	pos      int
	warnings []string
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (Node, error) { return p.parseOr() }

func (p *parser) parseOr() (Node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryNode{lhs: lhs, rhs: rhs, op: "OR"}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (Node, error) {
	lhs, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		rhs, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryNode{lhs: lhs, rhs: rhs, op: "AND"}
	}
	return lhs, nil
}

// parseCmp implements `cmp_expr := atom cmp_op atom | "(" expr ")"` — a
// parenthesized sub-expression is itself a valid term of an and_expr chain,
// so grouping composes with AND/OR at any depth.
func (p *parser) parseCmp() (Node, error) {
	if p.peek().kind == tokLParen {
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, newParseError(p.peek().pos, "expected ')'")
		}
		p.advance()
		return inner, nil
	}

	lhs, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	opTok := p.peek()
	op, err := cmpOpText(opTok)
	if err != nil {
		return nil, err
	}
	p.advance()
	rhs, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if lhs.domain() != rhs.domain() {
		return nil, newParseError(opTok.pos, "cannot compare %s with %s", atomDomainName(lhs), atomDomainName(rhs))
	}
	if op == "==" && lhs.domain() == domainPrice {
		p.warnings = append(p.warnings, "predicate uses == on price; prefer <= or >=")
	}
	return &CompareNode{lhs: lhs, rhs: rhs, op: op}, nil
}

func cmpOpText(t token) (string, error) {
	switch t.kind {
	case tokLT:
		return "<", nil
	case tokLE:
		return "<=", nil
	case tokGT:
		return ">", nil
	case tokGE:
		return ">=", nil
	case tokEQ:
		return "==", nil
	default:
		return "", newParseError(t.pos, "expected comparison operator")
	}
}

func atomDomainName(a atom) string {
	if a.domain() == domainPrice {
		return "price"
	}
	return "time"
}

func (p *parser) parseAtom() (atom, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.advance()
		switch t.text {
		case "price":
			return atom{kind: atomVarPrice}, nil
		case "time":
			return atom{kind: atomVarTime}, nil
		default:
			return atom{}, newParseError(t.pos, "unknown identifier %q", t.text)
		}
	case tokNumber:
		p.advance()
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return atom{}, newParseError(t.pos, "invalid number %q", t.text)
		}
		return atom{kind: atomNumber, num: d}, nil
	case tokTime:
		p.advance()
		min, err := parseTimeLiteral(t.text)
		if err != nil {
			return atom{}, newParseError(t.pos, "%s", err.Error())
		}
		return atom{kind: atomTimeLiteral, min: min}, nil
	default:
		return atom{}, newParseError(t.pos, "expected identifier, number, or time literal")
	}
}
