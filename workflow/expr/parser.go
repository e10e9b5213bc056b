package expr

import (
	"fmt"
	"strconv"
)

var reserved = map[string]bool{
	"let": true, "const": true, "var": true, "if": true, "else": true, "for": true,
	"of": false, "while": true, "return": true, "break": true, "continue": true,
	"throw": true, "typeof": true, "true": true, "false": true, "null": true,
	"undefined": true, "function": true, "new": true, "class": true, "import": true,
}

// parser is a recursive descent parser producing the statement list of a
// program.
type parser struct {
	tokens []token
	pos    int
}

func parse(src string) ([]stmt, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	var out []stmt
	for p.peek().kind != tkEOF {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	if p.peek().is(punct) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(punct string) (token, error) {
	t := p.peek()
	if !t.is(punct) {
		return t, p.errorf(t, "expected %q", punct)
	}
	return p.advance(), nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	found := t.value
	if t.kind == tkEOF {
		found = "end of input"
	}
	return fmt.Errorf("syntax error at position %d near %q: %s", t.pos, found, fmt.Sprintf(format, args...))
}

func (p *parser) endStatement() {
	p.accept(";")
}

// --- statements ---

func (p *parser) parseStatement() (stmt, error) {
	t := p.peek()
	switch {
	case t.isKeyword("let"), t.isKeyword("const"), t.isKeyword("var"):
		return p.parseDecl()
	case t.isKeyword("if"):
		return p.parseIf()
	case t.isKeyword("for"):
		return p.parseForOf()
	case t.isKeyword("while"):
		p.advance()
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		test, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &whileStmt{at: t.pos, test: test, body: body}, nil
	case t.isKeyword("return"):
		p.advance()
		s := &returnStmt{at: t.pos}
		next := p.peek()
		if next.kind != tkEOF && !next.is(";") && !next.is("}") {
			v, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			s.value = v
		}
		p.endStatement()
		return s, nil
	case t.isKeyword("throw"):
		p.advance()
		v, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.endStatement()
		return &throwStmt{at: t.pos, value: v}, nil
	case t.isKeyword("break"):
		p.advance()
		p.endStatement()
		return &breakStmt{at: t.pos}, nil
	case t.isKeyword("continue"):
		p.advance()
		p.endStatement()
		return &continueStmt{at: t.pos}, nil
	case t.isKeyword("function"), t.isKeyword("class"), t.isKeyword("import"), t.isKeyword("new"):
		return nil, p.errorf(t, "%s is not supported", t.value)
	case t.is("{"):
		return p.parseBlock()
	case t.is(";"):
		p.advance()
		return &blockStmt{at: t.pos}, nil
	}

	x, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	next := p.peek()
	switch {
	case next.is("="), next.is("+="), next.is("-="), next.is("*="), next.is("/="):
		if !assignable(x) {
			return nil, p.errorf(next, "invalid assignment target")
		}
		p.advance()
		v, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.endStatement()
		return &assignStmt{at: next.pos, target: x, op: next.value, value: v}, nil
	case next.is("++"), next.is("--"):
		if !assignable(x) {
			return nil, p.errorf(next, "invalid increment target")
		}
		p.advance()
		p.endStatement()
		op := "+="
		if next.value == "--" {
			op = "-="
		}
		return &assignStmt{at: next.pos, target: x, op: op, value: &literal{at: next.pos, value: 1.0}}, nil
	}
	p.endStatement()
	return &exprStmt{at: t.pos, x: x}, nil
}

func assignable(x node) bool {
	switch x.(type) {
	case *ident, *member, *indexExpr:
		return true
	}
	return false
}

func (p *parser) parseDecl() (stmt, error) {
	kw := p.advance()
	name := p.peek()
	if name.kind != tkIdent || reserved[name.value] {
		return nil, p.errorf(name, "expected variable name")
	}
	p.advance()
	d := &declStmt{at: kw.pos, name: name.value, constant: kw.value == "const"}
	if p.accept("=") {
		v, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		d.init = v
	} else if d.constant {
		return nil, p.errorf(p.peek(), "missing initializer in const declaration")
	}
	p.endStatement()
	return d, nil
}

func (p *parser) parseIf() (stmt, error) {
	kw := p.advance()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{at: kw.pos, test: test, then: then}
	if p.peek().isKeyword("else") {
		p.advance()
		orElse, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		s.orElse = orElse
	}
	return s, nil
}

func (p *parser) parseForOf() (stmt, error) {
	kw := p.advance()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	decl := p.peek()
	if !decl.isKeyword("let") && !decl.isKeyword("const") && !decl.isKeyword("var") {
		return nil, p.errorf(decl, "only for (let x of items) loops are supported")
	}
	p.advance()
	name := p.advance()
	if name.kind != tkIdent || reserved[name.value] {
		return nil, p.errorf(name, "expected loop variable")
	}
	if !p.peek().isKeyword("of") {
		return nil, p.errorf(p.peek(), "only for (let x of items) loops are supported")
	}
	p.advance()
	iterable, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &forOfStmt{at: kw.pos, name: name.value, iterable: iterable, body: body}, nil
}

func (p *parser) parseBlock() (*blockStmt, error) {
	open, err := p.expect("{")
	if err != nil {
		return nil, err
	}
	b := &blockStmt{at: open.pos}
	for !p.peek().is("}") {
		if p.peek().kind == tkEOF {
			return nil, p.errorf(p.peek(), "unterminated block")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		b.stmts = append(b.stmts, s)
	}
	p.advance()
	return b, nil
}

// --- expressions, lowest precedence first ---

func (p *parser) parseExpression() (node, error) {
	if fn, ok, err := p.tryArrow(); ok || err != nil {
		return fn, err
	}
	return p.parseConditional()
}

func (p *parser) parseConditional() (node, error) {
	test, err := p.parseNullish()
	if err != nil {
		return nil, err
	}
	q := p.peek()
	if !q.is("?") {
		return test, nil
	}
	p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	orElse, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &conditional{at: q.pos, test: test, then: then, orElse: orElse}, nil
}

func (p *parser) parseNullish() (node, error) {
	return p.parseLogical("??", p.parseOr)
}

func (p *parser) parseOr() (node, error) {
	return p.parseLogical("||", p.parseAnd)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseLogical("&&", p.parseEquality)
}

func (p *parser) parseLogical(op string, next func() (node, error)) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.peek().is(op) {
		t := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &logical{at: t.pos, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseBinary(ops []string, next func() (node, error)) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		matched := false
		for _, op := range ops {
			if t.is(op) {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &binary{at: t.pos, op: t.value, left: left, right: right}
	}
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary([]string{"===", "!==", "==", "!="}, p.parseRelational)
}

func (p *parser) parseRelational() (node, error) {
	return p.parseBinary([]string{"<=", ">=", "<", ">"}, p.parseAdditive)
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary([]string{"*", "/", "%"}, p.parseUnary)
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.is("!") || t.is("-") || t.is("+") || t.isKeyword("typeof") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unary{at: t.pos, op: t.value, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is("."):
			p.advance()
			name := p.advance()
			if name.kind != tkIdent {
				return nil, p.errorf(name, "expected property name")
			}
			x = &member{at: t.pos, object: x, property: name.value}
		case t.is("?") && p.peekAt(1).is("."):
			// optional chaining ?.
			p.advance()
			p.advance()
			name := p.advance()
			if name.kind != tkIdent {
				return nil, p.errorf(name, "expected property name")
			}
			x = &member{at: t.pos, object: x, property: name.value, optional: true}
		case t.is("["):
			p.advance()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &indexExpr{at: t.pos, object: x, index: idx}
		case t.is("("):
			p.advance()
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			x = &call{at: t.pos, callee: x, args: args}
		default:
			return x, nil
		}
	}
}

// parseList parses comma separated expressions up to the closing delimiter,
// which it consumes. A trailing comma is allowed.
func (p *parser) parseList(closing string) ([]node, error) {
	var out []node
	for !p.accept(closing) {
		x, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
		if !p.accept(",") {
			if _, err := p.expect(closing); err != nil {
				return nil, err
			}
			break
		}
	}
	return out, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tkNumber:
		p.advance()
		return &literal{at: t.pos, value: t.num}, nil
	case tkString:
		p.advance()
		return &literal{at: t.pos, value: t.value}, nil
	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return &literal{at: t.pos, value: true}, nil
		case "false":
			return &literal{at: t.pos, value: false}, nil
		case "null":
			return &literal{at: t.pos, value: nil}, nil
		case "undefined":
			return &literal{at: t.pos, value: Undefined}, nil
		}
		if reserved[t.value] {
			return nil, p.errorf(t, "unexpected keyword")
		}
		return &ident{at: t.pos, name: t.value}, nil
	case tkPunct:
		switch t.value {
		case "(":
			p.advance()
			x, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			p.advance()
			elems, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &arrayLit{at: t.pos, elems: elems}, nil
		case "{":
			return p.parseObject()
		}
	}
	return nil, p.errorf(t, "unexpected token")
}

func (p *parser) parseObject() (node, error) {
	open := p.advance()
	obj := &objectLit{at: open.pos}
	for !p.accept("}") {
		k := p.advance()
		var key string
		switch k.kind {
		case tkIdent, tkString:
			key = k.value
		case tkNumber:
			key = strconv.FormatFloat(k.num, 'f', -1, 64)
		default:
			return nil, p.errorf(k, "expected property key")
		}
		var value node
		if p.accept(":") {
			v, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			value = v
		} else if k.kind == tkIdent {
			value = &ident{at: k.pos, name: key}
		} else {
			return nil, p.errorf(p.peek(), "expected ':'")
		}
		obj.keys = append(obj.keys, key)
		obj.values = append(obj.values, value)
		if !p.accept(",") {
			if _, err := p.expect("}"); err != nil {
				return nil, err
			}
			break
		}
	}
	return obj, nil
}

// tryArrow parses an arrow function when one starts at the current token:
// x => ..., (a, b) => ... or () => ...
func (p *parser) tryArrow() (node, bool, error) {
	start := p.peek()
	var params []string
	switch {
	case start.kind == tkIdent && !reserved[start.value] && p.peekAt(1).is("=>"):
		params = []string{start.value}
		p.advance()
	case start.is("("):
		// scan a flat parameter list
		i := 1
		for {
			t := p.peekAt(i)
			if t.is(")") {
				break
			}
			if t.kind != tkIdent || reserved[t.value] {
				return nil, false, nil
			}
			params = append(params, t.value)
			i++
			if p.peekAt(i).is(",") {
				i++
				continue
			}
			if !p.peekAt(i).is(")") {
				return nil, false, nil
			}
		}
		if !p.peekAt(i + 1).is("=>") {
			return nil, false, nil
		}
		p.pos += i + 1
	default:
		return nil, false, nil
	}
	if _, err := p.expect("=>"); err != nil {
		return nil, true, err
	}
	fn := &arrowFunc{at: start.pos, params: params}
	if p.peek().is("{") {
		block, err := p.parseBlock()
		if err != nil {
			return nil, true, err
		}
		fn.block = block.stmts
		return fn, true, nil
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, true, err
	}
	fn.body = body
	return fn, true, nil
}
