// Package parse turns query text into a syntax tree.
//
// The grammar covers the constructs the semantic layer understands:
//
//	[select [distinct] item, ...]
//	from Entity [as] alias [[inner|left [outer]] join [fetch] alias.path [as] alias [with cond]] ...
//	[where cond] [group by expr, ...] [having cond]
//	[order by expr [asc|desc], ...] [limit n] [offset n]
//
//	update Entity [alias] set path = expr, ... [where cond]
//	delete [from] Entity [alias] [where cond]
//
// Selections may be dynamic instantiations: `new pkg.Type(a, b)`,
// `new list(a, b)` and `new map(a as x, b as y)`. Parameters are named
// (`:name`) or ordinal (`?1`). Temporal literals use the escapes
// `{ts '...'}`, `{d '...'}` and `{t '...'}`.
//
// The parser performs no name resolution; that is the job of package sqm.
package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/orq/internal/qerr"
)

// reserved words that cannot be used as aliases.
var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"having": true, "order": true, "asc": true, "desc": true, "join": true,
	"left": true, "right": true, "outer": true, "inner": true, "full": true,
	"cross": true, "fetch": true, "with": true, "on": true, "as": true,
	"and": true, "or": true, "not": true, "in": true, "between": true,
	"like": true, "escape": true, "is": true, "null": true, "true": true,
	"false": true, "new": true, "distinct": true, "update": true, "set": true,
	"delete": true, "limit": true, "offset": true,
}

// Parse parses a single statement.
func Parse(text string) (Statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	var stmt Statement
	switch {
	case p.peek().is("update"):
		stmt, err = p.updateStatement()
	case p.peek().is("delete"):
		stmt, err = p.deleteStatement()
	default:
		stmt, err = p.selectStatement()
	}
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s after end of statement", tok)
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// accept consumes the token when it matches s.
func (p *parser) accept(s string) bool {
	if p.peek().is(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(s string) (token, error) {
	tok := p.peek()
	if !tok.is(s) {
		return tok, p.errorf(tok, "expected %q, found %s", s, tok)
	}
	return p.next(), nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	code := qerr.CodeParseSyntax
	if tok.kind == tokEOF {
		code = qerr.CodeParseUnterminated
	}
	return qerr.New(code,
		fmt.Sprintf("%d:%d: %s", tok.pos.Line, tok.pos.Column, fmt.Sprintf(format, args...)),
		qerr.Field("line", tok.pos.Line), qerr.Field("column", tok.pos.Column))
}

func (p *parser) ident() (token, error) {
	tok := p.peek()
	if tok.kind != tokIdent {
		return tok, p.errorf(tok, "expected identifier, found %s", tok)
	}
	return p.next(), nil
}

// qualifiedName reads `a.b.c` and returns it joined.
func (p *parser) qualifiedName() (string, Pos, error) {
	first, err := p.ident()
	if err != nil {
		return "", Pos{}, err
	}
	parts := []string{first.text}
	for p.peek().is(".") && p.peekAt(1).kind == tokIdent {
		p.next()
		parts = append(parts, p.next().text)
	}
	return strings.Join(parts, "."), first.pos, nil
}

// optionalAlias reads `[as] alias`.
func (p *parser) optionalAlias() (string, error) {
	if p.accept("as") {
		tok, err := p.ident()
		if err != nil {
			return "", err
		}
		return tok.text, nil
	}
	if tok := p.peek(); tok.kind == tokIdent && !reserved[strings.ToLower(tok.text)] {
		return p.next().text, nil
	}
	return "", nil
}

func (p *parser) selectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	if p.accept("select") {
		stmt.Distinct = p.accept("distinct")
		items, err := p.selectItems()
		if err != nil {
			return nil, err
		}
		stmt.Select = items
	}

	if _, err := p.expect("from"); err != nil {
		return nil, err
	}
	for {
		root, err := p.fromRoot()
		if err != nil {
			return nil, err
		}
		stmt.From = append(stmt.From, root)
		if !p.accept(",") {
			break
		}
	}

	var err error
	if p.accept("where") {
		if stmt.Where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if p.peek().is("group") {
		p.next()
		if _, err := p.expect("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if !p.accept(",") {
				break
			}
		}
	}
	if p.accept("having") {
		if stmt.Having, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if p.peek().is("order") {
		p.next()
		if _, err := p.expect("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			item := &SortItem{Expr: e}
			if p.accept("desc") {
				item.Descending = true
			} else {
				p.accept("asc")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if !p.accept(",") {
				break
			}
		}
	}
	if p.accept("limit") {
		if stmt.Limit, err = p.primary(); err != nil {
			return nil, err
		}
	}
	if p.accept("offset") {
		if stmt.Offset, err = p.primary(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) selectItems() ([]*SelectItem, error) {
	var items []*SelectItem
	for {
		item, err := p.selectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.accept(",") {
			return items, nil
		}
	}
}

func (p *parser) selectItem() (*SelectItem, error) {
	var e Expr
	var err error
	if p.peek().is("new") {
		e, err = p.instantiation()
	} else {
		e, err = p.expr()
	}
	if err != nil {
		return nil, err
	}
	alias, err := p.optionalAlias()
	if err != nil {
		return nil, err
	}
	return &SelectItem{Expr: e, Alias: alias}, nil
}

func (p *parser) instantiation() (Expr, error) {
	newTok := p.next()
	name, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	inst := &Instantiation{ClassName: name, Pos: newTok.pos}
	switch strings.ToLower(name) {
	case "list":
		inst.Kind = InstantiateList
		inst.ClassName = ""
	case "map":
		inst.Kind = InstantiateMap
		inst.ClassName = ""
	default:
		inst.Kind = InstantiateClass
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	args, err := p.selectItems()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	inst.Args = args
	return inst, nil
}

func (p *parser) fromRoot() (*FromRoot, error) {
	name, pos, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	root := &FromRoot{Entity: name, Pos: pos}
	if root.Alias, err = p.optionalAlias(); err != nil {
		return nil, err
	}
	for {
		join, ok, err := p.join()
		if err != nil {
			return nil, err
		}
		if !ok {
			return root, nil
		}
		root.Joins = append(root.Joins, join)
	}
}

func (p *parser) join() (*Join, bool, error) {
	tok := p.peek()
	join := &Join{Kind: JoinInner, Pos: tok.pos}
	switch {
	case tok.is("join"):
	case tok.is("inner"):
		p.next()
	case tok.is("left"):
		p.next()
		join.Kind = JoinLeft
		p.accept("outer")
	case tok.is("right"):
		p.next()
		join.Kind = JoinRight
		p.accept("outer")
	case tok.is("full"):
		p.next()
		join.Kind = JoinFull
		p.accept("outer")
	case tok.is("cross"):
		p.next()
		join.Kind = JoinCross
	default:
		return nil, false, nil
	}
	if _, err := p.expect("join"); err != nil {
		return nil, false, err
	}
	join.Fetch = p.accept("fetch")

	name, pos, err := p.qualifiedName()
	if err != nil {
		return nil, false, err
	}
	join.Path = &PathExpr{Parts: strings.Split(name, "."), Pos: pos}
	if join.Alias, err = p.optionalAlias(); err != nil {
		return nil, false, err
	}
	if p.accept("with") || p.accept("on") {
		if join.With, err = p.expr(); err != nil {
			return nil, false, err
		}
	}
	return join, true, nil
}

func (p *parser) updateStatement() (*UpdateStatement, error) {
	tok := p.next()
	name, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Entity: name, Pos: tok.pos}
	if stmt.Alias, err = p.optionalAlias(); err != nil {
		return nil, err
	}
	if _, err := p.expect("set"); err != nil {
		return nil, err
	}
	for {
		pathName, pos, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("="); err != nil {
			return nil, err
		}
		value, err := p.additive()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, &Assignment{
			Path:  &PathExpr{Parts: strings.Split(pathName, "."), Pos: pos},
			Value: value,
		})
		if !p.accept(",") {
			break
		}
	}
	if p.accept("where") {
		if stmt.Where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) deleteStatement() (*DeleteStatement, error) {
	tok := p.next()
	p.accept("from")
	name, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Entity: name, Pos: tok.pos}
	if stmt.Alias, err = p.optionalAlias(); err != nil {
		return nil, err
	}
	if p.accept("where") {
		if stmt.Where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// expr parses a full predicate/expression (lowest precedence: or).
func (p *parser) expr() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.accept("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.accept("and") {
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) not() (Expr, error) {
	if p.accept("not") {
		e, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: e}, nil
	}
	return p.predicate()
}

func (p *parser) predicate() (Expr, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.is("=") || tok.is("<>") || tok.is("<") || tok.is("<=") || tok.is(">") || tok.is(">="):
		p.next()
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		return &Comparison{Op: tok.text, Left: left, Right: right}, nil

	case tok.is("is"):
		p.next()
		negated := p.accept("not")
		if _, err := p.expect("null"); err != nil {
			return nil, err
		}
		return &NullCheck{Expr: left, Not: negated}, nil
	}

	negated := false
	if tok.is("not") && (p.peekAt(1).is("in") || p.peekAt(1).is("between") || p.peekAt(1).is("like")) {
		p.next()
		negated = true
		tok = p.peek()
	}

	switch {
	case tok.is("in"):
		p.next()
		return p.inList(left, negated)
	case tok.is("between"):
		p.next()
		low, err := p.additive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("and"); err != nil {
			return nil, err
		}
		high, err := p.additive()
		if err != nil {
			return nil, err
		}
		return &Between{Expr: left, Not: negated, Low: low, High: high}, nil
	case tok.is("like"):
		p.next()
		pattern, err := p.additive()
		if err != nil {
			return nil, err
		}
		like := &Like{Expr: left, Not: negated, Pattern: pattern}
		if p.accept("escape") {
			if like.Escape, err = p.primary(); err != nil {
				return nil, err
			}
		}
		return like, nil
	}
	if negated {
		return nil, p.errorf(tok, "expected in, between or like after not")
	}
	return left, nil
}

func (p *parser) inList(left Expr, negated bool) (Expr, error) {
	in := &InList{Expr: left, Not: negated}
	// `in :param` without parentheses binds a collection.
	if tok := p.peek(); tok.kind == tokNamedParam || tok.kind == tokPositionalParam {
		item, err := p.primary()
		if err != nil {
			return nil, err
		}
		in.Items = []Expr{item}
		return in, nil
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	for {
		item, err := p.additive()
		if err != nil {
			return nil, err
		}
		in.Items = append(in.Items, item)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) additive() (Expr, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if !(tok.is("+") || tok.is("-") || tok.is("||")) {
			return left, nil
		}
		p.next()
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: tok.text, Left: left, Right: right}
	}
}

func (p *parser) multiplicative() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if !(tok.is("*") || tok.is("/")) {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: tok.text, Left: left, Right: right}
	}
}

func (p *parser) unary() (Expr, error) {
	tok := p.peek()
	if tok.is("-") || tok.is("+") {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.text, Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	tok := p.peek()
	switch tok.kind {
	case tokString:
		p.next()
		return &Literal{Kind: LitString, Text: tok.text, Pos: tok.pos}, nil
	case tokInteger:
		p.next()
		return &Literal{Kind: LitInteger, Text: tok.text, Pos: tok.pos}, nil
	case tokDecimal:
		p.next()
		return &Literal{Kind: LitDecimal, Text: tok.text, Pos: tok.pos}, nil
	case tokNamedParam:
		p.next()
		return &NamedParam{Name: tok.text, Pos: tok.pos}, nil
	case tokPositionalParam:
		p.next()
		n, err := strconv.Atoi(tok.text)
		if err != nil || n < 1 {
			return nil, p.errorf(tok, "invalid ordinal parameter ?%s", tok.text)
		}
		return &PositionalParam{Position: n, Pos: tok.pos}, nil
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of input")
	}

	switch {
	case tok.is("("):
		p.next()
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case tok.is("{"):
		return p.temporal()
	case tok.is("true"), tok.is("false"):
		p.next()
		return &Literal{Kind: LitBoolean, Text: strings.ToLower(tok.text), Pos: tok.pos}, nil
	case tok.is("null"):
		p.next()
		return &Literal{Kind: LitNull, Pos: tok.pos}, nil
	}

	if tok.kind != tokIdent {
		return nil, p.errorf(tok, "unexpected %s", tok)
	}
	if p.peekAt(1).is("(") {
		return p.funcCall()
	}
	name, pos, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	return &PathExpr{Parts: strings.Split(name, "."), Pos: pos}, nil
}

func (p *parser) temporal() (Expr, error) {
	open := p.next()
	kindTok, err := p.ident()
	if err != nil {
		return nil, err
	}
	lit := &TemporalLiteral{Pos: open.pos}
	switch strings.ToLower(kindTok.text) {
	case "ts":
		lit.Kind = TemporalTimestamp
	case "d":
		lit.Kind = TemporalDate
	case "t":
		lit.Kind = TemporalTime
	default:
		return nil, p.errorf(kindTok, "unknown temporal escape %q", kindTok.text)
	}
	text := p.next()
	if text.kind != tokString {
		return nil, p.errorf(text, "expected quoted temporal value")
	}
	lit.Text = text.text
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *parser) funcCall() (Expr, error) {
	nameTok := p.next()
	p.next() // (
	call := &FuncCall{Name: strings.ToLower(nameTok.text), Pos: nameTok.pos}
	if p.accept(")") {
		return call, nil
	}
	if p.accept("*") {
		call.Star = true
	} else {
		call.Distinct = p.accept("distinct")
		for {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.accept(",") {
				break
			}
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return call, nil
}
