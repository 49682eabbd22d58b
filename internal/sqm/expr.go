package sqm

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
)

func (a *analyzer) expr(e parse.Expr) (Expr, error) {
	switch n := e.(type) {
	case *parse.Literal:
		return literal(n)
	case *parse.TemporalLiteral:
		return temporal(n)
	case *parse.NamedParam:
		return a.parameter(n.Name, 0)
	case *parse.PositionalParam:
		return a.parameter("", n.Position)
	case *parse.PathExpr:
		return a.resolvePath(n)
	case *parse.Binary:
		return a.binary(n)
	case *parse.Unary:
		operand, err := a.expr(n.Operand)
		if err != nil {
			return nil, err
		}
		if n.Op == "+" {
			return operand, nil
		}
		a.infer(operand, basic(metamodel.TypeFloat))
		if t := operand.ValueType().Basic; t != metamodel.TypeUnknown && !t.IsNumeric() {
			return nil, mismatch("cannot negate a %s value", t)
		}
		return &Negate{Operand: operand}, nil
	case *parse.FuncCall:
		return a.function(n)
	case *parse.Instantiation:
		return nil, qerr.Unsupported("instantiation outside the select clause")
	case *parse.Comparison, *parse.Logical, *parse.Not, *parse.InList,
		*parse.Between, *parse.NullCheck, *parse.Like:
		return nil, qerr.Unsupported("predicate used as a value")
	}
	return nil, qerr.Unsupported(fmt.Sprintf("expression %T", e))
}

func literal(n *parse.Literal) (Expr, error) {
	switch n.Kind {
	case parse.LitString:
		return &Literal{Value: n.Text, Type: metamodel.TypeString}, nil
	case parse.LitInteger:
		if v, err := strconv.ParseInt(n.Text, 10, 64); err == nil {
			return &Literal{Value: v, Type: metamodel.TypeInteger}, nil
		}
		v, err := strconv.ParseFloat(n.Text, 64)
		if err != nil {
			return nil, mismatch("invalid numeric literal %s", n.Text)
		}
		return &Literal{Value: v, Type: metamodel.TypeFloat}, nil
	case parse.LitDecimal:
		v, err := strconv.ParseFloat(n.Text, 64)
		if err != nil {
			return nil, mismatch("invalid numeric literal %s", n.Text)
		}
		return &Literal{Value: v, Type: metamodel.TypeFloat}, nil
	case parse.LitBoolean:
		return &Literal{Value: n.Text == "true", Type: metamodel.TypeBoolean}, nil
	default:
		return &Literal{}, nil
	}
}

var temporalLayouts = map[parse.TemporalKind][]string{
	parse.TemporalTimestamp: {"2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05"},
	parse.TemporalDate:      {"2006-01-02"},
	parse.TemporalTime:      {"15:04:05", "15:04"},
}

func temporal(n *parse.TemporalLiteral) (Expr, error) {
	typ := map[parse.TemporalKind]metamodel.BasicType{
		parse.TemporalTimestamp: metamodel.TypeTimestamp,
		parse.TemporalDate:      metamodel.TypeDate,
		parse.TemporalTime:      metamodel.TypeTime,
	}[n.Kind]
	for _, layout := range temporalLayouts[n.Kind] {
		if _, err := time.Parse(layout, n.Text); err == nil {
			return &Literal{Value: n.Text, Type: typ}, nil
		}
	}
	return nil, mismatch("invalid %s literal '%s'", typ, n.Text)
}

func (a *analyzer) parameter(name string, position int) (Expr, error) {
	p, err := a.params.Declare(name, position)
	if err != nil {
		return nil, err
	}
	a.occurrences++
	return &Parameter{Param: p, Occurrence: a.occurrences}, nil
}

func (a *analyzer) binary(n *parse.Binary) (Expr, error) {
	left, err := a.expr(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := a.expr(n.Right)
	if err != nil {
		return nil, err
	}

	if n.Op == "||" {
		a.infer(left, basic(metamodel.TypeString))
		a.infer(right, basic(metamodel.TypeString))
		return &Binary{Op: n.Op, Left: left, Right: right, Type: metamodel.TypeString}, nil
	}

	a.inferPair(left, right)
	lt, rt := left.ValueType().Basic, right.ValueType().Basic
	for _, t := range []metamodel.BasicType{lt, rt} {
		if t != metamodel.TypeUnknown && !t.IsNumeric() {
			return nil, mismatch("operator %s needs numeric operands, got %s", n.Op, t)
		}
	}
	typ := metamodel.TypeInteger
	if lt == metamodel.TypeFloat || rt == metamodel.TypeFloat || n.Op == "/" && (lt == metamodel.TypeUnknown || rt == metamodel.TypeUnknown) {
		typ = metamodel.TypeFloat
	}
	return &Binary{Op: n.Op, Left: left, Right: right, Type: typ}, nil
}

// predicate analyzes a boolean condition.
func (a *analyzer) predicate(e parse.Expr) (Predicate, error) {
	saved := a.preferForeignKey
	a.preferForeignKey = true
	defer func() { a.preferForeignKey = saved }()

	switch n := e.(type) {
	case *parse.Logical:
		left, err := a.predicate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := a.predicate(n.Right)
		if err != nil {
			return nil, err
		}
		and := n.Op == "and"
		out := &Junction{And: and}
		for _, p := range []Predicate{left, right} {
			// Flatten nested junctions of the same kind.
			if j, ok := p.(*Junction); ok && j.And == and {
				out.Predicates = append(out.Predicates, j.Predicates...)
				continue
			}
			out.Predicates = append(out.Predicates, p)
		}
		return out, nil

	case *parse.Not:
		inner, err := a.predicate(n.Expr)
		if err != nil {
			return nil, err
		}
		return &Negation{Predicate: inner}, nil

	case *parse.Comparison:
		left, err := a.expr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := a.expr(n.Right)
		if err != nil {
			return nil, err
		}
		if err := a.compatible(n.Op, left, right); err != nil {
			return nil, err
		}
		return &Comparison{Op: n.Op, Left: left, Right: right}, nil

	case *parse.InList:
		subject, err := a.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		out := &InList{Expr: subject, Not: n.Not}
		for _, item := range n.Items {
			v, err := a.expr(item)
			if err != nil {
				return nil, err
			}
			if err := a.compatible("in", subject, v); err != nil {
				return nil, err
			}
			out.Items = append(out.Items, v)
		}
		if len(out.Items) == 1 {
			if p, ok := out.Items[0].(*Parameter); ok {
				p.Param.AllowMultiValued()
			}
		}
		return out, nil

	case *parse.Between:
		subject, err := a.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		low, err := a.expr(n.Low)
		if err != nil {
			return nil, err
		}
		high, err := a.expr(n.High)
		if err != nil {
			return nil, err
		}
		if err := a.compatible("between", subject, low); err != nil {
			return nil, err
		}
		if err := a.compatible("between", subject, high); err != nil {
			return nil, err
		}
		return &Between{Expr: subject, Low: low, High: high, Not: n.Not}, nil

	case *parse.NullCheck:
		subject, err := a.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		return &NullCheck{Expr: subject, Not: n.Not}, nil

	case *parse.Like:
		subject, err := a.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		pattern, err := a.expr(n.Pattern)
		if err != nil {
			return nil, err
		}
		str := basic(metamodel.TypeString)
		a.infer(subject, str)
		a.infer(pattern, str)
		for _, side := range []Expr{subject, pattern} {
			if t := side.ValueType(); t.IsEntity() || (t.Basic != metamodel.TypeUnknown && t.Basic != metamodel.TypeString) {
				return nil, mismatch("like needs string operands, got %s", describe(t))
			}
		}
		out := &Like{Expr: subject, Pattern: pattern, Not: n.Not}
		if n.Escape != nil {
			if out.Escape, err = a.expr(n.Escape); err != nil {
				return nil, err
			}
			a.infer(out.Escape, str)
		}
		return out, nil
	}

	v, err := a.expr(e)
	if err != nil {
		return nil, err
	}
	a.infer(v, basic(metamodel.TypeBoolean))
	if t := v.ValueType(); t.IsEntity() || (t.Basic != metamodel.TypeBoolean && t.Basic != metamodel.TypeUnknown) {
		return nil, mismatch("expected a condition, got a %s value", describe(t))
	}
	return &BooleanExpr{Expr: v}, nil
}

// infer assigns t to e when e is a parameter occurrence whose parameter has
// no type yet.
func (a *analyzer) infer(e Expr, t ValueType) {
	if p, ok := e.(*Parameter); ok {
		p.Param.InferType(t.BasicOf())
	}
}

// inferPair propagates the known side's type to a parameter on the other
// side.
func (a *analyzer) inferPair(left, right Expr) {
	a.infer(left, right.ValueType())
	a.infer(right, left.ValueType())
}

// compatible infers parameter types across a binary predicate and checks
// the operand types.
func (a *analyzer) compatible(op string, left, right Expr) error {
	a.inferPair(left, right)
	lt, rt := left.ValueType(), right.ValueType()

	if lt.Embeddable != nil || rt.Embeddable != nil {
		return qerr.Unsupported("comparison of embedded values")
	}
	if lt.IsEntity() && rt.IsEntity() {
		if lt.Entity.Root() != rt.Entity.Root() {
			return mismatch("cannot compare %s with %s", lt.Entity.Name, rt.Entity.Name)
		}
		return nil
	}
	if lit, ok := right.(*Literal); ok && lit.Value == nil {
		return nil
	}
	if !lt.BasicOf().Comparable(rt.BasicOf()) {
		return mismatch("cannot apply %s to %s and %s", op, describe(lt), describe(rt))
	}
	return nil
}

func describe(t ValueType) string {
	switch {
	case t.Entity != nil:
		return t.Entity.Name
	case t.Embeddable != nil:
		return t.Embeddable.Name
	default:
		return t.Basic.String()
	}
}

func mismatch(format string, args ...any) error {
	return qerr.New(qerr.CodeSemanticTypeMismatch, fmt.Sprintf(format, args...))
}
