package lower

import (
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
)

func (b *builder) expr(e sqm.Expr) (sqlast.Expression, error) {
	switch n := e.(type) {
	case *sqm.Root:
		return b.navigableID(n)
	case *sqm.Join:
		return b.navigableID(n)
	case *sqm.AttributeRef:
		owner, err := b.nodeOf(n.Owner)
		if err != nil {
			return nil, err
		}
		return b.attributeColumn(owner, n.Embedded, n.Attribute)
	case *sqm.ForeignKeyRef:
		owner, err := b.nodeOf(n.Owner)
		if err != nil {
			return nil, err
		}
		return b.foreignKeyColumn(owner, n.Association)
	case *sqm.EmbeddedRef:
		return nil, qerr.Unsupported("embedded value used as an expression", qerr.FieldPath(n.Path.FullPath()))
	case *sqm.Literal:
		return &sqlast.Literal{Value: n.Value}, nil
	case *sqm.Parameter:
		return &sqlast.Parameter{Param: n.Param}, nil
	case *sqm.Binary:
		left, err := b.expr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.expr(n.Right)
		if err != nil {
			return nil, err
		}
		return &sqlast.Binary{Op: n.Op, Left: left, Right: right}, nil
	case *sqm.Negate:
		operand, err := b.expr(n.Operand)
		if err != nil {
			return nil, err
		}
		return &sqlast.Negate{Operand: operand}, nil
	case *sqm.Function:
		out := &sqlast.Function{Name: n.Name, Distinct: n.Distinct, Star: n.Star}
		for _, arg := range n.Args {
			a, err := b.expr(arg)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, a)
		}
		return out, nil
	case *sqm.Instantiation:
		return nil, qerr.Unsupported("instantiation used as an expression")
	}
	return nil, qerr.Unsupported(fmt.Sprintf("expression %T", e))
}

// navigableID stands an entity reference in for its identifier column.
func (b *builder) navigableID(nav sqm.Navigable) (sqlast.Expression, error) {
	n, err := b.nodeOf(nav)
	if err != nil {
		return nil, err
	}
	return b.column(n.group.Primary, n.entity.IDAttribute().Column), nil
}

// attributeColumn resolves the column of attr on n, joining its table into
// n's group on first use. chain lists the embedded attributes leading to a
// member; their column prefixes accumulate.
func (b *builder) attributeColumn(n *node, chain []*metamodel.Attribute, attr *metamodel.Attribute) (*sqlast.ColumnReference, error) {
	table := n.entity.TableFor(attr)
	column := attr.Column
	if len(chain) > 0 {
		table = n.entity.TableFor(chain[0])
		prefix := ""
		for _, e := range chain {
			prefix += e.ColumnPrefix
		}
		column = prefix + attr.Column
	}
	ref, err := n.group.ResolveTableReference(table)
	if err != nil {
		return nil, err
	}
	return b.column(ref, column), nil
}

func (b *builder) foreignKeyColumn(n *node, assoc *metamodel.Attribute) (*sqlast.ColumnReference, error) {
	ref, err := n.group.ResolveTableReference(n.entity.TableFor(assoc))
	if err != nil {
		return nil, err
	}
	return b.column(ref, assoc.Column), nil
}

func (b *builder) column(ref *sqlast.TableReference, name string) *sqlast.ColumnReference {
	if b.unqualified {
		return &sqlast.ColumnReference{Column: name}
	}
	return ref.Column(name)
}

func isNull(e sqm.Expr) bool {
	lit, ok := e.(*sqm.Literal)
	return ok && lit.Value == nil
}

func (b *builder) predicate(p sqm.Predicate) (sqlast.Predicate, error) {
	switch n := p.(type) {
	case *sqm.Comparison:
		if (n.Op == "=" || n.Op == "<>" || n.Op == "!=") && (isNull(n.Left) || isNull(n.Right)) {
			subject := n.Left
			if isNull(n.Left) {
				subject = n.Right
			}
			e, err := b.expr(subject)
			if err != nil {
				return nil, err
			}
			return &sqlast.NullCheck{Expr: e, Not: n.Op != "="}, nil
		}
		left, err := b.expr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.expr(n.Right)
		if err != nil {
			return nil, err
		}
		return &sqlast.Comparison{Op: n.Op, Left: left, Right: right}, nil

	case *sqm.Junction:
		out := &sqlast.Junction{And: n.And}
		for _, child := range n.Predicates {
			c, err := b.predicate(child)
			if err != nil {
				return nil, err
			}
			out.Predicates = append(out.Predicates, c)
		}
		return out, nil

	case *sqm.Negation:
		inner, err := b.predicate(n.Predicate)
		if err != nil {
			return nil, err
		}
		return &sqlast.Negation{Predicate: inner}, nil

	case *sqm.InList:
		subject, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		out := &sqlast.InList{Expr: subject, Not: n.Not}
		for _, item := range n.Items {
			v, err := b.expr(item)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, v)
		}
		return out, nil

	case *sqm.Between:
		subject, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		low, err := b.expr(n.Low)
		if err != nil {
			return nil, err
		}
		high, err := b.expr(n.High)
		if err != nil {
			return nil, err
		}
		return &sqlast.Between{Expr: subject, Low: low, High: high, Not: n.Not}, nil

	case *sqm.NullCheck:
		subject, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		return &sqlast.NullCheck{Expr: subject, Not: n.Not}, nil

	case *sqm.Like:
		subject, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		pattern, err := b.expr(n.Pattern)
		if err != nil {
			return nil, err
		}
		out := &sqlast.Like{Expr: subject, Pattern: pattern, Not: n.Not}
		if n.Escape != nil {
			if out.Escape, err = b.expr(n.Escape); err != nil {
				return nil, err
			}
		}
		return out, nil

	case *sqm.BooleanExpr:
		e, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		return &sqlast.BooleanExpression{Expr: e}, nil
	}
	return nil, qerr.Unsupported(fmt.Sprintf("predicate %T", p))
}
