package sqm

import (
	"fmt"
	"strings"
)

// Format renders a statement in a canonical query form. Nodes print as their
// navigable paths and parameters as their labels, so two texts that differ
// only in spacing or keyword case format the same. Implicit joins are
// printed, which makes the rendering reflect the resolved structure.
func Format(stmt Statement) string {
	var b strings.Builder
	f := &formatter{b: &b}
	switch s := stmt.(type) {
	case *SelectStatement:
		f.selectStatement(s)
	case *UpdateStatement:
		f.printf("update %s", s.Target.Entity.QualifiedName())
		for i, set := range s.Assignments {
			if i == 0 {
				f.printf(" set ")
			} else {
				f.printf(", ")
			}
			f.expr(set.Target)
			f.printf(" = ")
			f.expr(set.Value)
		}
		f.where(s.Where)
	case *DeleteStatement:
		f.printf("delete %s", s.Target.Entity.QualifiedName())
		f.where(s.Where)
	}
	return b.String()
}

type formatter struct {
	b *strings.Builder
}

func (f *formatter) printf(format string, args ...any) {
	fmt.Fprintf(f.b, format, args...)
}

func (f *formatter) selectStatement(s *SelectStatement) {
	f.printf("select ")
	if s.Distinct {
		f.printf("distinct ")
	}
	for i, sel := range s.Selections {
		if i > 0 {
			f.printf(", ")
		}
		f.expr(sel.Expr)
	}
	f.printf(" from ")
	for i, root := range s.Roots {
		if i > 0 {
			f.printf(", ")
		}
		f.printf("%s %s", root.Entity.QualifiedName(), root.Path)
		f.joins(root)
	}
	f.where(s.Where)
	for i, g := range s.GroupBy {
		if i == 0 {
			f.printf(" group by ")
		} else {
			f.printf(", ")
		}
		f.expr(g)
	}
	if s.Having != nil {
		f.printf(" having ")
		f.predicate(s.Having)
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			f.printf(" order by ")
		} else {
			f.printf(", ")
		}
		f.expr(o.Expr)
		if o.Descending {
			f.printf(" desc")
		}
	}
	if s.Limit != nil {
		f.printf(" limit ")
		f.expr(s.Limit)
	}
	if s.Offset != nil {
		f.printf(" offset ")
		f.expr(s.Offset)
	}
}

func (f *formatter) joins(n Navigable) {
	for _, j := range n.Children() {
		f.printf(" %s join ", j.Type)
		if j.Fetch {
			f.printf("fetch ")
		}
		if j.Attribute == nil {
			f.printf("%s", j.Target.QualifiedName())
		}
		f.printf("%s", j.Path)
		if !j.Explicit {
			f.printf(" implicit")
		}
		if j.With != nil {
			f.printf(" with ")
			f.predicate(j.With)
		}
		f.joins(j)
	}
}

func (f *formatter) where(p Predicate) {
	if p != nil {
		f.printf(" where ")
		f.predicate(p)
	}
}

func (f *formatter) expr(e Expr) {
	switch n := e.(type) {
	case *Root:
		f.printf("%s", n.Path)
	case *Join:
		f.printf("%s", n.Path)
	case *AttributeRef:
		f.printf("%s", n.Path)
	case *EmbeddedRef:
		f.printf("%s", n.Path)
	case *ForeignKeyRef:
		f.printf("fk(%s)", n.Path)
	case *Literal:
		switch v := n.Value.(type) {
		case nil:
			f.printf("null")
		case string:
			f.printf("%s'%s'", n.Type, strings.ReplaceAll(v, "'", "''"))
		default:
			f.printf("%v", v)
		}
	case *Parameter:
		f.printf("%s", n.Param)
	case *Binary:
		f.printf("(")
		f.expr(n.Left)
		f.printf(" %s ", n.Op)
		f.expr(n.Right)
		f.printf(")")
	case *Negate:
		f.printf("-")
		f.expr(n.Operand)
	case *Function:
		f.printf("%s(", n.Name)
		if n.Distinct {
			f.printf("distinct ")
		}
		if n.Star {
			f.printf("*")
		}
		for i, arg := range n.Args {
			if i > 0 {
				f.printf(", ")
			}
			f.expr(arg)
		}
		f.printf(")")
	case *Instantiation:
		f.printf("new %s(", n.Target.Name)
		for i, arg := range n.Args {
			if i > 0 {
				f.printf(", ")
			}
			f.expr(arg.Expr)
			if arg.Alias != "" {
				f.printf(" as %s", arg.Alias)
			}
		}
		f.printf(")")
	default:
		f.printf("?%T", e)
	}
}

func (f *formatter) predicate(p Predicate) {
	switch n := p.(type) {
	case *Comparison:
		f.expr(n.Left)
		f.printf(" %s ", n.Op)
		f.expr(n.Right)
	case *Junction:
		op := " or "
		if n.And {
			op = " and "
		}
		f.printf("(")
		for i, sub := range n.Predicates {
			if i > 0 {
				f.printf("%s", op)
			}
			f.predicate(sub)
		}
		f.printf(")")
	case *Negation:
		f.printf("not ")
		f.predicate(n.Predicate)
	case *InList:
		f.expr(n.Expr)
		if n.Not {
			f.printf(" not")
		}
		f.printf(" in (")
		for i, item := range n.Items {
			if i > 0 {
				f.printf(", ")
			}
			f.expr(item)
		}
		f.printf(")")
	case *Between:
		f.expr(n.Expr)
		if n.Not {
			f.printf(" not")
		}
		f.printf(" between ")
		f.expr(n.Low)
		f.printf(" and ")
		f.expr(n.High)
	case *NullCheck:
		f.expr(n.Expr)
		if n.Not {
			f.printf(" is not null")
		} else {
			f.printf(" is null")
		}
	case *Like:
		f.expr(n.Expr)
		if n.Not {
			f.printf(" not")
		}
		f.printf(" like ")
		f.expr(n.Pattern)
		if n.Escape != nil {
			f.printf(" escape ")
			f.expr(n.Escape)
		}
	case *BooleanExpr:
		f.expr(n.Expr)
	}
}
