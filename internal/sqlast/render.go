package sqlast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/orq/internal/param"
	"github.com/roach88/orq/internal/qerr"
)

// Slot maps one positional `?` to the value that fills it.
type Slot struct {
	Param *param.QueryParameter

	// Index is the element of a multi-valued binding, or -1 for the single
	// value of the parameter.
	Index int
}

// Operation is a rendered statement. Values are never interpolated into
// SQL; every parameter occurrence becomes one or more slots.
type Operation struct {
	SQL   string
	Slots []Slot
}

// Expanded reports whether any slot belongs to a multi-valued binding. Such
// an operation is only valid for the execution it was rendered for.
func (o *Operation) Expanded() bool {
	for _, s := range o.Slots {
		if s.Index >= 0 {
			return true
		}
	}
	return false
}

// Args returns the argument list for the slots in order.
func (o *Operation) Args(b *param.Bindings) ([]any, error) {
	args := make([]any, 0, len(o.Slots))
	for _, s := range o.Slots {
		binding, ok := b.Binding(s.Param)
		if !ok {
			return nil, qerr.New(qerr.CodeParameterUnbound,
				fmt.Sprintf("no value bound for parameter %s", s.Param.Label()),
				qerr.FieldParameter(s.Param.Label()))
		}
		if s.Index < 0 {
			if binding.IsMultiValued() {
				return nil, qerr.New(qerr.CodeParameterArity,
					fmt.Sprintf("parameter %s is bound to a list but the statement was rendered for one value", s.Param.Label()),
					qerr.FieldParameter(s.Param.Label()))
			}
			args = append(args, binding.Value())
			continue
		}
		values := binding.Values()
		if s.Index >= len(values) {
			return nil, qerr.New(qerr.CodeParameterArity,
				fmt.Sprintf("parameter %s has %d values, statement expects more", s.Param.Label(), len(values)),
				qerr.FieldParameter(s.Param.Label()))
		}
		args = append(args, values[s.Index])
	}
	return args, nil
}

// Render renders stmt as SQLite SQL. exp gives the per-execution slot
// count of multi-valued parameters; nil renders every parameter as a single
// slot.
func Render(stmt Statement, exp *param.Expansion) (*Operation, error) {
	r := &renderer{exp: exp}
	switch s := stmt.(type) {
	case *SelectStatement:
		r.selectStatement(s)
	case *UpdateStatement:
		r.write("UPDATE ", s.Table, " SET ")
		for i, a := range s.Assignments {
			if i > 0 {
				r.write(", ")
			}
			r.write(a.Column, " = ")
			r.expr(a.Value)
		}
		r.where(s.Where)
	case *DeleteStatement:
		r.write("DELETE FROM ", s.Table)
		r.where(s.Where)
	default:
		return nil, qerr.Unsupported(fmt.Sprintf("statement %T", stmt))
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Operation{SQL: r.b.String(), Slots: r.slots}, nil
}

type renderer struct {
	b     strings.Builder
	exp   *param.Expansion
	slots []Slot
	err   error
}

func (r *renderer) write(parts ...string) {
	for _, p := range parts {
		r.b.WriteString(p)
	}
}

func (r *renderer) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *renderer) selectStatement(s *SelectStatement) {
	r.write("SELECT ")
	if s.Distinct {
		r.write("DISTINCT ")
	}
	for i, e := range s.Selections {
		if i > 0 {
			r.write(", ")
		}
		r.expr(e)
	}
	r.write(" FROM ")
	for i, g := range s.Roots {
		if i > 0 {
			r.write(", ")
		}
		r.tableGroup(g)
	}
	r.where(s.Where)
	for i, e := range s.GroupBy {
		if i == 0 {
			r.write(" GROUP BY ")
		} else {
			r.write(", ")
		}
		r.expr(e)
	}
	if s.Having != nil {
		r.write(" HAVING ")
		r.predicate(s.Having)
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			r.write(" ORDER BY ")
		} else {
			r.write(", ")
		}
		r.expr(o.Expr)
		if o.Descending {
			r.write(" DESC")
		}
	}
	switch {
	case s.Limit != nil:
		r.write(" LIMIT ")
		r.expr(s.Limit)
	case s.Offset != nil:
		// SQLite only accepts OFFSET after LIMIT.
		r.write(" LIMIT -1")
	}
	if s.Offset != nil {
		r.write(" OFFSET ")
		r.expr(s.Offset)
	}
}

func (r *renderer) where(p Predicate) {
	if p != nil {
		r.write(" WHERE ")
		r.predicate(p)
	}
}

func (r *renderer) tableReference(t *TableReference) {
	r.write(t.Table, " ", t.Alias)
}

func (r *renderer) tableGroup(g *TableGroup) {
	r.groupSource(g)
	r.groupJoins(g)
}

// groupSource renders the primary table with its table joins.
func (r *renderer) groupSource(g *TableGroup) {
	r.tableReference(g.Primary)
	for _, j := range g.TableJoins {
		r.write(" ", j.Kind.String(), " ")
		r.tableReference(j.Ref)
		r.on(j.Kind, j.On)
	}
}

// groupJoins renders joined groups. A joined group spanning several tables
// is parenthesized so its own table joins bind before the group join.
func (r *renderer) groupJoins(g *TableGroup) {
	for _, j := range g.GroupJoins {
		r.write(" ", j.Kind.String(), " ")
		if len(j.Group.TableJoins) > 0 {
			r.write("(")
			r.groupSource(j.Group)
			r.write(")")
		} else {
			r.tableReference(j.Group.Primary)
		}
		r.on(j.Kind, j.On)
		r.groupJoins(j.Group)
	}
}

func (r *renderer) on(kind JoinKind, p Predicate) {
	if kind == JoinCross {
		return
	}
	r.write(" ON ")
	if p == nil {
		r.write("1=1")
		return
	}
	r.predicate(p)
}

// functionNames maps query-language functions to SQLite.
var functionNames = map[string]string{
	"substring": "substr",
}

// niladic functions render without parentheses.
var niladic = map[string]string{
	"current_date":      "CURRENT_DATE",
	"current_time":      "CURRENT_TIME",
	"current_timestamp": "CURRENT_TIMESTAMP",
}

func (r *renderer) expr(e Expression) {
	switch n := e.(type) {
	case *ColumnReference:
		if n.Table != nil {
			r.write(n.Table.Alias, ".")
		}
		r.write(n.Column)
	case *Literal:
		r.literal(n.Value)
	case *Parameter:
		r.parameter(n.Param)
	case *Binary:
		r.write("(")
		r.expr(n.Left)
		r.write(" ", n.Op, " ")
		r.expr(n.Right)
		r.write(")")
	case *Negate:
		r.write("-")
		r.expr(n.Operand)
	case *Function:
		r.function(n)
	default:
		r.fail(qerr.Unsupported(fmt.Sprintf("sql expression %T", e)))
	}
}

func (r *renderer) function(n *Function) {
	if kw, ok := niladic[n.Name]; ok {
		r.write(kw)
		return
	}
	switch n.Name {
	case "concat":
		r.write("(")
		for i, arg := range n.Args {
			if i > 0 {
				r.write(" || ")
			}
			r.expr(arg)
		}
		r.write(")")
		return
	case "mod":
		r.write("(")
		r.expr(n.Args[0])
		r.write(" % ")
		r.expr(n.Args[1])
		r.write(")")
		return
	}
	name := n.Name
	if mapped, ok := functionNames[name]; ok {
		name = mapped
	}
	r.write(name, "(")
	if n.Distinct {
		r.write("DISTINCT ")
	}
	if n.Star {
		r.write("*")
	}
	for i, arg := range n.Args {
		if i > 0 {
			r.write(", ")
		}
		r.expr(arg)
	}
	r.write(")")
}

func (r *renderer) literal(v any) {
	switch x := v.(type) {
	case nil:
		r.write("NULL")
	case string:
		r.write("'", strings.ReplaceAll(x, "'", "''"), "'")
	case bool:
		if x {
			r.write("1")
		} else {
			r.write("0")
		}
	case int64:
		r.write(strconv.FormatInt(x, 10))
	case int:
		r.write(strconv.Itoa(x))
	case float64:
		r.write(strconv.FormatFloat(x, 'g', -1, 64))
	default:
		r.fail(qerr.Unsupported(fmt.Sprintf("literal of type %T", v)))
	}
}

func (r *renderer) parameter(p *param.QueryParameter) {
	n := r.exp.Slots(p)
	if n < 0 {
		r.write("?")
		r.slots = append(r.slots, Slot{Param: p, Index: -1})
		return
	}
	for i := range n {
		if i > 0 {
			r.write(", ")
		}
		r.write("?")
		r.slots = append(r.slots, Slot{Param: p, Index: i})
	}
}

func (r *renderer) predicate(p Predicate) {
	switch n := p.(type) {
	case *Comparison:
		r.expr(n.Left)
		r.write(" ", n.Op, " ")
		r.expr(n.Right)
	case *Junction:
		if len(n.Predicates) == 0 {
			if n.And {
				r.write("1=1")
			} else {
				r.write("1=0")
			}
			return
		}
		op := " OR "
		if n.And {
			op = " AND "
		}
		r.write("(")
		for i, sub := range n.Predicates {
			if i > 0 {
				r.write(op)
			}
			r.predicate(sub)
		}
		r.write(")")
	case *Negation:
		r.write("NOT (")
		r.predicate(n.Predicate)
		r.write(")")
	case *InList:
		r.inList(n)
	case *Between:
		r.expr(n.Expr)
		if n.Not {
			r.write(" NOT")
		}
		r.write(" BETWEEN ")
		r.expr(n.Low)
		r.write(" AND ")
		r.expr(n.High)
	case *NullCheck:
		r.expr(n.Expr)
		if n.Not {
			r.write(" IS NOT NULL")
		} else {
			r.write(" IS NULL")
		}
	case *Like:
		r.expr(n.Expr)
		if n.Not {
			r.write(" NOT")
		}
		r.write(" LIKE ")
		r.expr(n.Pattern)
		if n.Escape != nil {
			r.write(" ESCAPE ")
			r.expr(n.Escape)
		}
	case *BooleanExpression:
		r.expr(n.Expr)
		r.write(" = 1")
	default:
		r.fail(qerr.Unsupported(fmt.Sprintf("sql predicate %T", p)))
	}
}

// inList renders an IN predicate. A list parameter expanded to zero values
// leaves nothing to match: IN is false and NOT IN is true.
func (r *renderer) inList(n *InList) {
	count := 0
	for _, item := range n.Items {
		if p, ok := item.(*Parameter); ok {
			if slots := r.exp.Slots(p.Param); slots >= 0 {
				count += slots
				continue
			}
		}
		count++
	}
	if count == 0 {
		if n.Not {
			r.write("1=1")
		} else {
			r.write("1=0")
		}
		return
	}
	r.expr(n.Expr)
	if n.Not {
		r.write(" NOT")
	}
	r.write(" IN (")
	first := true
	for _, item := range n.Items {
		if p, ok := item.(*Parameter); ok && r.exp.Slots(p.Param) == 0 {
			continue
		}
		if !first {
			r.write(", ")
		}
		first = false
		r.expr(item)
	}
	r.write(")")
}
