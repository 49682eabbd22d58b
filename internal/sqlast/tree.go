// Package sqlast is the relational representation of a compiled statement.
//
// A statement is built from TableGroups, one per navigable path of the
// semantic tree. A TableGroup owns a primary TableReference; the tables of a
// joined-inheritance hierarchy and secondary tables are joined to it only
// when a column living in them is referenced (see ResolveTableReference).
//
// Node kinds are closed sets: Expression, Predicate and Statement are sealed
// with unexported marker methods and rendered with exhaustive type switches.
//
// The only dialect rendered is SQLite.
package sqlast

import (
	"github.com/roach88/orq/internal/param"
)

// Expression is a scalar SQL expression.
type Expression interface {
	expressionNode()
}

// Predicate is a boolean SQL condition.
type Predicate interface {
	predicateNode()
}

// Statement is a complete SQL statement.
type Statement interface {
	statementNode()
}

// ColumnReference names a column of a table reference. A nil Table renders
// the column unqualified (update and delete statements).
type ColumnReference struct {
	Table  *TableReference
	Column string
}

// Literal is rendered inline. Value is string, int64, float64, bool or nil.
type Literal struct {
	Value any
}

// Parameter is a bound value. It renders as one positional slot, or as N
// slots when the parameter is expanded for the current execution.
type Parameter struct {
	Param *param.QueryParameter
}

// Binary is an arithmetic or concatenation operation.
type Binary struct {
	Op          string
	Left, Right Expression
}

// Negate is unary minus.
type Negate struct {
	Operand Expression
}

// Function is a function call, named as in the query language.
type Function struct {
	Name     string
	Args     []Expression
	Distinct bool
	Star     bool
}

func (*ColumnReference) expressionNode() {}
func (*Literal) expressionNode()         {}
func (*Parameter) expressionNode()       {}
func (*Binary) expressionNode()          {}
func (*Negate) expressionNode()          {}
func (*Function) expressionNode()        {}

// Comparison compares two expressions with =, <>, <, <=, > or >=.
type Comparison struct {
	Op          string
	Left, Right Expression
}

// Junction is a conjunction (And) or disjunction of predicates. An empty
// conjunction is true and an empty disjunction is false.
type Junction struct {
	And        bool
	Predicates []Predicate
}

type Negation struct {
	Predicate Predicate
}

type InList struct {
	Expr  Expression
	Items []Expression
	Not   bool
}

type Between struct {
	Expr, Low, High Expression
	Not             bool
}

type NullCheck struct {
	Expr Expression
	Not  bool
}

type Like struct {
	Expr, Pattern, Escape Expression
	Not                   bool
}

// BooleanExpression uses a boolean-valued expression as a condition.
type BooleanExpression struct {
	Expr Expression
}

func (*Comparison) predicateNode()        {}
func (*Junction) predicateNode()          {}
func (*Negation) predicateNode()          {}
func (*InList) predicateNode()            {}
func (*Between) predicateNode()           {}
func (*NullCheck) predicateNode()         {}
func (*Like) predicateNode()              {}
func (*BooleanExpression) predicateNode() {}

// And combines predicates, skipping nils and flattening nested
// conjunctions. It returns nil when nothing remains.
func And(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch n := p.(type) {
		case nil:
		case *Junction:
			if n.And {
				out = append(out, n.Predicates...)
			} else {
				out = append(out, n)
			}
		default:
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &Junction{And: true, Predicates: out}
}

// SortSpecification is one order-by item.
type SortSpecification struct {
	Expr       Expression
	Descending bool
}

// SelectStatement is a single SELECT with its clauses.
type SelectStatement struct {
	Distinct   bool
	Selections []Expression

	// Roots are the from-clause roots, rendered comma separated.
	Roots []*TableGroup

	Where   Predicate
	GroupBy []Expression
	Having  Predicate
	OrderBy []*SortSpecification

	Limit, Offset Expression
}

// Assignment sets one column in an update.
type Assignment struct {
	Column string
	Value  Expression
}

type UpdateStatement struct {
	Table       string
	Assignments []*Assignment
	Where       Predicate
}

type DeleteStatement struct {
	Table string
	Where Predicate
}

func (*SelectStatement) statementNode() {}
func (*UpdateStatement) statementNode() {}
func (*DeleteStatement) statementNode() {}
