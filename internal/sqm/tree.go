// Package sqm is the semantic query model: a parsed statement resolved
// against the mapping metamodel into a typed, immutable tree.
//
// The tree is built once per parsed query by Analyze and shared by every
// execution of the compiled plan. Node kinds are closed variants; consumers
// dispatch with exhaustive type switches.
//
// Path identity is carried by navpath.Path. Every Root and Join owns the
// path it was registered under, and implicit navigation through an
// association reuses the join already registered for the same path.
package sqm

import (
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/param"
	"github.com/roach88/orq/internal/result"
)

// Statement is a resolved statement.
//
// This is a sealed interface: SelectStatement, UpdateStatement and
// DeleteStatement.
type Statement interface {
	statementNode()

	// Parameters returns the parameters declared by the statement.
	Parameters() *param.Metadata

	// Signature is a canonical structural rendering of the statement, part
	// of the plan cache key.
	Signature() string
}

// Expr is a value-producing node.
type Expr interface {
	exprNode()
	ValueType() ValueType
}

// Predicate is a boolean condition.
type Predicate interface {
	predicateNode()
}

// ValueType is the inferred type of an expression. At most one of the
// fields is set; the zero value is an unknown basic type.
type ValueType struct {
	Basic      metamodel.BasicType
	Entity     *metamodel.Entity
	Embeddable *metamodel.Embeddable
}

// IsEntity reports whether the value is an entity reference.
func (t ValueType) IsEntity() bool { return t.Entity != nil }

// BasicOf returns the basic type, using the identifier type for entities.
func (t ValueType) BasicOf() metamodel.BasicType {
	if t.Entity != nil {
		if id := t.Entity.IDAttribute(); id != nil {
			return id.Type
		}
	}
	return t.Basic
}

func basic(t metamodel.BasicType) ValueType { return ValueType{Basic: t} }

// JoinType is the SQL join type of a Join.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (j JoinType) String() string {
	switch j {
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinFull:
		return "full"
	case JoinCross:
		return "cross"
	default:
		return "inner"
	}
}

// Navigable is a node that other paths can be navigated from: a Root or a
// Join.
type Navigable interface {
	Expr
	NavigablePath() *navpath.Path
	EntityType() *metamodel.Entity
	Children() []*Join
	addJoin(*Join)
}

// Root is an entity in the from clause.
type Root struct {
	Path   *navpath.Path
	Entity *metamodel.Entity
	Alias  string
	Joins  []*Join
}

func (r *Root) NavigablePath() *navpath.Path   { return r.Path }
func (r *Root) EntityType() *metamodel.Entity { return r.Entity }
func (r *Root) Children() []*Join             { return r.Joins }
func (r *Root) addJoin(j *Join)               { r.Joins = append(r.Joins, j) }
func (r *Root) ValueType() ValueType          { return ValueType{Entity: r.Entity} }

// Join is an explicit or implicit join.
//
// Attribute is the association being joined, or nil for an entity join
// (`join Child c with c.parent = p`). Target is the joined entity (the
// element entity for collections).
type Join struct {
	Path      *navpath.Path
	Parent    Navigable
	Attribute *metamodel.Attribute
	Target    *metamodel.Entity
	Type      JoinType
	Fetch     bool
	Explicit  bool
	Alias     string
	With      Predicate
	Joins     []*Join

	// SubtypeOnly marks an association declared on a subtype of the parent's
	// entity; such joins are never inner.
	SubtypeOnly bool
}

func (j *Join) NavigablePath() *navpath.Path   { return j.Path }
func (j *Join) EntityType() *metamodel.Entity { return j.Target }
func (j *Join) Children() []*Join             { return j.Joins }
func (j *Join) addJoin(c *Join)               { j.Joins = append(j.Joins, c) }
func (j *Join) ValueType() ValueType          { return ValueType{Entity: j.Target} }

// IsPlural reports whether the join traverses a collection.
func (j *Join) IsPlural() bool {
	return j.Attribute != nil && j.Attribute.Kind.IsPlural()
}

// AttributeRef is a basic attribute of a root or join, possibly nested in
// embedded values (`p.home.city` has Embedded = [home]).
type AttributeRef struct {
	Path      *navpath.Path
	Owner     Navigable
	Embedded  []*metamodel.Attribute
	Attribute *metamodel.Attribute

	// SubtypeOnly marks an attribute declared on a subtype of the owner's
	// entity.
	SubtypeOnly bool
}

func (a *AttributeRef) ValueType() ValueType { return basic(a.Attribute.Type) }

// EmbeddedRef selects a whole embedded value.
type EmbeddedRef struct {
	Path      *navpath.Path
	Owner     Navigable
	Embedded  []*metamodel.Attribute
	Attribute *metamodel.Attribute
}

func (e *EmbeddedRef) ValueType() ValueType {
	return ValueType{Embeddable: e.Attribute.TargetEmbeddable()}
}

// ForeignKeyRef reads the identifier of a to-one association from the
// foreign key column of the owning side, without joining the target
// (`c.parent.id`).
type ForeignKeyRef struct {
	Path        *navpath.Path
	Owner       Navigable
	Association *metamodel.Attribute
}

func (f *ForeignKeyRef) ValueType() ValueType {
	return basic(f.Association.TargetEntity().IDAttribute().Type)
}

// Literal is a constant. Value is string, int64, float64, bool or nil;
// temporal literals keep their text with a temporal Type.
type Literal struct {
	Value any
	Type  metamodel.BasicType
}

func (l *Literal) ValueType() ValueType { return basic(l.Type) }

// Parameter is one occurrence of a query parameter. Occurrences are distinct
// nodes that share Param.
type Parameter struct {
	Param      *param.QueryParameter
	Occurrence int
}

func (p *Parameter) ValueType() ValueType { return basic(p.Param.Type()) }

// Binary is an arithmetic or concatenation expression.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
	Type  metamodel.BasicType
}

func (b *Binary) ValueType() ValueType { return basic(b.Type) }

// Negate is unary minus.
type Negate struct {
	Operand Expr
}

func (n *Negate) ValueType() ValueType { return n.Operand.ValueType() }

// Function is a function call. Aggregate marks count/sum/avg/min/max.
type Function struct {
	Name      string
	Args      []Expr
	Distinct  bool
	Star      bool
	Aggregate bool
	Type      metamodel.BasicType
}

func (f *Function) ValueType() ValueType { return basic(f.Type) }

// Instantiation is `select new ...`, with its target resolved at analysis
// time.
type Instantiation struct {
	Target *result.Instantiator
	Args   []*Selection
}

func (i *Instantiation) ValueType() ValueType { return ValueType{} }

func (*Root) exprNode()          {}
func (*Join) exprNode()          {}
func (*AttributeRef) exprNode()  {}
func (*EmbeddedRef) exprNode()   {}
func (*ForeignKeyRef) exprNode() {}
func (*Literal) exprNode()       {}
func (*Parameter) exprNode()     {}
func (*Binary) exprNode()        {}
func (*Negate) exprNode()        {}
func (*Function) exprNode()      {}
func (*Instantiation) exprNode() {}

// Comparison is = <> < <= > >=.
type Comparison struct {
	Op    string
	Left  Expr
	Right Expr
}

// Junction is a conjunction (And) or disjunction of predicates.
type Junction struct {
	And        bool
	Predicates []Predicate
}

// Negation negates a predicate.
type Negation struct {
	Predicate Predicate
}

// InList is `expr [not] in (items)`. A single parameter item may be bound
// to a collection.
type InList struct {
	Expr  Expr
	Items []Expr
	Not   bool
}

// Between is `expr [not] between low and high`.
type Between struct {
	Expr Expr
	Low  Expr
	High Expr
	Not  bool
}

// NullCheck is `expr is [not] null`.
type NullCheck struct {
	Expr Expr
	Not  bool
}

// Like is `expr [not] like pattern [escape e]`.
type Like struct {
	Expr    Expr
	Pattern Expr
	Escape  Expr
	Not     bool
}

// BooleanExpr uses a boolean-valued expression as a predicate.
type BooleanExpr struct {
	Expr Expr
}

func (*Comparison) predicateNode()  {}
func (*Junction) predicateNode()    {}
func (*Negation) predicateNode()    {}
func (*InList) predicateNode()      {}
func (*Between) predicateNode()     {}
func (*NullCheck) predicateNode()   {}
func (*Like) predicateNode()        {}
func (*BooleanExpr) predicateNode() {}

// Selection is one selected expression.
type Selection struct {
	Expr  Expr
	Alias string
}

// SortSpec is one order-by entry.
type SortSpec struct {
	Expr       Expr
	Descending bool
}

// SelectStatement is a resolved query.
type SelectStatement struct {
	Distinct   bool
	Selections []*Selection
	Roots      []*Root
	Where      Predicate
	GroupBy    []Expr
	Having     Predicate
	OrderBy    []*SortSpec
	Limit      Expr
	Offset     Expr

	// ImplicitSelection is set when the query had no select clause and the
	// single root was selected.
	ImplicitSelection bool

	params    *param.Metadata
	signature string
}

func (*SelectStatement) statementNode()                {}
func (s *SelectStatement) Parameters() *param.Metadata { return s.params }
func (s *SelectStatement) Signature() string           { return s.signature }

// FetchJoins returns every fetch join in from-clause order.
func (s *SelectStatement) FetchJoins() []*Join {
	var out []*Join
	var walk func(Navigable)
	walk = func(n Navigable) {
		for _, j := range n.Children() {
			if j.Fetch {
				out = append(out, j)
			}
			walk(j)
		}
	}
	for _, r := range s.Roots {
		walk(r)
	}
	return out
}

// Assignment is one `attribute = value` of an update. Target is an
// *AttributeRef or, for to-one associations, a *ForeignKeyRef.
type Assignment struct {
	Target Expr
	Value  Expr
}

// UpdateStatement is a resolved bulk update.
type UpdateStatement struct {
	Target      *Root
	Assignments []*Assignment
	Where       Predicate

	params    *param.Metadata
	signature string
}

func (*UpdateStatement) statementNode()                {}
func (s *UpdateStatement) Parameters() *param.Metadata { return s.params }
func (s *UpdateStatement) Signature() string           { return s.signature }

// DeleteStatement is a resolved bulk delete.
type DeleteStatement struct {
	Target *Root
	Where  Predicate

	params    *param.Metadata
	signature string
}

func (*DeleteStatement) statementNode()                {}
func (s *DeleteStatement) Parameters() *param.Metadata { return s.params }
func (s *DeleteStatement) Signature() string           { return s.signature }
