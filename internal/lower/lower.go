// Package lower builds the relational form of a semantic statement: the SQL
// AST with one table group per navigable path, and the result descriptors
// the assembler reads rows with.
//
// Tables other than a group's primary table are joined on demand, the first
// time one of their columns is referenced. Embedded values never add a table
// group of their own; their columns resolve against the owning entity's
// group.
package lower

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
)

// Filter restricts every table group of Entity (or one of its subtypes) to
// rows whose Attribute compares to Value. Filters are enabled per execution
// and make the lowered statement specific to it.
type Filter struct {
	Name      string
	Entity    *metamodel.Entity
	Attribute string

	// Op defaults to "=". A nil Value with "=" or "<>" becomes a null check.
	Op    string
	Value any
}

// Options carry the execution-time influencers of a lowering.
type Options struct {
	Filters []Filter

	// FetchGraph lists association paths to fetch-join in addition to the
	// statement's own fetch joins, e.g. "p.children" or "children.parent".
	// A path not starting with a root alias is relative to the single root.
	FetchGraph []string
}

// Lowered is the relational form of one statement.
type Lowered struct {
	Statement sqlast.Statement

	// Results describe the selected values; nil for update and delete.
	Results []result.DomainResult

	// Index maps navigable paths to their table groups.
	Index *sqlast.FromClauseIndex

	// Spaces are the tables the statement reads, or for update and delete,
	// the table it modifies.
	Spaces []string
}

// Lower builds the relational form of stmt.
func Lower(model *metamodel.Model, stmt sqm.Statement, opts Options) (*Lowered, error) {
	b := &builder{
		model:       model,
		opts:        opts,
		aliases:     &sqlast.AliasGenerator{},
		index:       sqlast.NewFromClauseIndex(),
		detector:    &result.CircularFetchDetector{Model: model},
		nodes:       make(map[string]*node),
		columnIndex: make(map[string]int),
	}
	switch s := stmt.(type) {
	case *sqm.SelectStatement:
		return b.selectStatement(s)
	case *sqm.UpdateStatement:
		return b.updateStatement(s)
	case *sqm.DeleteStatement:
		return b.deleteStatement(s)
	}
	return nil, qerr.Unsupported(fmt.Sprintf("statement %T", stmt))
}

type builder struct {
	model    *metamodel.Model
	opts     Options
	aliases  *sqlast.AliasGenerator
	index    *sqlast.FromClauseIndex
	detector *result.CircularFetchDetector

	nodes map[string]*node
	roots []*node

	// extraWhere holds restrictions of groups that cannot carry an ON
	// condition (roots and cross joins).
	extraWhere []sqlast.Predicate

	columns     []sqlast.Expression
	columnIndex map[string]int

	// unqualified renders columns without a table alias (update, delete).
	unqualified bool
}

// node is one table group of the from clause and its place in the join
// tree. attr is nil for roots and entity joins.
type node struct {
	path     *navpath.Path
	entity   *metamodel.Entity
	attr     *metamodel.Attribute
	parent   *node
	kind     sqlast.JoinKind
	fetch    bool
	with     sqm.Predicate
	group    *sqlast.TableGroup
	children []*node
}

func (n *node) fetchChild(attr *metamodel.Attribute) *node {
	for _, c := range n.children {
		if c.fetch && c.attr == attr {
			return c
		}
	}
	return nil
}

// resultPath is the path of the entity instances read from n: collection
// joins read elements.
func (n *node) resultPath() *navpath.Path {
	if n.attr != nil && n.attr.Kind.IsPlural() {
		return n.path.Element()
	}
	return n.path
}

func (b *builder) newNode(path *navpath.Path, entity *metamodel.Entity, attr *metamodel.Attribute, parent *node) (*node, error) {
	g, err := sqlast.NewTableGroup(path, entity, b.aliases)
	if err != nil {
		return nil, err
	}
	if err := b.index.Register(g); err != nil {
		return nil, err
	}
	n := &node{path: path, entity: entity, attr: attr, parent: parent, group: g}
	b.nodes[path.Key()] = n
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return n, nil
}

func (b *builder) nodeOf(nav sqm.Navigable) (*node, error) {
	n, ok := b.nodes[nav.NavigablePath().Key()]
	if !ok {
		return nil, fmt.Errorf("lower: no table group for %s", nav.NavigablePath())
	}
	return n, nil
}

// fromClause creates the groups of every root and join, applies the fetch
// graph, then links the joins. Groups exist before any ON condition is
// lowered, so a with clause may reference any of them.
func (b *builder) fromClause(roots []*sqm.Root) error {
	for _, r := range roots {
		n, err := b.newNode(r.Path, r.Entity, nil, nil)
		if err != nil {
			return err
		}
		b.roots = append(b.roots, n)
		if err := b.joins(n, r.Joins); err != nil {
			return err
		}
	}
	for _, hint := range b.opts.FetchGraph {
		if err := b.fetchGraphPath(hint); err != nil {
			return err
		}
	}
	for _, n := range b.roots {
		restrictions, err := b.restrictions(n)
		if err != nil {
			return err
		}
		b.extraWhere = append(b.extraWhere, restrictions...)
		if err := b.link(n); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) joins(parent *node, joins []*sqm.Join) error {
	for _, j := range joins {
		n, err := b.newNode(j.Path, j.Target, j.Attribute, parent)
		if err != nil {
			return err
		}
		n.kind = joinKind(j.Type)
		n.fetch = j.Fetch
		n.with = j.With
		if err := b.joins(n, j.Joins); err != nil {
			return err
		}
	}
	return nil
}

func joinKind(t sqm.JoinType) sqlast.JoinKind {
	switch t {
	case sqm.JoinLeft:
		return sqlast.JoinLeft
	case sqm.JoinRight:
		return sqlast.JoinRight
	case sqm.JoinFull:
		return sqlast.JoinFull
	case sqm.JoinCross:
		return sqlast.JoinCross
	default:
		return sqlast.JoinInner
	}
}

// fetchGraphPath adds left fetch joins along one fetch-graph path, reusing
// the joins the statement already has.
func (b *builder) fetchGraphPath(hint string) error {
	parts := strings.Split(hint, ".")
	var cur *node
	if n, ok := b.nodes[navpath.Root(parts[0]).Key()]; ok && n.parent == nil {
		cur, parts = n, parts[1:]
	} else if len(b.roots) == 1 {
		cur = b.roots[0]
	} else {
		return qerr.New(qerr.CodeSemanticUnresolvedPath,
			fmt.Sprintf("fetch graph path %s does not start with a root alias", hint), qerr.FieldPath(hint))
	}
	for _, part := range parts {
		attr, ok := cur.entity.Attribute(part)
		if !ok && cur.entity.HasSubclasses() {
			attr, ok = cur.entity.SubtypeAttribute(part)
		}
		if !ok {
			return qerr.New(qerr.CodeSemanticUnresolvedPath,
				fmt.Sprintf("could not resolve %q in fetch graph path %s", part, hint),
				qerr.FieldPath(hint), qerr.Field("segment", part))
		}
		if !attr.Kind.IsAssociation() {
			return qerr.New(qerr.CodeSemanticInvalidDereference,
				fmt.Sprintf("fetch graph path %s names %s, which is not an association", hint, attr),
				qerr.FieldPath(hint))
		}
		path := cur.path.Append(part)
		if existing, ok := b.nodes[path.Key()]; ok {
			existing.fetch = true
			cur = existing
			continue
		}
		n, err := b.newNode(path, attr.TargetEntity(), attr, cur)
		if err != nil {
			return err
		}
		n.kind = sqlast.JoinLeft
		n.fetch = true
		cur = n
	}
	return nil
}

// link adds the group joins below n.
func (b *builder) link(n *node) error {
	for _, child := range n.children {
		on, err := b.joinCondition(n, child)
		if err != nil {
			return err
		}
		n.group.Join(child.kind, child.group, on)
		if err := b.link(child); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) joinCondition(parent, child *node) (sqlast.Predicate, error) {
	var preds []sqlast.Predicate
	attr := child.attr
	switch {
	case attr == nil:
		// Entity join: the with clause is the whole condition.
	case attr.IsOwningSide():
		ref, err := parent.group.ResolveTableReference(parent.entity.TableFor(attr))
		if err != nil {
			return nil, err
		}
		preds = append(preds, &sqlast.Comparison{Op: "=", Left: child.group.IDColumn(), Right: ref.Column(attr.Column)})
	case attr.MappedBy != "":
		owning, ok := child.entity.Attribute(attr.MappedBy)
		if !ok || !owning.IsOwningSide() {
			return nil, qerr.Unsupported(fmt.Sprintf("join of %s through non-owning %s.%s", attr, child.entity.Name, attr.MappedBy),
				qerr.FieldPath(child.path.FullPath()))
		}
		ref, err := child.group.ResolveTableReference(child.entity.TableFor(owning))
		if err != nil {
			return nil, err
		}
		preds = append(preds, &sqlast.Comparison{Op: "=", Left: ref.Column(owning.Column), Right: parent.group.IDColumn()})
	default:
		return nil, qerr.Unsupported("join of "+attr.String(), qerr.FieldPath(child.path.FullPath()))
	}

	restrictions, err := b.restrictions(child)
	if err != nil {
		return nil, err
	}
	preds = append(preds, restrictions...)
	if child.with != nil {
		with, err := b.predicate(child.with)
		if err != nil {
			return nil, err
		}
		preds = append(preds, with)
	}
	if child.kind == sqlast.JoinCross {
		b.extraWhere = append(b.extraWhere, preds...)
		return nil, nil
	}
	return sqlast.And(preds...), nil
}

// restrictions returns the discriminator restriction of a single-table
// subtype and the enabled filters applying to n's entity.
func (b *builder) restrictions(n *node) ([]sqlast.Predicate, error) {
	var out []sqlast.Predicate
	if d := discriminatorRestriction(n); d != nil {
		out = append(out, d)
	}
	for _, f := range b.opts.Filters {
		if f.Entity == nil || !n.entity.IsSubtypeOf(f.Entity) {
			continue
		}
		p, err := b.filterPredicate(n, f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func discriminatorRestriction(n *node) sqlast.Predicate {
	e := n.entity
	root := e.Root()
	if e == root || e.InheritanceStrategy() != metamodel.InheritanceSingleTable || root.DiscriminatorColumn == "" {
		return nil
	}
	in := &sqlast.InList{Expr: n.group.Primary.Column(root.DiscriminatorColumn)}
	for _, sub := range e.ConcreteSubtypes() {
		in.Items = append(in.Items, &sqlast.Literal{Value: discriminatorValue(sub)})
	}
	return in
}

func discriminatorValue(e *metamodel.Entity) string {
	if e.DiscriminatorValue != "" {
		return e.DiscriminatorValue
	}
	return e.Name
}

func (b *builder) filterPredicate(n *node, f Filter) (sqlast.Predicate, error) {
	attr, ok := n.entity.Attribute(f.Attribute)
	if !ok || attr.Kind != metamodel.KindBasic {
		return nil, qerr.New(qerr.CodeSemanticUnresolvedPath,
			fmt.Sprintf("filter %s: %s has no basic attribute %q", f.Name, n.entity.Name, f.Attribute),
			qerr.Field("filter", f.Name), qerr.FieldPath(n.path.Append(f.Attribute).FullPath()))
	}
	col, err := b.attributeColumn(n, nil, attr)
	if err != nil {
		return nil, err
	}
	op := f.Op
	if op == "" {
		op = "="
	}
	if f.Value == nil && (op == "=" || op == "<>") {
		return &sqlast.NullCheck{Expr: col, Not: op == "<>"}, nil
	}
	return &sqlast.Comparison{Op: op, Left: col, Right: &sqlast.Literal{Value: f.Value}}, nil
}

// spaces returns the tables referenced by every group, sorted.
func (b *builder) spaces() []string {
	seen := make(map[string]bool)
	var walk func(*sqlast.TableGroup)
	walk = func(g *sqlast.TableGroup) {
		seen[g.Primary.Table] = true
		for _, j := range g.TableJoins {
			seen[j.Ref.Table] = true
		}
		for _, j := range g.GroupJoins {
			walk(j.Group)
		}
	}
	for _, n := range b.roots {
		walk(n.group)
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (b *builder) selectStatement(s *sqm.SelectStatement) (*Lowered, error) {
	if err := b.fromClause(s.Roots); err != nil {
		return nil, err
	}
	out := &sqlast.SelectStatement{Distinct: s.Distinct}
	for _, n := range b.roots {
		out.Roots = append(out.Roots, n.group)
	}

	var results []result.DomainResult
	for _, sel := range s.Selections {
		r, err := b.domainResult(sel)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	where := b.extraWhere
	if s.Where != nil {
		p, err := b.predicate(s.Where)
		if err != nil {
			return nil, err
		}
		where = append(where, p)
	}
	out.Where = sqlast.And(where...)

	for _, g := range s.GroupBy {
		e, err := b.expr(g)
		if err != nil {
			return nil, err
		}
		out.GroupBy = append(out.GroupBy, e)
	}
	if s.Having != nil {
		p, err := b.predicate(s.Having)
		if err != nil {
			return nil, err
		}
		out.Having = p
	}
	for _, o := range s.OrderBy {
		e, err := b.expr(o.Expr)
		if err != nil {
			return nil, err
		}
		out.OrderBy = append(out.OrderBy, &sqlast.SortSpecification{Expr: e, Descending: o.Descending})
	}
	var err error
	if s.Limit != nil {
		if out.Limit, err = b.expr(s.Limit); err != nil {
			return nil, err
		}
	}
	if s.Offset != nil {
		if out.Offset, err = b.expr(s.Offset); err != nil {
			return nil, err
		}
	}
	out.Selections = b.columns
	return &Lowered{Statement: out, Results: results, Index: b.index, Spaces: b.spaces()}, nil
}

func (b *builder) updateStatement(s *sqm.UpdateStatement) (*Lowered, error) {
	n, err := b.newNode(s.Target.Path, s.Target.Entity, nil, nil)
	if err != nil {
		return nil, err
	}
	b.roots = append(b.roots, n)
	b.unqualified = true

	out := &sqlast.UpdateStatement{Table: n.group.Primary.Table}
	for _, a := range s.Assignments {
		target, err := b.expr(a.Target)
		if err != nil {
			return nil, err
		}
		col, ok := target.(*sqlast.ColumnReference)
		if !ok {
			return nil, qerr.Unsupported(fmt.Sprintf("assignment to %T", a.Target))
		}
		value, err := b.expr(a.Value)
		if err != nil {
			return nil, err
		}
		out.Assignments = append(out.Assignments, &sqlast.Assignment{Column: col.Column, Value: value})
	}
	where, err := b.mutationWhere(n, s.Where)
	if err != nil {
		return nil, err
	}
	out.Where = where
	if err := singleTable(n, "update"); err != nil {
		return nil, err
	}
	return &Lowered{Statement: out, Index: b.index, Spaces: []string{out.Table}}, nil
}

func (b *builder) deleteStatement(s *sqm.DeleteStatement) (*Lowered, error) {
	e := s.Target.Entity
	if e.InheritanceStrategy() == metamodel.InheritanceJoined && (e.Super() != nil || len(e.Subtypes()) > 0) {
		return nil, qerr.Unsupported("delete from a joined hierarchy", qerr.Field("entity", e.Name))
	}
	if _, ok := secondaryTableOf(e); ok {
		return nil, qerr.Unsupported("delete of an entity with secondary tables", qerr.Field("entity", e.Name))
	}
	n, err := b.newNode(s.Target.Path, e, nil, nil)
	if err != nil {
		return nil, err
	}
	b.roots = append(b.roots, n)
	b.unqualified = true

	out := &sqlast.DeleteStatement{Table: n.group.Primary.Table}
	if out.Where, err = b.mutationWhere(n, s.Where); err != nil {
		return nil, err
	}
	if err := singleTable(n, "delete"); err != nil {
		return nil, err
	}
	return &Lowered{Statement: out, Index: b.index, Spaces: []string{out.Table}}, nil
}

func (b *builder) mutationWhere(n *node, where sqm.Predicate) (sqlast.Predicate, error) {
	var preds []sqlast.Predicate
	if d := discriminatorRestriction(n); d != nil {
		preds = append(preds, d)
	}
	if where != nil {
		p, err := b.predicate(where)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return sqlast.And(preds...), nil
}

// singleTable fails when lowering a mutation needed a column outside the
// target's primary table.
func singleTable(n *node, verb string) error {
	if len(n.group.TableJoins) == 0 {
		return nil
	}
	return qerr.Unsupported(fmt.Sprintf("%s touching table %s of %s", verb, n.group.TableJoins[0].Ref.Table, n.entity.Name),
		qerr.Field("entity", n.entity.Name))
}

func secondaryTableOf(e *metamodel.Entity) (metamodel.SecondaryTable, bool) {
	for cur := e; cur != nil; cur = cur.Super() {
		if len(cur.SecondaryTables) > 0 {
			return cur.SecondaryTables[0], true
		}
	}
	return metamodel.SecondaryTable{}, false
}
