package sqlast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/qerr"
)

// JoinKind is the SQL join type.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinLeft:
		return "LEFT JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL JOIN"
	case JoinCross:
		return "CROSS JOIN"
	default:
		return "JOIN"
	}
}

// TableReference is one physical table in a FROM clause.
type TableReference struct {
	Table string
	Alias string
}

// Column returns a reference to a column of this table.
func (t *TableReference) Column(name string) *ColumnReference {
	return &ColumnReference{Table: t, Column: name}
}

// TableReferenceJoin joins an additional table of the same TableGroup.
type TableReferenceJoin struct {
	Kind JoinKind
	Ref  *TableReference
	On   Predicate
}

// TableGroupJoin joins another TableGroup (an association or entity join).
type TableGroupJoin struct {
	Kind  JoinKind
	Group *TableGroup
	On    Predicate
}

// TableGroup is the set of tables holding the state of the entity at one
// navigable path.
type TableGroup struct {
	Path    *navpath.Path
	Entity  *metamodel.Entity
	Primary *TableReference

	// TableJoins are created on demand by ResolveTableReference.
	TableJoins []*TableReferenceJoin

	GroupJoins []*TableGroupJoin

	aliases *AliasGenerator
}

// NewTableGroup creates a group whose primary table is the entity's own
// table (the hierarchy table for single-table inheritance).
func NewTableGroup(path *navpath.Path, entity *metamodel.Entity, aliases *AliasGenerator) (*TableGroup, error) {
	table := PrimaryTable(entity)
	if table == "" {
		return nil, qerr.Unsupported(fmt.Sprintf("query root %s without a table", entity.Name),
			qerr.Field("entity", entity.Name))
	}
	return &TableGroup{
		Path:    path,
		Entity:  entity,
		Primary: &TableReference{Table: table, Alias: aliases.Next(table)},
		aliases: aliases,
	}, nil
}

// PrimaryTable returns the table holding the identifier of entity instances.
func PrimaryTable(entity *metamodel.Entity) string {
	if entity.InheritanceStrategy() == metamodel.InheritanceSingleTable {
		return entity.Root().Table
	}
	return entity.Table
}

// IDColumn returns the identifier column of the primary table.
func (g *TableGroup) IDColumn() *ColumnReference {
	return g.Primary.Column(g.Entity.IDAttribute().Column)
}

// Join adds a group join.
func (g *TableGroup) Join(kind JoinKind, target *TableGroup, on Predicate) *TableGroupJoin {
	j := &TableGroupJoin{Kind: kind, Group: target, On: on}
	g.GroupJoins = append(g.GroupJoins, j)
	return j
}

// ResolveTableReference returns the reference for table within the group,
// joining it the first time it is needed.
//
// Supertype tables of a joined hierarchy are inner joined (every instance
// has a row there); subtype tables and secondary tables are left joined.
// Repeated calls for the same table return the same reference.
func (g *TableGroup) ResolveTableReference(table string) (*TableReference, error) {
	if table == "" || table == g.Primary.Table {
		return g.Primary, nil
	}
	for _, j := range g.TableJoins {
		if j.Ref.Table == table {
			return j.Ref, nil
		}
	}

	kind, key, ok := g.tableJoinKind(table)
	if !ok {
		return nil, qerr.New(qerr.CodeSemanticUnresolvedPath,
			fmt.Sprintf("table %s is not mapped by %s", table, g.Entity.Name),
			qerr.FieldPath(g.Path.FullPath()), qerr.Field("table", table))
	}
	ref := &TableReference{Table: table, Alias: g.aliases.Next(table)}
	g.TableJoins = append(g.TableJoins, &TableReferenceJoin{
		Kind: kind,
		Ref:  ref,
		On:   &Comparison{Op: "=", Left: ref.Column(key), Right: g.IDColumn()},
	})
	return ref, nil
}

// tableJoinKind classifies table relative to the group's entity and
// returns the join kind and the key column of table.
func (g *TableGroup) tableJoinKind(table string) (JoinKind, string, bool) {
	id := g.Entity.IDAttribute().Column
	if st, ok := g.Entity.SecondaryTable(table); ok {
		return JoinLeft, st.KeyColumn, true
	}
	if g.Entity.InheritanceStrategy() != metamodel.InheritanceJoined {
		return 0, "", false
	}
	for cur := g.Entity.Super(); cur != nil; cur = cur.Super() {
		if cur.Table == table {
			return JoinInner, id, true
		}
	}
	var found bool
	var walk func(*metamodel.Entity)
	walk = func(e *metamodel.Entity) {
		for _, sub := range e.Subtypes() {
			if sub.Table == table {
				found = true
				return
			}
			walk(sub)
		}
	}
	walk(g.Entity)
	if found {
		return JoinLeft, id, true
	}
	return 0, "", false
}

// AliasGenerator issues table aliases for one statement build. Aliases are
// the first letter of the table followed by a counter shared by all stems,
// so the sequence is deterministic and never collides.
type AliasGenerator struct {
	n int
}

// Next returns a fresh alias for a table.
func (a *AliasGenerator) Next(table string) string {
	a.n++
	stem := "t"
	if table != "" {
		stem = strings.ToLower(table[:1])
	}
	return stem + strconv.Itoa(a.n)
}

// FromClauseIndex maps navigable paths to their table groups. Structurally
// equal paths find the same group.
type FromClauseIndex struct {
	groups map[string]*TableGroup
}

// NewFromClauseIndex creates an empty index.
func NewFromClauseIndex() *FromClauseIndex {
	return &FromClauseIndex{groups: make(map[string]*TableGroup)}
}

// Register records g under its path. Registering a second group for an equal
// path is a programming error and fails.
func (x *FromClauseIndex) Register(g *TableGroup) error {
	key := g.Path.Key()
	if existing, ok := x.groups[key]; ok && existing != g {
		return fmt.Errorf("sqlast: table group for %s registered twice", g.Path)
	}
	x.groups[key] = g
	return nil
}

// Find returns the group registered for path.
func (x *FromClauseIndex) Find(path *navpath.Path) (*TableGroup, bool) {
	g, ok := x.groups[path.Key()]
	return g, ok
}
