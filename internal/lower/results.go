package lower

import (
	"fmt"
	"sort"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
)

// addColumn selects e and returns its position. A column is selected once
// however many descriptors read it.
func (b *builder) addColumn(e sqlast.Expression) int {
	if col, ok := e.(*sqlast.ColumnReference); ok {
		key := col.Column
		if col.Table != nil {
			key = col.Table.Alias + "." + key
		}
		if i, ok := b.columnIndex[key]; ok {
			return i
		}
		b.columnIndex[key] = len(b.columns)
	}
	b.columns = append(b.columns, e)
	return len(b.columns) - 1
}

func (b *builder) domainResult(sel *sqm.Selection) (result.DomainResult, error) {
	switch e := sel.Expr.(type) {
	case sqm.Navigable:
		n, err := b.nodeOf(e)
		if err != nil {
			return nil, err
		}
		m, err := b.entityMapping(n, n.resultPath(), nil)
		if err != nil {
			return nil, err
		}
		return &result.EntityResult{Mapping: m}, nil

	case *sqm.EmbeddedRef:
		owner, err := b.nodeOf(e.Owner)
		if err != nil {
			return nil, err
		}
		f, err := b.embeddableFetch(owner, e.Embedded, e.Attribute, e.Path)
		if err != nil {
			return nil, err
		}
		return &result.EmbeddableResult{Embedded: f}, nil

	case *sqm.Instantiation:
		out := &result.InstantiationResult{Target: e.Target}
		for _, arg := range e.Args {
			r, err := b.domainResult(arg)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, r)
		}
		return out, nil
	}

	x, err := b.expr(sel.Expr)
	if err != nil {
		return nil, err
	}
	return &result.BasicResult{Column: b.addColumn(x), Type: sel.Expr.ValueType().BasicOf()}, nil
}

// entityMapping describes how the entity of n is read at path. producer is
// the association that led to path within the current result, nil for a
// selected entity.
func (b *builder) entityMapping(n *node, path *navpath.Path, producer *metamodel.Attribute) (*result.EntityMapping, error) {
	e := n.entity
	root := e.Root()
	m := &result.EntityMapping{
		Path:                path,
		Entity:              e,
		IDColumn:            b.addColumn(b.column(n.group.Primary, e.IDAttribute().Column)),
		DiscriminatorColumn: -1,
	}

	switch e.InheritanceStrategy() {
	case metamodel.InheritanceSingleTable:
		if root.DiscriminatorColumn != "" && root.HasSubclasses() {
			m.DiscriminatorColumn = b.addColumn(b.column(n.group.Primary, root.DiscriminatorColumn))
		}
	case metamodel.InheritanceJoined:
		for _, sub := range descendants(e) {
			ref, err := n.group.ResolveTableReference(sub.Table)
			if err != nil {
				return nil, err
			}
			m.Subtypes = append(m.Subtypes, result.SubtypeColumn{
				Entity: sub,
				Column: b.addColumn(b.column(ref, root.ID.Column)),
			})
		}
	}

	for _, attr := range attributesOf(e) {
		switch {
		case attr.Kind == metamodel.KindBasic:
			col, err := b.attributeColumn(n, nil, attr)
			if err != nil {
				return nil, err
			}
			m.Values = append(m.Values, result.ColumnValue{Attribute: attr, Column: b.addColumn(col)})
		case attr.Kind == metamodel.KindEmbedded:
			f, err := b.embeddableFetch(n, nil, attr, path.Append(attr.Name))
			if err != nil {
				return nil, err
			}
			m.Fetches = append(m.Fetches, f)
		default:
			f, err := b.associationFetch(n, path, producer, attr)
			if err != nil {
				return nil, err
			}
			m.Fetches = append(m.Fetches, f)
		}
	}
	return m, nil
}

// associationFetch decides how attr is materialized under path: reuse of
// the ancestor for a circular fetch, a fetch-joined group, or a select or
// delayed fetch with the eagerness of the association.
func (b *builder) associationFetch(n *node, path *navpath.Path, producer, attr *metamodel.Attribute) (result.Fetch, error) {
	fetchPath := path.Append(attr.Name)
	if attr.Kind.IsToOne() {
		circular, err := b.detector.Detect(path, producer, attr)
		if err != nil {
			return nil, err
		}
		if circular != nil {
			return circular, nil
		}
	}

	if child := n.fetchChild(attr); child != nil {
		if attr.Kind.IsPlural() {
			elem, err := b.entityMapping(child, fetchPath.Element(), attr)
			if err != nil {
				return nil, err
			}
			return &result.CollectionJoinedFetch{Path: fetchPath, Attribute: attr, Element: elem}, nil
		}
		m, err := b.entityMapping(child, fetchPath, attr)
		if err != nil {
			return nil, err
		}
		return &result.EntityJoinedFetch{Path: fetchPath, Attribute: attr, Mapping: m}, nil
	}

	immediate := attr.Timing == metamodel.FetchImmediate
	switch {
	case attr.IsOwningSide():
		col, err := b.foreignKeyColumn(n, attr)
		if err != nil {
			return nil, err
		}
		fk := b.addColumn(col)
		if immediate {
			return &result.EntitySelectFetch{Path: fetchPath, Attribute: attr, FKColumn: fk}, nil
		}
		return &result.EntityDelayedFetch{Path: fetchPath, Attribute: attr, FKColumn: fk}, nil
	case attr.Kind.IsToOne():
		if immediate {
			return &result.CollectionSelectFetch{Path: fetchPath, Attribute: attr}, nil
		}
		return &result.EntityDelayedFetch{Path: fetchPath, Attribute: attr, FKColumn: -1}, nil
	case attr.Kind.IsPlural():
		if immediate {
			return &result.CollectionSelectFetch{Path: fetchPath, Attribute: attr}, nil
		}
		return &result.CollectionDelayedFetch{Path: fetchPath, Attribute: attr}, nil
	}
	return nil, qerr.Unsupported(fmt.Sprintf("fetch of %s", attr), qerr.FieldPath(fetchPath.FullPath()))
}

func (b *builder) embeddableFetch(n *node, chain []*metamodel.Attribute, attr *metamodel.Attribute, path *navpath.Path) (*result.EmbeddableFetch, error) {
	full := append(append([]*metamodel.Attribute(nil), chain...), attr)
	f := &result.EmbeddableFetch{Path: path, Attribute: attr}
	for _, member := range attr.TargetEmbeddable().Attributes {
		switch member.Kind {
		case metamodel.KindBasic:
			col, err := b.attributeColumn(n, full, member)
			if err != nil {
				return nil, err
			}
			f.Members = append(f.Members, result.ColumnValue{Attribute: member, Column: b.addColumn(col)})
		case metamodel.KindEmbedded:
			nested, err := b.embeddableFetch(n, full, member, path.Append(member.Name))
			if err != nil {
				return nil, err
			}
			f.Nested = append(f.Nested, nested)
		}
	}
	return f, nil
}

// attributesOf returns the attributes read for instances of e: its own and
// inherited ones, plus those of its subtypes when they share e's rows.
func attributesOf(e *metamodel.Entity) []*metamodel.Attribute {
	out := e.AllAttributes()
	if e.InheritanceStrategy() == metamodel.InheritanceTablePerClass {
		return out
	}
	for _, sub := range descendants(e) {
		out = append(out, sub.Attributes...)
	}
	return out
}

// descendants returns the subtypes of e below it, most specific first.
func descendants(e *metamodel.Entity) []*metamodel.Entity {
	type entry struct {
		entity *metamodel.Entity
		depth  int
	}
	var all []entry
	var walk func(*metamodel.Entity, int)
	walk = func(cur *metamodel.Entity, depth int) {
		for _, sub := range cur.Subtypes() {
			all = append(all, entry{sub, depth})
			walk(sub, depth+1)
		}
	}
	walk(e, 1)
	sort.SliceStable(all, func(i, j int) bool { return all[i].depth > all[j].depth })
	out := make([]*metamodel.Entity, len(all))
	for i, en := range all {
		out[i] = en.entity
	}
	return out
}
