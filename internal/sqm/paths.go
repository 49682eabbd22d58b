package sqm

import (
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
)

// resolvePath resolves a dotted path. The first segment is an alias; when it
// is not, and the statement has a single root, the whole path is taken
// relative to that root.
func (a *analyzer) resolvePath(pe *parse.PathExpr) (Expr, error) {
	parts := pe.Parts
	full := pe.String()

	var cur Navigable
	rest := parts
	if n, ok := a.aliases[parts[0]]; ok {
		cur, rest = n, parts[1:]
	} else if len(a.roots) == 1 {
		cur = a.roots[0]
	} else {
		return nil, unresolvedPath(full, parts[0])
	}
	if len(rest) == 0 {
		return cur, nil
	}
	return a.navigate(cur, rest, full)
}

// lookupAttribute finds name on entity or, when the entity has subclasses, on
// one of its subtypes.
func lookupAttribute(entity *metamodel.Entity, name string) (attr *metamodel.Attribute, subtypeOnly bool, ok bool) {
	if attr, ok := entity.Attribute(name); ok {
		return attr, false, true
	}
	if entity.HasSubclasses() {
		if attr, ok := entity.SubtypeAttribute(name); ok {
			return attr, true, true
		}
	}
	return nil, false, false
}

func (a *analyzer) navigate(cur Navigable, parts []string, full string) (Expr, error) {
	for i, part := range parts {
		last := i == len(parts)-1
		attr, subtypeOnly, ok := lookupAttribute(cur.EntityType(), part)
		if !ok {
			return nil, unresolvedPath(full, part)
		}
		path := cur.NavigablePath().Append(part)

		switch {
		case attr.Kind == metamodel.KindBasic:
			if !last {
				return nil, invalidDereference(full, part)
			}
			return &AttributeRef{Path: path, Owner: cur, Attribute: attr, SubtypeOnly: subtypeOnly}, nil

		case attr.Kind == metamodel.KindEmbedded:
			return a.navigateEmbedded(cur, []*metamodel.Attribute{attr}, path, parts[i+1:], full, subtypeOnly)
		}

		if fk, ok := a.foreignKey(cur, attr, path, parts[i+1:]); ok {
			return fk, nil
		}
		join, err := a.implicitJoin(cur, attr, path, subtypeOnly, last, full)
		if err != nil {
			return nil, err
		}
		if last {
			return join, nil
		}
		cur = join
	}
	return cur, nil
}

// foreignKey short-circuits `x.assoc.id` (and `x.assoc` in predicates) to the
// foreign key column when the association is the owning side and has not
// been joined already.
func (a *analyzer) foreignKey(owner Navigable, attr *metamodel.Attribute, path *navpath.Path, rest []string) (*ForeignKeyRef, bool) {
	if !attr.IsOwningSide() {
		return nil, false
	}
	if _, joined := a.joins[path.Key()]; joined {
		return nil, false
	}
	switch len(rest) {
	case 0:
		if a.preferForeignKey {
			return &ForeignKeyRef{Path: path, Owner: owner, Association: attr}, true
		}
	case 1:
		id := attr.TargetEntity().IDAttribute()
		if id != nil && id.Name == rest[0] {
			return &ForeignKeyRef{Path: path.Append(id.Name), Owner: owner, Association: attr}, true
		}
	}
	return nil, false
}

func (a *analyzer) navigateEmbedded(owner Navigable, chain []*metamodel.Attribute, path *navpath.Path, rest []string, full string, subtypeOnly bool) (Expr, error) {
	attr := chain[len(chain)-1]
	if len(rest) == 0 {
		return &EmbeddedRef{Path: path, Owner: owner, Embedded: chain[:len(chain)-1], Attribute: attr}, nil
	}
	member, ok := attr.TargetEmbeddable().Attribute(rest[0])
	if !ok {
		return nil, unresolvedPath(full, rest[0])
	}
	path = path.Append(rest[0])
	switch member.Kind {
	case metamodel.KindBasic:
		if len(rest) > 1 {
			return nil, invalidDereference(full, rest[0])
		}
		return &AttributeRef{Path: path, Owner: owner, Embedded: chain, Attribute: member, SubtypeOnly: subtypeOnly}, nil
	case metamodel.KindEmbedded:
		next := append(append([]*metamodel.Attribute(nil), chain...), member)
		return a.navigateEmbedded(owner, next, path, rest[1:], full, subtypeOnly)
	default:
		return nil, qerr.Unsupported("association inside an embeddable", qerr.FieldPath(full))
	}
}

// implicitJoin returns the join registered for path or creates one.
//
// Implicit joins are inner joins, except for associations declared only on
// a subtype (an inner join would drop rows of the other types) and joins
// hanging off an outer join.
func (a *analyzer) implicitJoin(parent Navigable, attr *metamodel.Attribute, path *navpath.Path, subtypeOnly, last bool, full string) (*Join, error) {
	if existing, ok := a.joins[path.Key()]; ok {
		return existing, nil
	}
	if attr.Kind.IsPlural() && !last {
		return nil, qerr.New(qerr.CodeSemanticInvalidDereference,
			fmt.Sprintf("cannot navigate through collection %s in %s; join it explicitly", attr, full),
			qerr.FieldPath(full))
	}
	typ := JoinInner
	if subtypeOnly || isOuter(parent) {
		typ = JoinLeft
	}
	join := &Join{
		Path:        path,
		Parent:      parent,
		Attribute:   attr,
		Target:      attr.TargetEntity(),
		Type:        typ,
		SubtypeOnly: subtypeOnly,
	}
	parent.addJoin(join)
	a.joins[path.Key()] = join
	return join, nil
}

func isOuter(n Navigable) bool {
	j, ok := n.(*Join)
	return ok && (j.Type == JoinLeft || j.Type == JoinFull)
}

func (a *analyzer) explicitJoin(root *Root, pj *parse.Join) error {
	parts := pj.Path.Parts
	full := pj.Path.String()

	if len(parts) == 1 {
		if _, isAlias := a.aliases[parts[0]]; !isAlias {
			if entity, ok := a.ctx.Model.Entity(parts[0]); ok {
				return a.entityJoin(root, entity, pj)
			}
		}
	}

	saved := a.preferForeignKey
	a.preferForeignKey = false
	defer func() { a.preferForeignKey = saved }()

	parent := Navigable(root)
	if len(parts) > 1 {
		prefix, err := a.resolvePath(&parse.PathExpr{Parts: parts[:len(parts)-1], Pos: pj.Path.Pos})
		if err != nil {
			return err
		}
		n, ok := prefix.(Navigable)
		if !ok {
			return invalidDereference(full, parts[len(parts)-2])
		}
		parent = n
	}
	name := parts[len(parts)-1]
	attr, subtypeOnly, ok := lookupAttribute(parent.EntityType(), name)
	if !ok {
		return unresolvedPath(full, name)
	}
	if !attr.Kind.IsAssociation() {
		return qerr.New(qerr.CodeSemanticInvalidDereference,
			fmt.Sprintf("%s is not an association and cannot be joined", attr), qerr.FieldPath(full))
	}

	typ, err := joinType(pj.Kind)
	if err != nil {
		return err
	}
	if typ == JoinCross {
		return qerr.Unsupported("cross join of an association", qerr.FieldPath(full))
	}
	if pj.Fetch && pj.With != nil {
		return qerr.Unsupported("with clause on a fetch join", qerr.FieldPath(full))
	}

	path := parent.NavigablePath().Append(name)
	if existing, taken := a.joins[path.Key()]; taken {
		if !existing.Explicit {
			// An earlier join path created this join implicitly; the
			// explicit join takes it over.
			existing.Explicit = true
			existing.Type = typ
			existing.Fetch = pj.Fetch
			return a.finishJoin(existing, pj)
		}
		// A second explicit join of the same association is a distinct join.
		path = parent.NavigablePath().Append(name + "(" + pj.Alias + ")")
	}

	join := &Join{
		Path:        path,
		Parent:      parent,
		Attribute:   attr,
		Target:      attr.TargetEntity(),
		Type:        typ,
		Fetch:       pj.Fetch,
		Explicit:    true,
		SubtypeOnly: subtypeOnly,
	}
	parent.addJoin(join)
	a.joins[path.Key()] = join
	return a.finishJoin(join, pj)
}

func (a *analyzer) entityJoin(root *Root, entity *metamodel.Entity, pj *parse.Join) error {
	typ, err := joinType(pj.Kind)
	if err != nil {
		return err
	}
	if pj.Fetch {
		return qerr.Unsupported("fetch of an entity join")
	}
	if typ != JoinCross && pj.With == nil {
		return qerr.New(qerr.CodeSemanticInvalidDereference,
			fmt.Sprintf("entity join of %s needs a with condition", entity.Name))
	}
	name := pj.Alias
	if name == "" {
		name = entity.Name
	}
	join := &Join{
		Path:     navpath.Root(name),
		Parent:   root,
		Target:   entity,
		Type:     typ,
		Explicit: true,
	}
	root.addJoin(join)
	a.joins[join.Path.Key()] = join
	return a.finishJoin(join, pj)
}

func (a *analyzer) finishJoin(join *Join, pj *parse.Join) error {
	if pj.Alias != "" {
		if err := a.checkAlias(pj.Alias); err != nil {
			return err
		}
		join.Alias = pj.Alias
		a.aliases[pj.Alias] = join
	}
	if pj.With != nil {
		pred, err := a.predicate(pj.With)
		if err != nil {
			return err
		}
		join.With = pred
	}
	return nil
}

func joinType(k parse.JoinKind) (JoinType, error) {
	switch k {
	case parse.JoinInner:
		return JoinInner, nil
	case parse.JoinLeft:
		return JoinLeft, nil
	case parse.JoinRight:
		return JoinRight, nil
	case parse.JoinFull:
		return JoinFull, nil
	case parse.JoinCross:
		return JoinCross, nil
	}
	return JoinInner, qerr.Unsupported(fmt.Sprintf("join kind %s", k))
}

func unresolvedPath(full, segment string) error {
	return qerr.New(qerr.CodeSemanticUnresolvedPath,
		fmt.Sprintf("could not resolve %q in path %s", segment, full),
		qerr.FieldPath(full), qerr.Field("segment", segment))
}

func invalidDereference(full, segment string) error {
	return qerr.New(qerr.CodeSemanticInvalidDereference,
		fmt.Sprintf("cannot dereference %q in path %s", segment, full),
		qerr.FieldPath(full), qerr.Field("segment", segment))
}
