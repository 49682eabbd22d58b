package sqm

import (
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/param"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
)

// Context is the explicit compilation context threaded through analysis.
type Context struct {
	Model *metamodel.Model

	// ResultType optionally names the entity the caller expects each result
	// to be. A query without a select clause must have a single root of
	// that type.
	ResultType string

	// Instantiations resolves `select new Name(...)` targets.
	Instantiations *result.InstantiationRegistry

	// Substitutions replaces the entity of a from-clause root. It is used to
	// split a polymorphic query into one statement per concrete subtype.
	Substitutions map[*metamodel.Entity]*metamodel.Entity

	// Parameters, when set, receives the declared parameters so that
	// statements split from one query share them.
	Parameters *param.Metadata
}

// Analyze resolves a parsed statement against the metamodel.
//
// All errors are semantic (or unsupported-feature) errors and are reported
// before anything is cached.
func Analyze(ctx *Context, stmt parse.Statement) (Statement, error) {
	if ctx == nil || ctx.Model == nil {
		return nil, fmt.Errorf("sqm: analysis requires a metamodel")
	}
	params := ctx.Parameters
	if params == nil {
		params = param.NewMetadata()
	}
	a := &analyzer{
		ctx:     ctx,
		params:  params,
		aliases: make(map[string]Navigable),
		joins:   make(map[string]*Join),
	}

	switch s := stmt.(type) {
	case *parse.SelectStatement:
		out, err := a.selectStatement(s)
		if err != nil {
			return nil, err
		}
		out.signature = Format(out)
		return out, nil
	case *parse.UpdateStatement:
		out, err := a.updateStatement(s)
		if err != nil {
			return nil, err
		}
		out.signature = Format(out)
		return out, nil
	case *parse.DeleteStatement:
		out, err := a.deleteStatement(s)
		if err != nil {
			return nil, err
		}
		out.signature = Format(out)
		return out, nil
	default:
		return nil, qerr.Unsupported(fmt.Sprintf("statement %T", stmt))
	}
}

type analyzer struct {
	ctx    *Context
	params *param.Metadata

	roots   []*Root
	aliases map[string]Navigable

	// joins indexes every join by the key of its navigable path; implicit
	// navigation reuses an entry instead of joining again.
	joins map[string]*Join

	selectAliases map[string]Expr
	occurrences   int

	// preferForeignKey resolves a trailing owning to-one association to its
	// foreign key instead of joining the target. It is set while analyzing
	// predicates and grouping, where only the identifier is compared.
	preferForeignKey bool
}

func (a *analyzer) selectStatement(s *parse.SelectStatement) (*SelectStatement, error) {
	out := &SelectStatement{Distinct: s.Distinct, params: a.params}

	for _, from := range s.From {
		root, err := a.root(from.Entity, from.Alias)
		if err != nil {
			return nil, err
		}
		out.Roots = append(out.Roots, root)
	}
	for i, from := range s.From {
		for _, j := range from.Joins {
			if err := a.explicitJoin(out.Roots[i], j); err != nil {
				return nil, err
			}
		}
	}

	if s.Select == nil {
		if err := a.implicitSelection(out); err != nil {
			return nil, err
		}
	} else {
		a.selectAliases = make(map[string]Expr)
		for _, item := range s.Select {
			sel, err := a.selection(item)
			if err != nil {
				return nil, err
			}
			out.Selections = append(out.Selections, sel)
			if sel.Alias != "" {
				a.selectAliases[sel.Alias] = sel.Expr
			}
		}
		if err := a.checkResultType(out.Selections); err != nil {
			return nil, err
		}
	}

	var err error
	if s.Where != nil {
		if out.Where, err = a.predicate(s.Where); err != nil {
			return nil, err
		}
	}
	for _, g := range s.GroupBy {
		e, err := a.keyExpr(g)
		if err != nil {
			return nil, err
		}
		out.GroupBy = append(out.GroupBy, e)
	}
	if s.Having != nil {
		if out.Having, err = a.predicate(s.Having); err != nil {
			return nil, err
		}
	}
	for _, o := range s.OrderBy {
		e, err := a.sortExpr(o.Expr)
		if err != nil {
			return nil, err
		}
		out.OrderBy = append(out.OrderBy, &SortSpec{Expr: e, Descending: o.Descending})
	}
	if s.Limit != nil {
		if out.Limit, err = a.rowCount(s.Limit, "limit"); err != nil {
			return nil, err
		}
	}
	if s.Offset != nil {
		if out.Offset, err = a.rowCount(s.Offset, "offset"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *analyzer) implicitSelection(out *SelectStatement) error {
	if len(out.Roots) != 1 {
		return qerr.New(qerr.CodeSemanticAmbiguousSelect,
			fmt.Sprintf("query has %d roots and no select clause", len(out.Roots)))
	}
	root := out.Roots[0]
	if a.ctx.ResultType != "" {
		expected, ok := a.ctx.Model.Entity(a.ctx.ResultType)
		if !ok || !root.Entity.IsSubtypeOf(expected) {
			return qerr.New(qerr.CodeSemanticAmbiguousSelect,
				fmt.Sprintf("query root %s does not match result type %s", root.Entity.Name, a.ctx.ResultType),
				qerr.Field("result_type", a.ctx.ResultType))
		}
	}
	out.Selections = []*Selection{{Expr: root}}
	out.ImplicitSelection = true
	return nil
}

// checkResultType verifies an entity result type against an explicit
// selection. Result types that are not entities are not checked.
func (a *analyzer) checkResultType(selections []*Selection) error {
	if a.ctx.ResultType == "" {
		return nil
	}
	expected, ok := a.ctx.Model.Entity(a.ctx.ResultType)
	if !ok {
		return nil
	}
	if len(selections) == 1 {
		if t := selections[0].Expr.ValueType(); t.Entity != nil && t.Entity.IsSubtypeOf(expected) {
			return nil
		}
	}
	return qerr.New(qerr.CodeSemanticAmbiguousSelect,
		fmt.Sprintf("selection does not match result type %s", expected.Name),
		qerr.Field("result_type", a.ctx.ResultType))
}

func (a *analyzer) root(name, alias string) (*Root, error) {
	entity, ok := a.ctx.Model.Entity(name)
	if !ok {
		return nil, qerr.New(qerr.CodeSemanticUnknownEntity,
			fmt.Sprintf("unknown entity %q", name), qerr.Field("entity", name))
	}
	if sub, ok := a.ctx.Substitutions[entity]; ok {
		entity = sub
	}
	pathName := alias
	if pathName == "" {
		pathName = entity.Name
	}
	if err := a.checkAlias(pathName); err != nil {
		return nil, err
	}
	root := &Root{Path: navpath.Root(pathName), Entity: entity, Alias: alias}
	a.aliases[pathName] = root
	a.roots = append(a.roots, root)
	return root, nil
}

func (a *analyzer) checkAlias(alias string) error {
	if _, dup := a.aliases[alias]; dup {
		return qerr.New(qerr.CodeSemanticUnresolvedPath,
			fmt.Sprintf("alias %q is defined more than once", alias), qerr.Field("alias", alias))
	}
	return nil
}

func (a *analyzer) selection(item *parse.SelectItem) (*Selection, error) {
	if inst, ok := item.Expr.(*parse.Instantiation); ok {
		e, err := a.instantiation(inst)
		if err != nil {
			return nil, err
		}
		return &Selection{Expr: e, Alias: item.Alias}, nil
	}
	a.preferForeignKey = false
	e, err := a.expr(item.Expr)
	if err != nil {
		return nil, err
	}
	return &Selection{Expr: e, Alias: item.Alias}, nil
}

func (a *analyzer) instantiation(inst *parse.Instantiation) (Expr, error) {
	out := &Instantiation{}
	aliases := make([]string, len(inst.Args))
	for i, arg := range inst.Args {
		if _, nested := arg.Expr.(*parse.Instantiation); nested {
			return nil, qerr.Unsupported("nested instantiation")
		}
		sel, err := a.selection(arg)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, sel)
		aliases[i] = arg.Alias
	}

	switch inst.Kind {
	case parse.InstantiateList:
		out.Target = result.ListInstantiator()
	case parse.InstantiateMap:
		out.Target = result.MapInstantiator(aliases)
	default:
		target, err := a.ctx.Instantiations.Resolve(inst.ClassName, aliases)
		if err != nil {
			return nil, err
		}
		out.Target = target
	}
	return out, nil
}

// keyExpr analyzes a grouping expression.
func (a *analyzer) keyExpr(e parse.Expr) (Expr, error) {
	saved := a.preferForeignKey
	a.preferForeignKey = true
	defer func() { a.preferForeignKey = saved }()
	return a.expr(e)
}

// sortExpr resolves an order-by expression; a bare identifier may name a
// selection alias.
func (a *analyzer) sortExpr(e parse.Expr) (Expr, error) {
	if p, ok := e.(*parse.PathExpr); ok && len(p.Parts) == 1 {
		if sel, ok := a.selectAliases[p.Parts[0]]; ok {
			return sel, nil
		}
	}
	return a.keyExpr(e)
}

func (a *analyzer) rowCount(e parse.Expr, clause string) (Expr, error) {
	switch n := e.(type) {
	case *parse.Literal:
		if n.Kind != parse.LitInteger {
			return nil, qerr.New(qerr.CodeSemanticTypeMismatch, clause+" requires an integer")
		}
	case *parse.NamedParam, *parse.PositionalParam:
	default:
		return nil, qerr.Unsupported(clause + " expression")
	}
	out, err := a.expr(e)
	if err != nil {
		return nil, err
	}
	a.infer(out, basic(metamodel.TypeInteger))
	return out, nil
}

func (a *analyzer) updateStatement(s *parse.UpdateStatement) (*UpdateStatement, error) {
	root, err := a.root(s.Entity, s.Alias)
	if err != nil {
		return nil, err
	}
	out := &UpdateStatement{Target: root, params: a.params}

	a.preferForeignKey = true
	for _, set := range s.Set {
		target, err := a.resolvePath(set.Path)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case *AttributeRef:
			if t.Owner != Navigable(root) {
				return nil, qerr.Unsupported("update of an attribute of a joined entity", qerr.FieldPath(set.Path.String()))
			}
		case *ForeignKeyRef:
			if t.Owner != Navigable(root) {
				return nil, qerr.Unsupported("update of an attribute of a joined entity", qerr.FieldPath(set.Path.String()))
			}
		default:
			return nil, qerr.New(qerr.CodeSemanticInvalidDereference,
				fmt.Sprintf("%s is not an assignable attribute", set.Path), qerr.FieldPath(set.Path.String()))
		}
		value, err := a.expr(set.Value)
		if err != nil {
			return nil, err
		}
		if err := a.compatible("=", target, value); err != nil {
			return nil, err
		}
		out.Assignments = append(out.Assignments, &Assignment{Target: target, Value: value})
	}
	if s.Where != nil {
		if out.Where, err = a.predicate(s.Where); err != nil {
			return nil, err
		}
	}
	if len(root.Joins) > 0 {
		return nil, qerr.Unsupported("implicit join in update")
	}
	return out, nil
}

func (a *analyzer) deleteStatement(s *parse.DeleteStatement) (*DeleteStatement, error) {
	root, err := a.root(s.Entity, s.Alias)
	if err != nil {
		return nil, err
	}
	out := &DeleteStatement{Target: root, params: a.params}
	if s.Where != nil {
		if out.Where, err = a.predicate(s.Where); err != nil {
			return nil, err
		}
	}
	if len(root.Joins) > 0 {
		return nil, qerr.Unsupported("implicit join in delete")
	}
	return out, nil
}
