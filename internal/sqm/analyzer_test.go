package sqm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqm"
	"github.com/roach88/orq/internal/testutil"
)

type summary struct {
	Name  string
	Count int64
}

func analyze(t *testing.T, ctx *sqm.Context, text string) (sqm.Statement, error) {
	t.Helper()
	stmt, err := parse.Parse(text)
	require.NoError(t, err)
	return sqm.Analyze(ctx, stmt)
}

func newContext(t *testing.T) *sqm.Context {
	reg := result.NewInstantiationRegistry()
	result.RegisterStruct[summary](reg, "com.acme.Summary")
	return &sqm.Context{Model: testutil.Model(t), Instantiations: reg}
}

func mustSelect(t *testing.T, ctx *sqm.Context, text string) *sqm.SelectStatement {
	t.Helper()
	stmt, err := analyze(t, ctx, text)
	require.NoError(t, err)
	sel, ok := stmt.(*sqm.SelectStatement)
	require.True(t, ok)
	return sel
}

func TestAnalyze_ImplicitSelection(t *testing.T) {
	sel := mustSelect(t, newContext(t), "from Parent p")
	require.Len(t, sel.Selections, 1)
	assert.True(t, sel.ImplicitSelection)
	root, ok := sel.Selections[0].Expr.(*sqm.Root)
	require.True(t, ok)
	assert.Equal(t, "Parent", root.Entity.Name)
	assert.Equal(t, "p", root.Path.FullPath())
}

func TestAnalyze_AmbiguousImplicitSelection(t *testing.T) {
	ctx := newContext(t)
	_, err := analyze(t, ctx, "from Parent p, Child c")
	require.Error(t, err)
	assert.Equal(t, qerr.CodeSemanticAmbiguousSelect, qerr.CodeOf(err))

	ctx.ResultType = "Child"
	_, err = analyze(t, ctx, "from Parent p")
	require.Error(t, err)
	assert.Equal(t, qerr.CodeSemanticAmbiguousSelect, qerr.CodeOf(err))

	ctx.ResultType = "Animal"
	_, err = analyze(t, ctx, "from Dog d")
	assert.NoError(t, err)
}

func TestAnalyze_UnresolvedPath(t *testing.T) {
	_, err := analyze(t, newContext(t), "from Parent p where p.nickname = 'x'")
	require.Error(t, err)
	assert.True(t, qerr.IsSemantic(err))
	assert.Equal(t, qerr.CodeSemanticUnresolvedPath, qerr.CodeOf(err))
	assert.Equal(t, "p.nickname", qerr.FieldsOf(err)["path"])

	_, err = analyze(t, newContext(t), "from Nope n")
	assert.Equal(t, qerr.CodeSemanticUnknownEntity, qerr.CodeOf(err))
}

func TestAnalyze_ImplicitJoinReuse(t *testing.T) {
	sel := mustSelect(t, newContext(t), "select c.parent.name from Child c where c.parent.name = 'p1' and c.parent.id = 1")
	root := sel.Roots[0]
	require.Len(t, root.Joins, 1, "both navigations share one join")
	join := root.Joins[0]
	assert.Equal(t, "c.parent", join.Path.FullPath())
	assert.Equal(t, sqm.JoinInner, join.Type)
	assert.False(t, join.Explicit)

	attr := sel.Selections[0].Expr.(*sqm.AttributeRef)
	assert.Same(t, join, attr.Owner)
}

func TestAnalyze_ForeignKeyShortcut(t *testing.T) {
	sel := mustSelect(t, newContext(t), "from Child c where c.parent.id = :pid")
	assert.Empty(t, sel.Roots[0].Joins)
	cmp := sel.Where.(*sqm.Comparison)
	fk, ok := cmp.Left.(*sqm.ForeignKeyRef)
	require.True(t, ok)
	assert.Equal(t, "parent", fk.Association.Name)
	assert.Equal(t, metamodel.TypeInteger, cmp.Right.(*sqm.Parameter).Param.Type())
}

func TestAnalyze_ExplicitJoinIsReusedByNavigation(t *testing.T) {
	sel := mustSelect(t, newContext(t), "select p from Parent p join p.children c where p.children.name = 'c10'")
	root := sel.Roots[0]
	require.Len(t, root.Joins, 1)
	assert.Equal(t, "c", root.Joins[0].Alias)
	assert.True(t, root.Joins[0].Explicit)
}

func TestAnalyze_CollectionDereferenceNeedsJoin(t *testing.T) {
	_, err := analyze(t, newContext(t), "from Parent p where p.children.name = 'x'")
	require.Error(t, err)
	assert.Equal(t, qerr.CodeSemanticInvalidDereference, qerr.CodeOf(err))
}

func TestAnalyze_SubtypeAttributeJoinsLeft(t *testing.T) {
	sel := mustSelect(t, newContext(t), "select a.owner.name from Animal a")
	join := sel.Roots[0].Joins[0]
	assert.True(t, join.SubtypeOnly)
	assert.Equal(t, sqm.JoinLeft, join.Type)

	sel = mustSelect(t, newContext(t), "from Animal a where a.barks = true")
	attr := sel.Where.(*sqm.Comparison).Left.(*sqm.AttributeRef)
	assert.True(t, attr.SubtypeOnly)
	assert.Equal(t, "Dog", attr.Attribute.Declaring().Name)
}

func TestAnalyze_ParameterOccurrencesShareParameter(t *testing.T) {
	sel := mustSelect(t, newContext(t), "from Child c where c.name = :n or upper(c.name) = :n")
	params := sel.Parameters().Parameters()
	require.Len(t, params, 1)

	or := sel.Where.(*sqm.Junction)
	first := or.Predicates[0].(*sqm.Comparison).Right.(*sqm.Parameter)
	second := or.Predicates[1].(*sqm.Comparison).Right.(*sqm.Parameter)
	assert.NotSame(t, first, second)
	assert.Same(t, first.Param, second.Param)
	assert.Equal(t, metamodel.TypeString, first.Param.Type())
}

func TestAnalyze_InListParameterAllowsMultipleValues(t *testing.T) {
	sel := mustSelect(t, newContext(t), "from Child c where c.id in :ids")
	p := sel.Parameters().Parameters()[0]
	assert.True(t, p.AllowsMultiValued())
	assert.Equal(t, metamodel.TypeInteger, p.Type())
}

func TestAnalyze_TypeMismatch(t *testing.T) {
	for _, text := range []string{
		"from Child c where c.name = 1",
		"from Child c where c.rank like 'x'",
		"from Child c where c.rank = 'x'",
		"from Child c, Parent p where c = p",
		"select sum(c.name) from Child c",
		"from Child c where c.name",
		"from Child c where c.name > {ts 'tomorrow'}",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := analyze(t, newContext(t), text)
			require.Error(t, err)
			assert.True(t, qerr.IsSemantic(err), "got %v", err)
		})
	}
}

func TestAnalyze_EmbeddedAndSecondaryTable(t *testing.T) {
	sel := mustSelect(t, newContext(t), "select p.home, p.home.city, p.bio from Person p")
	emb := sel.Selections[0].Expr.(*sqm.EmbeddedRef)
	assert.Equal(t, "Address", emb.Attribute.TargetEmbeddable().Name)

	city := sel.Selections[1].Expr.(*sqm.AttributeRef)
	require.Len(t, city.Embedded, 1)
	assert.Equal(t, "home", city.Embedded[0].Name)
	assert.Equal(t, "p.home.city", city.Path.FullPath())

	bio := sel.Selections[2].Expr.(*sqm.AttributeRef)
	assert.Equal(t, "person_detail", bio.Attribute.Table)
}

func TestAnalyze_Instantiations(t *testing.T) {
	sel := mustSelect(t, newContext(t), "select new Summary(count(c) as count, p.name as name) from Parent p join p.children c group by p.name")
	inst := sel.Selections[0].Expr.(*sqm.Instantiation)
	out, err := inst.Target.Build([]any{int64(2), "p1"})
	require.NoError(t, err)
	assert.Equal(t, summary{Name: "p1", Count: 2}, out)

	_, err = analyze(t, newContext(t), "select new com.acme.Unknown(p.name) from Parent p")
	assert.Equal(t, qerr.CodeSemanticUnknownType, qerr.CodeOf(err))
}

func TestAnalyze_UnknownFunctionIsUnsupported(t *testing.T) {
	_, err := analyze(t, newContext(t), "select soundex(p.name) from Parent p")
	require.Error(t, err)
	assert.True(t, qerr.IsUnsupported(err))
}

func TestAnalyze_FetchJoinWithConditionIsUnsupported(t *testing.T) {
	_, err := analyze(t, newContext(t), "from Parent p join fetch p.children c with c.rank > 1")
	require.Error(t, err)
	assert.True(t, qerr.IsUnsupported(err))
}

func TestAnalyze_Update(t *testing.T) {
	stmt, err := analyze(t, newContext(t), "update Child c set c.name = :n, c.parent = :p where c.id = 10")
	require.NoError(t, err)
	upd := stmt.(*sqm.UpdateStatement)
	require.Len(t, upd.Assignments, 2)
	assert.IsType(t, &sqm.AttributeRef{}, upd.Assignments[0].Target)
	assert.IsType(t, &sqm.ForeignKeyRef{}, upd.Assignments[1].Target)

	_, err = analyze(t, newContext(t), "update Child c set c.name = 'x' where c.parent.name = 'p1'")
	assert.True(t, qerr.IsUnsupported(err))
}

func TestAnalyze_SignatureIgnoresSpacingAndCase(t *testing.T) {
	a := mustSelect(t, newContext(t), "from Child c where c.name = :n")
	b := mustSelect(t, newContext(t), "FROM   Child c\n WHERE c.name=:n")
	assert.Equal(t, a.Signature(), b.Signature())

	c := mustSelect(t, newContext(t), "from Child c where c.name = :m")
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestAnalyze_Substitutions(t *testing.T) {
	ctx := newContext(t)
	vehicle, _ := ctx.Model.Entity("Vehicle")
	car, _ := ctx.Model.Entity("Car")
	ctx.Substitutions = map[*metamodel.Entity]*metamodel.Entity{vehicle: car}

	sel := mustSelect(t, ctx, "from Vehicle v where v.model = 'mini'")
	assert.Same(t, car, sel.Roots[0].Entity)
}
