package lower

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
	"github.com/roach88/orq/internal/testutil"
)

func analyze(t *testing.T, m *metamodel.Model, text string) sqm.Statement {
	t.Helper()
	stmt, err := parse.Parse(text)
	require.NoError(t, err)
	tree, err := sqm.Analyze(&sqm.Context{Model: m, Instantiations: result.NewInstantiationRegistry()}, stmt)
	require.NoError(t, err)
	return tree
}

func lowerQuery(t *testing.T, m *metamodel.Model, text string, opts Options) *Lowered {
	t.Helper()
	out, err := Lower(m, analyze(t, m, text), opts)
	require.NoError(t, err)
	return out
}

func render(t *testing.T, l *Lowered) string {
	t.Helper()
	op, err := sqlast.Render(l.Statement, nil)
	require.NoError(t, err)
	return op.SQL
}

func entityResult(t *testing.T, l *Lowered, i int) *result.EntityMapping {
	t.Helper()
	require.Greater(t, len(l.Results), i)
	er, ok := l.Results[i].(*result.EntityResult)
	require.True(t, ok, "result %d is %T", i, l.Results[i])
	return er.Mapping
}

func TestLower_CollectionFetchJoin(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "from Parent p left join fetch p.children", Options{})

	assert.Equal(t,
		"SELECT p1.id, p1.name, c2.id, c2.name, c2.rank FROM parent p1 LEFT JOIN child c2 ON c2.parent_id = p1.id",
		render(t, l))

	mapping := entityResult(t, l, 0)
	assert.Equal(t, "p", mapping.Path.FullPath())
	require.Len(t, mapping.Fetches, 1)
	children, ok := mapping.Fetches[0].(*result.CollectionJoinedFetch)
	require.True(t, ok)
	assert.Equal(t, "p.children.{element}", children.Element.Path.FullPath())

	require.Len(t, children.Element.Fetches, 1)
	back, ok := children.Element.Fetches[0].(*result.CircularFetch)
	require.True(t, ok, "child.parent reuses the parent instance")
	assert.Equal(t, "p", back.Ancestor.FullPath())
	assert.Equal(t, metamodel.FetchImmediate, back.Timing)
	assert.True(t, mapping.HasCollectionJoin())
}

func TestLower_FetchGraphAddsFetchJoins(t *testing.T) {
	m := testutil.Model(t)
	want := "SELECT p1.id, p1.name, c2.id, c2.name, c2.rank FROM parent p1 LEFT JOIN child c2 ON c2.parent_id = p1.id"

	for _, hint := range []string{"children", "p.children"} {
		l := lowerQuery(t, m, "from Parent p", Options{FetchGraph: []string{hint}})
		assert.Equal(t, want, render(t, l), hint)
	}

	_, err := Lower(m, analyze(t, m, "from Parent p"), Options{FetchGraph: []string{"name"}})
	assert.Equal(t, qerr.CodeSemanticInvalidDereference, qerr.CodeOf(err))
}

func TestLower_EagerToOneIsSelectFetched(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "from Child c", Options{})

	assert.Equal(t, "SELECT c1.id, c1.name, c1.rank, c1.parent_id FROM child c1", render(t, l))
	mapping := entityResult(t, l, 0)
	require.Len(t, mapping.Fetches, 1)
	sel, ok := mapping.Fetches[0].(*result.EntitySelectFetch)
	require.True(t, ok)
	assert.Equal(t, 3, sel.FKColumn)
}

func TestLower_SharedPathsShareOneGroup(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "select c.parent.name, c.parent from Child c", Options{})

	assert.Equal(t, "SELECT p2.name, p2.id FROM child c1 JOIN parent p2 ON p2.id = c1.parent_id", render(t, l))

	a, ok := l.Index.Find(navpath.Parse("c.parent"))
	require.True(t, ok)
	b, ok := l.Index.Find(navpath.Root("c").Append("parent"))
	require.True(t, ok)
	assert.Same(t, a, b)

	basic, ok := l.Results[0].(*result.BasicResult)
	require.True(t, ok)
	assert.Equal(t, 0, basic.Column)
	parent := entityResult(t, l, 1)
	assert.Equal(t, 1, parent.IDColumn)
	require.Len(t, parent.Values, 1)
	assert.Equal(t, 0, parent.Values[0].Column, "the selected name column is read once")
	assert.IsType(t, &result.CollectionDelayedFetch{}, parent.Fetches[0])
}

func TestLower_TablesJoinedOnDemand(t *testing.T) {
	m := testutil.Model(t)

	l := lowerQuery(t, m, "select p.name from Person p", Options{})
	assert.Equal(t, "SELECT p1.name FROM person p1", render(t, l))
	assert.Equal(t, []string{"person"}, l.Spaces)

	l = lowerQuery(t, m, "from Person p", Options{})
	assert.Equal(t,
		"SELECT p1.id, p1.name, p1.home_city, p1.home_zip, p2.bio FROM person p1 LEFT JOIN person_detail p2 ON p2.person_id = p1.id",
		render(t, l))
	assert.Equal(t, []string{"person", "person_detail"}, l.Spaces)

	mapping := entityResult(t, l, 0)
	home, ok := mapping.Fetches[0].(*result.EmbeddableFetch)
	require.True(t, ok)
	assert.Equal(t, "p.home", home.Path.FullPath())
	assert.Len(t, home.Members, 2)
}

func TestLower_SelectedEmbeddedValue(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "select p.home, p.home.city from Person p", Options{})

	assert.Equal(t, "SELECT p1.home_city, p1.home_zip FROM person p1", render(t, l))
	emb, ok := l.Results[0].(*result.EmbeddableResult)
	require.True(t, ok)
	assert.Len(t, emb.Embedded.Members, 2)
	assert.Equal(t, 0, l.Results[1].(*result.BasicResult).Column)
}

func TestLower_Hierarchies(t *testing.T) {
	m := testutil.Model(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cases := map[string]string{
		"joined_root":        "from Animal a",
		"joined_subtype":     "from Dog d",
		"single_table_root":  "from Shape s",
		"single_table_child": "from Circle c where c.radius > 1.0",
		"table_per_class":    "from Car c order by c.model desc",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			g.Assert(t, name, []byte(render(t, lowerQuery(t, m, text, Options{}))))
		})
	}
}

func TestLower_JoinedRootResolvesSubtypes(t *testing.T) {
	m := testutil.Model(t)
	mapping := entityResult(t, lowerQuery(t, m, "from Animal a", Options{}), 0)

	require.Len(t, mapping.Subtypes, 2)
	assert.Equal(t, "Dog", mapping.Subtypes[0].Entity.Name)
	assert.Equal(t, "Cat", mapping.Subtypes[1].Entity.Name)
	assert.Equal(t, -1, mapping.DiscriminatorColumn)

	var names []string
	for _, v := range mapping.Values {
		names = append(names, v.Attribute.Name)
	}
	assert.Equal(t, []string{"name", "barks", "lives"}, names)
	assert.IsType(t, &result.EntityDelayedFetch{}, mapping.Fetches[0])
}

func TestLower_AbstractTablePerClassRootIsUnsupported(t *testing.T) {
	m := testutil.Model(t)
	_, err := Lower(m, analyze(t, m, "from Vehicle v"), Options{})
	assert.True(t, qerr.IsUnsupported(err))
}

func TestLower_Filters(t *testing.T) {
	m := testutil.Model(t)
	child, _ := m.Entity("Child")

	l := lowerQuery(t, m, "from Child c", Options{Filters: []Filter{{Name: "top", Entity: child, Attribute: "rank", Value: int64(1)}}})
	assert.Equal(t, "SELECT c1.id, c1.name, c1.rank, c1.parent_id FROM child c1 WHERE c1.rank = 1", render(t, l))

	l = lowerQuery(t, m, "from Parent p left join p.children c",
		Options{Filters: []Filter{{Name: "named", Entity: child, Attribute: "name", Op: "<>", Value: nil}}})
	assert.Equal(t,
		"SELECT p1.id, p1.name FROM parent p1 LEFT JOIN child c2 ON (c2.parent_id = p1.id AND c2.name IS NOT NULL)",
		render(t, l))

	_, err := Lower(m, analyze(t, m, "from Child c"), Options{Filters: []Filter{{Name: "bad", Entity: child, Attribute: "nope"}}})
	assert.Equal(t, qerr.CodeSemanticUnresolvedPath, qerr.CodeOf(err))
}

func TestLower_Predicates(t *testing.T) {
	m := testutil.Model(t)
	cases := []struct {
		query string
		want  string
	}{
		{
			"select c.name from Child c where c.parent = null",
			"SELECT c1.name FROM child c1 WHERE c1.parent_id IS NULL",
		},
		{
			"select c.name from Child c where c.parent.id = :id and c.rank between 1 and 3",
			"SELECT c1.name FROM child c1 WHERE (c1.parent_id = ? AND c1.rank BETWEEN 1 AND 3)",
		},
		{
			"select c.name from Child c where c.name like 'c%' or not c.rank in (1, 2)",
			"SELECT c1.name FROM child c1 WHERE (c1.name LIKE 'c%' OR NOT (c1.rank IN (1, 2)))",
		},
		{
			"select max(c.rank), count(c.id) from Child c group by c.parent having count(c.id) > 1",
			"SELECT max(c1.rank), count(c1.id) FROM child c1 GROUP BY c1.parent_id HAVING count(c1.id) > 1",
		},
		{
			"select d.name from Dog d where d.barks = true",
			"SELECT a2.name FROM dog d1 JOIN animal a2 ON a2.id = d1.id WHERE d1.barks = 1",
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, render(t, lowerQuery(t, m, tc.query, Options{})), tc.query)
	}
}

func TestLower_SubtypeAttributeJoinsSubtypeTable(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "select a.name from Animal a where a.barks = true", Options{})
	assert.Equal(t, "SELECT a1.name FROM animal a1 LEFT JOIN dog d2 ON d2.id = a1.id WHERE d2.barks = 1", render(t, l))
}

func TestLower_ExplicitAssociationJoin(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "select c.name from Parent p join p.children c with c.rank > 1", Options{})
	assert.Equal(t,
		"SELECT c2.name FROM parent p1 JOIN child c2 ON (c2.parent_id = p1.id AND c2.rank > 1)",
		render(t, l))
}

func TestLower_Update(t *testing.T) {
	m := testutil.Model(t)

	l := lowerQuery(t, m, "update Child c set c.name = :name, c.parent = null where c.id = :id", Options{})
	assert.Equal(t, "UPDATE child SET name = ?, parent_id = NULL WHERE id = ?", render(t, l))
	assert.Equal(t, []string{"child"}, l.Spaces)
	assert.Nil(t, l.Results)

	l = lowerQuery(t, m, "update Circle c set c.radius = 2.5", Options{})
	assert.Equal(t, "UPDATE shape SET radius = 2.5 WHERE kind IN ('circle')", render(t, l))

	_, err := Lower(m, analyze(t, m, "update Dog d set d.name = 'x'"), Options{})
	assert.True(t, qerr.IsUnsupported(err))
}

func TestLower_Delete(t *testing.T) {
	m := testutil.Model(t)

	l := lowerQuery(t, m, "delete from Circle c where c.radius > 1", Options{})
	assert.Equal(t, "DELETE FROM shape WHERE (kind IN ('circle') AND radius > 1)", render(t, l))

	_, err := Lower(m, analyze(t, m, "delete from Animal a"), Options{})
	assert.True(t, qerr.IsUnsupported(err))
	_, err = Lower(m, analyze(t, m, "delete from Person p"), Options{})
	assert.True(t, qerr.IsUnsupported(err))
}

func TestLower_InstantiationArguments(t *testing.T) {
	m := testutil.Model(t)
	l := lowerQuery(t, m, "select new map(c.name as name, c.parent as parent) from Child c", Options{})

	assert.Equal(t, "SELECT c1.name, p2.id, p2.name FROM child c1 JOIN parent p2 ON p2.id = c1.parent_id", render(t, l))
	inst, ok := l.Results[0].(*result.InstantiationResult)
	require.True(t, ok)
	require.Len(t, inst.Args, 2)
	assert.IsType(t, &result.BasicResult{}, inst.Args[0])
	assert.IsType(t, &result.EntityResult{}, inst.Args[1])
}
