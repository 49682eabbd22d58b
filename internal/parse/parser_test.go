package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/qerr"
)

func mustSelect(t *testing.T, text string) *SelectStatement {
	t.Helper()
	stmt, err := Parse(text)
	require.NoError(t, err)
	sel, ok := stmt.(*SelectStatement)
	require.True(t, ok, "expected select, got %T", stmt)
	return sel
}

func TestParse_FromOnly(t *testing.T) {
	sel := mustSelect(t, "from Parent p")
	assert.Nil(t, sel.Select)
	require.Len(t, sel.From, 1)
	assert.Equal(t, "Parent", sel.From[0].Entity)
	assert.Equal(t, "p", sel.From[0].Alias)
}

func TestParse_FetchJoinWithCondition(t *testing.T) {
	sel := mustSelect(t, "select p from Parent p left outer join fetch p.children c with c.name like 'a%' where p.id = :id")
	require.Len(t, sel.From[0].Joins, 1)
	join := sel.From[0].Joins[0]
	assert.Equal(t, JoinLeft, join.Kind)
	assert.True(t, join.Fetch)
	assert.Equal(t, []string{"p", "children"}, join.Path.Parts)
	assert.Equal(t, "c", join.Alias)
	require.IsType(t, &Like{}, join.With)

	cmp, ok := sel.Where.(*Comparison)
	require.True(t, ok)
	assert.Equal(t, "=", cmp.Op)
	assert.Equal(t, &NamedParam{Name: "id", Pos: cmp.Right.(*NamedParam).Pos}, cmp.Right)
}

func TestParse_Precedence(t *testing.T) {
	sel := mustSelect(t, "from A a where a.x = 1 or a.y = 2 and not a.z = 3")
	or, ok := sel.Where.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "or", or.Op)
	and, ok := or.Right.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "and", and.Op)
	assert.IsType(t, &Not{}, and.Right)

	sel = mustSelect(t, "select a.x + a.y * 2 from A a")
	sum, ok := sel.Select[0].Expr.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "+", sum.Op)
	assert.IsType(t, &Binary{}, sum.Right)
}

func TestParse_PredicateForms(t *testing.T) {
	sel := mustSelect(t, `from A a where a.id in (1, 2, 3) and a.id not in :ids
		and a.n between ?1 and ?2 and a.name is not null and a.name not like 'x!%' escape '!'`)

	var preds []Expr
	var walk func(Expr)
	walk = func(e Expr) {
		if l, ok := e.(*Logical); ok {
			walk(l.Left)
			walk(l.Right)
			return
		}
		preds = append(preds, e)
	}
	walk(sel.Where)
	require.Len(t, preds, 5)

	in := preds[0].(*InList)
	assert.False(t, in.Not)
	assert.Len(t, in.Items, 3)

	notIn := preds[1].(*InList)
	assert.True(t, notIn.Not)
	require.Len(t, notIn.Items, 1)
	assert.IsType(t, &NamedParam{}, notIn.Items[0])

	between := preds[2].(*Between)
	assert.Equal(t, 1, between.Low.(*PositionalParam).Position)
	assert.Equal(t, 2, between.High.(*PositionalParam).Position)

	assert.True(t, preds[3].(*NullCheck).Not)

	like := preds[4].(*Like)
	assert.True(t, like.Not)
	assert.Equal(t, "!", like.Escape.(*Literal).Text)
}

func TestParse_SelectNew(t *testing.T) {
	sel := mustSelect(t, "select new com.acme.Summary(p.name, count(c)) from Parent p join p.children c group by p.name")
	inst, ok := sel.Select[0].Expr.(*Instantiation)
	require.True(t, ok)
	assert.Equal(t, InstantiateClass, inst.Kind)
	assert.Equal(t, "com.acme.Summary", inst.ClassName)
	require.Len(t, inst.Args, 2)
	call := inst.Args[1].Expr.(*FuncCall)
	assert.Equal(t, "count", call.Name)
	assert.Len(t, sel.GroupBy, 1)

	sel = mustSelect(t, "select new map(p.name as n, p.id as i) from Parent p")
	inst = sel.Select[0].Expr.(*Instantiation)
	assert.Equal(t, InstantiateMap, inst.Kind)
	assert.Equal(t, "n", inst.Args[0].Alias)
	assert.Equal(t, "i", inst.Args[1].Alias)

	sel = mustSelect(t, "select new list(p.name, p.id) from Parent p")
	assert.Equal(t, InstantiateList, sel.Select[0].Expr.(*Instantiation).Kind)
}

func TestParse_TemporalLiterals(t *testing.T) {
	sel := mustSelect(t, "from A a where a.ts > {ts '2024-01-02 10:00:00'} and a.d = {d '2024-01-02'} and a.t < {t '10:00:00'}")
	var kinds []TemporalKind
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Logical:
			walk(n.Left)
			walk(n.Right)
		case *Comparison:
			kinds = append(kinds, n.Right.(*TemporalLiteral).Kind)
		}
	}
	walk(sel.Where)
	assert.Equal(t, []TemporalKind{TemporalTimestamp, TemporalDate, TemporalTime}, kinds)
}

func TestParse_OrderLimitOffset(t *testing.T) {
	sel := mustSelect(t, "select distinct a from A a order by a.name desc, a.id limit 10 offset :skip")
	assert.True(t, sel.Distinct)
	require.Len(t, sel.OrderBy, 2)
	assert.True(t, sel.OrderBy[0].Descending)
	assert.False(t, sel.OrderBy[1].Descending)
	assert.Equal(t, "10", sel.Limit.(*Literal).Text)
	assert.Equal(t, "skip", sel.Offset.(*NamedParam).Name)
}

func TestParse_UpdateAndDelete(t *testing.T) {
	stmt, err := Parse("update Child c set c.name = upper(c.name), c.rank = c.rank + 1 where c.id = ?1")
	require.NoError(t, err)
	upd := stmt.(*UpdateStatement)
	assert.Equal(t, "Child", upd.Entity)
	assert.Equal(t, "c", upd.Alias)
	require.Len(t, upd.Set, 2)
	assert.Equal(t, "c.name", upd.Set[0].Path.String())

	stmt, err = Parse("delete from Child where name = 'x'")
	require.NoError(t, err)
	del := stmt.(*DeleteStatement)
	assert.Equal(t, "Child", del.Entity)
	assert.Empty(t, del.Alias)
	assert.NotNil(t, del.Where)
}

func TestParse_KeywordsAreCaseInsensitive(t *testing.T) {
	sel := mustSelect(t, "SELECT p FROM Parent AS p WHERE p.name IS NULL ORDER BY p.id DESC")
	assert.Equal(t, "p", sel.From[0].Alias)
	assert.IsType(t, &NullCheck{}, sel.Where)
}

func TestParse_StringEscapes(t *testing.T) {
	sel := mustSelect(t, "from A a where a.name = 'it''s'")
	assert.Equal(t, "it's", sel.Where.(*Comparison).Right.(*Literal).Text)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		code qerr.Code
	}{
		{"unterminated string", "from A a where a.name = 'x", qerr.CodeParseUnterminated},
		{"truncated predicate", "from A a where a.x =", qerr.CodeParseUnterminated},
		{"missing from", "select a", qerr.CodeParseUnterminated},
		{"stray token", "from A a )", qerr.CodeParseSyntax},
		{"bad character", "from A a where a.x # 1", qerr.CodeParseSyntax},
		{"ordinal zero", "from A a where a.x = ?0", qerr.CodeParseSyntax},
		{"bare question mark", "from A a where a.x = ?", qerr.CodeParseSyntax},
		{"not without operator", "from A a where a.x not 1", qerr.CodeParseSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.True(t, qerr.IsParse(err))
			assert.Equal(t, tt.code, qerr.CodeOf(err))
			fields := qerr.FieldsOf(err)
			assert.Contains(t, fields, "line")
			assert.Contains(t, fields, "column")
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse("from A a\nwhere a.x = = 1")
	require.Error(t, err)
	fields := qerr.FieldsOf(err)
	assert.Equal(t, 2, fields["line"])
	assert.Equal(t, 13, fields["column"])
}
