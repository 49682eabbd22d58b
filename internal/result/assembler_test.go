package result

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/testutil"
)

func attribute(t *testing.T, m *metamodel.Model, entity, name string) *metamodel.Attribute {
	t.Helper()
	e, ok := m.Entity(entity)
	require.True(t, ok)
	attr, ok := e.Attribute(name)
	require.True(t, ok)
	return attr
}

func entityOf(t *testing.T, m *metamodel.Model, name string) *metamodel.Entity {
	t.Helper()
	e, ok := m.Entity(name)
	require.True(t, ok)
	return e
}

// parentWithChildren maps `from Parent p left join fetch p.children` with
// columns [p.id, p.name, c.id, c.name, c.rank].
func parentWithChildren(t *testing.T, m *metamodel.Model) *EntityResult {
	root := navpath.Root("p")
	children := root.Append("children")
	element := children.Element()
	return &EntityResult{Mapping: &EntityMapping{
		Path:                root,
		Entity:              entityOf(t, m, "Parent"),
		IDColumn:            0,
		DiscriminatorColumn: -1,
		Values:              []ColumnValue{{Attribute: attribute(t, m, "Parent", "name"), Column: 1}},
		Fetches: []Fetch{&CollectionJoinedFetch{
			Path:      children,
			Attribute: attribute(t, m, "Parent", "children"),
			Element: &EntityMapping{
				Path:                element,
				Entity:              entityOf(t, m, "Child"),
				IDColumn:            2,
				DiscriminatorColumn: -1,
				Values: []ColumnValue{
					{Attribute: attribute(t, m, "Child", "name"), Column: 3},
					{Attribute: attribute(t, m, "Child", "rank"), Column: 4},
				},
				Fetches: []Fetch{&CircularFetch{
					Path:      element.Append("parent"),
					Attribute: attribute(t, m, "Child", "parent"),
					Ancestor:  root,
					Timing:    metamodel.FetchImmediate,
				}},
			},
		}},
	}}
}

func processAll(t *testing.T, a *Assembler, rows [][]any) []any {
	t.Helper()
	var out []any
	for _, row := range rows {
		v, keep, err := a.Process(row)
		require.NoError(t, err)
		if keep {
			out = append(out, v)
		}
	}
	if v, ok := a.Flush(); ok {
		out = append(out, v)
	}
	require.NoError(t, a.Finish(context.Background()))
	return out
}

func TestAssembler_ReleasesRootAfterItsFanOut(t *testing.T) {
	m := testutil.Model(t)
	a := NewAssembler([]DomainResult{parentWithChildren(t, m)}, nil, nil, Options{})

	_, keep, err := a.Process([]any{int64(1), "p1", int64(10), "c10", int64(1)})
	require.NoError(t, err)
	assert.False(t, keep, "p1 may have more rows")

	_, keep, err = a.Process([]any{int64(1), "p1", int64(11), "c11", int64(2)})
	require.NoError(t, err)
	assert.False(t, keep)

	v, keep, err := a.Process([]any{int64(2), "p2", int64(12), "c12", int64(1)})
	require.NoError(t, err)
	require.True(t, keep)
	p1 := v.(*Object)
	assert.Equal(t, int64(1), p1.ID)
	assert.Len(t, p1.Values["children"], 2)

	v, ok := a.Flush()
	require.True(t, ok)
	assert.Equal(t, int64(2), v.(*Object).ID)
	assert.Len(t, v.(*Object).Values["children"], 1)

	_, ok = a.Flush()
	assert.False(t, ok)
}

func TestAssembler_CollectionFanOutYieldsOneParent(t *testing.T) {
	m := testutil.Model(t)
	a := NewAssembler([]DomainResult{parentWithChildren(t, m)}, nil, nil, Options{})

	out := processAll(t, a, [][]any{
		{int64(1), "p1", int64(10), "c10", int64(1)},
		{int64(1), "p1", int64(11), "c11", int64(2)},
		{int64(2), "p2", nil, nil, nil},
	})
	require.Len(t, out, 2)

	p1 := out[0].(*Object)
	assert.Equal(t, "p1", p1.Get("name"))
	children, err := p1.Collection(context.Background(), "children")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "c10", children[0].Get("name"))
	assert.Equal(t, "c11", children[1].Get("name"))
	for _, c := range children {
		assert.Same(t, p1, c.Values["parent"], "back reference reuses the parent instance")
	}

	p2 := out[1].(*Object)
	assert.Equal(t, []*Object{}, p2.Values["children"])
	assert.Equal(t, 4, a.Registry().Len())
}

func TestAssembler_OneInitializerPerPath(t *testing.T) {
	m := testutil.Model(t)
	er := parentWithChildren(t, m)
	same := &EntityResult{Mapping: er.Mapping}
	a := NewAssembler([]DomainResult{&InstantiationResult{Target: ListInstantiator(), Args: []DomainResult{er, same}}}, nil, nil, Options{})

	first, ok := a.Initializer(navpath.Parse("p.children.{element}"))
	require.True(t, ok)
	second, ok := a.Initializer(navpath.Root("p").Append("children").Element())
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Len(t, a.order, 2)

	v, keep, err := a.Process([]any{int64(1), "p1", int64(10), "c10", int64(1)})
	require.NoError(t, err)
	assert.True(t, keep)
	pair := v.([]any)
	assert.Same(t, pair[0], pair[1])
}

func TestCircularFetchDetector(t *testing.T) {
	m := testutil.Model(t)
	d := &CircularFetchDetector{Model: m}
	children := attribute(t, m, "Parent", "children")
	parent := attribute(t, m, "Child", "parent")
	next := attribute(t, m, "Node", "next")

	element := navpath.Root("p").Append("children").Element()
	f, err := d.Detect(element, children, parent)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "p", f.Ancestor.FullPath())
	assert.Equal(t, "p.children.{element}.parent", f.Path.FullPath())
	assert.Equal(t, metamodel.FetchImmediate, f.Timing)

	f, err = d.Detect(navpath.Root("c").Append("parent"), parent, children)
	require.NoError(t, err)
	assert.Nil(t, f, "collections are never short-circuited")

	f, err = d.Detect(navpath.Root("n"), nil, next)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = d.Detect(navpath.Root("n").Append("next"), next, next)
	require.NoError(t, err)
	assert.Nil(t, f, "a unidirectional self reference is not circular")
}

func TestCircularFetchDetector_AmbiguousInverse(t *testing.T) {
	m, err := metamodel.CompileString(`
entities: {
	A: {
		table: "a"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			bs: {kind: "one-to-many", target: "B", mappedBy: "a"}
			others: {kind: "one-to-many", target: "B", mappedBy: "a"}
		}
	}
	B: {
		table: "b"
		id: {name: "id", column: "id", type: "integer"}
		attributes: a: {kind: "many-to-one", target: "A", column: "a_id"}
	}
}`)
	require.NoError(t, err)
	d := &CircularFetchDetector{Model: m}
	a, _ := m.Entity("A")
	b, _ := m.Entity("B")
	bs, _ := a.Attribute("bs")
	toA, _ := b.Attribute("a")

	_, err = d.Detect(navpath.Root("x").Append("a"), toA, toA)
	require.Error(t, err)
	assert.True(t, qerr.IsGraph(err))

	f, err := d.Detect(navpath.Root("x").Append("bs").Element(), bs, toA)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

// nodeLoader serves Node rows [id, name, next_id] for nested loads.
type nodeLoader struct {
	t        *testing.T
	model    *metamodel.Model
	rows     map[int64][]any
	maxDepth int
	calls    int
}

func nodeMapping(t *testing.T, m *metamodel.Model, path *navpath.Path) *EntityMapping {
	return &EntityMapping{
		Path:                path,
		Entity:              entityOf(t, m, "Node"),
		IDColumn:            0,
		DiscriminatorColumn: -1,
		Values:              []ColumnValue{{Attribute: attribute(t, m, "Node", "name"), Column: 1}},
		Fetches: []Fetch{&EntitySelectFetch{
			Path:      path.Append("next"),
			Attribute: attribute(t, m, "Node", "next"),
			FKColumn:  2,
		}},
	}
}

func (l *nodeLoader) LoadEntities(ctx context.Context, req *LoadRequest) error {
	l.calls++
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: nodeMapping(l.t, l.model, navpath.Root("x"))}},
		req.Registry, l, Options{Depth: req.Depth, MaxFetchDepth: l.maxDepth})
	for _, id := range req.IDs {
		if row, ok := l.rows[id.(int64)]; ok {
			if _, _, err := a.Process(row); err != nil {
				return err
			}
		}
	}
	return a.Finish(ctx)
}

func (l *nodeLoader) LoadCollection(context.Context, *LoadRequest) (map[any][]*Object, error) {
	return nil, nil
}

func nodeRows() map[int64][]any {
	return map[int64][]any{
		1: {int64(1), "n1", int64(2)},
		2: {int64(2), "n2", int64(3)},
		3: {int64(3), "n3", nil},
		4: {int64(4), "c1", int64(5)},
		5: {int64(5), "c2", int64(4)},
	}
}

func TestAssembler_SelectFetchChain(t *testing.T) {
	m := testutil.Model(t)
	loader := &nodeLoader{t: t, model: m, rows: nodeRows()}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: nodeMapping(t, m, navpath.Root("n"))}}, nil, loader, Options{})

	out := processAll(t, a, [][]any{nodeRows()[1]})
	require.Len(t, out, 1)
	n1 := out[0].(*Object)

	n2, ok := n1.Values["next"].(*Object)
	require.True(t, ok)
	assert.Equal(t, "n2", n2.Get("name"))
	n3, ok := n2.Values["next"].(*Object)
	require.True(t, ok)
	assert.Equal(t, "n3", n3.Get("name"))
	assert.Nil(t, n3.Values["next"])
	assert.Equal(t, 2, loader.calls)
}

func TestAssembler_SelectFetchCycleReusesInstances(t *testing.T) {
	m := testutil.Model(t)
	loader := &nodeLoader{t: t, model: m, rows: nodeRows()}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: nodeMapping(t, m, navpath.Root("n"))}}, nil, loader, Options{})

	out := processAll(t, a, [][]any{nodeRows()[4]})
	c1 := out[0].(*Object)
	c2 := c1.Values["next"].(*Object)
	assert.Equal(t, "c2", c2.Get("name"))
	assert.Same(t, c1, c2.Values["next"])
	assert.Equal(t, 1, loader.calls)

	snap := c1.Snapshot()
	assert.Equal(t, "Node#4", snap["next"].(map[string]any)["next"])
}

func TestAssembler_MaxFetchDepthLeavesRefs(t *testing.T) {
	m := testutil.Model(t)
	loader := &nodeLoader{t: t, model: m, rows: nodeRows(), maxDepth: 1}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: nodeMapping(t, m, navpath.Root("n"))}}, nil, loader, Options{MaxFetchDepth: 1})

	out := processAll(t, a, [][]any{nodeRows()[1]})
	n1 := out[0].(*Object)
	n2 := n1.Values["next"].(*Object)
	ref, ok := n2.Values["next"].(*Ref)
	require.True(t, ok)
	assert.False(t, ref.Loaded())
	assert.Equal(t, 1, loader.calls)

	n3, err := n2.Related(context.Background(), "next")
	require.NoError(t, err)
	assert.Equal(t, "n3", n3.Get("name"))
	assert.True(t, ref.Loaded())
	assert.Same(t, n3, n2.Values["next"])
}

func TestAssembler_DelayedFetchesLeaveRefs(t *testing.T) {
	m := testutil.Model(t)
	root := navpath.Root("c")
	mapping := &EntityMapping{
		Path:                root,
		Entity:              entityOf(t, m, "Child"),
		IDColumn:            0,
		DiscriminatorColumn: -1,
		Fetches: []Fetch{&EntityDelayedFetch{
			Path:      root.Append("parent"),
			Attribute: attribute(t, m, "Child", "parent"),
			FKColumn:  1,
		}},
	}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: mapping}}, nil, nil, Options{})
	out := processAll(t, a, [][]any{{int64(10), int64(1)}, {int64(13), nil}})

	ref, ok := out[0].(*Object).Values["parent"].(*Ref)
	require.True(t, ok)
	assert.Equal(t, int64(1), ref.ID)
	assert.Equal(t, "Parent", ref.Entity.Name)
	assert.Nil(t, out[1].(*Object).Values["parent"])

	_, err := ref.Load(context.Background())
	assert.Error(t, err, "no loader was given")
}

func TestAssembler_JoinedHierarchyResolvesConcreteType(t *testing.T) {
	m := testutil.Model(t)
	mapping := &EntityMapping{
		Path:                navpath.Root("a"),
		Entity:              entityOf(t, m, "Animal"),
		IDColumn:            0,
		DiscriminatorColumn: -1,
		Subtypes: []SubtypeColumn{
			{Entity: entityOf(t, m, "Dog"), Column: 2},
			{Entity: entityOf(t, m, "Cat"), Column: 3},
		},
		Values: []ColumnValue{
			{Attribute: attribute(t, m, "Animal", "name"), Column: 1},
			{Attribute: attribute(t, m, "Dog", "barks"), Column: 4},
			{Attribute: attribute(t, m, "Cat", "lives"), Column: 5},
		},
	}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: mapping}}, nil, nil, Options{})
	out := processAll(t, a, [][]any{
		{int64(1), "rex", int64(1), nil, int64(1), nil},
		{int64(2), "tom", nil, int64(2), nil, int64(9)},
		{int64(3), "generic", nil, nil, nil, nil},
	})

	rex, tom, generic := out[0].(*Object), out[1].(*Object), out[2].(*Object)
	assert.Equal(t, "Dog", rex.Entity.Name)
	assert.Equal(t, true, rex.Values["barks"])
	assert.NotContains(t, rex.Values, "lives")
	assert.Equal(t, "Cat", tom.Entity.Name)
	assert.Equal(t, int64(9), tom.Values["lives"])
	assert.Equal(t, "Animal", generic.Entity.Name)
}

func TestAssembler_SingleTableDiscriminator(t *testing.T) {
	m := testutil.Model(t)
	mapping := &EntityMapping{
		Path:                navpath.Root("s"),
		Entity:              entityOf(t, m, "Shape"),
		IDColumn:            0,
		DiscriminatorColumn: 1,
		Values:              []ColumnValue{{Attribute: attribute(t, m, "Circle", "radius"), Column: 2}},
	}
	a := NewAssembler([]DomainResult{&EntityResult{Mapping: mapping}}, nil, nil, Options{})
	out := processAll(t, a, [][]any{
		{int64(1), "circle", 1.5},
		{int64(3), []byte("shape"), nil},
	})
	assert.Equal(t, "Circle", out[0].(*Object).Entity.Name)
	assert.Equal(t, 1.5, out[0].(*Object).Values["radius"])
	assert.Equal(t, "Shape", out[1].(*Object).Entity.Name)
}

func TestAssembler_ScalarsAndInstantiation(t *testing.T) {
	m := testutil.Model(t)
	home := attribute(t, m, "Person", "home")
	city, _ := home.TargetEmbeddable().Attribute("city")
	zip, _ := home.TargetEmbeddable().Attribute("zip")
	embedded := &EmbeddableFetch{
		Path:      navpath.Parse("p.home"),
		Attribute: home,
		Members:   []ColumnValue{{Attribute: city, Column: 1}, {Attribute: zip, Column: 2}},
	}

	results := []DomainResult{
		&BasicResult{Column: 0, Type: metamodel.TypeString},
		&EmbeddableResult{Embedded: embedded},
		&InstantiationResult{Target: MapInstantiator([]string{"name", ""}), Args: []DomainResult{
			&BasicResult{Column: 0, Type: metamodel.TypeString},
			&BasicResult{Column: 3, Type: metamodel.TypeBoolean},
		}},
	}
	a := NewAssembler(results, nil, nil, Options{})

	v, keep, err := a.Process([]any{[]byte("ann"), "Oslo", "0150", int64(1)})
	require.NoError(t, err)
	assert.True(t, keep)
	row := v.([]any)
	assert.Equal(t, "ann", row[0])
	assert.Equal(t, map[string]any{"city": "Oslo", "zip": "0150"}, row[1])
	assert.Equal(t, map[string]any{"name": "ann", "1": true}, row[2])

	v, _, err = a.Process([]any{"bob", nil, nil, int64(0)})
	require.NoError(t, err)
	assert.Nil(t, v.([]any)[1])
}

func TestRegistry(t *testing.T) {
	m := testutil.Model(t)
	reg := NewRegistry()
	animal := entityOf(t, m, "Animal")
	dog := entityOf(t, m, "Dog")

	a := reg.Intern(animal, int64(1))
	b := reg.Intern(dog, int64(1))
	assert.Same(t, a, b)
	assert.Equal(t, "Dog", a.Entity.Name, "a more specific type wins")
	assert.Equal(t, 0, reg.Slot(a))

	c := reg.Intern(entityOf(t, m, "Person"), int64(1))
	assert.NotSame(t, a, c)
	assert.Equal(t, 1, reg.Slot(c))

	found, ok := reg.Lookup(entityOf(t, m, "Cat"), int64(1))
	require.True(t, ok)
	assert.Same(t, a, found)

	s := reg.Intern(entityOf(t, m, "Person"), []byte("x"))
	assert.Equal(t, "x", s.ID)
}

func TestConvert(t *testing.T) {
	assert.Equal(t, true, Convert(int64(1), metamodel.TypeBoolean))
	assert.Equal(t, false, Convert(int64(0), metamodel.TypeBoolean))
	assert.Equal(t, 3.0, Convert(int64(3), metamodel.TypeFloat))
	assert.Equal(t, int64(3), Convert(3.0, metamodel.TypeInteger))
	assert.Equal(t, "abc", Convert([]byte("abc"), metamodel.TypeString))
	assert.Nil(t, Convert(nil, metamodel.TypeString))
}
