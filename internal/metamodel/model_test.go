package metamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/qerr"
)

const parentChildCUE = `
namespace: "com.acme"
entities: {
	Parent: {
		table: "parent"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			name: {column: "name", type: "string"}
			children: {kind: "one-to-many", target: "Child", mappedBy: "parent"}
		}
	}
	Child: {
		table: "child"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			name: {column: "name"}
			parent: {kind: "many-to-one", target: "Parent", column: "parent_id", fetch: "eager"}
		}
	}
}
`

func TestCompileString_ParentChild(t *testing.T) {
	m, err := CompileString(parentChildCUE)
	require.NoError(t, err)

	parent, ok := m.Entity("Parent")
	require.True(t, ok)
	assert.Equal(t, "parent", parent.Table)
	assert.Equal(t, "com.acme.Parent", parent.QualifiedName())

	qualified, ok := m.Entity("com.acme.Parent")
	require.True(t, ok)
	assert.Same(t, parent, qualified)

	children, ok := parent.Attribute("children")
	require.True(t, ok)
	assert.Equal(t, KindOneToMany, children.Kind)
	assert.Equal(t, "Child", children.TargetEntity().Name)

	child, _ := m.Entity("Child")
	owning, _ := child.Attribute("parent")
	assert.Equal(t, FetchImmediate, owning.Timing)
	assert.True(t, owning.IsOwningSide())

	name, _ := child.Attribute("name")
	assert.Equal(t, TypeString, name.Type)
}

func TestInverse_BothDirections(t *testing.T) {
	m, err := CompileString(parentChildCUE)
	require.NoError(t, err)

	parent, _ := m.Entity("Parent")
	child, _ := m.Entity("Child")
	children, _ := parent.Attribute("children")
	owning, _ := child.Attribute("parent")

	inv, err := m.Inverse(children)
	require.NoError(t, err)
	assert.Same(t, owning, inv)

	inv, err = m.Inverse(owning)
	require.NoError(t, err)
	assert.Same(t, children, inv)
}

func TestInverse_AmbiguousIsGraphError(t *testing.T) {
	parent := &Entity{Name: "Parent", Table: "parent", ID: ID("id", "id", TypeInteger), Attributes: []*Attribute{
		OneToMany("children", "Child", "parent", FetchDelayed),
		OneToMany("favourites", "Child", "parent", FetchDelayed),
	}}
	child := &Entity{Name: "Child", Table: "child", ID: ID("id", "id", TypeInteger), Attributes: []*Attribute{
		ManyToOne("parent", "Parent", "parent_id", FetchImmediate),
	}}
	m, err := New([]*Entity{parent, child}, nil)
	require.NoError(t, err)

	owning, _ := child.Attribute("parent")
	_, err = m.Inverse(owning)
	require.Error(t, err)
	assert.True(t, qerr.IsGraph(err))
}

func TestNew_RejectsUnknownTarget(t *testing.T) {
	e := &Entity{Name: "A", Table: "a", ID: ID("id", "id", TypeInteger), Attributes: []*Attribute{
		ManyToOne("b", "B", "b_id", FetchDelayed),
	}}
	_, err := New([]*Entity{e}, nil)
	require.Error(t, err)
	assert.Equal(t, qerr.CodeMetamodelInvalid, qerr.CodeOf(err))
}

func TestNew_RejectsCollectionWithoutMappedBy(t *testing.T) {
	e := &Entity{Name: "A", Table: "a", ID: ID("id", "id", TypeInteger), Attributes: []*Attribute{
		{Name: "items", Kind: KindOneToMany, Target: "A"},
	}}
	_, err := New([]*Entity{e}, nil)
	require.Error(t, err)
}

func TestHierarchy_JoinedSubclasses(t *testing.T) {
	m, err := CompileString(`
entities: {
	Animal: {
		table: "animal"
		inheritance: "joined"
		id: {column: "id", type: "integer"}
		attributes: name: {column: "name"}
	}
	Dog: {
		table: "dog"
		extends: "Animal"
		attributes: barks: {column: "barks", type: "boolean"}
	}
	Cat: {
		table: "cat"
		extends: "Animal"
		attributes: lives: {column: "lives", type: "integer"}
	}
}
`)
	require.NoError(t, err)

	animal, _ := m.Entity("Animal")
	dog, _ := m.Entity("Dog")
	assert.True(t, animal.HasSubclasses())
	assert.False(t, dog.HasSubclasses())
	assert.Same(t, animal, dog.Root())
	assert.Equal(t, InheritanceJoined, dog.InheritanceStrategy())
	assert.True(t, dog.IsSubtypeOf(animal))
	assert.False(t, animal.IsSubtypeOf(dog))

	// id inherited from the root
	id, ok := dog.Attribute("id")
	require.True(t, ok)
	assert.Same(t, animal.ID, id)

	_, ok = animal.Attribute("barks")
	assert.False(t, ok)
	barks, ok := animal.SubtypeAttribute("barks")
	require.True(t, ok)
	assert.Same(t, dog, barks.Declaring())
	assert.Equal(t, "dog", dog.TableFor(barks))

	name, _ := dog.Attribute("name")
	assert.Equal(t, "animal", dog.TableFor(name))

	concrete := animal.ConcreteSubtypes()
	require.Len(t, concrete, 3)
	assert.Equal(t, "Animal", concrete[0].Name)
}

func TestEmbeddableAndSecondaryTable(t *testing.T) {
	m, err := CompileString(`
entities: Person: {
	table: "person"
	id: {column: "id", type: "integer"}
	secondaryTables: [{name: "person_detail", keyColumn: "person_id"}]
	attributes: {
		name: {column: "name"}
		home: {kind: "embedded", target: "Address", prefix: "home_"}
		bio: {column: "bio", table: "person_detail"}
	}
}
embeddables: Address: attributes: {
	city: {column: "city"}
	zip: {column: "zip"}
}
`)
	require.NoError(t, err)

	person, _ := m.Entity("Person")
	home, _ := person.Attribute("home")
	require.NotNil(t, home.TargetEmbeddable())
	assert.Equal(t, "home_", home.ColumnPrefix)

	bio, _ := person.Attribute("bio")
	assert.Equal(t, "person_detail", person.TableFor(bio))
	st, ok := person.SecondaryTable("person_detail")
	require.True(t, ok)
	assert.Equal(t, "person_id", st.KeyColumn)
}

func TestCompileString_BadKind(t *testing.T) {
	_, err := CompileString(`entities: A: {table: "a", id: {column: "id"}, attributes: x: {kind: "many-to-many"}}`)
	require.Error(t, err)
	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestBasicType_Comparable(t *testing.T) {
	assert.True(t, TypeInteger.Comparable(TypeFloat))
	assert.True(t, TypeUnknown.Comparable(TypeBoolean))
	assert.True(t, TypeDate.Comparable(TypeString))
	assert.False(t, TypeBoolean.Comparable(TypeString))
}
