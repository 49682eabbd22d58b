package navpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_StructuralEquality(t *testing.T) {
	a := Root("p").Append("children").Element().Append("parent")
	b := Root("p").Append("children").Element().Append("parent")

	assert.NotSame(t, a, b)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "p.children.{element}.parent", a.FullPath())
}

func TestPath_DifferentRootsAreNotEqual(t *testing.T) {
	a := Root("p").Append("name")
	b := Root("q").Append("name")
	assert.False(t, a.Equal(b))
}

func TestPath_NilHandling(t *testing.T) {
	var p *Path
	assert.True(t, p.Equal(nil))
	assert.False(t, p.Equal(Root("x")))
	assert.Nil(t, p.Parent())
	assert.Equal(t, "", p.FullPath())
}

func TestPath_ParentAndDepth(t *testing.T) {
	p := Root("a").Append("other").Append("other")
	require.Equal(t, 2, p.Depth())
	assert.Equal(t, "a.other", p.Parent().FullPath())
	assert.Equal(t, "a", p.Parent().Parent().FullPath())
	assert.True(t, p.Parent().Parent().IsRoot())
	assert.Same(t, p.Parent().Parent(), p.RootPath())
}

func TestPath_IsAncestorOf(t *testing.T) {
	root := Root("p")
	child := root.Append("children")
	elem := child.Element()

	assert.True(t, root.IsAncestorOf(elem))
	assert.True(t, child.IsAncestorOf(elem))
	assert.False(t, elem.IsAncestorOf(root))
	assert.False(t, root.IsAncestorOf(root))
	assert.True(t, elem.IsElement())
}

func TestPath_Relative(t *testing.T) {
	root := Root("p")
	leaf := root.Append("address").Append("city")
	assert.Equal(t, []string{"address", "city"}, root.Relative(leaf))
	assert.Nil(t, leaf.Relative(root))
}

func TestParse_RoundTrip(t *testing.T) {
	p := Parse("p.children.{element}.name")
	require.NotNil(t, p)
	assert.True(t, p.Parent().IsElement())
	assert.True(t, p.Equal(Root("p").Append("children").Element().Append("name")))
	assert.Nil(t, Parse(""))
}
