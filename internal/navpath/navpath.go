// Package navpath provides NavigablePath, the canonical identity of a position
// in a query's attribute graph.
//
// A path is an immutable, parent-linked chain of local names:
//
//	p                      root
//	p.children             association from p
//	p.children.{element}   the element side of the collection
//	p.children.{element}.parent
//
// Equality is structural (parent equality + local name). Aliases given to
// joins in the query text never take part in equality, so `p.children c` and
// an implicit `p.children` traversal are the same path.
//
// Two structurally equal paths must resolve to the same table group and the
// same initializer within one compiled plan. Key() returns the string used as
// the map key for those registrations.
package navpath

import (
	"strings"
)

// ElementName is the local name of the element segment of a plural attribute.
const ElementName = "{element}"

// Separator joins local names in the full path.
const Separator = "."

// Path is an immutable NavigablePath.
//
// The zero value is not a valid path; use Root to create one.
type Path struct {
	parent *Path
	local  string
	full   string
	depth  int
}

// Root creates a root path for a query root (usually the entity alias or the
// entity name when no alias is given).
func Root(name string) *Path {
	return &Path{local: name, full: name}
}

// Append returns the child path for the given attribute name.
func (p *Path) Append(local string) *Path {
	return &Path{
		parent: p,
		local:  local,
		full:   p.full + Separator + local,
		depth:  p.depth + 1,
	}
}

// Element returns the element segment for a plural attribute path.
func (p *Path) Element() *Path {
	return p.Append(ElementName)
}

// Parent returns the parent path, or nil for a root.
func (p *Path) Parent() *Path {
	if p == nil {
		return nil
	}
	return p.parent
}

// LocalName returns the last segment.
func (p *Path) LocalName() string {
	return p.local
}

// FullPath returns the dotted form of the path.
func (p *Path) FullPath() string {
	if p == nil {
		return ""
	}
	return p.full
}

// Key is the registration key for table groups and initializers.
func (p *Path) Key() string {
	return p.FullPath()
}

// String implements fmt.Stringer.
func (p *Path) String() string {
	return p.FullPath()
}

// Depth returns the number of segments below the root (root = 0).
func (p *Path) Depth() int {
	return p.depth
}

// IsRoot reports whether p has no parent.
func (p *Path) IsRoot() bool {
	return p != nil && p.parent == nil
}

// IsElement reports whether p is the element segment of a plural attribute.
func (p *Path) IsElement() bool {
	return p != nil && p.local == ElementName
}

// RootPath walks up to the root of the path.
func (p *Path) RootPath() *Path {
	cur := p
	for cur != nil && cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Equal reports structural equality. A nil path only equals nil.
func (p *Path) Equal(o *Path) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p == o {
		return true
	}
	if p.depth != o.depth || p.local != o.local {
		return false
	}
	return p.parent.Equal(o.parent)
}

// IsAncestorOf reports whether p is a strict ancestor of o.
func (p *Path) IsAncestorOf(o *Path) bool {
	if p == nil || o == nil {
		return false
	}
	for cur := o.parent; cur != nil; cur = cur.parent {
		if cur.depth < p.depth {
			return false
		}
		if cur.Equal(p) {
			return true
		}
	}
	return false
}

// Relative returns the segments of o below p, or nil when p is not an
// ancestor of o.
func (p *Path) Relative(o *Path) []string {
	if !p.IsAncestorOf(o) {
		return nil
	}
	var segs []string
	for cur := o; !cur.Equal(p); cur = cur.parent {
		segs = append(segs, cur.local)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// Parse builds a path from its dotted form. Element segments are kept as is.
// An empty string yields nil.
func Parse(s string) *Path {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, Separator)
	p := Root(parts[0])
	for _, part := range parts[1:] {
		p = p.Append(part)
	}
	return p
}
