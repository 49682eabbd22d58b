package metamodel

import (
	"fmt"
	"sync"
)

// BasicType is the value type of a basic attribute or expression.
type BasicType int

const (
	TypeUnknown BasicType = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTimestamp
	TypeDate
	TypeTime
)

var basicTypeNames = map[BasicType]string{
	TypeUnknown:   "unknown",
	TypeString:    "string",
	TypeInteger:   "integer",
	TypeFloat:     "float",
	TypeBoolean:   "boolean",
	TypeTimestamp: "timestamp",
	TypeDate:      "date",
	TypeTime:      "time",
}

func (t BasicType) String() string {
	if name, ok := basicTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("BasicType(%d)", int(t))
}

// ParseBasicType maps a type name used in mapping documents to a BasicType.
func ParseBasicType(name string) (BasicType, bool) {
	for t, n := range basicTypeNames {
		if n == name && t != TypeUnknown {
			return t, true
		}
	}
	switch name {
	case "int", "long":
		return TypeInteger, true
	case "bool":
		return TypeBoolean, true
	case "text":
		return TypeString, true
	case "double", "decimal":
		return TypeFloat, true
	}
	return TypeUnknown, false
}

// IsNumeric reports whether values of t take part in arithmetic.
func (t BasicType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// IsTemporal reports whether t is one of the date/time types.
func (t BasicType) IsTemporal() bool {
	return t == TypeTimestamp || t == TypeDate || t == TypeTime
}

// Comparable reports whether values of the two types can be compared.
// Unknown is comparable with everything; it is resolved by inference.
func (t BasicType) Comparable(o BasicType) bool {
	if t == TypeUnknown || o == TypeUnknown || t == o {
		return true
	}
	if t.IsNumeric() && o.IsNumeric() {
		return true
	}
	if t.IsTemporal() && o.IsTemporal() {
		return true
	}
	// Temporal values travel as strings in SQLite.
	if (t.IsTemporal() && o == TypeString) || (o.IsTemporal() && t == TypeString) {
		return true
	}
	return false
}

// AttributeKind classifies an attribute.
type AttributeKind int

const (
	KindBasic AttributeKind = iota
	KindEmbedded
	KindManyToOne
	KindOneToOne
	KindOneToMany
)

func (k AttributeKind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindEmbedded:
		return "embedded"
	case KindManyToOne:
		return "many-to-one"
	case KindOneToOne:
		return "one-to-one"
	case KindOneToMany:
		return "one-to-many"
	default:
		return fmt.Sprintf("AttributeKind(%d)", int(k))
	}
}

// IsAssociation reports whether the attribute targets another entity.
func (k AttributeKind) IsAssociation() bool {
	return k == KindManyToOne || k == KindOneToOne || k == KindOneToMany
}

// IsToOne reports whether the attribute targets at most one entity.
func (k AttributeKind) IsToOne() bool {
	return k == KindManyToOne || k == KindOneToOne
}

// IsPlural reports whether the attribute is a collection.
func (k AttributeKind) IsPlural() bool {
	return k == KindOneToMany
}

// FetchTiming is the declared eagerness of an association.
type FetchTiming int

const (
	// FetchDelayed loads the association on explicit request (lazy).
	FetchDelayed FetchTiming = iota
	// FetchImmediate loads the association as part of loading the owner.
	FetchImmediate
)

func (t FetchTiming) String() string {
	if t == FetchImmediate {
		return "immediate"
	}
	return "delayed"
}

// InheritanceStrategy is declared on the root of a hierarchy.
type InheritanceStrategy int

const (
	InheritanceNone InheritanceStrategy = iota
	InheritanceSingleTable
	InheritanceJoined
	InheritanceTablePerClass
)

func (s InheritanceStrategy) String() string {
	switch s {
	case InheritanceSingleTable:
		return "single-table"
	case InheritanceJoined:
		return "joined"
	case InheritanceTablePerClass:
		return "table-per-class"
	default:
		return "none"
	}
}

// Attribute describes one mapped attribute of an entity or embeddable.
type Attribute struct {
	Name string
	Kind AttributeKind

	// Type is the value type of a basic attribute.
	Type BasicType

	// Column is the column of a basic attribute, or the foreign-key column of
	// the owning side of a to-one association.
	Column string

	// Table overrides the physical table (secondary tables). Empty means the
	// declaring entity's table.
	Table string

	// Target names the associated entity or the embeddable type.
	Target string

	// MappedBy names the owning attribute on the target for the inverse side.
	MappedBy string

	// ColumnPrefix is prepended to the columns of an embeddable.
	ColumnPrefix string

	Timing   FetchTiming
	Optional bool

	declaring  *Entity
	owner      *Embeddable
	entity     *Entity
	embeddable *Embeddable
}

// Declaring returns the entity declaring the attribute (nil for embeddable
// members).
func (a *Attribute) Declaring() *Entity { return a.declaring }

// TargetEntity returns the resolved association target.
func (a *Attribute) TargetEntity() *Entity { return a.entity }

// TargetEmbeddable returns the resolved embeddable type.
func (a *Attribute) TargetEmbeddable() *Embeddable { return a.embeddable }

// IsOwningSide reports whether the association holds the foreign key.
func (a *Attribute) IsOwningSide() bool {
	return a.Kind.IsToOne() && a.MappedBy == "" && a.Column != ""
}

func (a *Attribute) String() string {
	if a.declaring != nil {
		return a.declaring.Name + "." + a.Name
	}
	if a.owner != nil {
		return a.owner.Name + "." + a.Name
	}
	return a.Name
}

// SecondaryTable is an additional table joined to the entity's primary table
// by KeyColumn = primary id column.
type SecondaryTable struct {
	Name      string
	KeyColumn string
}

// Entity describes a mapped entity type.
type Entity struct {
	Name string

	// Package qualifies the entity name ("com.acme" + "Parent").
	Package string

	Table string
	ID    *Attribute

	Attributes []*Attribute

	// SuperName names the direct supertype.
	SuperName string

	// Strategy is meaningful on hierarchy roots.
	Strategy InheritanceStrategy

	// DiscriminatorColumn / DiscriminatorValue are used by single-table
	// hierarchies.
	DiscriminatorColumn string
	DiscriminatorValue  string

	Abstract        bool
	SecondaryTables []SecondaryTable

	super    *Entity
	subtypes []*Entity

	subclassOnce  sync.Once
	hasSubclasses bool
}

// QualifiedName returns Package.Name or Name.
func (e *Entity) QualifiedName() string {
	if e.Package == "" {
		return e.Name
	}
	return e.Package + "." + e.Name
}

func (e *Entity) String() string { return e.Name }

// Super returns the direct supertype.
func (e *Entity) Super() *Entity { return e.super }

// Subtypes returns the direct subtypes in declaration order.
func (e *Entity) Subtypes() []*Entity { return e.subtypes }

// Root returns the root of the hierarchy.
func (e *Entity) Root() *Entity {
	cur := e
	for cur.super != nil {
		cur = cur.super
	}
	return cur
}

// InheritanceStrategy returns the strategy declared on the hierarchy root.
func (e *Entity) InheritanceStrategy() InheritanceStrategy {
	return e.Root().Strategy
}

// HasSubclasses reports whether any entity extends e. It is computed once per
// descriptor.
func (e *Entity) HasSubclasses() bool {
	e.subclassOnce.Do(func() {
		e.hasSubclasses = len(e.subtypes) > 0
	})
	return e.hasSubclasses
}

// IsSubtypeOf reports whether e is o or extends o.
func (e *Entity) IsSubtypeOf(o *Entity) bool {
	for cur := e; cur != nil; cur = cur.super {
		if cur == o {
			return true
		}
	}
	return false
}

// ConcreteSubtypes returns e (when concrete) and all concrete descendants in
// depth-first declaration order.
func (e *Entity) ConcreteSubtypes() []*Entity {
	var out []*Entity
	var walk func(*Entity)
	walk = func(cur *Entity) {
		if !cur.Abstract {
			out = append(out, cur)
		}
		for _, sub := range cur.subtypes {
			walk(sub)
		}
	}
	walk(e)
	return out
}

// IDAttribute returns the identifier, inherited from the root if needed.
func (e *Entity) IDAttribute() *Attribute {
	return e.Root().ID
}

// Attribute finds an attribute declared on e or one of its supertypes.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for cur := e; cur != nil; cur = cur.super {
		if cur.ID != nil && cur.ID.Name == name {
			return cur.ID, true
		}
		for _, attr := range cur.Attributes {
			if attr.Name == name {
				return attr, true
			}
		}
	}
	return nil, false
}

// SubtypeAttribute finds an attribute declared only on a subtype of e. The
// search is breadth-first in declaration order so the result is stable.
func (e *Entity) SubtypeAttribute(name string) (*Attribute, bool) {
	queue := append([]*Entity(nil), e.subtypes...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, attr := range cur.Attributes {
			if attr.Name == name {
				return attr, true
			}
		}
		queue = append(queue, cur.subtypes...)
	}
	return nil, false
}

// AllAttributes returns the non-id attributes of e and its supertypes, root
// first.
func (e *Entity) AllAttributes() []*Attribute {
	var chain []*Entity
	for cur := e; cur != nil; cur = cur.super {
		chain = append(chain, cur)
	}
	var out []*Attribute
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Attributes...)
	}
	return out
}

// TableFor returns the physical table holding attr when the instance is of
// the concrete type e.
func (e *Entity) TableFor(attr *Attribute) string {
	if attr.Table != "" {
		return attr.Table
	}
	decl := attr.declaring
	if decl == nil {
		return e.Table
	}
	switch e.InheritanceStrategy() {
	case InheritanceSingleTable:
		return e.Root().Table
	case InheritanceTablePerClass:
		return e.Table
	case InheritanceJoined:
		if attr == e.IDAttribute() {
			return e.Table
		}
		return decl.Table
	default:
		return decl.Table
	}
}

// SecondaryTable returns the secondary table with the given name.
func (e *Entity) SecondaryTable(name string) (SecondaryTable, bool) {
	for cur := e; cur != nil; cur = cur.super {
		for _, st := range cur.SecondaryTables {
			if st.Name == name {
				return st, true
			}
		}
	}
	return SecondaryTable{}, false
}

// Embeddable describes a value type without identity stored in the columns
// of its owning entity.
type Embeddable struct {
	Name       string
	Attributes []*Attribute
}

func (e *Embeddable) String() string { return e.Name }

// Attribute finds a member attribute by name.
func (e *Embeddable) Attribute(name string) (*Attribute, bool) {
	for _, attr := range e.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return nil, false
}
