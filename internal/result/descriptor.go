package result

import (
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
)

// DomainResult describes one top-level selected value and the row columns
// it is assembled from. Descriptors are built once per compiled plan and
// never mutated.
type DomainResult interface {
	domainResult()
}

// Fetch describes an association, collection or embedded value assembled
// as part of its parent entity.
type Fetch interface {
	fetchNode()
	FetchPath() *navpath.Path
	FetchedAttribute() *metamodel.Attribute
}

// BasicResult is a scalar column.
type BasicResult struct {
	Column int
	Type   metamodel.BasicType
}

// EntityResult is a selected entity.
type EntityResult struct {
	Mapping *EntityMapping
}

// EmbeddableResult is a selected embedded value.
type EmbeddableResult struct {
	Embedded *EmbeddableFetch
}

// InstantiationResult builds a `select new` object from its arguments.
type InstantiationResult struct {
	Target *Instantiator
	Args   []DomainResult
}

func (*BasicResult) domainResult()         {}
func (*EntityResult) domainResult()        {}
func (*EmbeddableResult) domainResult()    {}
func (*InstantiationResult) domainResult() {}

// ColumnValue reads one attribute from a row.
type ColumnValue struct {
	Attribute *metamodel.Attribute
	Column    int
}

// SubtypeColumn detects a concrete subtype of a joined hierarchy: the
// instance is of Entity when Column (the subtype table's id) is not null.
type SubtypeColumn struct {
	Entity *metamodel.Entity
	Column int
}

// EntityMapping describes how one entity is read from the row columns of
// one table group.
type EntityMapping struct {
	Path   *navpath.Path
	Entity *metamodel.Entity

	IDColumn int

	// DiscriminatorColumn is the column of a single-table hierarchy, or -1.
	DiscriminatorColumn int

	// Subtypes lists joined-hierarchy subtypes, most specific first.
	Subtypes []SubtypeColumn

	// Values includes the attributes of every subtype; only those declared
	// on the resolved concrete type (or its supertypes) are applied.
	Values []ColumnValue

	Fetches []Fetch
}

// ConcreteType resolves the concrete type of the row's instance.
func (m *EntityMapping) ConcreteType(row []any) *metamodel.Entity {
	if m.DiscriminatorColumn >= 0 {
		if v := asString(row[m.DiscriminatorColumn]); v != "" {
			for _, e := range m.Entity.ConcreteSubtypes() {
				if e.DiscriminatorValue == v {
					return e
				}
			}
			if m.Entity.DiscriminatorValue == v {
				return m.Entity
			}
		}
		return m.Entity
	}
	for _, sub := range m.Subtypes {
		if row[sub.Column] != nil {
			return sub.Entity
		}
	}
	return m.Entity
}

// EmbeddableFetch reads an embedded value from the owner's columns.
type EmbeddableFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	Members   []ColumnValue
	Nested    []*EmbeddableFetch
}

// EntityJoinedFetch reads a to-one association from a fetch-joined table
// group in the same row.
type EntityJoinedFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	Mapping   *EntityMapping
}

// EntitySelectFetch loads an immediate to-one association by its foreign
// key after the rows have been read, batched over all owners.
type EntitySelectFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	FKColumn  int
}

// EntityDelayedFetch leaves a Ref for a delayed to-one association.
// FKColumn is -1 for the non-owning side of a one-to-one.
type EntityDelayedFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	FKColumn  int
}

// CollectionJoinedFetch accumulates the elements of a fetch-joined
// collection across rows.
type CollectionJoinedFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	Element   *EntityMapping
}

// CollectionSelectFetch loads an immediate collection (or the non-owning
// side of an immediate one-to-one) after the rows have been read.
type CollectionSelectFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
}

// CollectionDelayedFetch leaves a Ref for a delayed collection.
type CollectionDelayedFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
}

// CircularFetch resolves a bidirectional to-one association to the
// instance already materialized at Ancestor instead of fetching it again.
// Timing is the declared eagerness of the association: immediate fetches
// take the instance directly, delayed ones get a Ref that resolves to it.
type CircularFetch struct {
	Path      *navpath.Path
	Attribute *metamodel.Attribute
	Ancestor  *navpath.Path
	Timing    metamodel.FetchTiming
}

func (*EmbeddableFetch) fetchNode()        {}
func (*EntityJoinedFetch) fetchNode()      {}
func (*EntitySelectFetch) fetchNode()      {}
func (*EntityDelayedFetch) fetchNode()     {}
func (*CollectionJoinedFetch) fetchNode()  {}
func (*CollectionSelectFetch) fetchNode()  {}
func (*CollectionDelayedFetch) fetchNode() {}
func (*CircularFetch) fetchNode()          {}

func (f *EmbeddableFetch) FetchPath() *navpath.Path        { return f.Path }
func (f *EntityJoinedFetch) FetchPath() *navpath.Path      { return f.Path }
func (f *EntitySelectFetch) FetchPath() *navpath.Path      { return f.Path }
func (f *EntityDelayedFetch) FetchPath() *navpath.Path     { return f.Path }
func (f *CollectionJoinedFetch) FetchPath() *navpath.Path  { return f.Path }
func (f *CollectionSelectFetch) FetchPath() *navpath.Path  { return f.Path }
func (f *CollectionDelayedFetch) FetchPath() *navpath.Path { return f.Path }
func (f *CircularFetch) FetchPath() *navpath.Path          { return f.Path }

func (f *EmbeddableFetch) FetchedAttribute() *metamodel.Attribute        { return f.Attribute }
func (f *EntityJoinedFetch) FetchedAttribute() *metamodel.Attribute      { return f.Attribute }
func (f *EntitySelectFetch) FetchedAttribute() *metamodel.Attribute      { return f.Attribute }
func (f *EntityDelayedFetch) FetchedAttribute() *metamodel.Attribute     { return f.Attribute }
func (f *CollectionJoinedFetch) FetchedAttribute() *metamodel.Attribute  { return f.Attribute }
func (f *CollectionSelectFetch) FetchedAttribute() *metamodel.Attribute  { return f.Attribute }
func (f *CollectionDelayedFetch) FetchedAttribute() *metamodel.Attribute { return f.Attribute }
func (f *CircularFetch) FetchedAttribute() *metamodel.Attribute          { return f.Attribute }

// HasCollectionJoin reports whether any fetch below m joins a collection,
// which makes rows fan out per element.
func (m *EntityMapping) HasCollectionJoin() bool {
	for _, f := range m.Fetches {
		switch n := f.(type) {
		case *CollectionJoinedFetch:
			return true
		case *EntityJoinedFetch:
			if n.Mapping.HasCollectionJoin() {
				return true
			}
		}
	}
	return false
}
